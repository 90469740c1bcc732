package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediagrab/internal/bus"
	"mediagrab/internal/channel"
	"mediagrab/internal/config"
	"mediagrab/internal/domain"
	"mediagrab/internal/fetcher"
	"mediagrab/internal/health"
	"mediagrab/internal/lane"
	"mediagrab/internal/relay"
	"mediagrab/internal/router"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "mediagrab",
		Short: "Telegram bot that relays photos and videos from X/Twitter status links",
		Long: `mediagrab watches a Telegram bot for X/Twitter status links, downloads their
media with gallery-dl and sends every photo and video back to the chat.
Run without a subcommand to start the bot and its liveness endpoint.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to an optional YAML config file")

	root.AddCommand(chatCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and rebuilds the logger at the configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)
	return cfg, nil
}

// pipeline is the fetch-and-relay machinery shared by the bot and the console.
type pipeline struct {
	fetcher    *fetcher.Fetcher
	lanes      *lane.Manager
	router     *router.Router
	routerDone chan struct{}
}

func newPipeline(cfg *config.Config, messenger domain.Messenger) *pipeline {
	var limiter *fetcher.RateLimiter
	if cfg.Fetch.RatePerMinute > 0 {
		limiter = fetcher.NewRateLimiter(cfg.Fetch.Burst, cfg.Fetch.RatePerMinute)
	}
	f := fetcher.New(fetcher.Config{
		Tool:      cfg.Fetch.Tool,
		ExtraArgs: cfg.Fetch.ExtraArgs,
		Timeout:   cfg.Fetch.Timeout,
		Cookies:   cfg.Fetch.Cookies,
		CookieDir: cfg.Fetch.CookieDir,
		Limiter:   limiter,
		Logger:    logger,
	})
	lanes := lane.NewManager(lane.Config{
		MaxInFlight: cfg.Lane.MaxInFlight,
		QueueSize:   cfg.Lane.QueueSize,
		IdleTimeout: cfg.Lane.IdleTimeout,
		Logger:      logger,
	})
	rl := relay.New(relay.Config{
		Messenger:     messenger,
		KeepUnmatched: cfg.Relay.KeepUnmatched,
		Logger:        logger,
	})
	r := router.New(router.Config{
		Messenger:    messenger,
		Fetcher:      f,
		Relay:        rl,
		Lanes:        lanes,
		StagingRoot:  cfg.Storage.Root,
		Domains:      cfg.Router.Domains,
		StatusMarker: cfg.Router.StatusMarker,
		Concurrency:  cfg.Router.Concurrency,
		Logger:       logger,
	})
	if !f.HasCookies() {
		logger.Warn("TWITTER_COOKIES is not set; every download will fail until it is")
	}
	return &pipeline{fetcher: f, lanes: lanes, router: r, routerDone: make(chan struct{})}
}

// start runs the router on messageBus in the background.
func (p *pipeline) start(ctx context.Context, messageBus domain.MessageBus) {
	go func() {
		defer close(p.routerDone)
		p.router.Run(ctx, messageBus)
	}()
}

// stopRouter closes the bus and waits until the router has scheduled and
// acknowledged everything it read.
func (p *pipeline) stopRouter(messageBus domain.MessageBus) {
	messageBus.Close()
	<-p.routerDone
}

// drain stops the router, then lets queued downloads finish until ctx ends.
func (p *pipeline) drain(ctx context.Context, messageBus domain.MessageBus) error {
	p.stopRouter(messageBus)
	if err := p.lanes.Drain(ctx); err != nil {
		logger.Warn("pending downloads interrupted", "err", err)
		return p.closeLanes()
	}
	logger.Info("shutdown complete")
	return nil
}

// shutdown stops the router, then cancels and waits for lanes.
func (p *pipeline) shutdown(messageBus domain.MessageBus) error {
	p.stopRouter(messageBus)
	return p.closeLanes()
}

func (p *pipeline) closeLanes() error {
	if err := p.lanes.Close(shutdownTimeout); err != nil {
		if errors.Is(err, lane.ErrShutdownTimeout) {
			logger.Warn("shutdown timed out, forcing exit")
		}
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Nothing starts without a token: no liveness endpoint, no polling.
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCh := channel.NewTelegram(channel.TelegramConfig{
		Token:     cfg.Telegram.Token,
		AllowFrom: cfg.Telegram.AllowFrom,
		ParseMode: cfg.Telegram.ParseMode,
		HelpText:  router.HelpText,
		Logger:    logger,
	})
	if err := telegramCh.Connect(); err != nil {
		return err
	}

	messageBus := bus.New(100, logger)
	p := newPipeline(cfg, telegramCh)

	if cfg.Health.Enabled {
		srv := health.NewServer(health.Config{
			Host:          cfg.Health.Host,
			Port:          cfg.Health.Port,
			EnableMetrics: true,
			Logger:        logger,
		})
		go func() {
			// The bot keeps running without its liveness endpoint.
			if err := srv.Start(ctx); err != nil {
				logger.Error("health server error", "err", err)
			}
		}()
	}

	p.start(ctx, messageBus)

	go func() {
		if err := telegramCh.Start(ctx, messageBus); err != nil {
			logger.Error("telegram channel error", "err", err)
		}
	}()

	logger.Info("mediagrab started. Press Ctrl+C to stop.", "version", version, "tool", p.fetcher.Tool())

	<-ctx.Done()
	logger.Info("shutting down...")
	_ = telegramCh.Stop()
	return p.shutdown(messageBus)
}

func chatCmd() *cobra.Command {
	var saveDir string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Paste status links in the terminal instead of Telegram",
		Long: `Runs the same fetch-and-relay pipeline as the bot against a console chat.
Media is listed by name and size and copied to --save when given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			console := channel.NewConsole(channel.ConsoleConfig{
				Logger:  logger,
				SaveDir: config.ExpandPath(saveDir),
			})
			return runConsole(ctx, cfg, console)
		},
	}
	cmd.Flags().StringVar(&saveDir, "save", "", "directory that receives a copy of every relayed file")
	return cmd
}

// runConsole feeds console input through the pipeline. At end of input or
// /quit it waits for downloads already queued, until ctx is cancelled.
func runConsole(ctx context.Context, cfg *config.Config, console *channel.Console) error {
	messageBus := bus.New(100, logger)
	p := newPipeline(cfg, console)
	p.start(ctx, messageBus)

	err := console.Start(ctx, messageBus)
	if derr := p.drain(ctx, messageBus); err == nil {
		err = derr
	}
	return err
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
		Long:  "Shows configuration after defaults, the config file, .env and the environment are applied. Secrets are masked.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, err := config.Marshal(config.Sanitize(cfg))
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Print one config value (e.g. fetch.timeout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			fmt.Println(val)
			return nil
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mediagrab version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mediagrab %s\n", version)
		},
	}
}
