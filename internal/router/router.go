// Package router decides what to do with each chat message and runs the
// stage → fetch → relay pipeline for status links.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mediagrab/internal/domain"
	"mediagrab/internal/lane"
	"mediagrab/internal/metrics"
	"mediagrab/internal/relay"
	"mediagrab/internal/staging"

	"github.com/google/uuid"
)

// Chat-facing replies.
const (
	HelpText    = "Send me a Twitter link with media."
	InvalidText = "Please send a valid Twitter status link."
	AckText     = "Downloading media..."
	BusyText    = "Still working on your previous links, try again shortly."
	ErrorPrefix = "Error downloading media: "
)

const (
	defaultConcurrency = 8
	errorReplyTimeout  = 30 * time.Second
)

// Fetcher downloads the media of url into outDir.
type Fetcher interface {
	Fetch(ctx context.Context, url, outDir string) error
}

// Relayer drains a staging directory into the chat.
type Relayer interface {
	Drain(ctx context.Context, chatID, dir string) (relay.Report, error)
}

// Scheduler runs jobs one at a time per key.
type Scheduler interface {
	Submit(key string, job lane.Job) error
}

type Config struct {
	Messenger    domain.Messenger
	Fetcher      Fetcher
	Relay        Relayer
	Lanes        Scheduler
	StagingRoot  string
	Domains      []string
	StatusMarker string
	Concurrency  int // messages handled in parallel by Run
	Logger       *slog.Logger
}

// Router answers inbound messages.
type Router struct {
	messenger   domain.Messenger
	fetcher     Fetcher
	relay       Relayer
	lanes       Scheduler
	stagingRoot string
	matcher     Matcher
	concurrency int
	logger      *slog.Logger
}

func New(cfg Config) *Router {
	if cfg.StagingRoot == "" {
		cfg.StagingRoot = "downloads"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		messenger:   cfg.Messenger,
		fetcher:     cfg.Fetcher,
		relay:       cfg.Relay,
		lanes:       cfg.Lanes,
		stagingRoot: cfg.StagingRoot,
		matcher:     NewMatcher(cfg.Domains, cfg.StatusMarker),
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run consumes inbound messages until ctx is done or the bus closes. Links
// are scheduled in arrival order; replies go out with bounded concurrency.
// Run returns once every reply it started has been sent.
func (r *Router) Run(ctx context.Context, bus domain.MessageBus) {
	r.logger.Info("router started", "concurrency", r.concurrency)

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	inbound := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("router stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				r.logger.Info("inbound channel closed, router stopping")
				return
			}
			answer := r.dispatch(msg)
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				answer(ctx)
			}()
		}
	}
}

// Handle answers a single message. Status links are acknowledged and queued
// on the chat's lane; Handle does not wait for the download.
func (r *Router) Handle(ctx context.Context, msg domain.InboundMessage) {
	r.dispatch(msg)(ctx)
}

// dispatch classifies msg and, for status links, schedules the fetch right
// away so links from one chat reach its lane in arrival order. The returned
// func sends the chat-facing reply. A scheduled job waits for the
// acknowledgement so "Downloading media..." always comes first.
func (r *Router) dispatch(msg domain.InboundMessage) func(ctx context.Context) {
	decision := r.matcher.Classify(msg.Content)
	metrics.MessagesTotal.WithLabelValues(decision.String()).Inc()

	switch decision {
	case DecisionHelp:
		return func(ctx context.Context) { r.reply(ctx, msg.ChatID, HelpText) }
	case DecisionInvalid:
		return func(ctx context.Context) { r.reply(ctx, msg.ChatID, InvalidText) }
	}

	url := r.matcher.ExtractURL(msg.Content)
	logger := r.logger.With(
		"request_id", uuid.NewString(),
		"chat_id", msg.ChatID,
		"url", url,
	)
	logger.Info("status link received")

	acked := make(chan struct{})
	err := r.lanes.Submit(msg.ChatID, func(jobCtx context.Context) {
		select {
		case <-acked:
		case <-jobCtx.Done():
			return
		}
		r.runJob(jobCtx, logger, msg.ChatID, url)
	})
	switch {
	case err == nil:
		return func(ctx context.Context) {
			defer close(acked)
			r.reply(ctx, msg.ChatID, AckText)
		}
	case errors.Is(err, lane.ErrLaneFull):
		metrics.FetchesTotal.WithLabelValues("busy").Inc()
		logger.Warn("chat lane full, rejecting link")
		return func(ctx context.Context) { r.reply(ctx, msg.ChatID, BusyText) }
	default:
		logger.Warn("cannot schedule fetch", "err", err)
		return func(context.Context) {}
	}
}

func (r *Router) runJob(ctx context.Context, logger *slog.Logger, chatID, url string) {
	start := time.Now()
	report, err := r.Process(ctx, chatID, url)
	if err != nil {
		kind := domain.KindOf(err)
		metrics.FetchesTotal.WithLabelValues(string(kind)).Inc()
		logger.Error("fetch failed", "kind", kind, "err", err, "duration", time.Since(start))

		// The job context may already be cancelled on shutdown; still try to
		// tell the chat what happened.
		replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorReplyTimeout)
		defer cancel()
		r.reply(replyCtx, chatID, ErrorPrefix+err.Error())
		return
	}

	metrics.FetchesTotal.WithLabelValues("ok").Inc()
	logger.Info("fetch completed",
		"photos", report.Photos,
		"videos", report.Videos,
		"skipped", report.Skipped,
		"duration", time.Since(start),
	)
}

// Process stages the chat directory, runs the fetcher and relays the result.
// A fetch failure relays nothing.
func (r *Router) Process(ctx context.Context, chatID, url string) (relay.Report, error) {
	dir, err := staging.Prepare(r.stagingRoot, chatID)
	if err != nil {
		return relay.Report{}, domain.NewStageError(domain.KindIO, "stage", err)
	}

	start := time.Now()
	err = r.fetcher.Fetch(ctx, url, dir)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// Partial output from a failed run must not reach the chat.
		if cerr := staging.Clear(dir); cerr != nil {
			r.logger.Warn("cannot clear staging dir after failed fetch", "dir", dir, "err", cerr)
		}
		return relay.Report{}, err
	}

	return r.relay.Drain(ctx, chatID, dir)
}

func (r *Router) reply(ctx context.Context, chatID, text string) {
	if err := r.messenger.SendText(ctx, chatID, text); err != nil {
		r.logger.Warn("reply failed", "chat_id", chatID, "err", err)
	}
}
