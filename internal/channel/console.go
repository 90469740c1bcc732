package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mediagrab/internal/domain"
)

// ConsoleChatID is the chat identifier every console message carries.
const ConsoleChatID = "console"

var (
	_ domain.Channel   = (*Console)(nil)
	_ domain.Messenger = (*Console)(nil)
)

// Console implements domain.Channel and domain.Messenger on a terminal.
// Media is reported by name and size and optionally copied to SaveDir,
// since the relay deletes every file once it has been sent.
type Console struct {
	bus     domain.MessageBus
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	saveDir string

	outMu sync.Mutex
}

type ConsoleConfig struct {
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	SaveDir string // empty = don't keep copies
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		saveDir: cfg.SaveDir,
	}
}

func (c *Console) Name() string { return "console" }

// Start reads lines from the input and publishes them until EOF, /quit, or
// context cancellation.
func (c *Console) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	c.println("mediagrab console. Paste a status link and press Enter. Type /quit to exit.")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.bus.Publish(domain.InboundMessage{
			Channel:   "console",
			ChatID:    ConsoleChatID,
			SenderID:  "user",
			Content:   line,
			Timestamp: time.Now(),
		})
	}
}

// Stop is a no-op for the console (we exit when Start returns).
func (c *Console) Stop() error { return nil }

func (c *Console) SendText(_ context.Context, _ string, text string) error {
	return c.println(text)
}

func (c *Console) SendPhoto(_ context.Context, _ string, path string) error {
	return c.sendFile("photo", path)
}

func (c *Console) SendVideo(_ context.Context, _ string, path string) error {
	return c.sendFile("video", path)
}

func (c *Console) sendFile(kind, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", kind, err)
	}
	line := fmt.Sprintf("[%s] %s (%d bytes)", kind, filepath.Base(path), info.Size())
	if c.saveDir != "" {
		dst, err := copyFile(path, c.saveDir)
		if err != nil {
			return fmt.Errorf("save %s: %w", kind, err)
		}
		line += " -> " + dst
	}
	return c.println(line)
}

func (c *Console) println(s string) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintln(c.out, s)
	return err
}

func copyFile(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dst := filepath.Join(dir, filepath.Base(src))
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	return dst, out.Close()
}
