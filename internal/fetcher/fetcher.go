// Package fetcher runs the external media-extraction tool (gallery-dl by
// default) against a status link.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"mediagrab/internal/domain"
	"mediagrab/internal/metrics"

	"github.com/google/uuid"
)

const (
	defaultTool          = "gallery-dl"
	defaultTimeout       = 5 * time.Minute
	defaultMaxStderrSize = 3000
	waitDelay            = 2 * time.Second
)

type Config struct {
	Tool      string
	ExtraArgs []string      // inserted before the URL
	Timeout   time.Duration // 0 = default, negative = no limit
	Cookies   string        // cookie-file text handed to the tool
	CookieDir string        // where per-request cookie files are written (default: os.TempDir)
	Limiter   *RateLimiter  // nil = unthrottled
	Logger    *slog.Logger
}

// Fetcher downloads every media item of a link into a directory.
type Fetcher struct {
	tool      string
	extraArgs []string
	timeout   time.Duration
	cookies   string
	cookieDir string
	limiter   *RateLimiter
	logger    *slog.Logger
}

func New(cfg Config) *Fetcher {
	if cfg.Tool == "" {
		cfg.Tool = defaultTool
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CookieDir == "" {
		cfg.CookieDir = os.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		tool:      cfg.Tool,
		extraArgs: cfg.ExtraArgs,
		timeout:   cfg.Timeout,
		cookies:   cfg.Cookies,
		cookieDir: cfg.CookieDir,
		limiter:   cfg.Limiter,
		logger:    cfg.Logger,
	}
}

// Tool returns the configured executable name.
func (f *Fetcher) Tool() string { return f.tool }

// HasCookies reports whether a cookie payload is configured.
func (f *Fetcher) HasCookies() bool { return f.cookies != "" }

// LookPath resolves the tool on PATH.
func (f *Fetcher) LookPath() (string, error) {
	return exec.LookPath(f.tool)
}

// Fetch runs the tool for url, writing its output into outDir, and blocks
// until it exits. Errors are *domain.StageError values.
func (f *Fetcher) Fetch(ctx context.Context, url, outDir string) error {
	if f.cookies == "" {
		return domain.NewStageError(domain.KindConfig, "fetch", domain.ErrCookiesNotFound)
	}

	if f.limiter != nil {
		waited, err := f.limiter.Wait(ctx)
		if err != nil {
			return domain.NewStageError(domain.KindTool, "fetch", err)
		}
		if waited > 0 {
			metrics.FetchThrottleWait.Observe(waited.Seconds())
			f.logger.Info("fetch throttled", "url", url, "waited", waited)
		}
	}

	cookiePath, err := f.writeCookies()
	if err != nil {
		return domain.NewStageError(domain.KindIO, "write cookies", err)
	}
	defer func() {
		if err := os.Remove(cookiePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("failed to remove cookie file", "path", cookiePath, "err", err)
		}
	}()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(f.extraArgs)+5)
	args = append(args, "--cookies", cookiePath, "--directory", outDir)
	args = append(args, f.extraArgs...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, f.tool, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	f.logger.Debug("extraction tool finished",
		"tool", f.tool,
		"url", url,
		"duration", time.Since(start),
		"stdout_bytes", stdout.Len(),
		"err", err,
	)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.NewStageError(domain.KindTool, "fetch",
			fmt.Errorf("%w after %s", domain.ErrToolTimeout, f.timeout))
	case ctx.Err() != nil:
		return domain.NewStageError(domain.KindTool, "fetch", ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return domain.NewStageError(domain.KindTool, "fetch",
			fmt.Errorf("%w: %s exited with code %d: %s",
				domain.ErrToolFailed, f.tool, exitErr.ExitCode(), truncate(stderr.String())))
	}
	return domain.NewStageError(domain.KindTool, "fetch", fmt.Errorf("%w: %v", domain.ErrToolFailed, err))
}

// writeCookies stores the cookie payload in a file private to this request.
func (f *Fetcher) writeCookies() (string, error) {
	if err := os.MkdirAll(f.cookieDir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(f.cookieDir, "mediagrab-cookies-"+uuid.NewString()+".txt")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := file.WriteString(f.cookies); err != nil {
		file.Close()
		os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > defaultMaxStderrSize {
		s = s[:defaultMaxStderrSize] + "\n... (output truncated)"
	}
	return s
}
