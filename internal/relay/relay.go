// Package relay drains a staging directory into chat messages.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mediagrab/internal/domain"
	"mediagrab/internal/metrics"
)

type Config struct {
	Messenger     domain.Messenger
	KeepUnmatched bool // leave files with unknown extensions on disk
	Logger        *slog.Logger
}

// Relay sends staged photos and videos to a chat and removes them.
type Relay struct {
	messenger     domain.Messenger
	keepUnmatched bool
	logger        *slog.Logger
}

// Report summarizes one drain pass.
type Report struct {
	Photos  int
	Videos  int
	Skipped int // files with an unknown extension
	Failed  int // files whose send failed
}

// Sent is the number of files delivered to the chat.
func (r Report) Sent() int { return r.Photos + r.Videos }

func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{
		messenger:     cfg.Messenger,
		keepUnmatched: cfg.KeepUnmatched,
		logger:        cfg.Logger,
	}
}

// Drain sends every photo and video directly inside dir to chatID, one
// message per file, in directory order. Each file is removed after its send
// attempt whether or not the send succeeded, and one failed send does not
// stop the rest. Send failures are joined into a delivery StageError.
func (r *Relay) Drain(ctx context.Context, chatID, dir string) (Report, error) {
	var report Report

	entries, err := os.ReadDir(dir)
	if err != nil {
		return report, domain.NewStageError(domain.KindIO, "relay", fmt.Errorf("read staging dir: %w", err))
	}

	var sendErrs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			sendErrs = append(sendErrs, err)
			break
		}

		name := e.Name()
		path := filepath.Join(dir, name)
		kind := domain.ClassifyMedia(name)

		if kind == domain.MediaUnknown {
			report.Skipped++
			if !r.keepUnmatched {
				r.remove(path)
			}
			r.logger.Debug("skipping unsupported file", "chat_id", chatID, "file", name)
			continue
		}

		if err := r.send(ctx, chatID, kind, path); err != nil {
			report.Failed++
			metrics.MediaSent.WithLabelValues(kind.String(), "error").Inc()
			r.logger.Warn("media send failed", "chat_id", chatID, "file", name, "kind", kind, "err", err)
			sendErrs = append(sendErrs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		metrics.MediaSent.WithLabelValues(kind.String(), "ok").Inc()
		switch kind {
		case domain.MediaPhoto:
			report.Photos++
		case domain.MediaVideo:
			report.Videos++
		}
	}

	r.logger.Info("relay finished",
		"chat_id", chatID,
		"photos", report.Photos,
		"videos", report.Videos,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)

	if len(sendErrs) > 0 {
		return report, domain.NewStageError(domain.KindDelivery, "relay",
			fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, errors.Join(sendErrs...)))
	}
	return report, nil
}

func (r *Relay) send(ctx context.Context, chatID string, kind domain.MediaKind, path string) error {
	defer r.remove(path)
	switch kind {
	case domain.MediaPhoto:
		return r.messenger.SendPhoto(ctx, chatID, path)
	case domain.MediaVideo:
		return r.messenger.SendVideo(ctx, chatID, path)
	}
	return nil
}

func (r *Relay) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("failed to remove staged file", "path", path, "err", err)
	}
}
