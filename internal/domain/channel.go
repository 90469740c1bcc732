package domain

import "context"

// Channel is the interface for user-facing I/O (Telegram, console).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// Messenger delivers replies back to a chat.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID, path string) error
	SendVideo(ctx context.Context, chatID, path string) error
}
