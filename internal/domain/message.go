package domain

import "time"

// InboundMessage is a chat message received by a channel.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}
