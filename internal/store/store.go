// Package store provides the durable message log.
package store

import (
	"context"
	"time"
)

// Message sources
const (
	SourceHuman = "human"
	SourceAgent = "agent"
)

// Message is one entry in the append-only message log.
type Message struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	Source      string            `json:"source"`
	Type        string            `json:"type"`
	Priority    string            `json:"priority"`
	TextContent string            `json:"text_content,omitempty"`
	AudioURL    string            `json:"audio_url,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	FileURL     string            `json:"file_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Store defines the interface for message persistence.
type Store interface {
	// AppendMessage stores a message, filling in its ID and CreatedAt.
	AppendMessage(ctx context.Context, msg *Message) error

	// RecentMessages returns the most recent messages in chronological order.
	RecentMessages(ctx context.Context, limit int) ([]Message, error)

	// Close releases the underlying storage.
	Close() error
}
