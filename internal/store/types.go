// Package store persists final transcripts per session.
package store

import (
	"context"
	"time"
)

// UtteranceRecord is one settled transcript for a session.
type UtteranceRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves session transcripts.
type Store interface {
	SaveUtterance(ctx context.Context, record UtteranceRecord) error
	SessionTranscript(ctx context.Context, sessionID string, limit int) ([]UtteranceRecord, error)
	Close() error
}
