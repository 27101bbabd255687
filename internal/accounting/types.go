package accounting

import (
	"context"
	"time"
)

// Event kinds recorded by the sink.
const (
	EventSessionCreated      = "session_created"
	EventSessionExpired      = "session_expired"
	EventGenerationCompleted = "generation_completed"
	EventConnectionEvicted   = "connection_evicted"
)

// UsageRecord is one accounting row: a session lifecycle transition or a
// completed generation with its consumed units.
type UsageRecord struct {
	ID           string    `json:"id"`
	Event        string    `json:"event"`
	PrincipalID  string    `json:"principal_id"`
	SessionID    string    `json:"session_id,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Units        int       `json:"units"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sink persists usage records. Writes are best effort from the broker's
// perspective; a failing sink must never break a live stream.
type Sink interface {
	Record(ctx context.Context, record UsageRecord) error
	RecentUsage(ctx context.Context, principalID string, limit int) ([]UsageRecord, error)
	Close() error
}
