package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a token has no live entry.
var ErrNotFound = errors.New("token not found")

// EntryKind tells session entries and password reset entries apart.
type EntryKind string

const (
	KindSession       EntryKind = "session"
	KindPasswordReset EntryKind = "password_reset"
)

// SessionEntry is the server-side record of an issued token.
type SessionEntry struct {
	TokenValue string    `json:"-"` // raw token, only its hash is used as key
	Kind       EntryKind `json:"kind"`
	UserID     string    `json:"userId"`
	Email      string    `json:"email,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// SessionStore keeps issued session and reset tokens until they expire, plus
// short-lived counters used for rate limiting.
type SessionStore interface {
	Set(ctx context.Context, entry *SessionEntry) error
	Get(ctx context.Context, token string) (*SessionEntry, error)
	Delete(ctx context.Context, token string) error
	// Incr bumps the counter under key and returns the new value. The counter
	// starts a fresh window of the given length on its first increment.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Close() error
}
