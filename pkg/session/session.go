// Package session keeps short-lived conversation context: the last few
// turns per session, enough for follow-up questions ("what about
// tomorrow?") and the smart-home previous-turn hint. History is bounded
// and expires with the session TTL.
package session

import (
	"context"
	"time"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
)

// Turn is one exchange fragment: a user utterance or an assistant
// reply, tagged with the intent the gateway classified.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Intent    string    `json:"intent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the session history backend.
type Store interface {
	// Append adds a turn, evicting the oldest once the bound is hit.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Recent returns up to n turns, oldest first.
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)

	// Clear drops a session's history.
	Clear(ctx context.Context, sessionID string) error

	Close() error
}

// NewStore builds the configured backend.
func NewStore(cfg *config.SessionConfig) (Store, error) {
	if cfg == nil {
		return nil, faults.New(faults.KindProviderNotConfigured, "session configuration is required")
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.MaxHistory, cfg.TTL), nil
	case "redis":
		return NewRedisStore(cfg)
	default:
		return nil, faults.New(faults.KindBadRequest, "unknown session backend %q", cfg.Backend)
	}
}

// LastUserTurn returns the most recent user turn, for the smart-home
// sequence detector.
func LastUserTurn(ctx context.Context, store Store, sessionID string) (Turn, bool) {
	turns, err := store.Recent(ctx, sessionID, 8)
	if err != nil {
		return Turn{}, false
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "user" {
			return turns[i], true
		}
	}
	return Turn{}, false
}
