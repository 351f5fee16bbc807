// Package feed fans classified-session notifications out to downstream sinks.
package feed

import (
	"context"

	"github.com/rsclarke/beehive/internal/models"
)

// Sink is the base interface all feed sinks implement.
type Sink interface {
	ID() string
}

// SessionHook is called after a session reaches a final classification.
type SessionHook interface {
	OnSessionClassified(ctx context.Context, s *models.Session) error
}

// MergeHook is called after a decoy session was folded into a bait session.
type MergeHook interface {
	OnSessionsMerged(ctx context.Context, decoyID, baitID string) error
}

// Closer is an optional interface for sinks holding connections.
type Closer interface {
	Close() error
}

// SinkInfo contains metadata about a registered sink.
type SinkInfo struct {
	ID       string `json:"id"`
	Sessions bool   `json:"sessions"`
	Merges   bool   `json:"merges"`
}
