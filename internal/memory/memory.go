// Package memory implements the spiral long-term memory engine.
package memory

import (
	"context"
	"time"
)

const (
	KindTurnSummary = "turn_summary"
	KindFact        = "fact"
	KindFinding     = "finding"
)

// Entry is one retrieved memory.
type Entry struct {
	ID        string
	Kind      string
	Text      string
	Meta      map[string]string
	Score     float64
	CreatedAt time.Time
}

// QueryResult is what a retrieval returns. An empty result is valid and is
// the safe default callers substitute when the engine is unreachable.
type QueryResult struct {
	Entries []Entry
}

// Engine is the capability the chat drivers and tools consume.
type Engine interface {
	// Query retrieves entries relevant to text, bounded by a character budget.
	Query(ctx context.Context, text string, budget int) (QueryResult, error)
	// Store persists one entry of the given kind.
	Store(ctx context.Context, text, kind string, meta map[string]string) error
}
