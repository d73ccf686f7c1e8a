// Package persist provides durable storage for the action set: a SQLite
// primary store, a JSON-file fallback, and a sticky fallback wrapper that
// composes the two.
package persist

import (
	"context"

	"photoflow/internal/domain"
)

// Store durably mirrors the full action set. Save replaces whatever was
// persisted before; Load returns the full set (empty if none); Clear erases
// all persisted state. All three are idempotent. The queue manager serializes
// calls relative to its own mutations.
type Store interface {
	Save(ctx context.Context, actions []domain.Action) error
	Load(ctx context.Context) ([]domain.Action, error)
	Clear(ctx context.Context) error
}
