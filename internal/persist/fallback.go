package persist

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"photoflow/internal/domain"
)

// Fallback chains a primary store with a simpler secondary. The first primary
// failure engages the secondary permanently for this process; once degraded
// there is no flapping back.
type Fallback struct {
	primary   Store
	secondary Store
	logger    zerolog.Logger

	mu       sync.Mutex
	degraded bool
}

func NewFallback(primary, secondary Store, logger zerolog.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Degraded reports whether the fallback store has been engaged.
func (f *Fallback) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

func (f *Fallback) Save(ctx context.Context, actions []domain.Action) error {
	if f.isDegraded() {
		return f.secondary.Save(ctx, actions)
	}
	if err := f.primary.Save(ctx, actions); err != nil {
		f.degrade(err, "save")
		return f.secondary.Save(ctx, actions)
	}
	return nil
}

func (f *Fallback) Load(ctx context.Context) ([]domain.Action, error) {
	if f.isDegraded() {
		return f.secondary.Load(ctx)
	}
	actions, err := f.primary.Load(ctx)
	if err != nil {
		f.degrade(err, "load")
		return f.secondary.Load(ctx)
	}
	return actions, nil
}

func (f *Fallback) Clear(ctx context.Context) error {
	if f.isDegraded() {
		return f.secondary.Clear(ctx)
	}
	if err := f.primary.Clear(ctx); err != nil {
		f.degrade(err, "clear")
		return f.secondary.Clear(ctx)
	}
	return nil
}

func (f *Fallback) isDegraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

func (f *Fallback) degrade(err error, op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.degraded {
		return
	}
	f.degraded = true
	f.logger.Warn().Err(err).Str("op", op).Msg("primary store failed, switching to fallback store")
}
