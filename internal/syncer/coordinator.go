// Package syncer ships locally completed actions to the upstream service and
// prunes them from local state once delivery is confirmed.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"photoflow/internal/domain"
	"photoflow/internal/metrics"
)

// Deliverer is the injected upstream delivery capability. A nil error is
// confirmation; any error keeps the batch local for the next cycle.
type Deliverer interface {
	Deliver(ctx context.Context, actions []domain.Action) error
}

// Queue is the slice of the queue manager the coordinator needs.
type Queue interface {
	SyncedActions() []domain.Action
	RemoveActions(ctx context.Context, ids []string) error
}

// Coordinator runs reconciliation cycles on a fixed interval, on an optional
// cron schedule, and on demand (reconnect, explicit sync). Cycles are
// single-flight: one in progress blocks a new one from starting.
type Coordinator struct {
	queue     Queue
	deliverer Deliverer
	interval  time.Duration
	cronExpr  string
	collector *metrics.Collector
	logger    zerolog.Logger

	sf   singleflight.Group
	cron *cron.Cron

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(queue Queue, deliverer Deliverer, interval time.Duration, cronExpr string, collector *metrics.Collector, logger zerolog.Logger) *Coordinator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Coordinator{
		queue:     queue,
		deliverer: deliverer,
		interval:  interval,
		cronExpr:  cronExpr,
		collector: collector,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start launches the periodic sync timer and, when configured, the cron
// schedule for full reconciliation.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("sync coordinator already running")
	}

	if c.cronExpr != "" {
		if _, err := cron.ParseStandard(c.cronExpr); err != nil {
			return fmt.Errorf("invalid sync cron expression %q: %w", c.cronExpr, err)
		}
		c.cron = cron.New()
		_, _ = c.cron.AddFunc(c.cronExpr, func() {
			if err := c.SyncNow(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("scheduled sync failed")
			}
		})
		c.cron.Start()
	}

	c.running = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if err := c.SyncNow(ctx); err != nil {
					c.logger.Warn().Err(err).Msg("periodic sync failed")
				}
			}
		}
	}()

	c.logger.Info().Dur("interval", c.interval).Str("cron", c.cronExpr).Msg("sync coordinator started")
	return nil
}

// Stop shuts the coordinator down. In-flight cycles finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	cr := c.cron
	c.mu.Unlock()

	if cr != nil {
		cr.Stop()
	}
	c.wg.Wait()
}

// SyncNow runs one reconciliation cycle. Concurrent callers share a single
// cycle.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	_, err, _ := c.sf.Do("sync", func() (any, error) {
		return nil, c.cycle(ctx)
	})
	return err
}

func (c *Coordinator) cycle(ctx context.Context) error {
	if c.collector != nil {
		c.collector.RecordSyncCycle()
	}
	batch := c.queue.SyncedActions()
	if len(batch) == 0 {
		return nil
	}

	if err := c.deliverer.Deliver(ctx, batch); err != nil {
		// The batch stays local; these actions already succeeded and are
		// never re-processed or counted against retry limits.
		return fmt.Errorf("upstream delivery: %w", err)
	}

	ids := make([]string, len(batch))
	for i, a := range batch {
		ids[i] = a.ID
	}
	if err := c.queue.RemoveActions(ctx, ids); err != nil {
		return fmt.Errorf("prune delivered actions: %w", err)
	}
	if c.collector != nil {
		c.collector.RecordDelivered(len(ids))
	}
	c.logger.Info().Int("delivered", len(ids)).Msg("sync cycle completed")
	return nil
}
