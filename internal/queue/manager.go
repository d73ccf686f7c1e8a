// Package queue implements the offline action queue: a durable,
// priority-aware queue that keeps accepting user actions while disconnected
// and replays them once connectivity returns.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"photoflow/internal/conflict"
	"photoflow/internal/domain"
	"photoflow/internal/metrics"
	"photoflow/internal/netmon"
	"photoflow/internal/persist"
)

// Processor performs the actual work for one action type. It must be
// idempotent-safe under retry: the same action may be delivered more than
// once.
type Processor interface {
	Process(ctx context.Context, action domain.Action) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, action domain.Action) error

func (f ProcessorFunc) Process(ctx context.Context, action domain.Action) error {
	return f(ctx, action)
}

// Syncer is the sync coordinator hook the manager triggers on reconnect and
// through Sync.
type Syncer interface {
	SyncNow(ctx context.Context) error
}

// Listener receives an immutable snapshot of the action set after every
// queue change. Callbacks must not mutate the slice.
type Listener func(actions []domain.Action)

// NetworkListener receives connectivity transitions.
type NetworkListener func(online bool)

// Config tunes the queue manager.
type Config struct {
	// MaxSize caps the action set; CreateAction returns ErrQueueFull beyond it.
	MaxSize int
	// DefaultMaxRetries applies when creation options don't set a budget.
	DefaultMaxRetries int
	// BackoffUnit scales the exponential backoff: a failed attempt waits
	// 2^retryCount units before the action becomes eligible again.
	BackoffUnit time.Duration
}

func (c *Config) fillDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = time.Second
	}
}

// CreateOptions customizes a new action. Zero values fall back to defaults:
// normal priority, the configured retry budget, requires network.
type CreateOptions struct {
	Priority            domain.Priority
	MaxRetries          *int
	Dependencies        []string
	GroupID             string
	Tags                []string
	RequiresNetwork     *bool
	RequiresInteraction bool
	ConflictStrategy    string
	SessionID           string
	DeviceID            string
	CorrelationID       string
}

// Manager owns the action set and its derived group and dependency indexes,
// drives the serialized scheduling loop, and coordinates persistence,
// conflict resolution, processors, and network state.
type Manager struct {
	cfg       Config
	store     persist.Store
	monitor   netmon.Monitor
	resolvers *conflict.Registry
	collector *metrics.Collector
	logger    zerolog.Logger

	mu         sync.Mutex
	actions    map[string]*domain.Action
	seqs       map[string]uint64            // FIFO tiebreak within a priority band
	groups     map[string]map[string]struct{} // group id -> member ids
	dependents map[string]map[string]struct{} // dependency id -> dependent ids
	processors map[domain.ActionType]Processor
	listeners  map[int]Listener
	netsubs    map[int]NetworkListener
	nextSub    int
	seqCounter uint64
	closed     bool
	syncer     Syncer

	ctx         context.Context
	cancel      context.CancelFunc
	kick        chan struct{}
	stop        chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()
}

// New builds a manager, rehydrates the action set from the store, rebuilds
// the indexes, subscribes to the network monitor, and starts the scheduling
// loop. Actions left in PROCESSING by a previous run are reset to QUEUED.
func New(cfg Config, store persist.Store, monitor netmon.Monitor, resolvers *conflict.Registry, collector *metrics.Collector, logger zerolog.Logger) (*Manager, error) {
	cfg.fillDefaults()
	if resolvers == nil {
		resolvers = conflict.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		store:      store,
		monitor:    monitor,
		resolvers:  resolvers,
		collector:  collector,
		logger:     logger,
		actions:    make(map[string]*domain.Action),
		seqs:       make(map[string]uint64),
		groups:     make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
		processors: make(map[domain.ActionType]Processor),
		listeners:  make(map[int]Listener),
		netsubs:    make(map[int]NetworkListener),
		ctx:        ctx,
		cancel:     cancel,
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}

	if err := m.rehydrate(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("rehydrate action set: %w", err)
	}

	m.unsubscribe = monitor.Subscribe(m.onNetworkChange)

	m.wg.Add(1)
	go m.run()
	m.kickLoop()

	return m, nil
}

func (m *Manager) rehydrate(ctx context.Context) error {
	actions, err := m.store.Load(ctx)
	if err != nil {
		// Read-path persistence failures degrade to an empty queue rather
		// than refusing to start.
		m.logger.Error().Err(err).Msg("load persisted actions failed, starting empty")
		return nil
	}

	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Metadata.CreatedAt.Before(actions[j].Metadata.CreatedAt)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	recovered := 0
	for i := range actions {
		a := actions[i].Clone()
		if a.Status == domain.StatusProcessing {
			// A crash mid-processing must not strand the action.
			a.Status = domain.StatusQueued
			a.Metadata.UpdatedAt = time.Now()
			recovered++
		}
		m.insertLocked(&a)
	}
	m.setDepthLocked()
	if recovered > 0 {
		m.logger.Info().Int("recovered", recovered).Msg("reset stale processing actions to queued")
	}
	if len(m.actions) > 0 {
		m.logger.Info().Int("actions", len(m.actions)).Msg("rehydrated action set")
	}
	return nil
}

// CreateAction stamps and enqueues a new action, persists the set, and wakes
// the scheduling loop. It returns as soon as the action is indexed and
// queued; processing happens in the background.
func (m *Manager) CreateAction(ctx context.Context, typ domain.ActionType, payload json.RawMessage, opts CreateOptions) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", domain.ErrClosed
	}
	if len(m.actions) >= m.cfg.MaxSize {
		m.mu.Unlock()
		return "", domain.ErrQueueFull
	}

	now := time.Now()
	maxRetries := m.cfg.DefaultMaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}
	requiresNetwork := true
	if opts.RequiresNetwork != nil {
		requiresNetwork = *opts.RequiresNetwork
	}
	priority := opts.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	a := &domain.Action{
		ID:       "act_" + uuid.NewString(),
		Type:     typ,
		Status:   domain.StatusQueued,
		Priority: priority,
		Payload:  append(json.RawMessage(nil), payload...),
		Context: domain.Context{
			SessionID:     opts.SessionID,
			DeviceID:      opts.DeviceID,
			CorrelationID: opts.CorrelationID,
			CreatedAt:     now,
		},
		Metadata: domain.Metadata{
			CreatedAt:           now,
			UpdatedAt:           now,
			MaxRetries:          maxRetries,
			RequiresNetwork:     requiresNetwork,
			RequiresInteraction: opts.RequiresInteraction,
			ConflictStrategy:    opts.ConflictStrategy,
		},
		Dependencies: append([]string(nil), opts.Dependencies...),
		GroupID:      opts.GroupID,
		Tags:         append([]string(nil), opts.Tags...),
	}

	m.insertLocked(a)
	if err := m.persistLocked(ctx); err != nil {
		// Creation is all-or-nothing: an action the store never saw is
		// rejected rather than kept memory-only.
		m.removeLocked(a.ID)
		m.mu.Unlock()
		return "", fmt.Errorf("persist action set: %w", err)
	}
	m.setDepthLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.RecordCreated()
	}
	m.notify(snap)
	m.kickLoop()
	return a.ID, nil
}

// GetActionByID returns a copy of the action, or false if absent.
func (m *Manager) GetActionByID(id string) (domain.Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return domain.Action{}, false
	}
	return a.Clone(), true
}

// GetActions returns copies of all actions matching the filter, ordered by
// creation time.
func (m *Manager) GetActions(f domain.Filter) []domain.Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Action
	if f.GroupID != "" {
		// The group index narrows the scan for batch lookups.
		for id := range m.groups[f.GroupID] {
			if a := m.actions[id]; a != nil && f.Match(*a) {
				out = append(out, a.Clone())
			}
		}
	} else {
		for _, a := range m.actions {
			if f.Match(*a) {
				out = append(out, a.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Metadata.CreatedAt.Equal(out[j].Metadata.CreatedAt) {
			return out[i].Metadata.CreatedAt.Before(out[j].Metadata.CreatedAt)
		}
		return m.seqs[out[i].ID] < m.seqs[out[j].ID]
	})
	return out
}

// UpdateActionStatus applies an explicit status transition, honoring the
// state machine edges. lastErr, when non-nil, is recorded on the action.
func (m *Manager) UpdateActionStatus(ctx context.Context, id string, status domain.Status, lastErr *domain.LastError) error {
	m.mu.Lock()
	a, ok := m.actions[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrActionNotFound
	}
	if !domain.ValidTransition(a.Status, status) {
		from, to := a.Status, status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	a.Status = status
	a.Metadata.UpdatedAt = time.Now()
	if lastErr != nil {
		e := *lastErr
		a.Metadata.LastError = &e
	}
	err := m.persistLocked(ctx)
	m.setDepthLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	m.kickLoop()
	return err
}

// CancelAction cancels a QUEUED action. In-flight actions are not
// preemptible.
func (m *Manager) CancelAction(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.actions[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrActionNotFound
	}
	if a.Status != domain.StatusQueued {
		m.mu.Unlock()
		return domain.ErrNotCancellable
	}
	a.Status = domain.StatusCancelled
	a.Metadata.UpdatedAt = time.Now()
	err := m.persistLocked(ctx)
	m.setDepthLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	return err
}

// RetryAction re-enters a FAILED action into the queued pool with a fresh
// retry budget and no recorded error.
func (m *Manager) RetryAction(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.actions[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrActionNotFound
	}
	if a.Status != domain.StatusFailed {
		m.mu.Unlock()
		return domain.ErrNotRetryable
	}
	a.Status = domain.StatusQueued
	a.Metadata.RetryCount = 0
	a.Metadata.LastError = nil
	a.Metadata.NextAttemptAt = time.Time{}
	a.Metadata.UpdatedAt = time.Now()
	err := m.persistLocked(ctx)
	m.setDepthLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	m.kickLoop()
	return err
}

// ClearCompleted removes SYNCED and CANCELLED actions, optionally only those
// created before the cutoff. Returns how many were removed.
func (m *Manager) ClearCompleted(ctx context.Context, before *time.Time) (int, error) {
	return m.clearStatuses(ctx, before, domain.StatusSynced, domain.StatusCancelled)
}

// ClearFailed removes FAILED actions, optionally only those created before
// the cutoff.
func (m *Manager) ClearFailed(ctx context.Context, before *time.Time) (int, error) {
	return m.clearStatuses(ctx, before, domain.StatusFailed)
}

func (m *Manager) clearStatuses(ctx context.Context, before *time.Time, statuses ...domain.Status) (int, error) {
	m.mu.Lock()
	var doomed []string
	for id, a := range m.actions {
		match := false
		for _, s := range statuses {
			if a.Status == s {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if before != nil && !a.Metadata.CreatedAt.Before(*before) {
			continue
		}
		doomed = append(doomed, id)
	}
	for _, id := range doomed {
		m.removeLocked(id)
	}
	var err error
	if len(doomed) > 0 {
		err = m.persistLocked(ctx)
		m.setDepthLocked()
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if len(doomed) > 0 {
		m.notify(snap)
		m.kickLoop()
	}
	return len(doomed), err
}

// GetStatistics summarizes the current action set.
func (m *Manager) GetStatistics() domain.Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := domain.Statistics{
		ByType:     make(map[domain.ActionType]int),
		ByPriority: make(map[domain.Priority]int),
	}
	for _, a := range m.actions {
		stats.Total++
		stats.ByType[a.Type]++
		stats.ByPriority[a.Priority]++
		switch a.Status {
		case domain.StatusQueued:
			stats.Queued++
			created := a.Metadata.CreatedAt
			if stats.OldestQueued.IsZero() || created.Before(stats.OldestQueued) {
				stats.OldestQueued = created
			}
			if created.After(stats.NewestQueued) {
				stats.NewestQueued = created
			}
		case domain.StatusProcessing:
			stats.Processing++
		case domain.StatusSynced:
			stats.Synced++
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// AddProcessor registers the processor for an action type, replacing any
// previous registration.
func (m *Manager) AddProcessor(typ domain.ActionType, p Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processors[typ] = p
}

func (m *Manager) RemoveProcessor(typ domain.ActionType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processors, typ)
}

// AddQueueChangeListener subscribes to queue changes; the returned id
// unsubscribes through RemoveQueueChangeListener.
func (m *Manager) AddQueueChangeListener(fn Listener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = fn
	return id
}

func (m *Manager) RemoveQueueChangeListener(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

func (m *Manager) AddNetworkChangeListener(fn NetworkListener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.netsubs[id] = fn
	return id
}

func (m *Manager) RemoveNetworkChangeListener(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.netsubs, id)
}

// SetSyncer attaches the sync coordinator used by Sync and the reconnect
// trigger.
func (m *Manager) SetSyncer(s Syncer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncer = s
}

// Sync runs an immediate sync cycle through the attached coordinator.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	s := m.syncer
	m.mu.Unlock()
	if s == nil {
		return errors.New("no sync coordinator attached")
	}
	return s.SyncNow(ctx)
}

// SyncedActions returns copies of all locally completed actions awaiting
// upstream delivery, ordered by creation time.
func (m *Manager) SyncedActions() []domain.Action {
	return m.GetActions(domain.Filter{Statuses: []domain.Status{domain.StatusSynced}})
}

// RemoveActions removes delivered actions from the set and both indexes,
// persists, and notifies listeners. Used by the sync coordinator after
// confirmed upstream delivery.
func (m *Manager) RemoveActions(ctx context.Context, ids []string) error {
	m.mu.Lock()
	removed := 0
	for _, id := range ids {
		if _, ok := m.actions[id]; ok {
			m.removeLocked(id)
			removed++
		}
	}
	var err error
	if removed > 0 {
		err = m.persistLocked(ctx)
		m.setDepthLocked()
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if removed > 0 {
		m.notify(snap)
		m.kickLoop()
	}
	return err
}

// ResolveConflict reconciles a local and a remote version of the same logical
// action using the local action's configured strategy, installs the winner in
// the action set, and returns it.
func (m *Manager) ResolveConflict(ctx context.Context, local, remote domain.Action) (domain.Action, error) {
	winner := m.resolvers.Resolve(local.Metadata.ConflictStrategy, local, remote)

	m.mu.Lock()
	if _, ok := m.actions[winner.ID]; ok {
		m.removeLocked(winner.ID)
	}
	w := winner.Clone()
	m.insertLocked(&w)
	err := m.persistLocked(ctx)
	m.setDepthLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	m.kickLoop()
	return winner, err
}

// Close stops the scheduling loop and timers and drops all listeners.
// Persisted state is left intact.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	unsub := m.unsubscribe
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	close(m.stop)
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.listeners = make(map[int]Listener)
	m.netsubs = make(map[int]NetworkListener)
	m.mu.Unlock()
	return nil
}

// insertLocked adds the action to the set and updates the group and
// dependency indexes in the same critical section.
func (m *Manager) insertLocked(a *domain.Action) {
	m.actions[a.ID] = a
	m.seqCounter++
	m.seqs[a.ID] = m.seqCounter
	if a.GroupID != "" {
		g := m.groups[a.GroupID]
		if g == nil {
			g = make(map[string]struct{})
			m.groups[a.GroupID] = g
		}
		g[a.ID] = struct{}{}
	}
	for _, dep := range a.Dependencies {
		d := m.dependents[dep]
		if d == nil {
			d = make(map[string]struct{})
			m.dependents[dep] = d
		}
		d[a.ID] = struct{}{}
	}
}

// removeLocked is the inverse of insertLocked.
func (m *Manager) removeLocked(id string) {
	a, ok := m.actions[id]
	if !ok {
		return
	}
	delete(m.actions, id)
	delete(m.seqs, id)
	if a.GroupID != "" {
		if g := m.groups[a.GroupID]; g != nil {
			delete(g, id)
			if len(g) == 0 {
				delete(m.groups, a.GroupID)
			}
		}
	}
	for _, dep := range a.Dependencies {
		if d := m.dependents[dep]; d != nil {
			delete(d, id)
			if len(d) == 0 {
				delete(m.dependents, dep)
			}
		}
	}
	// Actions depending on id treat its absence as satisfied; the entry is
	// no longer needed.
	delete(m.dependents, id)
}

func (m *Manager) persistLocked(ctx context.Context) error {
	set := make([]domain.Action, 0, len(m.actions))
	for _, a := range m.actions {
		set = append(set, a.Clone())
	}
	return m.store.Save(ctx, set)
}

func (m *Manager) snapshotLocked() []domain.Action {
	snap := make([]domain.Action, 0, len(m.actions))
	for _, a := range m.actions {
		snap = append(snap, a.Clone())
	}
	sort.Slice(snap, func(i, j int) bool {
		if !snap[i].Metadata.CreatedAt.Equal(snap[j].Metadata.CreatedAt) {
			return snap[i].Metadata.CreatedAt.Before(snap[j].Metadata.CreatedAt)
		}
		return m.seqs[snap[i].ID] < m.seqs[snap[j].ID]
	})
	return snap
}

func (m *Manager) setDepthLocked() {
	if m.collector == nil {
		return
	}
	counts := map[domain.Status]int{
		domain.StatusQueued:     0,
		domain.StatusProcessing: 0,
		domain.StatusSynced:     0,
		domain.StatusFailed:     0,
		domain.StatusCancelled:  0,
	}
	for _, a := range m.actions {
		counts[a.Status]++
	}
	for status, n := range counts {
		m.collector.SetDepth(string(status), n)
	}
}

func (m *Manager) notify(snapshot []domain.Action) {
	m.mu.Lock()
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func (m *Manager) onNetworkChange(online bool) {
	m.mu.Lock()
	fns := make([]NetworkListener, 0, len(m.netsubs))
	for _, fn := range m.netsubs {
		fns = append(fns, fn)
	}
	s := m.syncer
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
	if online {
		m.kickLoop()
		if s != nil {
			go func() {
				if err := s.SyncNow(m.ctx); err != nil {
					m.logger.Warn().Err(err).Msg("reconnect sync failed")
				}
			}()
		}
	}
}
