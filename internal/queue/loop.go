package queue

import (
	"sort"
	"time"

	"photoflow/internal/domain"
)

// The scheduling loop is serialized: exactly one action is in flight at a
// time, which keeps the ordering guarantees (priority, FIFO within a band,
// dependency gating) trivial to reason about.

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case <-m.kick:
		}
		for {
			select {
			case <-m.stop:
				return
			default:
			}
			id, wait := m.selectNext()
			if id == "" {
				if wait > 0 {
					m.wakeAfter(wait)
				}
				break
			}
			m.process(id)
		}
	}
}

// kickLoop wakes the loop without blocking; a pending kick is enough.
func (m *Manager) kickLoop() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Manager) wakeAfter(d time.Duration) {
	time.AfterFunc(d, m.kickLoop)
}

// selectNext picks the best eligible QUEUED action: highest priority first,
// oldest first within a band, skipping actions gated by network requirements,
// backoff, or unresolved dependencies. When nothing is eligible it returns
// the delay until the earliest backoff expiry, if any.
func (m *Manager) selectNext() (string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	online := m.monitor.Online()

	var candidates []*domain.Action
	var wait time.Duration
	for _, a := range m.actions {
		if a.Status != domain.StatusQueued {
			continue
		}
		if !online && a.Metadata.RequiresNetwork {
			continue
		}
		if next := a.Metadata.NextAttemptAt; !next.IsZero() && next.After(now) {
			if d := next.Sub(now); wait == 0 || d < wait {
				wait = d
			}
			continue
		}
		candidates = append(candidates, a)
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].Priority.Rank(), candidates[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		ci, cj := candidates[i].Metadata.CreatedAt, candidates[j].Metadata.CreatedAt
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return m.seqs[candidates[i].ID] < m.seqs[candidates[j].ID]
	})

	for _, a := range candidates {
		if m.depsSatisfiedLocked(a) {
			return a.ID, 0
		}
	}
	return "", wait
}

// depsSatisfiedLocked reports whether every dependency has reached SYNCED.
// Ids absent from the set count as satisfied: actions are only removed after
// confirmed upstream delivery or explicit clearing of terminal states.
func (m *Manager) depsSatisfiedLocked(a *domain.Action) bool {
	for _, dep := range a.Dependencies {
		if d, ok := m.actions[dep]; ok && d.Status != domain.StatusSynced {
			return false
		}
	}
	return true
}

// process runs one action through its processor and applies the resulting
// transition. The action may have been cancelled or removed between selection
// and here; in that case nothing happens.
func (m *Manager) process(id string) {
	m.mu.Lock()
	a, ok := m.actions[id]
	if !ok || a.Status != domain.StatusQueued {
		m.mu.Unlock()
		return
	}
	a.Status = domain.StatusProcessing
	a.Metadata.UpdatedAt = time.Now()
	proc := m.processors[a.Type]
	if err := m.persistLocked(m.ctx); err != nil {
		m.logger.Warn().Err(err).Str("action_id", id).Msg("persist before processing failed")
	}
	m.setDepthLocked()
	task := a.Clone()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)

	if proc == nil {
		m.logger.Error().Str("action_id", id).Str("type", string(task.Type)).Msg("no processor registered")
		m.finishFailure(id, domain.ErrNoProcessor.Error(), "missing_processor", true)
		return
	}

	start := time.Now()
	if err := proc.Process(m.ctx, task); err != nil {
		m.finishFailure(id, err.Error(), "processor_error", false)
		return
	}
	m.finishSuccess(id, time.Since(start))
}

func (m *Manager) finishSuccess(id string, latency time.Duration) {
	m.mu.Lock()
	a, ok := m.actions[id]
	if !ok || a.Status != domain.StatusProcessing {
		m.mu.Unlock()
		return
	}
	a.Status = domain.StatusSynced
	a.Metadata.UpdatedAt = time.Now()
	a.Metadata.LastError = nil
	a.Metadata.NextAttemptAt = time.Time{}
	if err := m.persistLocked(m.ctx); err != nil {
		m.logger.Warn().Err(err).Str("action_id", id).Msg("persist after success failed")
	}
	m.setDepthLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.RecordSynced(latency.Seconds())
	}
	m.logger.Debug().Str("action_id", id).Msg("action synced")
	m.notify(snap)
}

// finishFailure applies the retry policy: within budget the action re-enters
// the queued pool gated by exponential backoff; at the budget, or for fatal
// errors, it fails with the captured error.
func (m *Manager) finishFailure(id, msg, code string, fatal bool) {
	m.mu.Lock()
	a, ok := m.actions[id]
	if !ok || a.Status != domain.StatusProcessing {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	a.Metadata.UpdatedAt = now
	a.Metadata.LastError = &domain.LastError{Message: msg, Code: code, At: now}

	retrying := !fatal && a.Metadata.RetryCount < a.Metadata.MaxRetries
	var delay time.Duration
	if retrying {
		a.Metadata.RetryCount++
		a.Status = domain.StatusQueued
		delay = m.backoff(a.Metadata.RetryCount)
		a.Metadata.NextAttemptAt = now.Add(delay)
	} else {
		a.Status = domain.StatusFailed
		a.Metadata.NextAttemptAt = time.Time{}
	}
	if err := m.persistLocked(m.ctx); err != nil {
		m.logger.Warn().Err(err).Str("action_id", id).Msg("persist after failure failed")
	}
	m.setDepthLocked()
	retryCount := a.Metadata.RetryCount
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if retrying {
		if m.collector != nil {
			m.collector.RecordRetry()
		}
		m.logger.Warn().Str("action_id", id).Int("retry", retryCount).Dur("backoff", delay).Str("error", msg).Msg("action failed, retrying")
		m.wakeAfter(delay)
	} else {
		if m.collector != nil {
			m.collector.RecordFailed()
		}
		m.logger.Error().Str("action_id", id).Str("code", code).Str("error", msg).Msg("action failed permanently")
	}
	m.notify(snap)
}

// backoff returns 2^retryCount units, capped at 60 units.
func (m *Manager) backoff(retryCount int) time.Duration {
	d := 1
	if retryCount > 0 && retryCount < 8 {
		d = 1 << retryCount
	} else if retryCount >= 8 {
		d = 256
	}
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * m.cfg.BackoffUnit
}

// Online reports current connectivity as seen by the queue.
func (m *Manager) Online() bool { return m.monitor.Online() }
