// Package netmon observes connectivity and notifies subscribers of
// online/offline transitions.
package netmon

import "sync"

// Monitor exposes current connectivity and an event stream of transitions.
// Subscribe returns an unsubscribe function; callers must use it to avoid
// leaking listeners.
type Monitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Manual is a monitor whose state is flipped by the embedding application,
// e.g. from a platform connectivity signal.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewManual creates a manual monitor with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: make(map[int]func(bool))}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates connectivity. Subscribers are notified only on an actual
// transition, outside the lock.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

func (m *Manual) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
