// Package conflict resolves two versions of the same logical action to one.
package conflict

import (
	"sync"

	"photoflow/internal/domain"
)

// Resolver picks exactly one winner from a local and a remote version of the
// same logical action. Implementations must be pure: no side effects, no
// mutation of either input.
type Resolver interface {
	Resolve(local, remote domain.Action) domain.Action
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(local, remote domain.Action) domain.Action

func (f ResolverFunc) Resolve(local, remote domain.Action) domain.Action {
	return f(local, remote)
}

// LastWriteWins selects the version with the later metadata update timestamp.
// Ties keep the local version.
func LastWriteWins() Resolver {
	return ResolverFunc(func(local, remote domain.Action) domain.Action {
		if remote.Metadata.UpdatedAt.After(local.Metadata.UpdatedAt) {
			return remote
		}
		return local
	})
}

// LocalWins always keeps the local version.
func LocalWins() Resolver {
	return ResolverFunc(func(local, _ domain.Action) domain.Action { return local })
}

// RemoteWins always takes the remote version.
func RemoteWins() Resolver {
	return ResolverFunc(func(_, remote domain.Action) domain.Action { return remote })
}

// Registry dispatches to a resolver by strategy name, falling back to a
// default for unknown or empty strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Resolver
	fallback   Resolver
}

// NewRegistry builds a registry with the built-in strategies registered and
// last-write-wins as the default.
func NewRegistry() *Registry {
	r := &Registry{
		strategies: make(map[string]Resolver),
		fallback:   LastWriteWins(),
	}
	r.Register(domain.StrategyLastWriteWins, LastWriteWins())
	r.Register(domain.StrategyLocalWins, LocalWins())
	r.Register(domain.StrategyRemoteWins, RemoteWins())
	return r
}

// Register installs or replaces a strategy.
func (r *Registry) Register(name string, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = res
}

// Resolve applies the named strategy to the pair. The winner is returned
// unmodified; the caller decides what to do with it.
func (r *Registry) Resolve(strategy string, local, remote domain.Action) domain.Action {
	r.mu.RLock()
	res, ok := r.strategies[strategy]
	if !ok {
		res = r.fallback
	}
	r.mu.RUnlock()
	return res.Resolve(local, remote)
}
