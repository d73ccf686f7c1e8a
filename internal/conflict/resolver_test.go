package conflict_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"photoflow/internal/conflict"
	"photoflow/internal/domain"
)

func versions(localUpdated, remoteUpdated time.Time) (domain.Action, domain.Action) {
	local := domain.Action{
		ID:       "act_1",
		Type:     domain.TypeTag,
		Payload:  json.RawMessage(`{"v":"local"}`),
		Metadata: domain.Metadata{UpdatedAt: localUpdated},
	}
	remote := local
	remote.Payload = json.RawMessage(`{"v":"remote"}`)
	remote.Metadata.UpdatedAt = remoteUpdated
	return local, remote
}

func TestLastWriteWins(t *testing.T) {
	base := time.Now()

	t.Run("remote newer", func(t *testing.T) {
		local, remote := versions(base, base.Add(time.Second))
		got := conflict.LastWriteWins().Resolve(local, remote)
		assert.JSONEq(t, `{"v":"remote"}`, string(got.Payload))
	})

	t.Run("local newer", func(t *testing.T) {
		local, remote := versions(base.Add(time.Second), base)
		got := conflict.LastWriteWins().Resolve(local, remote)
		assert.JSONEq(t, `{"v":"local"}`, string(got.Payload))
	})

	t.Run("tie keeps local", func(t *testing.T) {
		local, remote := versions(base, base)
		got := conflict.LastWriteWins().Resolve(local, remote)
		assert.JSONEq(t, `{"v":"local"}`, string(got.Payload))
	})
}

func TestLocalAndRemoteWins(t *testing.T) {
	base := time.Now()
	local, remote := versions(base, base.Add(time.Hour))

	assert.JSONEq(t, `{"v":"local"}`, string(conflict.LocalWins().Resolve(local, remote).Payload))
	assert.JSONEq(t, `{"v":"remote"}`, string(conflict.RemoteWins().Resolve(local, remote).Payload))
}

func TestRegistryDispatch(t *testing.T) {
	r := conflict.NewRegistry()
	base := time.Now()
	local, remote := versions(base, base.Add(time.Second))

	got := r.Resolve(domain.StrategyLocalWins, local, remote)
	assert.JSONEq(t, `{"v":"local"}`, string(got.Payload))

	got = r.Resolve(domain.StrategyRemoteWins, local, remote)
	assert.JSONEq(t, `{"v":"remote"}`, string(got.Payload))
}

func TestRegistryFallsBackToLastWriteWins(t *testing.T) {
	r := conflict.NewRegistry()
	base := time.Now()
	local, remote := versions(base, base.Add(time.Second))

	// Empty and unknown strategy names both use the default.
	got := r.Resolve("", local, remote)
	assert.JSONEq(t, `{"v":"remote"}`, string(got.Payload))

	got = r.Resolve("no-such-strategy", local, remote)
	assert.JSONEq(t, `{"v":"remote"}`, string(got.Payload))
}

func TestRegistryCustomStrategy(t *testing.T) {
	r := conflict.NewRegistry()
	r.Register("prefer-tag-actions", conflict.ResolverFunc(func(local, remote domain.Action) domain.Action {
		if local.Type == domain.TypeTag {
			return local
		}
		return remote
	}))

	base := time.Now()
	local, remote := versions(base, base.Add(time.Hour))
	got := r.Resolve("prefer-tag-actions", local, remote)
	assert.JSONEq(t, `{"v":"local"}`, string(got.Payload))
}
