package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KunjShah01/RL-A2A/runtime/agent"
	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
)

func TestRegisterAndGet(t *testing.T) {
	reg := New()
	a := agent.New("u1", "Summarizer")
	a.DID = "did:web:u1"
	require.NoError(t, reg.Register(context.Background(), a))

	got, err := reg.Get("u1")
	require.NoError(t, err)
	require.Equal(t, "Summarizer", got.Name)

	byDID, err := reg.GetByDID("did:web:u1")
	require.NoError(t, err)
	require.Equal(t, "u1", byDID.ID)

	_, err = reg.Get("missing")
	require.True(t, rlerrors.IsKind(err, rlerrors.KindNotFound))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(context.Background(), agent.New("u1", "a")))

	err := reg.Register(context.Background(), agent.New("u1", "b"))
	require.True(t, rlerrors.IsKind(err, rlerrors.KindDuplicateIdentifier))

	other := agent.New("u2", "c")
	other.DID = "did:web:u2"
	require.NoError(t, reg.Register(context.Background(), other))

	clash := agent.New("u3", "d")
	clash.DID = "did:web:u2"
	err = reg.Register(context.Background(), clash)
	require.True(t, rlerrors.IsKind(err, rlerrors.KindDuplicateIdentifier))
}

func TestRegisterEnforcesCap(t *testing.T) {
	reg := New(WithMaxAgents(1))
	require.NoError(t, reg.Register(context.Background(), agent.New("u1", "a")))
	err := reg.Register(context.Background(), agent.New("u2", "b"))
	require.True(t, rlerrors.IsKind(err, rlerrors.KindInvalidState))
}

func TestUpdateAppliesPatchAndRefreshesLastActive(t *testing.T) {
	reg := New()
	a := agent.New("u1", "a")
	require.NoError(t, reg.Register(context.Background(), a))

	before, err := reg.Get("u1")
	require.NoError(t, err)

	status := agent.StatusActive
	name := "renamed"
	require.NoError(t, reg.Update(context.Background(), "u1", Patch{
		Name:    &name,
		Status:  &status,
		Metrics: map[string]float64{agent.MetricSuccessRate: 0.9},
	}))

	after, err := reg.Get("u1")
	require.NoError(t, err)
	require.Equal(t, "renamed", after.Name)
	require.Equal(t, agent.StatusActive, after.Status)
	require.Equal(t, 0.9, after.PerformanceMetrics[agent.MetricSuccessRate])
	require.False(t, after.LastActive.Before(before.LastActive))
	require.False(t, after.LastActive.Before(after.CreatedAt))

	err = reg.Update(context.Background(), "missing", Patch{Name: &name})
	require.True(t, rlerrors.IsKind(err, rlerrors.KindNotFound))
}

func TestUnregisterIdempotence(t *testing.T) {
	reg := New()
	a := agent.New("u1", "a")
	a.DID = "did:web:u1"
	require.NoError(t, reg.Register(context.Background(), a))

	require.True(t, reg.Unregister(context.Background(), "u1"))
	require.False(t, reg.Unregister(context.Background(), "u1"))

	_, err := reg.GetByDID("did:web:u1")
	require.True(t, rlerrors.IsKind(err, rlerrors.KindNotFound))
}

func TestListFilters(t *testing.T) {
	reg := New()
	active := agent.New("u1", "a")
	active.Status = agent.StatusActive
	active.Role = "worker"
	active.Capabilities = []string{"summarize"}
	require.NoError(t, reg.Register(context.Background(), active))

	pending := agent.New("u2", "b")
	pending.Role = "worker"
	require.NoError(t, reg.Register(context.Background(), pending))

	require.Len(t, reg.List(""), 2)
	require.Len(t, reg.List(agent.StatusActive), 1)
	require.Len(t, reg.ListByCapability("summarize"), 1)
	require.Len(t, reg.ListByRole("worker"), 2)
	require.Equal(t, 2, reg.Count(""))
	require.Equal(t, 1, reg.Count(agent.StatusPending))
	require.True(t, reg.Exists("u1"))
	require.False(t, reg.Exists("nope"))
}

func TestLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	var seen []events.Type
	for _, typ := range []events.Type{events.AgentCreated, events.AgentUpdated, events.AgentDeleted} {
		bus.Subscribe(typ, func(_ context.Context, e events.Event) {
			seen = append(seen, e.Type)
		})
	}

	reg := New(WithEventBus(bus))
	require.NoError(t, reg.Register(context.Background(), agent.New("u1", "a")))
	name := "b"
	require.NoError(t, reg.Update(context.Background(), "u1", Patch{Name: &name}))
	require.True(t, reg.Unregister(context.Background(), "u1"))

	require.Equal(t, []events.Type{events.AgentCreated, events.AgentUpdated, events.AgentDeleted}, seen)

	created := bus.History(events.AgentCreated, 1)
	require.Len(t, created, 1)
	require.Equal(t, "u1", created[0].Payload["agent_id"])
	require.NotNil(t, created[0].Payload["agent"])
}

func TestGetReturnsCopy(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(context.Background(), agent.New("u1", "a")))

	got, err := reg.Get("u1")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := reg.Get("u1")
	require.NoError(t, err)
	require.Equal(t, "a", again.Name)
}
