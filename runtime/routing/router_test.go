package routing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KunjShah01/RL-A2A/runtime/agent"
	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/manifest"
	"github.com/KunjShah01/RL-A2A/runtime/message"
	"github.com/KunjShah01/RL-A2A/runtime/registry"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
)

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []*message.Message
	fail      map[string]error
}

func (d *recordingDeliverer) Deliver(_ context.Context, m *message.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.fail[m.ReceiverID]; ok {
		return err
	}
	dup := *m
	d.delivered = append(d.delivered, &dup)
	return nil
}

func fixture(t *testing.T) (*registry.Registry, *manifest.Service, *events.Bus, *recordingDeliverer, *MessageRouter) {
	t.Helper()
	bus := events.NewBus()
	reg := registry.New(registry.WithEventBus(bus))
	manifests := manifest.NewService(nil)
	deliverer := &recordingDeliverer{fail: map[string]error{}}
	router := NewMessageRouter(reg, NewCostAwareRouter(manifests, nil),
		WithDeliverer(deliverer),
		WithRouterEventBus(bus),
	)
	return reg, manifests, bus, deliverer, router
}

func registerActive(t *testing.T, reg *registry.Registry, id string, capabilities ...string) {
	t.Helper()
	a := agent.New(id, "agent-"+id)
	a.Status = agent.StatusActive
	if len(capabilities) > 0 {
		a.Capabilities = capabilities
	}
	a.DID = "did:web:" + id
	require.NoError(t, reg.Register(context.Background(), a))
}

func TestDirectSend(t *testing.T) {
	reg, _, bus, deliverer, router := fixture(t)
	registerActive(t, reg, "u1", "summarize")

	m := message.New("u0", "u1", "hello", message.TypeText)
	require.NoError(t, router.Route(context.Background(), m))

	require.Len(t, deliverer.delivered, 1)
	require.Equal(t, "u1", deliverer.delivered[0].ReceiverID)
	require.Equal(t, "did:web:u1", deliverer.delivered[0].ReceiverDID)

	sent := bus.History(events.MessageSent, 0)
	require.Len(t, sent, 1)
	require.Equal(t, "u1", sent[0].Payload["receiver_id"])
	require.Empty(t, bus.History(events.HITLApprovalRequired, 0))
}

func TestDirectSendUnknownAgent(t *testing.T) {
	_, _, _, _, router := fixture(t)
	m := message.New("u0", "ghost", "hello", message.TypeText)
	err := router.Route(context.Background(), m)
	require.True(t, rlerrors.IsKind(err, rlerrors.KindNotFound))
}

func TestRouteByCapabilityMetadata(t *testing.T) {
	reg, manifests, _, deliverer, router := fixture(t)
	registerActive(t, reg, "u1", "summarize")

	a, err := reg.Get("u1")
	require.NoError(t, err)
	_, err = manifests.CreateOrReplace(context.Background(), a, manifest.Data{
		Metrics: map[string]float64{manifest.MetricSuccessRate: 0.9},
	})
	require.NoError(t, err)

	m := message.New("u0", "", "please summarize", message.TypeText)
	m.Metadata[MetadataRequiredCapability] = "summarize"
	require.NoError(t, router.Route(context.Background(), m))

	require.Equal(t, "u1", m.ReceiverID)
	require.Len(t, deliverer.delivered, 1)
}

func TestRouteByCapabilityNoProvider(t *testing.T) {
	_, _, _, _, router := fixture(t)
	m := message.New("u0", "", "x", message.TypeText)
	m.Metadata[MetadataRequiredCapability] = "paint"
	err := router.Route(context.Background(), m)
	require.True(t, rlerrors.IsKind(err, rlerrors.KindNoRoute))
}

func TestBroadcastSucceedsWithPartialDelivery(t *testing.T) {
	reg, _, _, deliverer, router := fixture(t)
	registerActive(t, reg, "u1")
	registerActive(t, reg, "u2")
	deliverer.fail["u2"] = errors.New("agent offline")

	m := message.New("u0", "", "announcement", message.TypeNotification)
	require.NoError(t, router.Route(context.Background(), m))
	require.Len(t, deliverer.delivered, 1)
}

func TestBroadcastFailsWhenNothingDelivered(t *testing.T) {
	reg, _, _, deliverer, router := fixture(t)
	registerActive(t, reg, "u1")
	deliverer.fail["u1"] = errors.New("agent offline")

	m := message.New("u0", "", "announcement", message.TypeNotification)
	err := router.Route(context.Background(), m)
	require.True(t, rlerrors.IsKind(err, rlerrors.KindNoRoute))
}

func TestBroadcastByCapability(t *testing.T) {
	reg, _, _, deliverer, router := fixture(t)
	registerActive(t, reg, "u1", "summarize")
	registerActive(t, reg, "u2", "translate")

	m := message.New("u0", "", "summarizers only", message.TypeNotification)
	m.Metadata[MetadataRequiredCapability] = "summarize"
	require.NoError(t, router.Route(context.Background(), m))
	require.Len(t, deliverer.delivered, 1)
	require.Equal(t, "u1", deliverer.delivered[0].ReceiverID)
}

func TestNoRouteForUnaddressedMessage(t *testing.T) {
	_, _, _, _, router := fixture(t)
	m := message.New("u0", "", "lost", message.TypeText)
	err := router.Route(context.Background(), m)
	require.True(t, rlerrors.IsKind(err, rlerrors.KindNoRoute))
}

func TestDeliveryFailureIsTransient(t *testing.T) {
	reg, _, _, deliverer, router := fixture(t)
	registerActive(t, reg, "u1")
	deliverer.fail["u1"] = errors.New("connection reset")

	m := message.New("u0", "u1", "hello", message.TypeText)
	err := router.Route(context.Background(), m)
	require.True(t, rlerrors.IsKind(err, rlerrors.KindTransient))
}

func TestRouteByCapabilityExplicit(t *testing.T) {
	reg, manifests, _, deliverer, router := fixture(t)
	registerActive(t, reg, "u1", "summarize")
	a, err := reg.Get("u1")
	require.NoError(t, err)
	_, err = manifests.CreateOrReplace(context.Background(), a, manifest.Data{})
	require.NoError(t, err)

	m := message.New("u0", "", "x", message.TypeTask)
	require.NoError(t, router.RouteByCapability(context.Background(), m, "summarize", StrategyLowestCost))
	require.Len(t, deliverer.delivered, 1)
}
