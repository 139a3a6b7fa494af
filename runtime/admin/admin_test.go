package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KunjShah01/RL-A2A/runtime/agent"
	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/hitl"
	"github.com/KunjShah01/RL-A2A/runtime/manifest"
	"github.com/KunjShah01/RL-A2A/runtime/message"
	"github.com/KunjShah01/RL-A2A/runtime/middleware"
	"github.com/KunjShah01/RL-A2A/runtime/registry"
	"github.com/KunjShah01/RL-A2A/runtime/rl"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
	"github.com/KunjShah01/RL-A2A/runtime/routing"
)

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []*message.Message
}

func (d *recordingDeliverer) Deliver(_ context.Context, m *message.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dup := *m
	d.delivered = append(d.delivered, &dup)
	return nil
}

func newService(t *testing.T) (*Service, *recordingDeliverer, *hitl.Queue) {
	t.Helper()
	bus := events.NewBus()
	reg := registry.New(registry.WithEventBus(bus))
	manifests := manifest.NewService(nil, manifest.WithEventBus(bus))
	deliverer := &recordingDeliverer{}
	router := routing.NewMessageRouter(reg, routing.NewCostAwareRouter(manifests, nil),
		routing.WithDeliverer(deliverer),
		routing.WithRouterEventBus(bus),
	)
	queue := hitl.NewQueue(time.Minute)
	gate := hitl.NewMiddleware(queue, hitl.WithEventBus(bus))
	learner := rl.NewEngine(manifests, rl.WithFederation(rl.NewAggregator(), 0))

	svc := NewService(Options{
		Registry:  reg,
		Manifests: manifests,
		Router:    router,
		Gate:      gate,
		Learner:   learner,
		Limiter:   middleware.NewRateLimiter(1000),
		Validator: middleware.NewValidator(0),
	})
	return svc, deliverer, queue
}

func TestAgentLifecycle(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateAgent(ctx, agent.New("u1", "worker")))
	got, err := svc.GetAgent("u1")
	require.NoError(t, err)
	require.Equal(t, "worker", got.Name)
	require.Len(t, svc.ListAgents(""), 1)

	_, err = svc.CreateManifest(ctx, "u1", manifest.Data{Version: "2.0.0"})
	require.NoError(t, err)

	// Manifest version is mirrored onto the agent record.
	got, err = svc.GetAgent("u1")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", got.ManifestVersion)

	removed, err := svc.DeleteAgent(ctx, "u1")
	require.NoError(t, err)
	require.True(t, removed)
	_, err = svc.GetManifest(ctx, "u1")
	require.True(t, rlerrors.IsKind(err, rlerrors.KindNotFound))
}

func TestSendMessageDirect(t *testing.T) {
	svc, deliverer, _ := newService(t)
	ctx := context.Background()
	a := agent.New("u1", "worker")
	a.Status = agent.StatusActive
	require.NoError(t, svc.CreateAgent(ctx, a))

	id, err := svc.SendMessage(ctx, SendRequest{
		SenderID:   "u0",
		ReceiverID: "u1",
		Content:    "hello",
		Type:       message.TypeText,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, deliverer.delivered, 1)
}

func TestSendMessageByCapability(t *testing.T) {
	svc, deliverer, _ := newService(t)
	ctx := context.Background()
	a := agent.New("u1", "worker")
	a.Capabilities = []string{"summarize"}
	require.NoError(t, svc.CreateAgent(ctx, a))
	_, err := svc.CreateManifest(ctx, "u1", manifest.Data{})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendRequest{
		SenderID:   "u0",
		Capability: "summarize",
		Content:    "please summarize",
		Type:       message.TypeText,
	})
	require.NoError(t, err)
	require.Len(t, deliverer.delivered, 1)
	require.Equal(t, "u1", deliverer.delivered[0].ReceiverID)
}

func TestSendMessageGatedAndApproved(t *testing.T) {
	svc, deliverer, queue := newService(t)
	ctx := context.Background()
	a := agent.New("u1", "worker")
	require.NoError(t, svc.CreateAgent(ctx, a))

	done := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(ctx, SendRequest{
			SenderID:   "u0",
			ReceiverID: "u1",
			Content:    "wire funds",
			Type:       message.TypeText,
			Metadata:   map[string]any{hitl.MetadataSensitiveTransaction: true},
		})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return len(svc.ListPendingApprovals()) == 1
	}, time.Second, 5*time.Millisecond)

	pending := svc.ListPendingApprovals()
	require.True(t, svc.ApproveRequest(pending[0].ID, "ops1"))
	require.NoError(t, <-done)
	require.Len(t, deliverer.delivered, 1)
	require.Empty(t, queue.ListPending())
}

func TestSendMessageGatedAndRejected(t *testing.T) {
	svc, deliverer, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateAgent(ctx, agent.New("u1", "worker")))

	done := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(ctx, SendRequest{
			SenderID:   "u0",
			ReceiverID: "u1",
			Content:    "wire funds",
			Type:       message.TypeText,
			Metadata:   map[string]any{hitl.MetadataSensitiveTransaction: true},
		})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return len(svc.ListPendingApprovals()) == 1
	}, time.Second, 5*time.Millisecond)

	pending := svc.ListPendingApprovals()
	require.True(t, svc.RejectRequest(pending[0].ID, "ops1", "nope"))

	err := <-done
	require.True(t, rlerrors.IsKind(err, rlerrors.KindApprovalRejected))
	require.Empty(t, deliverer.delivered)
}

func TestSendMessageRateLimited(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateAgent(ctx, agent.New("u1", "worker")))

	limited := NewService(Options{
		Registry:  svc.registry,
		Manifests: svc.manifests,
		Router:    svc.router,
		Gate:      svc.gate,
		Learner:   svc.learner,
		Limiter:   middleware.NewRateLimiter(1),
		Validator: svc.validator,
	})

	_, err := limited.SendMessage(ctx, SendRequest{SenderID: "u0", ReceiverID: "u1", Content: "a", Type: message.TypeText})
	require.NoError(t, err)
	_, err = limited.SendMessage(ctx, SendRequest{SenderID: "u0", ReceiverID: "u1", Content: "b", Type: message.TypeText})
	require.True(t, rlerrors.IsKind(err, rlerrors.KindRateLimited))
}

func TestRLSurface(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	q := svc.RecordOutcome(ctx, "u1", "s1", "act", "s2", rl.Outcome{Success: true})
	require.Greater(t, q, 0.0)

	stats := svc.RLStats("u1")
	require.Equal(t, "u1", stats["agent_id"])

	// One local submission is not enough to aggregate.
	require.False(t, svc.TriggerAggregation(ctx, "u1"))
}

func TestSearchManifests(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	a := agent.New("u1", "worker")
	a.Capabilities = []string{"summarize"}
	require.NoError(t, svc.CreateAgent(ctx, a))
	_, err := svc.CreateManifest(ctx, "u1", manifest.Data{
		Metrics: map[string]float64{manifest.MetricCostRate: 0.1},
	})
	require.NoError(t, err)

	byCap, err := svc.SearchManifests(ctx, "summarize", manifest.MetricFilter{})
	require.NoError(t, err)
	require.Len(t, byCap, 1)

	maxCost := 0.5
	byMetrics, err := svc.SearchManifests(ctx, "", manifest.MetricFilter{MaxCostRate: &maxCost})
	require.NoError(t, err)
	require.Len(t, byMetrics, 1)
}
