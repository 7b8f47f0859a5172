package telemetry

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/resource"
)

type observedNode struct {
	*resource.Node
}

type observedOps struct{}

func (observedOps) Load(_ context.Context, id string) (any, error) { return id, nil }
func (observedOps) ListAll(context.Context) (map[string]any, error) {
	return nil, nil
}

func observedObject(t *testing.T, id string) resource.Object {
	t.Helper()
	reg := resource.NewRegistry(nil)
	reg.RegisterKind(resource.KindDemand, resource.Descriptor{
		Ops: observedOps{},
		New: func(b *resource.Base) resource.Object { return &observedNode{Node: b} },
	})
	obj, err := reg.GetOrCreate(resource.KindDemand, id, nil)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return obj
}

// scrapeUntil polls the metrics endpoint until the body contains want, or
// fails after two seconds. Observe consumes the bus asynchronously.
func scrapeUntil(t *testing.T, m *Metrics, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var body string
	for time.Now().Before(deadline) {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body = rec.Body.String()
		if strings.Contains(body, want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("metric line %q never appeared in:\n%s", want, body)
}

func TestObserveCountsPollCycles(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, ListenAddress: "localhost:0", Namespace: "gridnode"})
	bus := events.NewBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Observe(ctx, bus, m)

	bus.Emit(events.CollectorCycle{Endpoint: "demand/demand-1", Events: 3, At: time.Now()})
	bus.Emit(events.CollectorCycle{Endpoint: "demand/demand-1", Events: 0, At: time.Now()})
	bus.Emit(events.CollectorFault{Endpoint: "demand/demand-1", Err: errors.New("poll failed"), At: time.Now()})

	scrapeUntil(t, m, `gridnode_poll_cycles_total{endpoint="demand/demand-1",status="ok"} 2`)
	scrapeUntil(t, m, `gridnode_poll_cycles_total{endpoint="demand/demand-1",status="error"} 1`)
}

func TestObserveRecordsBatchOutcomes(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, ListenAddress: "localhost:0", Namespace: "gridnode"})
	bus := events.NewBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Observe(ctx, bus, m)

	bus.Emit(events.BatchExecuted{ActivityID: "activity-1", ScriptID: 1, Duration: 120 * time.Millisecond, Ok: true})
	bus.Emit(events.BatchExecuted{ActivityID: "activity-1", ScriptID: 2, Duration: 40 * time.Millisecond, Ok: false})

	scrapeUntil(t, m, `gridnode_batches_executed_total{status="ok"} 1`)
	scrapeUntil(t, m, `gridnode_batches_executed_total{status="error"} 1`)
	scrapeUntil(t, m, `gridnode_batch_duration_seconds_count{status="ok"} 1`)
}

func TestObserveTracksLiveResources(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, ListenAddress: "localhost:0", Namespace: "gridnode"})
	bus := events.NewBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Observe(ctx, bus, m)

	first := observedObject(t, "demand-1")
	second := observedObject(t, "demand-2")
	bus.Emit(events.NewResourceFound(first))
	bus.Emit(events.NewResourceFound(second))
	scrapeUntil(t, m, `gridnode_resources_live{kind="demand"} 2`)

	bus.Emit(events.NewResourceClosed(first))
	scrapeUntil(t, m, `gridnode_resources_live{kind="demand"} 1`)
}
