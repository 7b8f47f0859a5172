package telemetry

import (
	"context"

	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
)

// Observe subscribes the metrics collector to the bus and counts events
// until ctx is cancelled. The negotiation pipeline stays free of metric
// calls; everything is derived from the event stream.
func Observe(ctx context.Context, bus *events.Bus, m *Metrics) {
	id, queue := bus.Subscribe()
	o := &observer{m: m, live: make(map[resource.Kind]int)}
	go func() {
		defer bus.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-queue:
				if !ok {
					return
				}
				o.record(ev)
			}
		}
	}()
}

// observer holds the per-kind live resource counts. Accessed only from the
// Observe goroutine.
type observer struct {
	m    *Metrics
	live map[resource.Kind]int
}

func (o *observer) record(ev events.Event) {
	o.m.RecordEventEmitted(ev.EventName())

	switch e := ev.(type) {
	case events.AgreementConfirmed:
		o.m.RecordAgreementConfirmed()
	case events.AgreementRejected:
		o.m.RecordAgreementRejected()
	case events.CollectorFault:
		o.m.RecordPollCycle(e.Endpoint, "error")
	case events.CollectorCycle:
		o.m.RecordPollCycle(e.Endpoint, "ok")
	case events.BatchExecuted:
		status := "ok"
		if !e.Ok {
			status = "error"
		}
		o.m.RecordBatch(status, e.Duration)
	case events.ResourceCreated:
		o.trackLive(e.Subject().Kind(), 1)
		o.recordProposalState(e.Subject())
	case events.ResourceFound:
		o.trackLive(e.Subject().Kind(), 1)
		o.recordProposalState(e.Subject())
	case events.ResourceClosed:
		o.trackLive(e.Subject().Kind(), -1)
	case events.ResourceChanged:
		o.recordProposalState(e.Subject())
	}
}

func (o *observer) trackLive(kind resource.Kind, delta int) {
	o.live[kind] += delta
	if o.live[kind] < 0 {
		o.live[kind] = 0
	}
	o.m.SetResourcesLive(string(kind), float64(o.live[kind]))
}

func (o *observer) recordProposalState(obj resource.Object) {
	if obj.Kind() != resource.KindProposal {
		return
	}
	if data, ok := obj.Base().Data().(*rest.ProposalData); ok && data != nil {
		o.m.RecordProposal(string(data.State))
	}
}
