package market

import (
	"context"
	"sync"
	"time"

	"github.com/gridnode/gridnode/pkg/collector"
	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
)

const (
	// eventPollTimeout is the long-poll window of a single market event
	// request.
	eventPollTimeout = 5 * time.Second

	// eventPollMax caps the batch size of a single market event request.
	eventPollMax = 10
)

// Demand is a published request for compute. Provider offers arrive as
// child proposals while event collection is running.
type Demand struct {
	*resource.Node
	sess Session

	mu    sync.Mutex
	coll  *collector.Collector[rest.ProposalEvent]
	route context.CancelFunc
}

// CreateDemand publishes a demand with the given properties and constraints
// and registers it in the resource graph.
func CreateDemand(ctx context.Context, sess Session, properties map[string]any, constraints string) (*Demand, error) {
	id, err := sess.Market().SubscribeDemand(ctx, properties, constraints)
	if err != nil {
		return nil, err
	}
	data := &rest.DemandData{
		DemandID:    id,
		Properties:  properties,
		Constraints: constraints,
		Timestamp:   time.Now(),
	}
	obj, err := sess.Registry().GetOrCreate(resource.KindDemand, id, data)
	if err != nil {
		return nil, err
	}
	return obj.(*Demand), nil
}

// DemandData returns the last known snapshot, or nil when none was loaded.
func (d *Demand) DemandData() *rest.DemandData {
	data, _ := d.Data().(*rest.DemandData)
	return data
}

// StartCollectingEvents launches the background poll of the demand's market
// event endpoint. Incoming proposals are attached to the graph as they
// arrive. Calling it on a collecting demand is a no-op.
func (d *Demand) StartCollectingEvents(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.coll != nil {
		return
	}

	endpoint := "demand/" + d.ID()
	log := d.sess.Logger().With().Str("demand_id", d.ID()).Logger()
	poll := func(ctx context.Context) ([]rest.ProposalEvent, error) {
		return d.sess.Market().CollectProposalEvents(ctx, d.ID(), eventPollTimeout, eventPollMax)
	}
	fault := func(err error) {
		d.sess.Bus().Emit(events.CollectorFault{Endpoint: endpoint, Err: err, At: time.Now()})
	}
	cycle := func(n int) {
		d.sess.Bus().Emit(events.CollectorCycle{Endpoint: endpoint, Events: n, At: time.Now()})
	}
	d.coll = collector.New(log, endpoint, poll,
		collector.WithFaultFunc(fault), collector.WithCycleFunc(cycle))
	d.coll.Start(ctx)

	routeCtx, cancel := context.WithCancel(ctx)
	d.route = cancel
	go d.routeEvents(routeCtx, d.coll.Subscribe(true))
}

// StopCollectingEvents cancels the background poll. The in-flight request is
// abandoned, not awaited. Idempotent.
func (d *Demand) StopCollectingEvents() {
	d.mu.Lock()
	coll := d.coll
	route := d.route
	d.coll = nil
	d.route = nil
	d.mu.Unlock()

	if coll != nil {
		coll.Stop()
	}
	if route != nil {
		route()
	}
}

// routeEvents attaches each polled market event to the proposal tree. A
// proposal event that cannot be routed to its negotiation parent is a
// consistency violation and ends routing for this demand.
func (d *Demand) routeEvents(ctx context.Context, queue <-chan rest.ProposalEvent) {
	log := d.sess.Logger().With().Str("demand_id", d.ID()).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-queue:
			if err := d.handleEvent(ev); err != nil {
				d.sess.Bus().Emit(events.CollectorFault{
					Endpoint: "demand/" + d.ID(),
					Err:      err,
					At:       time.Now(),
				})
				if resource.IsConsistencyViolation(err) {
					log.Error().Err(err).Msg("event routing stopped")
					return
				}
				log.Warn().Err(err).Msg("market event dropped")
			}
		}
	}
}

func (d *Demand) handleEvent(ev rest.ProposalEvent) error {
	switch ev.EventType {
	case rest.EventTypeProposal:
		if ev.Proposal == nil {
			return resource.NewConsistencyError("proposal event without a proposal body")
		}
		return d.attachProposal(ev)
	case rest.EventTypeProposalRejected:
		p, err := d.Proposal(ev.ProposalID)
		if err != nil {
			return err
		}
		p.AddEvent(ev)
		return nil
	default:
		// Unknown event types are recorded on the demand and ignored.
		d.AddEvent(ev)
		return nil
	}
}

func (d *Demand) attachProposal(ev rest.ProposalEvent) error {
	data := ev.Proposal
	obj, err := d.sess.Registry().GetOrCreate(resource.KindProposal, data.ProposalID, data)
	if err != nil {
		return err
	}
	p := obj.(*Proposal)
	p.AddEvent(ev)

	if p.HasParent() {
		return nil
	}

	if data.State == rest.ProposalStateInitial {
		if err := p.setDemand(d); err != nil {
			return err
		}
		return d.AddChild(p)
	}

	if data.PrevProposalID == "" {
		return resource.NewConsistencyError(
			"proposal %s is %s but names no previous proposal", data.ProposalID, data.State)
	}
	parentObj := d.sess.Registry().Get(resource.KindProposal, data.PrevProposalID)
	if parentObj == nil {
		return resource.NewConsistencyError(
			"proposal %s answers unknown proposal %s", data.ProposalID, data.PrevProposalID)
	}
	parent := parentObj.(*Proposal)
	if err := p.setDemand(d); err != nil {
		return err
	}
	return parent.AddChild(p)
}

// InitialProposals streams provider offers in the Initial state as they
// attach to the demand. The stream ends when the demand is unsubscribed or
// ctx is cancelled.
func (d *Demand) InitialProposals(ctx context.Context) <-chan *Proposal {
	out := make(chan *Proposal)
	go func() {
		defer close(out)
		for obj := range d.ChildStream(ctx) {
			p, ok := obj.(*Proposal)
			if !ok || !p.Initial() {
				continue
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Proposal returns the live object for a proposal id scoped to this demand,
// creating an unloaded one on first reference.
func (d *Demand) Proposal(id string) (*Proposal, error) {
	obj, err := d.sess.Registry().GetOrCreate(resource.KindProposal, id, nil)
	if err != nil {
		return nil, err
	}
	p := obj.(*Proposal)
	if p.Demand() == nil {
		if err := p.setDemand(d); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Unsubscribe withdraws the demand. Event collection stops, the proposal
// stream seals and the remote subscription is removed; an already removed
// subscription is not an error.
func (d *Demand) Unsubscribe(ctx context.Context) error {
	d.Seal()
	d.StopCollectingEvents()

	if err := d.sess.Market().UnsubscribeDemand(ctx, d.ID()); err != nil && !rest.IsAlreadyGone(err) {
		return err
	}
	d.MarkClosed()
	d.sess.Bus().Emit(events.NewResourceClosed(d))
	return nil
}

// CloseResource implements AutoCloser.
func (d *Demand) CloseResource(ctx context.Context) error {
	return d.Unsubscribe(ctx)
}
