package market

import (
	"context"
	"sync"
	"time"

	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
	"github.com/gridnode/gridnode/pkg/telemetry"
)

// defaultAgreementWindow bounds how long a fresh agreement stays valid when
// the caller gives no explicit validity.
const defaultAgreementWindow = time.Minute

// Proposal is one step of negotiation with a single provider. Counter-offers
// attach as children; a rejection seals the node.
type Proposal struct {
	*resource.Node
	sess Session

	mu     sync.Mutex
	demand *Demand
}

// ProposalData returns the last known snapshot, or nil when none was loaded.
func (p *Proposal) ProposalData() *rest.ProposalData {
	data, _ := p.Data().(*rest.ProposalData)
	return data
}

// State returns the negotiation state of the last known snapshot, or the
// empty state when none was loaded.
func (p *Proposal) State() rest.ProposalState {
	if data := p.ProposalData(); data != nil {
		return data.State
	}
	return ""
}

// Initial reports whether the proposal is a provider-originated offer.
func (p *Proposal) Initial() bool { return p.State() == rest.ProposalStateInitial }

// Draft reports whether the proposal came out of counter-negotiation.
func (p *Proposal) Draft() bool { return p.State() == rest.ProposalStateDraft }

// Rejected reports whether the proposal is terminally rejected.
func (p *Proposal) Rejected() bool { return p.State() == rest.ProposalStateRejected }

// IssuerID returns the provider behind the proposal, or empty when no
// snapshot was loaded.
func (p *Proposal) IssuerID() string {
	if data := p.ProposalData(); data != nil {
		return data.IssuerID
	}
	return ""
}

// Demand returns the demand this proposal negotiates under, or nil before
// the proposal is attached.
func (p *Proposal) Demand() *Demand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.demand
}

// setDemand binds the proposal to its demand. The binding is set once; a
// second bind to a different demand is a consistency violation.
func (p *Proposal) setDemand(d *Demand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.demand != nil {
		if p.demand == d {
			return nil
		}
		return resource.NewConsistencyError(
			"proposal %s already belongs to demand %s", p.ID(), p.demand.ID())
	}
	p.demand = d
	return nil
}

// AddEvent records a raw market event on the proposal. A rejection event
// additionally seals the node: no more responses will ever arrive.
func (p *Proposal) AddEvent(event any) {
	p.Base().AddEvent(event)
	if ev, ok := event.(rest.ProposalEvent); ok && ev.EventType == rest.EventTypeProposalRejected {
		p.Seal()
	}
}

// Respond sends a counter-offer reusing the demand's properties and
// constraints, and returns the draft proposal it produced, attached as a
// child of this one.
func (p *Proposal) Respond(ctx context.Context) (*Proposal, error) {
	demand := p.Demand()
	if demand == nil {
		return nil, resource.NewConsistencyError("proposal %s has no demand, cannot respond", p.ID())
	}
	ctx, span := p.sess.Tracer().StartNegotiationSpan(ctx, demand.ID(), p.ID())
	defer span.End()

	child, err := p.respond(ctx, demand)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return child, nil
}

func (p *Proposal) respond(ctx context.Context, demand *Demand) (*Proposal, error) {
	raw, err := p.sess.Registry().Load(ctx, demand)
	if err != nil {
		return nil, err
	}
	dd := raw.(*rest.DemandData)

	newID, err := p.sess.Market().CounterProposal(ctx, demand.ID(), p.ID(), dd.Properties, dd.Constraints)
	if err != nil {
		return nil, err
	}
	obj, err := p.sess.Registry().GetOrCreate(resource.KindProposal, newID, nil)
	if err != nil {
		return nil, err
	}
	child := obj.(*Proposal)
	if err := child.setDemand(demand); err != nil {
		return nil, err
	}
	if err := p.AddChild(child); err != nil {
		return nil, err
	}
	return child, nil
}

// Reject notifies the provider that the proposal will not be pursued.
func (p *Proposal) Reject(ctx context.Context, reason string) error {
	demand := p.Demand()
	if demand == nil {
		return resource.NewConsistencyError("proposal %s has no demand, cannot reject", p.ID())
	}
	return p.sess.Market().RejectProposal(ctx, demand.ID(), p.ID(), reason)
}

// Responses streams the provider's answers to this proposal as they arrive.
// The stream ends once the proposal seals (it was rejected or the demand was
// unsubscribed) or ctx is cancelled.
func (p *Proposal) Responses(ctx context.Context) <-chan *Proposal {
	out := make(chan *Proposal)
	go func() {
		defer close(out)
		for obj := range p.ChildStream(ctx) {
			child, ok := obj.(*Proposal)
			if !ok {
				continue
			}
			select {
			case out <- child:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// CreateAgreement promotes the proposal to an agreement valid for the given
// window (a zero window uses the default). With autoclose, the agreement is
// terminated at session teardown.
func (p *Proposal) CreateAgreement(ctx context.Context, validFor time.Duration, autoclose bool) (*Agreement, error) {
	demandID := ""
	if d := p.Demand(); d != nil {
		demandID = d.ID()
	}
	ctx, span := p.sess.Tracer().StartNegotiationSpan(ctx, demandID, p.ID())
	defer span.End()

	a, err := p.createAgreement(ctx, validFor, autoclose)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return a, nil
}

func (p *Proposal) createAgreement(ctx context.Context, validFor time.Duration, autoclose bool) (*Agreement, error) {
	if validFor <= 0 {
		validFor = defaultAgreementWindow
	}
	id, err := p.sess.Market().CreateAgreement(ctx, p.ID(), time.Now().Add(validFor))
	if err != nil {
		return nil, err
	}
	obj, err := p.sess.Registry().GetOrCreate(resource.KindAgreement, id, nil)
	if err != nil {
		return nil, err
	}
	a := obj.(*Agreement)
	if err := p.AddChild(a); err != nil {
		return nil, err
	}
	if autoclose {
		p.sess.AddAutoclose(a)
	}
	return a, nil
}
