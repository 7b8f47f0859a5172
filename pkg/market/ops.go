package market

import (
	"context"
	"fmt"

	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
)

// demandOps loads demand snapshots. The market endpoint has no single-demand
// getter, so Load filters the full listing.
type demandOps struct {
	api rest.MarketAPI
}

func (o *demandOps) Load(ctx context.Context, id string) (any, error) {
	all, err := o.api.ListDemands(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].DemandID == id {
			return &all[i], nil
		}
	}
	return nil, &resource.NotFoundError{Kind: resource.KindDemand, ID: id}
}

func (o *demandOps) ListAll(ctx context.Context) (map[string]any, error) {
	all, err := o.api.ListDemands(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(all))
	for i := range all {
		out[all[i].DemandID] = &all[i]
	}
	return out, nil
}

// proposalOps loads proposal snapshots. The remote getter is scoped to the
// owning demand, so Load resolves the demand through the live object first.
type proposalOps struct {
	sess Session
}

func (o *proposalOps) Load(ctx context.Context, id string) (any, error) {
	obj := o.sess.Registry().Get(resource.KindProposal, id)
	if obj == nil {
		return nil, &resource.NotFoundError{Kind: resource.KindProposal, ID: id}
	}
	p, ok := obj.(*Proposal)
	if !ok {
		return nil, fmt.Errorf("proposal %s: unexpected object type %T", id, obj)
	}
	demand := p.Demand()
	if demand == nil {
		return nil, resource.NewConsistencyError("proposal %s has no demand, cannot load", id)
	}
	data, err := o.sess.Market().GetProposal(ctx, demand.ID(), id)
	if err != nil {
		return nil, err
	}
	if data.State == rest.ProposalStateRejected {
		p.Seal()
	}
	return data, nil
}

func (o *proposalOps) ListAll(ctx context.Context) (map[string]any, error) {
	return nil, fmt.Errorf("proposals cannot be listed without a demand")
}

type agreementOps struct {
	api rest.MarketAPI
}

func (o *agreementOps) Load(ctx context.Context, id string) (any, error) {
	data, err := o.api.GetAgreement(ctx, id)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (o *agreementOps) ListAll(ctx context.Context) (map[string]any, error) {
	return nil, fmt.Errorf("agreements cannot be listed")
}
