// Package market implements the negotiation engine on top of the resource
// graph: demand subscription, proposal counter-negotiation and agreement
// confirmation, driven by polled market events.
package market

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
	"github.com/gridnode/gridnode/pkg/telemetry"
)

// AutoCloser is a resource that can be closed automatically at session
// teardown.
type AutoCloser interface {
	// CloseResource performs the resource's closing operation, tolerating
	// an already-gone remote object.
	CloseResource(ctx context.Context) error
}

// Session is the slice of the requestor session the market layer needs.
type Session interface {
	// Registry returns the process-wide identity registry.
	Registry() *resource.Registry

	// Bus returns the process-wide event bus.
	Bus() *events.Bus

	// Market returns the remote market API.
	Market() rest.MarketAPI

	// Logger returns the session's base logger.
	Logger() zerolog.Logger

	// Tracer returns the session's tracer.
	Tracer() *telemetry.Tracer

	// AddAutoclose registers a resource for closing at session teardown.
	AddAutoclose(c AutoCloser)
}

// RegisterKinds installs the market resource kinds into the session's
// registry. Must run once before any market object is created.
func RegisterKinds(sess Session) {
	reg := sess.Registry()

	reg.RegisterKind(resource.KindDemand, resource.Descriptor{
		Ops: &demandOps{api: sess.Market()},
		New: func(b *resource.Base) resource.Object {
			return &Demand{Node: b, sess: sess}
		},
	})
	reg.RegisterKind(resource.KindProposal, resource.Descriptor{
		Ops: &proposalOps{sess: sess},
		New: func(b *resource.Base) resource.Object {
			return &Proposal{Node: b, sess: sess}
		},
	})
	reg.RegisterKind(resource.KindAgreement, resource.Descriptor{
		Ops: &agreementOps{api: sess.Market()},
		New: func(b *resource.Base) resource.Object {
			return &Agreement{Node: b, sess: sess}
		},
	})
}
