package market

import (
	"context"
	"time"

	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
)

// approvalPollTimeout is the long-poll window of a single approval wait.
// Timeouts are retried; WaitForApproval itself has no deadline of its own.
const approvalPollTimeout = 15 * time.Second

// Agreement is a negotiated contract with a single provider, created from a
// draft proposal.
type Agreement struct {
	*resource.Node
	sess Session
}

// AgreementData returns the last known snapshot, or nil when none was loaded.
func (a *Agreement) AgreementData() *rest.AgreementData {
	data, _ := a.Data().(*rest.AgreementData)
	return data
}

// Proposal returns the draft proposal this agreement was created from, or
// nil when it was not attached through negotiation.
func (a *Agreement) Proposal() *Proposal {
	p, _ := a.Parent().(*Proposal)
	return p
}

// ProviderID returns the provider on the other side of the agreement,
// falling back to the parent proposal's issuer when no snapshot was loaded.
func (a *Agreement) ProviderID() string {
	if data := a.AgreementData(); data != nil && data.ProviderID != "" {
		return data.ProviderID
	}
	if p := a.Proposal(); p != nil {
		return p.IssuerID()
	}
	return ""
}

// Confirm sends the requestor-side confirmation signal. The provider's
// answer is observed through WaitForApproval.
func (a *Agreement) Confirm(ctx context.Context) error {
	return a.sess.Market().ConfirmAgreement(ctx, a.ID())
}

// WaitForApproval blocks until the provider decides. It returns true on
// approval and false on rejection; wait-window timeouts are retried
// indefinitely, so an undecided provider blocks until ctx is cancelled. The
// outcome is also announced on the session bus.
func (a *Agreement) WaitForApproval(ctx context.Context) (bool, error) {
	for {
		err := a.sess.Market().WaitForApproval(ctx, a.ID(), approvalPollTimeout)
		switch {
		case err == nil:
			a.sess.Bus().Emit(events.NewAgreementConfirmed(a, a.ProviderID()))
			return true, nil
		case rest.IsGone(err):
			a.sess.Bus().Emit(events.NewAgreementRejected(a, a.ProviderID()))
			return false, nil
		case rest.IsTimeout(err):
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
		default:
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, err
		}
	}
}

// Terminate ends the agreement with a reason. An agreement the remote side
// already removed is not an error.
func (a *Agreement) Terminate(ctx context.Context, reason string) error {
	if err := a.sess.Market().TerminateAgreement(ctx, a.ID(), reason); err != nil && !rest.IsAlreadyGone(err) {
		return err
	}
	a.MarkClosed()
	a.sess.Bus().Emit(events.NewResourceClosed(a))
	return nil
}

// CloseResource implements AutoCloser.
func (a *Agreement) CloseResource(ctx context.Context) error {
	return a.Terminate(ctx, "session closed")
}
