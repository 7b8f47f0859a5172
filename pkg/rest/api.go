package rest

import (
	"context"
	"time"
)

// MarketAPI is the narrow market surface consumed by the negotiation engine.
type MarketAPI interface {
	// SubscribeDemand publishes a demand and returns its id.
	SubscribeDemand(ctx context.Context, properties map[string]any, constraints string) (string, error)

	// UnsubscribeDemand withdraws a published demand.
	UnsubscribeDemand(ctx context.Context, demandID string) error

	// ListDemands returns all demands published by this requestor.
	ListDemands(ctx context.Context) ([]DemandData, error)

	// GetProposal fetches the current snapshot of a proposal.
	GetProposal(ctx context.Context, demandID, proposalID string) (*ProposalData, error)

	// CollectProposalEvents polls for market events on a subscribed demand,
	// waiting at most timeout and returning at most maxEvents entries.
	CollectProposalEvents(ctx context.Context, demandID string, timeout time.Duration, maxEvents int) ([]ProposalEvent, error)

	// CounterProposal submits a counter-offer and returns the new proposal id.
	CounterProposal(ctx context.Context, demandID, proposalID string, properties map[string]any, constraints string) (string, error)

	// RejectProposal notifies the remote side that a proposal is rejected.
	RejectProposal(ctx context.Context, demandID, proposalID, reason string) error

	// CreateAgreement issues an agreement request bound to a validity deadline.
	CreateAgreement(ctx context.Context, proposalID string, validTo time.Time) (string, error)

	// ConfirmAgreement sends the requestor-side confirmation signal.
	ConfirmAgreement(ctx context.Context, agreementID string) error

	// WaitForApproval blocks until the provider approves, the wait window
	// elapses (timeout kind), or the agreement is invalidated (gone kind).
	WaitForApproval(ctx context.Context, agreementID string, timeout time.Duration) error

	// TerminateAgreement ends an agreement with a reason.
	TerminateAgreement(ctx context.Context, agreementID, reason string) error

	// GetAgreement fetches the current snapshot of an agreement.
	GetAgreement(ctx context.Context, agreementID string) (*AgreementData, error)
}

// ActivityAPI is the execution surface consumed by the script executor.
type ActivityAPI interface {
	// CreateActivity opens an executable session on the agreement's provider.
	CreateActivity(ctx context.Context, agreementID string) (string, error)

	// GetActivity fetches the current snapshot of an activity.
	GetActivity(ctx context.Context, activityID string) (*ActivityData, error)

	// Exec submits an ordered command batch and returns its batch id.
	Exec(ctx context.Context, activityID string, batch []ExeCommand) (string, error)

	// GetExecBatchResults polls for batch results gathered so far, waiting at
	// most timeout for new ones. Results are cumulative and index-ordered.
	GetExecBatchResults(ctx context.Context, activityID, batchID string, timeout time.Duration) ([]ExeResult, error)

	// DestroyActivity closes the executable session.
	DestroyActivity(ctx context.Context, activityID string) error
}

// PaymentAPI is the funding surface referenced by negotiation. Account
// selection and settlement live behind it entirely.
type PaymentAPI interface {
	// CreateAllocation reserves funds on a matching requestor account.
	CreateAllocation(ctx context.Context, spec AllocationSpec) (*AllocationData, error)

	// GetAllocation fetches the current snapshot of an allocation.
	GetAllocation(ctx context.Context, allocationID string) (*AllocationData, error)

	// ListAllocations returns all live allocations.
	ListAllocations(ctx context.Context) ([]AllocationData, error)

	// ReleaseAllocation returns the reserved funds.
	ReleaseAllocation(ctx context.Context, allocationID string) error
}
