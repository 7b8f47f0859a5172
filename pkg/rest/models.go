package rest

import (
	"encoding/json"
	"time"
)

// ProposalState enumerates the negotiation states a proposal moves through.
type ProposalState string

const (
	// ProposalStateInitial is a provider-originated top-level offer.
	ProposalStateInitial ProposalState = "Initial"

	// ProposalStateDraft is a proposal produced by counter-negotiation.
	ProposalStateDraft ProposalState = "Draft"

	// ProposalStateRejected is terminal; no further responses will arrive.
	ProposalStateRejected ProposalState = "Rejected"
)

// AgreementState enumerates the lifecycle states of an agreement.
type AgreementState string

const (
	AgreementStateCreated    AgreementState = "Created"
	AgreementStateConfirmed  AgreementState = "Confirmed"
	AgreementStateApproved   AgreementState = "Approved"
	AgreementStateDenied     AgreementState = "Denied"
	AgreementStateTerminated AgreementState = "Terminated"
)

// DemandData is the wire snapshot of a published demand.
type DemandData struct {
	DemandID    string            `json:"demandId"`
	RequestorID string            `json:"requestorId,omitempty"`
	Properties  map[string]any    `json:"properties"`
	Constraints string            `json:"constraints"`
	Timestamp   time.Time         `json:"timestamp,omitempty"`
}

// ProposalData is the wire snapshot of a proposal at one negotiation step.
type ProposalData struct {
	ProposalID     string         `json:"proposalId"`
	IssuerID       string         `json:"issuerId"`
	State          ProposalState  `json:"state"`
	PrevProposalID string         `json:"prevProposalId,omitempty"`
	Properties     map[string]any `json:"properties"`
	Constraints    string         `json:"constraints"`
	Timestamp      time.Time      `json:"timestamp,omitempty"`
}

// Proposal event type tags, as delivered by the market event endpoint.
const (
	EventTypeProposal         = "ProposalEvent"
	EventTypeProposalRejected = "ProposalRejectedEvent"
)

// ProposalEvent is one raw market event for a subscribed demand. For
// EventTypeProposal the Proposal field carries the full snapshot; for
// EventTypeProposalRejected only ProposalID and Reason are set.
type ProposalEvent struct {
	EventType  string        `json:"eventType"`
	EventDate  time.Time     `json:"eventDate"`
	Proposal   *ProposalData `json:"proposal,omitempty"`
	ProposalID string        `json:"proposalId,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// AgreementData is the wire snapshot of an agreement.
type AgreementData struct {
	AgreementID string         `json:"agreementId"`
	ProviderID  string         `json:"providerId,omitempty"`
	State       AgreementState `json:"state"`
	ValidTo     time.Time      `json:"validTo,omitempty"`
	Timestamp   time.Time      `json:"timestamp,omitempty"`
}

// AllocationData is the wire snapshot of a funding allocation.
type AllocationData struct {
	AllocationID    string    `json:"allocationId"`
	Address         string    `json:"address,omitempty"`
	PaymentPlatform string    `json:"paymentPlatform,omitempty"`
	TotalAmount     string    `json:"totalAmount"`
	SpentAmount     string    `json:"spentAmount,omitempty"`
	RemainingAmount string    `json:"remainingAmount,omitempty"`
	Timeout         time.Time `json:"timeout,omitempty"`
}

// ActivityData is the wire snapshot of a provider-side executable session.
type ActivityData struct {
	ActivityID  string `json:"activityId"`
	AgreementID string `json:"agreementId,omitempty"`
	State       string `json:"state,omitempty"`
}

// CaptureMode selects how a running command's output is gathered.
type CaptureMode string

const (
	// CaptureModeStream delivers output incrementally as it is produced.
	CaptureModeStream CaptureMode = "stream"

	// CaptureModeAtEnd collects output once the command completes.
	CaptureModeAtEnd CaptureMode = "atEnd"
)

// Capture describes the capture policy for one output stream.
type Capture struct {
	Mode CaptureMode `json:"mode"`
}

// ExeCommand is the wire form of one remote command in a batch. Exactly one
// field is set, keyed by the command name.
type ExeCommand struct {
	Deploy    *DeployCommand    `json:"deploy,omitempty"`
	Start     *StartCommand     `json:"start,omitempty"`
	Run       *RunCommand       `json:"run,omitempty"`
	Transfer  *TransferCommand  `json:"transfer,omitempty"`
	Terminate *TerminateCommand `json:"terminate,omitempty"`
}

// DeployCommand deploys the execution environment on the provider.
type DeployCommand struct{}

// StartCommand starts the deployed environment.
type StartCommand struct {
	Args []string `json:"args,omitempty"`
}

// RunCommand runs an executable inside the environment.
type RunCommand struct {
	Entrypoint string            `json:"entry_point"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Stdout     *Capture          `json:"stdout,omitempty"`
	Stderr     *Capture          `json:"stderr,omitempty"`
}

// TransferCommand moves data between the requestor's storage and the
// provider's container filesystem.
type TransferCommand struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TerminateCommand tears the environment down.
type TerminateCommand struct{}

// ExeResult is the outcome of one command in a batch, correlated by Index.
type ExeResult struct {
	Index           int             `json:"index"`
	Result          string          `json:"result"` // "Ok" or "Error"
	Stdout          string          `json:"stdout,omitempty"`
	Stderr          string          `json:"stderr,omitempty"`
	Message         string          `json:"message,omitempty"`
	IsBatchFinished bool            `json:"isBatchFinished,omitempty"`
	EventDate       time.Time       `json:"eventDate,omitempty"`
	Extra           json.RawMessage `json:"extra,omitempty"`
}

// Ok reports whether the command succeeded.
func (r ExeResult) Ok() bool {
	return r.Result == "Ok"
}

// AllocationSpec describes a new allocation to create.
type AllocationSpec struct {
	TotalAmount    string    `json:"totalAmount"`
	PaymentNetwork string    `json:"-"`
	PaymentDriver  string    `json:"-"`
	MakeDeposit    bool      `json:"makeDeposit"`
	Timeout        time.Time `json:"timeout,omitempty"`
}
