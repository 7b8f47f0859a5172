// Package events is the process-wide publish/subscribe channel for resource
// lifecycle and negotiation outcome notifications. Delivery is FIFO per
// subscriber and never blocks the emitter.
package events

import (
	"fmt"
	"time"

	"github.com/gridnode/gridnode/pkg/resource"
)

// Event is a single bus notification.
type Event interface {
	// EventName returns the event's type tag, e.g. "ResourceFound".
	EventName() string
}

// ResourceEvent is an Event attributed to one graph node.
type ResourceEvent interface {
	Event

	// Subject returns the resource the event is about.
	Subject() resource.Object
}

type resourceEvent struct {
	obj resource.Object
}

// Subject returns the resource the event is about.
func (e resourceEvent) Subject() resource.Object { return e.obj }

// ResourceFound is emitted on first contact with an already existing remote
// resource: one created by others (e.g. an offer on the market) or one
// created by this requestor in an earlier run.
type ResourceFound struct{ resourceEvent }

// EventName returns "ResourceFound".
func (ResourceFound) EventName() string { return "ResourceFound" }

// ResourceCreated is emitted when a new remote resource is registered
// together with its first snapshot.
type ResourceCreated struct{ resourceEvent }

// EventName returns "ResourceCreated".
func (ResourceCreated) EventName() string { return "ResourceCreated" }

// ResourceChanged is emitted when a refresh observes a snapshot that differs
// from the previous one. Old carries the prior snapshot, so comparing it
// with the resource's current data shows what changed; on the first load Old
// is nil. An identical snapshot is not a change and emits nothing.
type ResourceChanged struct {
	resourceEvent

	// Old is the snapshot before the change.
	Old any
}

// EventName returns "ResourceChanged".
func (ResourceChanged) EventName() string { return "ResourceChanged" }

// ResourceClosed is emitted when the backing remote object is deleted,
// unsubscribed or terminated.
type ResourceClosed struct{ resourceEvent }

// EventName returns "ResourceClosed".
func (ResourceClosed) EventName() string { return "ResourceClosed" }

// AgreementConfirmed is emitted when a provider approves an agreement.
type AgreementConfirmed struct {
	resourceEvent

	// ProviderID identifies the provider that approved.
	ProviderID string
}

// EventName returns "AgreementConfirmed".
func (AgreementConfirmed) EventName() string { return "AgreementConfirmed" }

// AgreementRejected is emitted when an agreement is denied or its
// negotiation window closes without approval.
type AgreementRejected struct {
	resourceEvent

	// ProviderID identifies the provider that walked away.
	ProviderID string
}

// EventName returns "AgreementRejected".
func (AgreementRejected) EventName() string { return "AgreementRejected" }

// CollectorFault is emitted when a background polling loop fails. Background
// failures are never surfaced synchronously, so this is their only outlet.
type CollectorFault struct {
	// Endpoint names the polled endpoint, e.g. "demand/<id>".
	Endpoint string

	// Err is the poll failure.
	Err error

	// At is when the failure was observed.
	At time.Time
}

// EventName returns "CollectorFault".
func (CollectorFault) EventName() string { return "CollectorFault" }

// Error renders the fault for logging.
func (e CollectorFault) Error() string {
	return fmt.Sprintf("collector %s: %v", e.Endpoint, e.Err)
}

// CollectorCycle is emitted after every successful poll of a background
// collector, whether or not it yielded events.
type CollectorCycle struct {
	// Endpoint names the polled endpoint, e.g. "demand/<id>".
	Endpoint string

	// Events is how many items the poll returned.
	Events int

	// At is when the poll completed.
	At time.Time
}

// EventName returns "CollectorCycle".
func (CollectorCycle) EventName() string { return "CollectorCycle" }

// BatchExecuted is emitted once per executed command batch, success or
// failure, carrying its wall-clock duration.
type BatchExecuted struct {
	// ActivityID identifies the executing activity.
	ActivityID string

	// ScriptID identifies the script the batch was built from.
	ScriptID int64

	// Duration is how long the batch ran, submission to last result.
	Duration time.Duration

	// Ok reports whether every command succeeded.
	Ok bool
}

// EventName returns "BatchExecuted".
func (BatchExecuted) EventName() string { return "BatchExecuted" }
