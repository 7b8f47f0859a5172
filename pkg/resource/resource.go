package resource

import (
	"context"
	"fmt"
	"sync"
)

// Kind tags a resource type. Together with an id it identifies exactly one
// live object for the process lifetime.
type Kind string

const (
	// KindAllocation is a reserved amount of funds backing agreements.
	KindAllocation Kind = "allocation"

	// KindDemand is a requestor's published description of desired capacity.
	KindDemand Kind = "demand"

	// KindProposal is one step in negotiation.
	KindProposal Kind = "proposal"

	// KindAgreement is a negotiated contract with a specific provider.
	KindAgreement Kind = "agreement"

	// KindActivity is a provider-side executable session.
	KindActivity Kind = "activity"
)

// Object is a node of the resource graph. Concrete domain types embed *Base
// and add their operations on top.
type Object interface {
	// ID returns the resource id, globally unique within its kind.
	ID() string

	// Kind returns the resource kind tag.
	Kind() Kind

	// Base returns the shared graph node state.
	Base() *Base
}

// Base is the shared state of every graph node: identity, the last known
// snapshot, tree position, the raw event log and the sealed signal.
type Base struct {
	kind Kind
	id   string

	// self is the Object embedding this Base, used as the parent reference
	// for attached children. Set once by the registry at construction.
	self Object

	mu       sync.Mutex
	data     any
	parent   Object
	children []Object
	events   []any
	closed   bool

	// notify is replaced (and the old one closed) on every child append,
	// broadcasting the append to all child streams.
	notify chan struct{}

	// sealed is closed exactly once when no more children will ever arrive.
	sealed     chan struct{}
	sealedOnce sync.Once

	// refreshMu serializes snapshot loads so concurrent refresh calls
	// observe a single network exchange.
	refreshMu sync.Mutex
}

// Node is an alias for Base for embedding: an anonymous *Base field would be
// named Base and shadow the promoted Base method, so domain types embed *Node
// instead.
type Node = Base

func newBase(kind Kind, id string, data any) *Base {
	return &Base{
		kind:   kind,
		id:     id,
		data:   data,
		notify: make(chan struct{}),
		sealed: make(chan struct{}),
	}
}

// ID returns the resource id.
func (b *Base) ID() string { return b.id }

// Kind returns the resource kind.
func (b *Base) Kind() Kind { return b.kind }

// Base returns b, so embedding types satisfy Object.
func (b *Base) Base() *Base { return b }

// String renders the node as Kind(id).
func (b *Base) String() string {
	return fmt.Sprintf("%s(%s)", b.kind, b.id)
}

// Data returns the last known snapshot, nil until the first load.
func (b *Base) Data() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

func (b *Base) setData(data any) {
	b.mu.Lock()
	b.data = data
	b.mu.Unlock()
}

// Parent returns the parent node, nil for roots and unattached nodes.
func (b *Base) Parent() Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parent
}

// HasParent reports whether the node is attached to the tree.
func (b *Base) HasParent() bool {
	return b.Parent() != nil
}

// AddChild attaches child under this node. The child's parent is assigned
// exactly once; attaching an already-parented child or appending to a sealed
// node is a consistency violation.
func (b *Base) AddChild(child Object) error {
	cb := child.Base()

	// Lock ordering: parent first, then child. Children are only ever
	// attached by the single routing loop of their demand, so this cannot
	// deadlock against a reverse attachment.
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isSealed() {
		return NewConsistencyError("cannot attach %s to sealed %s", cb, b)
	}

	cb.mu.Lock()
	if cb.parent != nil {
		cb.mu.Unlock()
		return NewConsistencyError("parent of %s already set", cb)
	}
	cb.parent = b.self
	cb.mu.Unlock()

	b.children = append(b.children, child)

	// Broadcast the append to every child stream.
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Children returns a snapshot of the current child list, in insertion order.
func (b *Base) Children() []Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Object, len(b.children))
	copy(out, b.children)
	return out
}

// ChildStream returns a channel yielding every child ever attached to this
// node, in insertion order. The channel closes once the node is sealed and
// all children attached before sealing have been yielded, or when ctx ends.
func (b *Base) ChildStream(ctx context.Context) <-chan Object {
	out := make(chan Object)
	go func() {
		defer close(out)
		i := 0
		for {
			b.mu.Lock()
			pending := make([]Object, len(b.children)-i)
			copy(pending, b.children[i:])
			notify := b.notify
			b.mu.Unlock()

			for _, child := range pending {
				select {
				case out <- child:
					i++
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-notify:
			case <-b.sealed:
				// Drain children attached between the snapshot and the seal.
				b.mu.Lock()
				rest := make([]Object, len(b.children)-i)
				copy(rest, b.children[i:])
				b.mu.Unlock()
				for _, child := range rest {
					select {
					case out <- child:
					case <-ctx.Done():
						return
					}
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Seal marks that no more children will ever be attached. Idempotent;
// releases every child stream waiting for more children.
func (b *Base) Seal() {
	b.sealedOnce.Do(func() {
		close(b.sealed)
	})
}

// Sealed reports whether the node is sealed.
func (b *Base) Sealed() bool {
	select {
	case <-b.sealed:
		return true
	default:
		return false
	}
}

// isSealed is Sealed without re-locking, for callers already holding b.mu.
func (b *Base) isSealed() bool {
	select {
	case <-b.sealed:
		return true
	default:
		return false
	}
}

// AddEvent appends a raw remote event attributed to this node.
func (b *Base) AddEvent(event any) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

// Events returns a snapshot of the raw event log, in arrival order.
func (b *Base) Events() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, len(b.events))
	copy(out, b.events)
	return out
}

// MarkClosed records that the backing remote object is gone and seals the
// node. The instance itself stays registered for the process lifetime.
func (b *Base) MarkClosed() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Seal()
}

// Closed reports whether the backing remote object is gone.
func (b *Base) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
