package resource

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/gridnode/gridnode/pkg/rest"
)

// EventSink receives lifecycle notifications from the registry. Implemented
// by the event bus; a nil-safe no-op sink is used when nothing listens.
type EventSink interface {
	// ResourceFound is emitted on first contact with an already existing
	// remote resource (no snapshot was supplied by the caller).
	ResourceFound(obj Object)

	// ResourceCreated is emitted when a resource is registered together
	// with its first snapshot, i.e. we just created or received it.
	ResourceCreated(obj Object)

	// ResourceChanged is emitted when a refresh returns a snapshot that
	// differs from the previous one. old is the prior snapshot.
	ResourceChanged(obj Object, old any)

	// ResourceClosed is emitted when the backing remote object is deleted
	// or unsubscribed.
	ResourceClosed(obj Object)
}

// Ops is the per-kind operation table used by the registry to talk to the
// remote collaborator for one resource kind.
type Ops interface {
	// Load fetches the latest snapshot of the resource with the given id.
	Load(ctx context.Context, id string) (any, error)

	// ListAll fetches the snapshots of all remote resources of this kind,
	// keyed by id.
	ListAll(ctx context.Context) (map[string]any, error)
}

// Descriptor binds a kind's operation table to its object constructor.
type Descriptor struct {
	// Ops is the remote operation table for the kind.
	Ops Ops

	// New wraps a fresh Base into the kind's concrete object.
	New func(base *Base) Object
}

// Registry guarantees exactly one live object per (kind, id). It is shared
// process-wide state; all operations are safe for concurrent use.
type Registry struct {
	sink EventSink

	mu      sync.Mutex
	objects map[Kind]map[string]Object
	kinds   map[Kind]Descriptor
}

// NewRegistry creates an empty registry emitting lifecycle events to sink.
func NewRegistry(sink EventSink) *Registry {
	if sink == nil {
		sink = nopSink{}
	}
	return &Registry{
		sink:    sink,
		objects: make(map[Kind]map[string]Object),
		kinds:   make(map[Kind]Descriptor),
	}
}

// RegisterKind installs the descriptor for a kind. Must be called before the
// first GetOrCreate of that kind; typically done once at session start.
func (r *Registry) RegisterKind(kind Kind, desc Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = desc
}

// GetOrCreate returns the live object for (kind, id), constructing and
// registering it atomically if absent. A supplied snapshot means the remote
// object was just created (ResourceCreated); a nil snapshot means we are
// discovering an object that already existed remotely (ResourceFound). An
// existing registration emits nothing and ignores the supplied snapshot.
func (r *Registry) GetOrCreate(kind Kind, id string, data any) (Object, error) {
	r.mu.Lock()
	if obj, ok := r.objects[kind][id]; ok {
		r.mu.Unlock()
		return obj, nil
	}

	desc, ok := r.kinds[kind]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unregistered resource kind %q", kind)
	}

	base := newBase(kind, id, data)
	obj := desc.New(base)
	base.self = obj

	if r.objects[kind] == nil {
		r.objects[kind] = make(map[string]Object)
	}
	r.objects[kind][id] = obj
	r.mu.Unlock()

	if data != nil {
		r.sink.ResourceCreated(obj)
	} else {
		r.sink.ResourceFound(obj)
	}
	return obj, nil
}

// Get returns the registered object for (kind, id), or nil if none exists.
func (r *Registry) Get(kind Kind, id string) Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objects[kind][id]
}

// Load returns the resource's snapshot, fetching it from the remote
// collaborator only if none is cached yet.
func (r *Registry) Load(ctx context.Context, obj Object) (any, error) {
	return r.loadData(ctx, obj, false)
}

// Refresh fetches the latest snapshot unconditionally. Serialized
// per-resource; emits ResourceChanged when the snapshot differs from the
// previous one, nothing when it is identical. The very first load has no
// previous snapshot and emits the event with a nil old value.
func (r *Registry) Refresh(ctx context.Context, obj Object) (any, error) {
	return r.loadData(ctx, obj, true)
}

func (r *Registry) loadData(ctx context.Context, obj Object, force bool) (any, error) {
	b := obj.Base()
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	old := b.Data()
	if old != nil && !force {
		return old, nil
	}

	ops, err := r.opsFor(obj.Kind())
	if err != nil {
		return nil, err
	}

	data, err := ops.Load(ctx, obj.ID())
	if err != nil {
		return nil, r.translate(obj.Kind(), obj.ID(), err)
	}

	if !reflect.DeepEqual(old, data) {
		b.setData(data)
		r.sink.ResourceChanged(obj, old)
	}
	return data, nil
}

// ListAll fetches every remote resource of a kind and registers each one,
// returning the live objects. Already-registered ids are returned as their
// existing instances.
func (r *Registry) ListAll(ctx context.Context, kind Kind) ([]Object, error) {
	ops, err := r.opsFor(kind)
	if err != nil {
		return nil, err
	}

	snapshots, err := ops.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	objects := make([]Object, 0, len(snapshots))
	for id, data := range snapshots {
		obj, err := r.GetOrCreate(kind, id, data)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// Sink returns the registry's event sink, shared with the domain layers so
// they emit through the same channel.
func (r *Registry) Sink() EventSink {
	return r.sink
}

func (r *Registry) opsFor(kind Kind) (Ops, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc, ok := r.kinds[kind]
	if !ok || desc.Ops == nil {
		return nil, fmt.Errorf("no operations registered for resource kind %q", kind)
	}
	return desc.Ops, nil
}

// translate maps a transport-level "not found" to the domain error; every
// other backing failure propagates unchanged.
func (r *Registry) translate(kind Kind, id string, err error) error {
	if rest.IsNotFound(err) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return err
}

type nopSink struct{}

func (nopSink) ResourceFound(Object)        {}
func (nopSink) ResourceCreated(Object)      {}
func (nopSink) ResourceChanged(Object, any) {}
func (nopSink) ResourceClosed(Object)       {}
