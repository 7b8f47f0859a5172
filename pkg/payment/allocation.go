// Package payment manages funding allocations backing agreements. Account
// selection and settlement stay behind the remote payment API.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
)

// defaultAllocationWindow bounds how long a new allocation stays open when
// the caller gives no explicit timeout.
const defaultAllocationWindow = 30 * 24 * time.Hour

// Session is the slice of the requestor session the payment layer needs.
type Session interface {
	// Registry returns the process-wide identity registry.
	Registry() *resource.Registry

	// Bus returns the process-wide event bus.
	Bus() *events.Bus

	// Payment returns the remote payment API.
	Payment() rest.PaymentAPI
}

// RegisterKind installs the allocation resource kind into the session's
// registry.
func RegisterKind(sess Session) {
	sess.Registry().RegisterKind(resource.KindAllocation, resource.Descriptor{
		Ops: &allocationOps{api: sess.Payment()},
		New: func(b *resource.Base) resource.Object {
			return &Allocation{Node: b, sess: sess}
		},
	})
}

type allocationOps struct {
	api rest.PaymentAPI
}

func (o *allocationOps) Load(ctx context.Context, id string) (any, error) {
	data, err := o.api.GetAllocation(ctx, id)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (o *allocationOps) ListAll(ctx context.Context) (map[string]any, error) {
	all, err := o.api.ListAllocations(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(all))
	for i := range all {
		out[all[i].AllocationID] = &all[i]
	}
	return out, nil
}

// Allocation is a reserved amount of funds on one payment platform.
type Allocation struct {
	*resource.Node
	sess Session
}

// CreateAllocation reserves amount on the account matching the given driver
// and network and registers the allocation in the resource graph.
func CreateAllocation(ctx context.Context, sess Session, amount, driver, network string) (*Allocation, error) {
	data, err := sess.Payment().CreateAllocation(ctx, rest.AllocationSpec{
		TotalAmount:    amount,
		PaymentDriver:  driver,
		PaymentNetwork: network,
		MakeDeposit:    false,
		Timeout:        time.Now().Add(defaultAllocationWindow),
	})
	if err != nil {
		return nil, err
	}
	obj, err := sess.Registry().GetOrCreate(resource.KindAllocation, data.AllocationID, data)
	if err != nil {
		return nil, err
	}
	return obj.(*Allocation), nil
}

// AllocationData returns the last known snapshot, or nil when none was
// loaded.
func (a *Allocation) AllocationData() *rest.AllocationData {
	data, _ := a.Data().(*rest.AllocationData)
	return data
}

// DemandProperties returns the payment properties and constraint clause a
// demand must carry so providers can invoice against this allocation.
// Requires a loaded snapshot.
func (a *Allocation) DemandProperties(ctx context.Context) (map[string]any, string, error) {
	raw, err := a.sess.Registry().Load(ctx, a)
	if err != nil {
		return nil, "", err
	}
	data := raw.(*rest.AllocationData)
	if data.PaymentPlatform == "" {
		return nil, "", fmt.Errorf("allocation %s: snapshot carries no payment platform", a.ID())
	}
	props := map[string]any{
		"grid.com.payment.platform." + data.PaymentPlatform + ".address": data.Address,
	}
	constraint := "(grid.com.payment.platform." + data.PaymentPlatform + "=*)"
	return props, constraint, nil
}

// Release returns the reserved funds. An allocation the remote side already
// removed is not an error.
func (a *Allocation) Release(ctx context.Context) error {
	if err := a.sess.Payment().ReleaseAllocation(ctx, a.ID()); err != nil && !rest.IsAlreadyGone(err) {
		return err
	}
	a.MarkClosed()
	a.sess.Bus().Emit(events.NewResourceClosed(a))
	return nil
}

// CloseResource makes the allocation releasable at session teardown.
func (a *Allocation) CloseResource(ctx context.Context) error {
	return a.Release(ctx)
}
