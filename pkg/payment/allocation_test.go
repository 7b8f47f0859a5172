package payment

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
)

// fakePaymentAPI serves scripted allocations and records releases.
type fakePaymentAPI struct {
	mu sync.Mutex

	allocations map[string]*rest.AllocationData
	released    []string

	releaseErr error
}

func newFakePaymentAPI() *fakePaymentAPI {
	return &fakePaymentAPI{allocations: make(map[string]*rest.AllocationData)}
}

func (f *fakePaymentAPI) CreateAllocation(_ context.Context, spec rest.AllocationSpec) (*rest.AllocationData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := &rest.AllocationData{
		AllocationID:    "allocation-1",
		Address:         "0xrequestor",
		PaymentPlatform: "erc20-holesky-tglm",
		TotalAmount:     spec.TotalAmount,
		RemainingAmount: spec.TotalAmount,
		Timeout:         spec.Timeout,
	}
	f.allocations[data.AllocationID] = data
	return data, nil
}

func (f *fakePaymentAPI) GetAllocation(_ context.Context, allocationID string) (*rest.AllocationData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.allocations[allocationID]
	if !ok {
		return nil, rest.NewError(rest.ErrorKindNotFound, "GetAllocation", 404, "no such allocation", nil)
	}
	return data, nil
}

func (f *fakePaymentAPI) ListAllocations(context.Context) ([]rest.AllocationData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rest.AllocationData, 0, len(f.allocations))
	for _, data := range f.allocations {
		out = append(out, *data)
	}
	return out, nil
}

func (f *fakePaymentAPI) ReleaseAllocation(_ context.Context, allocationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, allocationID)
	return f.releaseErr
}

// fakeSession wires a registry, a bus and the fake API together.
type fakeSession struct {
	reg *resource.Registry
	bus *events.Bus
	api *fakePaymentAPI
}

func newFakeSession() *fakeSession {
	s := &fakeSession{
		bus: events.NewBus(zerolog.Nop()),
		api: newFakePaymentAPI(),
	}
	s.reg = resource.NewRegistry(events.NewGraphSink(s.bus))
	RegisterKind(s)
	return s
}

func (s *fakeSession) Registry() *resource.Registry { return s.reg }
func (s *fakeSession) Bus() *events.Bus             { return s.bus }
func (s *fakeSession) Payment() rest.PaymentAPI     { return s.api }

func TestCreateAllocationRegisters(t *testing.T) {
	sess := newFakeSession()
	defer sess.bus.Close()

	alloc, err := CreateAllocation(context.Background(), sess, "10.0", "erc20", "holesky")
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}
	if alloc.ID() != "allocation-1" {
		t.Fatalf("allocation id = %s", alloc.ID())
	}
	if sess.reg.Get(resource.KindAllocation, "allocation-1") != alloc {
		t.Fatal("allocation not registered")
	}
	data := alloc.AllocationData()
	if data == nil || data.TotalAmount != "10.0" {
		t.Fatalf("allocation data = %+v", data)
	}
}

func TestDemandProperties(t *testing.T) {
	sess := newFakeSession()
	defer sess.bus.Close()

	alloc, err := CreateAllocation(context.Background(), sess, "10.0", "erc20", "holesky")
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}
	props, constraint, err := alloc.DemandProperties(context.Background())
	if err != nil {
		t.Fatalf("DemandProperties: %v", err)
	}
	addr, ok := props["grid.com.payment.platform.erc20-holesky-tglm.address"]
	if !ok || addr != "0xrequestor" {
		t.Fatalf("props = %v", props)
	}
	if constraint != "(grid.com.payment.platform.erc20-holesky-tglm=*)" {
		t.Fatalf("constraint = %s", constraint)
	}
}

func TestReleaseToleratesGone(t *testing.T) {
	sess := newFakeSession()
	defer sess.bus.Close()

	alloc, err := CreateAllocation(context.Background(), sess, "10.0", "erc20", "holesky")
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}
	sess.api.releaseErr = rest.NewError(rest.ErrorKindGone, "ReleaseAllocation", 410, "already released", nil)
	if err := alloc.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !alloc.Sealed() {
		t.Fatal("expected the allocation to be sealed")
	}
	if len(sess.api.released) != 1 || sess.api.released[0] != "allocation-1" {
		t.Fatalf("released = %v", sess.api.released)
	}
}
