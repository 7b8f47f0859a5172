package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/resource"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(Config{Path: filepath.Join(t.TempDir(), "journal.db")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	if err := j.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestNewJournalRequiresPath(t *testing.T) {
	if _, err := NewJournal(Config{}, zerolog.Nop()); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestRecordAndEntries(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	first := Entry{Event: "ResourceCreated", ResourceKind: "demand", ResourceID: "demand-1"}
	second := Entry{Event: "AgreementConfirmed", ResourceKind: "agreement", ResourceID: "agreement-1", ProviderID: "provider-1"}
	if err := j.Record(ctx, first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := j.Record(ctx, second); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := j.Entries(ctx, 0)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Event != "AgreementConfirmed" || entries[1].Event != "ResourceCreated" {
		t.Fatalf("order = %s, %s", entries[0].Event, entries[1].Event)
	}
	if entries[0].ProviderID != "provider-1" {
		t.Fatalf("provider = %s", entries[0].ProviderID)
	}
	if entries[0].At.IsZero() {
		t.Fatal("expected a default timestamp")
	}

	limited, err := j.Entries(ctx, 1)
	if err != nil {
		t.Fatalf("Entries limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Event != "AgreementConfirmed" {
		t.Fatalf("limited = %+v", limited)
	}
}

func TestResourceHistoryOldestFirst(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	for _, event := range []string{"ResourceCreated", "ResourceChanged", "ResourceClosed"} {
		if err := j.Record(ctx, Entry{Event: event, ResourceKind: "proposal", ResourceID: "proposal-1"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := j.Record(ctx, Entry{Event: "ResourceCreated", ResourceKind: "proposal", ResourceID: "proposal-2"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	history, err := j.ResourceHistory(ctx, "proposal", "proposal-1")
	if err != nil {
		t.Fatalf("ResourceHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history = %d, want 3", len(history))
	}
	if history[0].Event != "ResourceCreated" || history[2].Event != "ResourceClosed" {
		t.Fatalf("order = %s, %s, %s", history[0].Event, history[1].Event, history[2].Event)
	}
}

// journalNode is a minimal graph object for event mapping tests.
type journalNode struct {
	*resource.Node
}

func testObject(t *testing.T) resource.Object {
	t.Helper()
	reg := resource.NewRegistry(nil)
	reg.RegisterKind(resource.KindDemand, resource.Descriptor{
		New: func(b *resource.Base) resource.Object {
			return &journalNode{Node: b}
		},
	})
	obj, err := reg.GetOrCreate(resource.KindDemand, "demand-1", nil)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return obj
}

func TestEntryForResourceEvents(t *testing.T) {
	obj := testObject(t)

	entry, ok := entryFor(events.NewResourceClosed(obj))
	if !ok {
		t.Fatal("expected a journal entry")
	}
	if entry.Event != "ResourceClosed" || entry.ResourceKind != "demand" || entry.ResourceID != "demand-1" {
		t.Fatalf("entry = %+v", entry)
	}

	entry, ok = entryFor(events.NewAgreementRejected(obj, "provider-1"))
	if !ok {
		t.Fatal("expected a journal entry")
	}
	if entry.ProviderID != "provider-1" || entry.ResourceID != "demand-1" {
		t.Fatalf("entry = %+v", entry)
	}

	entry, ok = entryFor(events.CollectorFault{Endpoint: "demand/demand-1", Err: errors.New("poll failed")})
	if !ok {
		t.Fatal("expected a journal entry")
	}
	if entry.Event != "CollectorFault" || entry.Detail == "" {
		t.Fatalf("entry = %+v", entry)
	}

	// Per-poll heartbeats would flood the journal and are not recorded.
	if _, ok := entryFor(events.CollectorCycle{Endpoint: "demand/demand-1", Events: 0}); ok {
		t.Fatal("CollectorCycle must not be journaled")
	}
}

func TestAttachRecordsBusEvents(t *testing.T) {
	j := openJournal(t)
	obj := testObject(t)

	bus := events.NewBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Attach(ctx, bus)

	bus.Emit(events.NewAgreementConfirmed(obj, "provider-1"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := j.Entries(ctx, 0)
		if err != nil {
			t.Fatalf("Entries: %v", err)
		}
		if len(entries) == 1 {
			if entries[0].Event != "AgreementConfirmed" || entries[0].ProviderID != "provider-1" {
				t.Fatalf("entry = %+v", entries[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("journal entry never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
