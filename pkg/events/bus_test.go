package events

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridnode/gridnode/pkg/resource"
)

type stubEvent struct {
	name string
}

func (e stubEvent) EventName() string { return e.name }

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	_, queue := bus.Subscribe()
	for i := 0; i < 5; i++ {
		bus.Emit(stubEvent{name: string(rune('a' + i))})
	}

	for i := 0; i < 5; i++ {
		select {
		case ev := <-queue:
			want := string(rune('a' + i))
			if ev.EventName() != want {
				t.Fatalf("event %d = %s, want %s", i, ev.EventName(), want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	_, first := bus.Subscribe()
	_, second := bus.Subscribe()
	bus.Emit(stubEvent{name: "broadcast"})

	for _, queue := range []<-chan Event{first, second} {
		select {
		case ev := <-queue:
			if ev.EventName() != "broadcast" {
				t.Fatalf("event = %s, want broadcast", ev.EventName())
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBusEmitNeverBlocks(t *testing.T) {
	var mu sync.Mutex
	dropped := 0

	bus := NewBus(zerolog.Nop(),
		WithQueueSize(2),
		WithDroppedFunc(func(string, Event) {
			mu.Lock()
			dropped++
			mu.Unlock()
		}),
	)
	defer bus.Close()

	_, queue := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Emit(stubEvent{name: "burst"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber queue")
	}

	mu.Lock()
	got := dropped
	mu.Unlock()
	if got != 8 {
		t.Fatalf("dropped = %d, want 8", got)
	}
	if len(queue) != 2 {
		t.Fatalf("queued = %d, want 2", len(queue))
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	id, queue := bus.Subscribe()
	bus.Unsubscribe(id)

	if _, ok := <-queue; ok {
		t.Fatal("queue must be closed after Unsubscribe")
	}
	// Emitting after unsubscribe must not panic on the closed queue.
	bus.Emit(stubEvent{name: "late"})
}

func TestGraphSinkTranslatesNotifications(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()
	_, queue := bus.Subscribe()

	reg := resource.NewRegistry(NewGraphSink(bus))
	reg.RegisterKind(resource.KindDemand, resource.Descriptor{
		New: func(b *resource.Base) resource.Object { return &testObject{Node: b} },
	})

	obj, err := reg.GetOrCreate(resource.KindDemand, "d-1", "snapshot")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	select {
	case ev := <-queue:
		created, ok := ev.(ResourceCreated)
		if !ok {
			t.Fatalf("event = %T, want ResourceCreated", ev)
		}
		if created.Subject() != obj {
			t.Fatal("event subject is not the registered object")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ResourceCreated")
	}
}

type testObject struct {
	*resource.Node
}
