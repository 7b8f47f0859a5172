package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// scriptedPoll serves predetermined batches, then idles.
type scriptedPoll struct {
	mu      sync.Mutex
	batches [][]string
	errs    []error
	calls   int
}

func (p *scriptedPoll) poll(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return nil, err
	}
	if len(p.batches) == 0 {
		return nil, nil
	}
	batch := p.batches[0]
	p.batches = p.batches[1:]
	return batch, nil
}

func collect(t *testing.T, queue <-chan string, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for len(out) < n {
		select {
		case ev := <-queue:
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestCollectorDispatchesInOrder(t *testing.T) {
	poll := &scriptedPoll{batches: [][]string{{"a", "b"}, {"c"}}}
	c := New(zerolog.Nop(), "test", poll.poll, WithIdleDelay(time.Millisecond))

	queue := c.Subscribe(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	got := collect(t, queue, 3)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestCollectorReplaysPast(t *testing.T) {
	poll := &scriptedPoll{batches: [][]string{{"a", "b"}}}
	c := New(zerolog.Nop(), "test", poll.poll, WithIdleDelay(time.Millisecond))

	live := c.Subscribe(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	collect(t, live, 2)

	replayed := collect(t, c.Subscribe(true), 2)
	if replayed[0] != "a" || replayed[1] != "b" {
		t.Fatalf("replayed = %v, want [a b]", replayed)
	}

	fresh := c.Subscribe(false)
	select {
	case ev := <-fresh:
		t.Fatalf("non-replaying subscriber received buffered event %q", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCollectorReportsFaults(t *testing.T) {
	pollErr := errors.New("remote unavailable")
	poll := &scriptedPoll{
		errs:    []error{pollErr},
		batches: [][]string{{"after-fault"}},
	}

	faults := make(chan error, 1)
	c := New(zerolog.Nop(), "test", poll.poll,
		WithIdleDelay(time.Millisecond),
		WithFaultFunc(func(err error) {
			select {
			case faults <- err:
			default:
			}
		}),
	)

	queue := c.Subscribe(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	select {
	case err := <-faults:
		if !errors.Is(err, pollErr) {
			t.Fatalf("fault = %v, want %v", err, pollErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fault callback")
	}

	// Polling continues past the failure.
	got := collect(t, queue, 1)
	if got[0] != "after-fault" {
		t.Fatalf("event = %q, want after-fault", got[0])
	}
}

func TestCollectorReportsCycles(t *testing.T) {
	pollErr := errors.New("remote unavailable")
	poll := &scriptedPoll{
		errs:    []error{pollErr},
		batches: [][]string{{"a", "b"}},
	}

	cycles := make(chan int, 16)
	c := New(zerolog.Nop(), "test", poll.poll,
		WithIdleDelay(time.Millisecond),
		WithCycleFunc(func(n int) {
			select {
			case cycles <- n:
			default:
			}
		}),
	)

	queue := c.Subscribe(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	// The first poll fails and must not count as a cycle; the second yields
	// two events.
	select {
	case n := <-cycles:
		if n != 2 {
			t.Fatalf("first cycle reported %d events, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cycle callback")
	}
	collect(t, queue, 2)

	// Idle polls still report a cycle, with zero events.
	select {
	case n := <-cycles:
		if n != 0 {
			t.Fatalf("idle cycle reported %d events, want 0", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for idle cycle")
	}
}

func TestCollectorStopIsIdempotent(t *testing.T) {
	poll := &scriptedPoll{}
	c := New(zerolog.Nop(), "test", poll.poll, WithIdleDelay(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	c.Stop()
	c.Stop()

	// A stopped collector can be started again.
	c.Start(ctx)
	c.Stop()
}
