package script

import (
	"context"
	"errors"
	"testing"

	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
)

// hookedCommand records its hook invocations.
type hookedCommand struct {
	label  string
	trace  *[]string
	cancel bool
}

func (c *hookedCommand) Evaluate() (rest.ExeCommand, error) {
	*c.trace = append(*c.trace, "evaluate:"+c.label)
	return rest.ExeCommand{Run: &rest.RunCommand{Entrypoint: c.label}}, nil
}

func (c *hookedCommand) Before(context.Context, *Env) error {
	*c.trace = append(*c.trace, "before:"+c.label)
	if c.cancel {
		return errors.New("before hook failed")
	}
	return nil
}

func (c *hookedCommand) After(context.Context, *Env) error {
	*c.trace = append(*c.trace, "after:"+c.label)
	return nil
}

func TestScriptIDsAreMonotonic(t *testing.T) {
	first := New()
	second := New()
	if second.ID() <= first.ID() {
		t.Fatalf("ids not monotonic: %d then %d", first.ID(), second.ID())
	}
}

func TestEvaluateRunsHooksInOrder(t *testing.T) {
	var trace []string
	s := New()
	s.Add(&hookedCommand{label: "one", trace: &trace})
	s.Add(&hookedCommand{label: "two", trace: &trace})

	batch, err := s.Evaluate(context.Background(), &Env{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	if batch[0].Run.Entrypoint != "one" || batch[1].Run.Entrypoint != "two" {
		t.Fatalf("batch order broken: %+v", batch)
	}

	want := []string{"before:one", "before:two", "evaluate:one", "evaluate:two"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestEvaluateAbortsOnHookFailure(t *testing.T) {
	var trace []string
	s := New()
	s.Add(&hookedCommand{label: "bad", trace: &trace, cancel: true})
	s.Add(&hookedCommand{label: "never", trace: &trace})

	if _, err := s.Evaluate(context.Background(), &Env{}); err == nil {
		t.Fatal("expected the before hook failure to surface")
	}
	for _, step := range trace {
		if step == "evaluate:never" || step == "before:never" {
			t.Fatalf("later command ran after failure: %v", trace)
		}
	}
}

func TestSetResultResolvesFuture(t *testing.T) {
	var trace []string
	s := New()
	future := s.Add(&hookedCommand{label: "cmd", trace: &trace})

	result := &rest.ExeResult{Index: 0, Result: "Ok", Stdout: "hello"}
	if err := s.SetResult(context.Background(), &Env{}, 0, result); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	got, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got.Stdout != "hello" {
		t.Fatalf("result stdout = %q", got.Stdout)
	}

	ran := false
	for _, step := range trace {
		if step == "after:cmd" {
			ran = true
		}
	}
	if !ran {
		t.Fatal("after hook did not run on success")
	}
}

func TestSetResultOutOfRange(t *testing.T) {
	s := New()
	s.Add(&hookedCommand{label: "only", trace: new([]string)})

	err := s.SetResult(context.Background(), &Env{}, 1, &rest.ExeResult{Index: 1, Result: "Ok"})
	if !resource.IsConsistencyViolation(err) {
		t.Fatalf("out-of-range SetResult = %v, want consistency violation", err)
	}
	if err := s.SetResult(context.Background(), &Env{}, -1, nil); !resource.IsConsistencyViolation(err) {
		t.Fatalf("negative SetResult = %v, want consistency violation", err)
	}
}

func TestSetResultTwiceRejected(t *testing.T) {
	s := New()
	s.Add(&hookedCommand{label: "cmd", trace: new([]string)})

	if err := s.SetResult(context.Background(), &Env{}, 0, &rest.ExeResult{Result: "Ok"}); err != nil {
		t.Fatalf("first SetResult: %v", err)
	}
	err := s.SetResult(context.Background(), &Env{}, 0, &rest.ExeResult{Result: "Ok"})
	if !resource.IsConsistencyViolation(err) {
		t.Fatalf("second SetResult = %v, want consistency violation", err)
	}
}

func TestFailedResultSkipsAfterHook(t *testing.T) {
	var trace []string
	s := New()
	s.Add(&hookedCommand{label: "cmd", trace: &trace})

	failed := &rest.ExeResult{Index: 0, Result: "Error", Message: "boom"}
	if err := s.SetResult(context.Background(), &Env{}, 0, failed); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	for _, step := range trace {
		if step == "after:cmd" {
			t.Fatal("after hook must not run for a failed command")
		}
	}
}

func TestSetErrorResolvesRemaining(t *testing.T) {
	s := New()
	resolved := s.Add(&hookedCommand{label: "done", trace: new([]string)})
	pending := s.Add(&hookedCommand{label: "pending", trace: new([]string)})

	if err := s.SetResult(context.Background(), &Env{}, 0, &rest.ExeResult{Result: "Ok"}); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	batchErr := errors.New("batch aborted")
	s.SetError(batchErr)

	if got, err := resolved.Wait(context.Background()); err != nil || got == nil {
		t.Fatalf("resolved future overwritten: %v, %v", got, err)
	}
	if _, err := pending.Wait(context.Background()); !errors.Is(err, batchErr) {
		t.Fatalf("pending future err = %v, want %v", err, batchErr)
	}
}

func TestCommandWireForms(t *testing.T) {
	deploy, err := Deploy{}.Evaluate()
	if err != nil || deploy.Deploy == nil {
		t.Fatalf("deploy = %+v, %v", deploy, err)
	}

	start, err := (&Start{Args: []string{"--fast"}}).Evaluate()
	if err != nil || start.Start == nil || start.Start.Args[0] != "--fast" {
		t.Fatalf("start = %+v, %v", start, err)
	}

	run, err := NewRun("/bin/task", "arg").Evaluate()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Run.Entrypoint != "/bin/task" {
		t.Fatalf("run = %+v", run.Run)
	}
	if run.Run.Stdout.Mode != rest.CaptureModeStream || run.Run.Stderr.Mode != rest.CaptureModeStream {
		t.Fatalf("capture modes = %v/%v, want streaming by default", run.Run.Stdout.Mode, run.Run.Stderr.Mode)
	}

	term, err := Terminate{}.Evaluate()
	if err != nil || term.Terminate == nil {
		t.Fatalf("terminate = %+v, %v", term, err)
	}
}
