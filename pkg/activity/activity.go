// Package activity runs scripts on a provider-side executable session
// created from an agreement.
package activity

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
	"github.com/gridnode/gridnode/pkg/script"
	"github.com/gridnode/gridnode/pkg/storage"
	"github.com/gridnode/gridnode/pkg/telemetry"
)

// batchPollTimeout is the long-poll window of a single batch result request.
const batchPollTimeout = 5 * time.Second

// Session is the slice of the requestor session the activity layer needs.
type Session interface {
	// Registry returns the process-wide identity registry.
	Registry() *resource.Registry

	// Bus returns the process-wide event bus.
	Bus() *events.Bus

	// Activity returns the remote execution API.
	Activity() rest.ActivityAPI

	// Logger returns the session's base logger.
	Logger() zerolog.Logger

	// Tracer returns the session's tracer.
	Tracer() *telemetry.Tracer

	// Storage returns the transfer storage provider, or nil when none is
	// configured.
	Storage() storage.Provider
}

// RegisterKind installs the activity resource kind into the session's
// registry.
func RegisterKind(sess Session) {
	sess.Registry().RegisterKind(resource.KindActivity, resource.Descriptor{
		Ops: &activityOps{api: sess.Activity()},
		New: func(b *resource.Base) resource.Object {
			return &Activity{Node: b, sess: sess}
		},
	})
}

type activityOps struct {
	api rest.ActivityAPI
}

func (o *activityOps) Load(ctx context.Context, id string) (any, error) {
	data, err := o.api.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (o *activityOps) ListAll(ctx context.Context) (map[string]any, error) {
	return nil, fmt.Errorf("activities cannot be listed")
}

// Activity is an executable session on the provider behind an agreement.
// The environment is deployed and started implicitly ahead of the first
// executed script.
type Activity struct {
	*resource.Node
	sess Session

	bootstrapped atomic.Bool
}

// Create opens an activity on the agreement's provider and attaches it to
// the agreement in the resource graph.
func Create(ctx context.Context, sess Session, agreement resource.Object) (*Activity, error) {
	id, err := sess.Activity().CreateActivity(ctx, agreement.ID())
	if err != nil {
		return nil, err
	}
	data := &rest.ActivityData{ActivityID: id, AgreementID: agreement.ID()}
	obj, err := sess.Registry().GetOrCreate(resource.KindActivity, id, data)
	if err != nil {
		return nil, err
	}
	a := obj.(*Activity)
	if err := agreement.Base().AddChild(a); err != nil {
		return nil, err
	}
	return a, nil
}

// ActivityData returns the last known snapshot, or nil when none was loaded.
func (a *Activity) ActivityData() *rest.ActivityData {
	data, _ := a.Data().(*rest.ActivityData)
	return data
}

// Execute submits the script as one remote batch and blocks until the batch
// finishes, resolving the script's futures in command order as results
// arrive. The first Execute on an activity prepends the Deploy and Start
// commands that bring the environment up; if that bootstrap fails, the next
// Execute tries it again.
//
// A failed command resolves its own future with the failing result; the
// remaining futures resolve with an error and Execute returns it.
func (a *Activity) Execute(ctx context.Context, s *script.Script) error {
	ctx, span := a.sess.Tracer().StartBatchSpan(ctx, a.ID(), s.ID())
	defer span.End()

	started := time.Now()
	err := a.execute(ctx, s)
	a.sess.Bus().Emit(events.BatchExecuted{
		ActivityID: a.ID(),
		ScriptID:   s.ID(),
		Duration:   time.Since(started),
		Ok:         err == nil,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.RecordSuccess(span)
	return nil
}

// errBootstrapFailed marks a Deploy or Start command rejected by the
// provider.
var errBootstrapFailed = errors.New("environment bootstrap failed")

func (a *Activity) execute(ctx context.Context, s *script.Script) error {
	env := &script.Env{Storage: a.sess.Storage()}
	log := a.sess.Logger().With().
		Str("activity_id", a.ID()).
		Int64("script_id", s.ID()).
		Logger()

	var boot []script.Command
	if a.bootstrapped.CompareAndSwap(false, true) {
		boot = []script.Command{script.Deploy{}, &script.Start{}}
	}
	// The environment counts as bootstrapped only once Deploy and Start
	// succeeded on the provider.
	fail := func(err error) error {
		if len(boot) > 0 {
			a.bootstrapped.Store(false)
		}
		s.SetError(err)
		return err
	}

	userBatch, err := s.Evaluate(ctx, env)
	if err != nil {
		return fail(err)
	}
	batch := make([]rest.ExeCommand, 0, len(boot)+len(userBatch))
	for i, cmd := range boot {
		wire, err := cmd.Evaluate()
		if err != nil {
			return fail(fmt.Errorf("bootstrap command %d: %w", i, err))
		}
		batch = append(batch, wire)
	}
	batch = append(batch, userBatch...)

	batchID, err := a.sess.Activity().Exec(ctx, a.ID(), batch)
	if err != nil {
		return fail(err)
	}
	log.Debug().Str("batch_id", batchID).Int("commands", len(batch)).Msg("batch submitted")

	if err := a.awaitBatch(ctx, env, s, batchID, len(boot)); err != nil {
		if errors.Is(err, errBootstrapFailed) {
			return fail(err)
		}
		s.SetError(err)
		return err
	}
	return nil
}

// awaitBatch polls batch results and routes each to its script future.
// offset is the number of leading bootstrap commands not owned by the
// script.
func (a *Activity) awaitBatch(ctx context.Context, env *script.Env, s *script.Script, batchID string, offset int) error {
	seen := 0
	for {
		results, err := a.sess.Activity().GetExecBatchResults(ctx, a.ID(), batchID, batchPollTimeout)
		if err != nil {
			if rest.IsTimeout(err) && ctx.Err() == nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		finished := false
		for _, res := range results {
			if res.Index < seen {
				continue
			}
			seen = res.Index + 1

			if res.Index < offset {
				if !res.Ok() {
					return fmt.Errorf("%w: %s", errBootstrapFailed, res.Message)
				}
				continue
			}
			if err := s.SetResult(ctx, env, res.Index-offset, &res); err != nil {
				return err
			}
			if !res.Ok() {
				return fmt.Errorf("command %d failed: %s", res.Index-offset, res.Message)
			}
			if res.IsBatchFinished {
				finished = true
			}
		}
		if finished {
			return nil
		}
	}
}

// Destroy closes the remote session. A session the remote side already
// removed is not an error.
func (a *Activity) Destroy(ctx context.Context) error {
	if err := a.sess.Activity().DestroyActivity(ctx, a.ID()); err != nil && !rest.IsAlreadyGone(err) {
		return err
	}
	a.MarkClosed()
	a.sess.Bus().Emit(events.NewResourceClosed(a))
	return nil
}

// CloseResource makes the activity closable at session teardown.
func (a *Activity) CloseResource(ctx context.Context) error {
	return a.Destroy(ctx)
}
