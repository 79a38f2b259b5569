package runtime

import (
	"context"

	"go.uber.org/zap"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/errors"
)

// Outcome is the externally visible result of evaluating one unit.
// Result values never escape the dispatcher; success or failure is the
// whole signal.
type Outcome struct {
	Succeeded   bool
	IsException bool
}

// Dispatcher executes source units against one realm, driving the job
// queue so module top-level await settles before the call returns.
//
// Dispatcher is NOT safe for concurrent use.
type Dispatcher struct {
	realm  scriptruntime.Realm
	engine scriptruntime.Engine
}

func NewDispatcher(realm scriptruntime.Realm, engine scriptruntime.Engine) *Dispatcher {
	return &Dispatcher{realm: realm, engine: engine}
}

// Evaluate runs one unit to completion. The returned error reports
// engine faults only; script-level failures come back as a failed
// Outcome after the diagnostic has been written to the error stream.
func (d *Dispatcher) Evaluate(ctx context.Context, unit SourceUnit) (Outcome, error) {
	switch Classify(unit) {
	case KindModule, KindBootstrap:
		return d.evalModule(ctx, unit)
	default:
		v, err := d.realm.Eval(ctx, unit.Src, unit.Name, scriptruntime.EvalGlobal)
		if err != nil {
			return Outcome{}, err
		}
		return d.inspect(ctx, unit.Name, v)
	}
}

// evalModule compiles first so import metadata lands on the module
// record before its body runs, then executes and settles the completion
// promise. A compile failure skips straight to inspection; awaiting a
// non-promise is the identity.
func (d *Dispatcher) evalModule(ctx context.Context, unit SourceUnit) (Outcome, error) {
	fn, err := d.realm.Eval(ctx, unit.Src, unit.Name, scriptruntime.EvalModule|scriptruntime.EvalCompileOnly)
	if err != nil {
		return Outcome{}, err
	}
	if scriptruntime.IsException(fn) {
		return d.inspect(ctx, unit.Name, fn)
	}
	if err := d.realm.BindImportMeta(ctx, fn, true); err != nil {
		d.realm.Free(ctx, fn)
		if errors.IsException(err) {
			// the engine already dumped the thrown value
			Logger().Debug("import metadata binding failed", zap.String("unit", unit.Name))
			return Outcome{IsException: true}, nil
		}
		return Outcome{}, err
	}
	result, err := d.realm.EvalFunction(ctx, fn)
	if err != nil {
		return Outcome{}, err
	}
	settled, err := d.await(ctx, result)
	if err != nil {
		return Outcome{}, err
	}
	return d.inspect(ctx, unit.Name, settled)
}

// await settles a module completion value by servicing the job queue.
// A rejected promise becomes its reason, marked as an exception. A
// promise still pending once the queue is empty and the poller idle is
// returned as-is; nothing left in the system could settle it.
func (d *Dispatcher) await(ctx context.Context, v scriptruntime.Value) (scriptruntime.Value, error) {
	for {
		st, err := d.realm.PromiseState(ctx, v)
		if err != nil {
			d.realm.Free(ctx, v)
			return scriptruntime.Undefined, err
		}
		switch st {
		case scriptruntime.NotAPromise:
			return v, nil
		case scriptruntime.PromiseFulfilled, scriptruntime.PromiseRejected:
			res, err := d.realm.PromiseResult(ctx, v)
			d.realm.Free(ctx, v)
			if err != nil {
				return scriptruntime.Undefined, err
			}
			if st == scriptruntime.PromiseRejected {
				res = scriptruntime.AsException(res)
			}
			return res, nil
		}
		ran, err := d.engine.ExecutePendingJob(ctx)
		if err != nil {
			d.realm.Free(ctx, v)
			return scriptruntime.Undefined, err
		}
		if ran {
			continue
		}
		polled, err := d.engine.Poll(ctx)
		if err != nil {
			d.realm.Free(ctx, v)
			return scriptruntime.Undefined, err
		}
		if !polled {
			return v, nil
		}
	}
}

// inspect reports and releases the final value. Exceptions are dumped
// to the error stream and fail the outcome; the caller never receives a
// handle either way.
func (d *Dispatcher) inspect(ctx context.Context, name string, v scriptruntime.Value) (Outcome, error) {
	if scriptruntime.IsException(v) {
		err := d.realm.DumpError(ctx, v)
		d.realm.Free(ctx, v)
		if err != nil {
			return Outcome{}, err
		}
		Logger().Debug("unit failed", zap.String("unit", name))
		return Outcome{IsException: true}, nil
	}
	d.realm.Free(ctx, v)
	return Outcome{Succeeded: true}, nil
}

// DrainJobs services the job queue until it is empty and the poller is
// idle. Job-level exceptions are dumped by the engine and count as
// progress, so a throwing job does not strand the jobs behind it.
func DrainJobs(ctx context.Context, eng scriptruntime.Engine) error {
	for {
		ran, err := eng.ExecutePendingJob(ctx)
		if err != nil {
			return err
		}
		if ran {
			continue
		}
		polled, err := eng.Poll(ctx)
		if err != nil {
			return err
		}
		if !polled {
			return nil
		}
	}
}
