package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/alloc"
	"github.com/wippyai/script-runtime/errors"
)

// stdBootstrap binds the std and os module namespaces onto globalThis
// for scripts that expect them without writing imports.
const stdBootstrap = "import * as std from 'std';\n" +
	"import * as os from 'os';\n" +
	"globalThis.std = std;\n" +
	"globalThis.os = os;\n"

// LifecycleState tracks how far a Runner got through the process
// lifecycle. It only ever moves forward.
type LifecycleState uint8

const (
	StateUninitialized LifecycleState = iota
	StateRuntimeConstructed
	StateContextConstructed
	StateRunning
	StateDraining
	StateTornDown
)

func (s LifecycleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRuntimeConstructed:
		return "runtime-constructed"
	case StateContextConstructed:
		return "context-constructed"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// Config carries every knob of one process invocation.
type Config struct {
	// NewEngine constructs the engine against the shared allocator
	// accounting state. trace is nil unless allocation tracing is on.
	NewEngine func(ctx context.Context, state *alloc.State, trace io.Writer) (scriptruntime.Engine, error)

	// MemoryLimit and StackSize apply only when nonzero; the strip
	// policy always applies.
	MemoryLimit uint64
	StackSize   uint64
	Strip       scriptruntime.StripMode

	TraceMemory bool
	DumpMemory  bool
	// EmptyRun constructs the engine and quits without evaluating
	// anything. Together with DumpMemory it also runs the
	// instantiation benchmark.
	EmptyRun bool
	// LoadStd evaluates the std/os global binding unit first.
	LoadStd bool

	// Includes run in order before the main unit; the first failure
	// aborts the rest of the run.
	Includes []string
	// Expr is a one-shot expression, set when HasExpr; it takes
	// precedence over MainFile.
	Expr     string
	HasExpr  bool
	MainFile string
	// Stdin is piped source, evaluated as the unit "<stdin>" when no
	// expression and no main file is given.
	Stdin []byte
	// ForceKind overrides autodetection for file and stdin units.
	ForceKind SourceKind

	// Interactive requests a session even after running units; with no
	// expression and no main file a session is implied.
	Interactive             bool
	DisableRejectionTracker bool
	// Args becomes the script's argument vector.
	Args []string

	Stdout io.Writer // defaults to os.Stdout
	Stderr io.Writer // defaults to os.Stderr
	// TraceOut receives allocator trace lines, Stderr when nil.
	TraceOut io.Writer

	// Interact runs the interactive session. Nil skips interactivity
	// even when one is implied.
	Interact func(ctx context.Context, realm scriptruntime.Realm, eng scriptruntime.Engine) error
}

// Runner sequences one process lifecycle: construct, configure, run,
// drain, tear down.
//
// Runner is NOT safe for concurrent use and runs at most once.
type Runner struct {
	cfg   Config
	state LifecycleState
}

func NewRunner(cfg Config) *Runner {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Runner{cfg: cfg}
}

// State reports how far the lifecycle has advanced.
func (r *Runner) State() LifecycleState {
	return r.state
}

// Run drives the whole lifecycle and returns the process exit code:
// 0 for a clean run, 1 when a source unit failed, 2 when the engine or
// realm could not be constructed.
func (r *Runner) Run(ctx context.Context) int {
	if r.cfg.NewEngine == nil {
		fmt.Fprintln(r.cfg.Stderr, "qjs: no engine configured")
		return 2
	}

	var trace io.Writer
	if r.cfg.TraceMemory {
		trace = r.cfg.TraceOut
		if trace == nil {
			trace = r.cfg.Stderr
		}
	}
	eng, err := r.cfg.NewEngine(ctx, alloc.NewState(0), trace)
	if err != nil {
		r.reportFatal(err, "qjs: cannot allocate JS runtime")
		return 2
	}
	r.state = StateRuntimeConstructed

	err = r.configure(eng)
	if err == nil {
		err = eng.EnableWorkerRealms()
	}
	if err == nil {
		err = eng.InitHostHandlers(ctx)
	}
	if err != nil {
		fmt.Fprintf(r.cfg.Stderr, "qjs: %v\n", err)
		_ = eng.Close(ctx)
		return 2
	}

	realm, err := eng.NewRealm(ctx)
	if err != nil {
		// straight exit; the engine is reclaimed by process teardown
		r.reportFatal(err, "qjs: cannot allocate JS context")
		return 2
	}
	r.state = StateContextConstructed

	err = eng.SetModuleLoader(FileLoader{})
	if err == nil && !r.cfg.DisableRejectionTracker {
		stderr := r.cfg.Stderr
		err = eng.SetRejectionTracker(func(reason string, handled bool) {
			if !handled {
				fmt.Fprintf(stderr, "Possibly unhandled promise rejection: %s\n", reason)
			}
		})
	}
	if err != nil {
		fmt.Fprintf(r.cfg.Stderr, "qjs: %v\n", err)
		r.teardown(ctx, eng, realm)
		return 2
	}

	code := 0
	if !r.cfg.EmptyRun {
		r.state = StateRunning
		failed, err := r.runUnits(ctx, eng, realm)
		if err != nil {
			fmt.Fprintf(r.cfg.Stderr, "qjs: %v\n", err)
			failed = true
		}
		if failed {
			code = 1
		}
		r.state = StateDraining
		if code == 0 {
			if err := DrainJobs(ctx, eng); err != nil {
				fmt.Fprintf(r.cfg.Stderr, "qjs: %v\n", err)
				code = 1
			}
		}
	}

	if code == 0 && r.cfg.DumpMemory {
		r.dumpUsage(ctx, eng)
	}
	r.teardown(ctx, eng, realm)

	if r.cfg.EmptyRun && r.cfg.DumpMemory {
		r.benchmark(ctx)
	}
	return code
}

func (r *Runner) reportFatal(err error, constructionMsg string) {
	if errors.IsConstruction(err) {
		fmt.Fprintln(r.cfg.Stderr, constructionMsg)
		return
	}
	fmt.Fprintf(r.cfg.Stderr, "qjs: %v\n", err)
}

// configure applies the limit settings. The three are independent; the
// order among them does not matter.
func (r *Runner) configure(eng scriptruntime.Engine) error {
	if r.cfg.MemoryLimit != 0 {
		if err := eng.SetMemoryLimit(r.cfg.MemoryLimit); err != nil {
			return err
		}
	}
	if r.cfg.StackSize != 0 {
		if err := eng.SetMaxStackSize(r.cfg.StackSize); err != nil {
			return err
		}
	}
	return eng.SetStrip(r.cfg.Strip)
}

// runUnits performs the scripted part of the lifecycle: script args,
// the optional std/os bootstrap, includes in order, then the
// expression, the main file, or piped stdin, then the interactive
// session. The first failed unit aborts everything after it; failed
// reports that, err reports an engine fault.
func (r *Runner) runUnits(ctx context.Context, eng scriptruntime.Engine, realm scriptruntime.Realm) (failed bool, err error) {
	if err := realm.SetScriptArgs(ctx, r.cfg.Args); err != nil {
		return false, err
	}
	d := NewDispatcher(realm, eng)

	if r.cfg.LoadStd {
		// the bootstrap outcome is not checked
		if _, err := d.Evaluate(ctx, SourceUnit{Name: "<input>", Src: []byte(stdBootstrap), Kind: KindBootstrap}); err != nil {
			return false, err
		}
	}

	for _, name := range r.cfg.Includes {
		ok, err := r.evalFile(ctx, d, name)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
	}

	ranUnit := false
	switch {
	case r.cfg.HasExpr:
		out, err := d.Evaluate(ctx, SourceUnit{Name: "<cmdline>", Src: []byte(r.cfg.Expr), Kind: KindExpression})
		if err != nil {
			return false, err
		}
		if !out.Succeeded {
			return true, nil
		}
		ranUnit = true
	case r.cfg.MainFile != "":
		ok, err := r.evalFile(ctx, d, r.cfg.MainFile)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		ranUnit = true
	case len(r.cfg.Stdin) > 0:
		out, err := d.Evaluate(ctx, SourceUnit{Name: "<stdin>", Src: r.cfg.Stdin, Kind: r.cfg.ForceKind})
		if err != nil {
			return false, err
		}
		if !out.Succeeded {
			return true, nil
		}
		ranUnit = true
	}

	if r.cfg.Interactive || !ranUnit {
		// interactive sessions tolerate transient rejections
		if err := eng.SetRejectionTracker(nil); err != nil {
			return false, err
		}
		if r.cfg.Interact != nil {
			if err := r.cfg.Interact(ctx, realm, eng); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// evalFile reads and runs one file unit under the configured kind
// forcing. An unreadable file counts as a failed unit.
func (r *Runner) evalFile(ctx context.Context, d *Dispatcher, name string) (ok bool, err error) {
	src, rerr := os.ReadFile(name)
	if rerr != nil {
		fmt.Fprintln(r.cfg.Stderr, rerr)
		return false, nil
	}
	out, err := d.Evaluate(ctx, SourceUnit{Name: name, Src: src, Kind: r.cfg.ForceKind})
	if err != nil {
		return false, err
	}
	return out.Succeeded, nil
}

// teardown releases in construction-reverse order: host handlers,
// realm, engine. Always the same order on every path that reaches it.
func (r *Runner) teardown(ctx context.Context, eng scriptruntime.Engine, realm scriptruntime.Realm) {
	if err := eng.FreeHostHandlers(ctx); err != nil {
		Logger().Warn("freeing host handlers failed", zap.Error(err))
	}
	if err := realm.Close(ctx); err != nil {
		Logger().Warn("closing realm failed", zap.Error(err))
	}
	if err := eng.Close(ctx); err != nil {
		Logger().Warn("closing engine failed", zap.Error(err))
	}
	r.state = StateTornDown
}

func (r *Runner) dumpUsage(ctx context.Context, eng scriptruntime.Engine) {
	u, err := eng.MemoryUsage(ctx)
	if err != nil {
		Logger().Warn("memory usage snapshot failed", zap.Error(err))
		return
	}
	renderMemoryUsage(r.cfg.Stdout, u)
}

// renderMemoryUsage prints the usage table. A zero malloc limit renders
// as -1, meaning unlimited.
func renderMemoryUsage(w io.Writer, u *scriptruntime.MemoryUsage) {
	limit := u.MallocLimit
	if limit == 0 {
		limit = -1
	}
	fmt.Fprintf(w, "memory usage -- malloc limit: %d\n\n", limit)
	fmt.Fprintf(w, "%-20s %8s %8s\n", "NAME", "COUNT", "SIZE")
	row := func(name string, count, size int64, per string) {
		if count == 0 {
			return
		}
		fmt.Fprintf(w, "%-20s %8d %8d  (%0.1f per %s)\n",
			name, count, size, float64(size)/float64(count), per)
	}
	row("memory allocated", u.MallocCount, u.MallocSize, "block")
	if u.MemoryUsedCount != 0 {
		fmt.Fprintf(w, "%-20s %8d %8d\n", "memory used", u.MemoryUsedCount, u.MemoryUsedSize)
	}
	row("atoms", u.AtomCount, u.AtomSize, "atom")
	row("strings", u.StrCount, u.StrSize, "string")
	row("objects", u.ObjCount, u.ObjSize, "object")
	row("properties", u.PropCount, u.PropSize, "property")
	row("shapes", u.ShapeCount, u.ShapeSize, "shape")
	row("bytecode functions", u.JSFuncCount, u.JSFuncSize, "function")
}

// benchmark measures bare construct/destroy cycles, keeping the best
// time per phase over 100 rounds.
func (r *Runner) benchmark(ctx context.Context) {
	var best [5]float64
	for i := 0; i < 100; i++ {
		var t [5]time.Time
		t[0] = time.Now()
		eng, err := r.cfg.NewEngine(ctx, alloc.NewState(0), nil)
		if err != nil {
			Logger().Warn("instantiation benchmark aborted", zap.Error(err))
			return
		}
		t[1] = time.Now()
		realm, err := eng.NewRealm(ctx)
		if err != nil {
			Logger().Warn("instantiation benchmark aborted", zap.Error(err))
			_ = eng.Close(ctx)
			return
		}
		t[2] = time.Now()
		_ = realm.Close(ctx)
		t[3] = time.Now()
		_ = eng.Close(ctx)
		t[4] = time.Now()
		for j := 4; j > 0; j-- {
			ms := t[j].Sub(t[j-1]).Seconds() * 1000
			if i == 0 || ms < best[j] {
				best[j] = ms
			}
		}
	}
	fmt.Fprintf(r.cfg.Stdout, "\nInstantiation times (ms): %.3f = %.3f+%.3f+%.3f+%.3f\n",
		best[1]+best[2]+best[3]+best[4], best[1], best[2], best[3], best[4])
}
