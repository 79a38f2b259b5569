// Package enginetest provides a scripted in-process Engine for driving
// the runtime layer in tests.
//
// Outcomes are keyed by source text. Construction footprints are
// charged through the real allocator chain, so ceilings fail realm
// construction exactly the way the wasm engine fails context
// allocation, and a configured trace writer sees genuine allocator
// events.
package enginetest

import (
	"context"
	"fmt"
	"io"
	"strings"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/alloc"
	"github.com/wippyai/script-runtime/errors"
)

// Script describes the scripted outcome for one source text. The zero
// value evaluates to undefined.
type Script struct {
	// Result is the rendered final value: ToString output, or the
	// message DumpError writes for failures.
	Result string
	// Throw makes evaluation return an exception value immediately, the
	// shape of a compile error or a plain-script throw.
	Throw bool
	// Jobs settles the module promise only after this many queued jobs
	// have run.
	Jobs int
	// Reject settles the module promise rejected with Result as reason.
	Reject bool
	// Unhandled reports the rejection to the tracker as unhandled.
	Unhandled bool
	// Notices delivers this many unhandled-rejection reports to the
	// tracker as jobs run, modelling side promises that reject while
	// the unit itself completes.
	Notices int
	// Stalls leaves the promise pending with no queued jobs, modelling
	// an await that can never progress.
	Stalls bool
}

// Config configures a scripted engine.
type Config struct {
	// Scripts maps source text to outcomes. Unknown sources evaluate to
	// undefined.
	Scripts map[string]Script

	// RuntimeFootprint is charged at construction, RealmFootprint at
	// NewRealm. Zero charges nothing.
	RuntimeFootprint uint32
	RealmFootprint   uint32

	// State carries the accounting the footprints are charged against.
	// Nil gets a fresh unlimited state.
	State *alloc.State
	// Trace receives allocator events from the footprint allocations.
	Trace io.Writer

	// Stderr receives DumpError output. Nil discards.
	Stderr io.Writer

	// FailConstruction makes New fail regardless of footprints.
	FailConstruction bool
	// FailRealm makes NewRealm fail regardless of footprints.
	FailRealm bool
}

// Engine is a scripted implementation of the root Engine contract. It
// records the configuration and lifecycle calls it receives in Log, in
// order, so tests can assert call sequences.
//
// Engine is NOT safe for concurrent use.
type Engine struct {
	// Log records method calls in order.
	Log []string
	// JobsRan counts executed queued jobs, Polls the poller calls.
	JobsRan int
	Polls   int

	cfg     Config
	state   *alloc.State
	bounded *alloc.Bounded
	rtBlock uint32

	jobs     []func()
	loader   scriptruntime.ModuleLoader
	onReject scriptruntime.RejectionHandler
	closed   bool
}

var _ scriptruntime.Engine = (*Engine)(nil)

// New builds a scripted engine, charging the runtime footprint.
func New(cfg Config) (*Engine, error) {
	if cfg.State == nil {
		cfg.State = alloc.NewState(0)
	}
	mem := alloc.NewSliceMemory(1)
	heap := alloc.NewHeap(mem, 8)
	var tw *alloc.TraceWriter
	if cfg.Trace != nil {
		tw = alloc.NewTraceWriter(cfg.Trace)
		tw.CaptureBase(heap)
	}
	e := &Engine{
		cfg:     cfg,
		state:   cfg.State,
		bounded: alloc.NewBounded(heap, cfg.State, tw),
	}
	if cfg.FailConstruction {
		return nil, errors.ConstructionFailed("JS runtime", nil)
	}
	if cfg.RuntimeFootprint > 0 {
		e.rtBlock = e.bounded.Alloc(cfg.RuntimeFootprint)
		if e.rtBlock == 0 {
			return nil, errors.ConstructionFailed("JS runtime", nil)
		}
	}
	return e, nil
}

func (e *Engine) record(format string, args ...any) {
	e.Log = append(e.Log, fmt.Sprintf(format, args...))
}

// NewRealm charges the realm footprint and returns a scripted realm.
// Under a ceiling too small for the footprint it fails the way context
// allocation fails in the real engine.
func (e *Engine) NewRealm(ctx context.Context) (scriptruntime.Realm, error) {
	e.record("NewRealm")
	if e.closed {
		return nil, errors.Closed("NewRealm")
	}
	if e.cfg.FailRealm {
		return nil, errors.ConstructionFailed("JS context", nil)
	}
	var block uint32
	if e.cfg.RealmFootprint > 0 {
		block = e.bounded.Alloc(e.cfg.RealmFootprint)
		if block == 0 {
			return nil, errors.ConstructionFailed("JS context", nil)
		}
	}
	return &Realm{engine: e, block: block, values: make(map[uint32]*value)}, nil
}

// ExecutePendingJob pops and runs one queued job.
func (e *Engine) ExecutePendingJob(ctx context.Context) (bool, error) {
	if e.closed {
		return false, errors.Closed("ExecutePendingJob")
	}
	if len(e.jobs) == 0 {
		return false, nil
	}
	job := e.jobs[0]
	e.jobs = e.jobs[1:]
	job()
	e.JobsRan++
	return true, nil
}

// PendingJobs reports how many queued jobs have not run yet.
func (e *Engine) PendingJobs() int {
	return len(e.jobs)
}

// Poll records the call and reports idle; the fake has no timers.
func (e *Engine) Poll(ctx context.Context) (bool, error) {
	if e.closed {
		return false, errors.Closed("Poll")
	}
	e.Polls++
	return false, nil
}

func (e *Engine) SetMemoryLimit(bytes uint64) error {
	e.record("SetMemoryLimit %d", bytes)
	if e.closed {
		return errors.Closed("SetMemoryLimit")
	}
	e.state.SetLimit(bytes)
	return nil
}

func (e *Engine) SetMaxStackSize(bytes uint64) error {
	e.record("SetMaxStackSize %d", bytes)
	if e.closed {
		return errors.Closed("SetMaxStackSize")
	}
	return nil
}

func (e *Engine) SetStrip(mode scriptruntime.StripMode) error {
	e.record("SetStrip %d", mode)
	if e.closed {
		return errors.Closed("SetStrip")
	}
	return nil
}

func (e *Engine) SetModuleLoader(l scriptruntime.ModuleLoader) error {
	e.record("SetModuleLoader")
	if e.closed {
		return errors.Closed("SetModuleLoader")
	}
	e.loader = l
	return nil
}

// Loader returns the installed module loader, for test introspection.
func (e *Engine) Loader() scriptruntime.ModuleLoader {
	return e.loader
}

func (e *Engine) SetRejectionTracker(h scriptruntime.RejectionHandler) error {
	if h != nil {
		e.record("SetRejectionTracker on")
	} else {
		e.record("SetRejectionTracker off")
	}
	if e.closed {
		return errors.Closed("SetRejectionTracker")
	}
	e.onReject = h
	return nil
}

// Tracker returns the installed rejection handler, for test
// introspection.
func (e *Engine) Tracker() scriptruntime.RejectionHandler {
	return e.onReject
}

func (e *Engine) EnableWorkerRealms() error {
	e.record("EnableWorkerRealms")
	if e.closed {
		return errors.Closed("EnableWorkerRealms")
	}
	return nil
}

func (e *Engine) InitHostHandlers(ctx context.Context) error {
	e.record("InitHostHandlers")
	if e.closed {
		return errors.Closed("InitHostHandlers")
	}
	return nil
}

func (e *Engine) FreeHostHandlers(ctx context.Context) error {
	e.record("FreeHostHandlers")
	if e.closed {
		return errors.Closed("FreeHostHandlers")
	}
	return nil
}

// MemoryUsage returns fixed guest-side numbers with the malloc counters
// taken from the real accounting state.
func (e *Engine) MemoryUsage(ctx context.Context) (*scriptruntime.MemoryUsage, error) {
	e.record("MemoryUsage")
	if e.closed {
		return nil, errors.Closed("MemoryUsage")
	}
	blocks, live, limit := e.state.Snapshot()
	return &scriptruntime.MemoryUsage{
		MallocCount:     blocks,
		MallocSize:      int64(live),
		MallocLimit:     int64(limit),
		MemoryUsedCount: 2,
		MemoryUsedSize:  1024,
		AtomCount:       203,
		AtomSize:        8936,
		StrCount:        12,
		StrSize:         824,
		ObjCount:        94,
		ObjSize:         6016,
		PropCount:       361,
		PropSize:        6784,
		ShapeCount:      29,
		ShapeSize:       4584,
		JSFuncCount:     10,
		JSFuncSize:      1208,
	}, nil
}

func (e *Engine) Close(ctx context.Context) error {
	e.record("Engine.Close")
	if e.closed {
		return nil
	}
	e.closed = true
	if e.rtBlock != 0 {
		e.bounded.Free(e.rtBlock)
		e.rtBlock = 0
	}
	return nil
}

type promiseBox struct {
	state  scriptruntime.PromiseState
	script Script
}

type value struct {
	str      string
	compiled *Script
	promise  *promiseBox
}

// Realm is the scripted realm. It tracks live value handles so tests
// can assert the caller released everything.
type Realm struct {
	engine *Engine
	block  uint32
	values map[uint32]*value
	next   uint32
	closed bool
}

var _ scriptruntime.Realm = (*Realm)(nil)

func (r *Realm) newValue(v *value) scriptruntime.Value {
	r.next++
	r.values[r.next] = v
	return scriptruntime.Value(r.next)
}

func (r *Realm) lookup(v scriptruntime.Value) *value {
	return r.values[v.Handle()]
}

// LiveValues reports how many handles are outstanding.
func (r *Realm) LiveValues() int {
	return len(r.values)
}

func (r *Realm) script(src []byte) Script {
	if s, ok := r.engine.cfg.Scripts[string(src)]; ok {
		return s
	}
	return Script{Result: "undefined"}
}

func (r *Realm) Eval(ctx context.Context, src []byte, name string, flags scriptruntime.EvalFlags) (scriptruntime.Value, error) {
	r.engine.record("Eval %s", name)
	if r.closed {
		return 0, errors.Closed("Eval")
	}
	s := r.script(src)
	if s.Throw {
		return scriptruntime.AsException(r.newValue(&value{str: s.Result})), nil
	}
	if flags&scriptruntime.EvalCompileOnly != 0 {
		sc := s
		return r.newValue(&value{compiled: &sc, str: "[module function]"}), nil
	}
	return r.newValue(&value{str: s.Result}), nil
}

// EvalFunction consumes the compiled module and returns its promise.
// The promise settles immediately, after the scripted number of jobs,
// or never when the script stalls.
func (r *Realm) EvalFunction(ctx context.Context, fn scriptruntime.Value) (scriptruntime.Value, error) {
	r.engine.record("EvalFunction")
	if r.closed {
		return 0, errors.Closed("EvalFunction")
	}
	v := r.lookup(fn)
	delete(r.values, fn.Handle())
	if v == nil || v.compiled == nil {
		return 0, errors.InvalidInput(errors.PhaseExecute, "value is not a compiled module")
	}
	s := *v.compiled

	box := &promiseBox{state: scriptruntime.PromisePending, script: s}
	settle := func() {
		if s.Reject {
			box.state = scriptruntime.PromiseRejected
			if s.Unhandled && r.engine.onReject != nil {
				r.engine.onReject(s.Result, false)
			}
		} else {
			box.state = scriptruntime.PromiseFulfilled
		}
	}
	notice := func() {
		if r.engine.onReject != nil {
			r.engine.onReject(s.Result, false)
		}
	}
	switch {
	case s.Stalls:
		// stays pending
	case s.Jobs == 0:
		for i := 0; i < s.Notices; i++ {
			notice()
		}
		settle()
	default:
		for i := 0; i < s.Jobs; i++ {
			last := i == s.Jobs-1
			r.engine.jobs = append(r.engine.jobs, func() {
				if i < s.Notices {
					notice()
				}
				if last {
					settle()
				}
			})
		}
	}
	return r.newValue(&value{str: "[promise]", promise: box}), nil
}

func (r *Realm) BindImportMeta(ctx context.Context, fn scriptruntime.Value, main bool) error {
	if main {
		r.engine.record("BindImportMeta main")
	} else {
		r.engine.record("BindImportMeta aux")
	}
	if r.closed {
		return errors.Closed("BindImportMeta")
	}
	if v := r.lookup(fn); v == nil || v.compiled == nil {
		return errors.InvalidInput(errors.PhaseCompile, "value is not a compiled module")
	}
	return nil
}

func (r *Realm) PromiseState(ctx context.Context, v scriptruntime.Value) (scriptruntime.PromiseState, error) {
	if r.closed {
		return 0, errors.Closed("PromiseState")
	}
	val := r.lookup(v)
	if val == nil {
		return 0, errors.InvalidInput(errors.PhaseExecute, "unknown value handle")
	}
	if val.promise == nil {
		return scriptruntime.NotAPromise, nil
	}
	return val.promise.state, nil
}

func (r *Realm) PromiseResult(ctx context.Context, v scriptruntime.Value) (scriptruntime.Value, error) {
	if r.closed {
		return 0, errors.Closed("PromiseResult")
	}
	val := r.lookup(v)
	if val == nil || val.promise == nil {
		return 0, errors.InvalidInput(errors.PhaseExecute, "value is not a promise")
	}
	return r.newValue(&value{str: val.promise.script.Result}), nil
}

func (r *Realm) DumpError(ctx context.Context, v scriptruntime.Value) error {
	if r.closed {
		return errors.Closed("DumpError")
	}
	val := r.lookup(v)
	if val == nil {
		return errors.InvalidInput(errors.PhaseExecute, "unknown value handle")
	}
	if w := r.engine.cfg.Stderr; w != nil {
		fmt.Fprintln(w, val.str)
	}
	return nil
}

func (r *Realm) ToString(ctx context.Context, v scriptruntime.Value) (string, error) {
	if r.closed {
		return "", errors.Closed("ToString")
	}
	val := r.lookup(v)
	if val == nil {
		return "", errors.InvalidInput(errors.PhaseExecute, "unknown value handle")
	}
	return val.str, nil
}

func (r *Realm) Free(ctx context.Context, v scriptruntime.Value) {
	if r.closed || v == scriptruntime.Undefined {
		return
	}
	delete(r.values, v.Handle())
}

func (r *Realm) InstallGlobals(ctx context.Context, names ...string) error {
	r.engine.record("InstallGlobals %s", strings.Join(names, ","))
	if r.closed {
		return errors.Closed("InstallGlobals")
	}
	return nil
}

func (r *Realm) SetScriptArgs(ctx context.Context, args []string) error {
	r.engine.record("SetScriptArgs %d", len(args))
	if r.closed {
		return errors.Closed("SetScriptArgs")
	}
	return nil
}

func (r *Realm) Close(ctx context.Context) error {
	r.engine.record("Realm.Close")
	if r.closed {
		return nil
	}
	r.closed = true
	if r.block != 0 {
		r.engine.bounded.Free(r.block)
		r.block = 0
	}
	return nil
}
