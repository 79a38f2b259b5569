package engine

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/alloc"
	"github.com/wippyai/script-runtime/errors"
)

// Config holds construction parameters for a wazero-backed engine.
type Config struct {
	// Binary is the engine wasm module.
	Binary []byte
	// Name labels the instance in logs and wazero diagnostics.
	Name string

	// Stdout and Stderr receive the guest's WASI stdio. Nil discards.
	Stdout io.Writer
	Stderr io.Writer

	// MemoryLimitPages caps the instance linear memory in 64KiB pages.
	// Zero keeps the wazero default.
	MemoryLimitPages uint32
	// HeapStart places the host heap at a fixed offset. Zero puts it at
	// the end of the guest's initial memory; a nonzero value must point
	// at memory the guest build reserves for the host.
	HeapStart uint32

	// State carries live-block accounting shared with the caller. Nil
	// gets a fresh unlimited state.
	State *alloc.State
	// Trace, when set, receives one line per allocator event.
	Trace io.Writer
}

// WazeroEngine drives a script engine compiled to a wasm32 core module.
// The guest's runtime allocator is routed back through host imports, so
// every block the script engine touches passes through the bounded
// tracing allocator on the host side.
//
// WazeroEngine is NOT safe for concurrent use.
type WazeroEngine struct {
	runtime wazero.Runtime
	mod     api.Module
	mem     scriptruntime.Memory
	heap    *alloc.Heap
	bounded *alloc.Bounded
	state   *alloc.State
	funcs   map[string]api.Function

	loader   scriptruntime.ModuleLoader
	onReject scriptruntime.RejectionHandler

	name      string
	rt        uint64
	stackBuf  []uint64
	loaderSet bool
	closed    bool
}

var _ scriptruntime.Engine = (*WazeroEngine)(nil)

// New instantiates the engine binary and brings up its script runtime.
// The guest's start functions are cleared and run by hand once the
// allocator chain exists, so no guest code can allocate before the host
// side is wired.
func New(ctx context.Context, cfg Config) (*WazeroEngine, error) {
	if len(cfg.Binary) == 0 {
		return nil, errors.InvalidInput(errors.PhaseConstruct, "engine binary is empty")
	}
	if err := Preflight(cfg.Binary); err != nil {
		return nil, err
	}
	if cfg.State == nil {
		cfg.State = alloc.NewState(0)
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	e := &WazeroEngine{
		runtime:  r,
		state:    cfg.State,
		name:     cfg.Name,
		stackBuf: make([]uint64, 16), // pre-allocate call stack
	}

	if err := instantiateWASI(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseConstruct, errors.KindConstruction, err, "WASI host module")
	}
	if err := e.instantiateHostModule(ctx); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	compiled, err := r.CompileModule(ctx, cfg.Binary)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseConstruct, errors.KindInvalidInput, err, "compiling engine module")
	}

	modConfig := wazero.NewModuleConfig().
		WithName(cfg.Name).
		WithStartFunctions()
	if cfg.Stdout != nil {
		modConfig = modConfig.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modConfig = modConfig.WithStderr(cfg.Stderr)
	}

	mod, err := r.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseConstruct, errors.KindConstruction, err, "instantiating engine module")
	}
	e.mod = mod

	mem := mod.Memory()
	if mem == nil {
		_ = r.Close(ctx)
		return nil, errors.MissingExport("memory")
	}
	e.mem = &wazeroMemory{mem: mem}

	heapStart := cfg.HeapStart
	if heapStart == 0 {
		heapStart = e.mem.Size()
	}
	e.heap = alloc.NewHeap(e.mem, heapStart)

	var tw *alloc.TraceWriter
	if cfg.Trace != nil {
		tw = alloc.NewTraceWriter(cfg.Trace)
		tw.CaptureBase(e.heap)
	}
	e.bounded = alloc.NewBounded(e.heap, cfg.State, tw)

	e.funcs = make(map[string]api.Function, len(requiredExports))
	for _, name := range requiredExports {
		e.funcs[name] = mod.ExportedFunction(name)
	}

	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = r.Close(ctx)
			return nil, errors.Trap("_initialize", err)
		}
	}

	rt, err := e.call(ctx, "qjs_runtime_new")
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	if rt == 0 {
		_ = r.Close(ctx)
		return nil, errors.ConstructionFailed("JS runtime", nil)
	}
	e.rt = rt
	return e, nil
}

// instantiateWASI brings up the preview1 host module the guest libc
// expects for stdio, clock and entropy.
func instantiateWASI(ctx context.Context, r wazero.Runtime) error {
	builder := r.NewHostModuleBuilder("wasi_snapshot_preview1")
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	_, err := builder.Instantiate(ctx)
	return err
}

// instantiateHostModule builds the env module carrying the allocator
// vtable, the module-loader bridge and the rejection tracker. The
// closures read the engine's wiring lazily; nothing calls them before
// the allocator chain exists because start functions stay cleared.
func (e *WazeroEngine) instantiateHostModule(ctx context.Context) error {
	i32 := api.ValueTypeI32
	builder := e.runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostAlloc), []api.ValueType{i32}, []api.ValueType{i32}).
		Export("host_rt_alloc")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostRealloc), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export("host_rt_realloc")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostFree), []api.ValueType{i32}, nil).
		Export("host_rt_free")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostUsableSize), []api.ValueType{i32}, []api.ValueType{i32}).
		Export("host_rt_usable_size")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostNormalizeModule), []api.ValueType{i32, i32, i32, i32, i32}, []api.ValueType{i32}).
		Export("host_normalize_module")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostLoadModule), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}).
		Export("host_load_module")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostReject), []api.ValueType{i32, i32, i32}, nil).
		Export("host_reject")

	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.Wrap(errors.PhaseConstruct, errors.KindConstruction, err, "env host module")
	}
	return nil
}

func (e *WazeroEngine) hostAlloc(_ context.Context, _ api.Module, stack []uint64) {
	if e.bounded == nil {
		stack[0] = 0
		return
	}
	stack[0] = uint64(e.bounded.Alloc(uint32(stack[0])))
}

func (e *WazeroEngine) hostRealloc(_ context.Context, _ api.Module, stack []uint64) {
	if e.bounded == nil {
		stack[0] = 0
		return
	}
	stack[0] = uint64(e.bounded.Realloc(uint32(stack[0]), uint32(stack[1])))
}

func (e *WazeroEngine) hostFree(_ context.Context, _ api.Module, stack []uint64) {
	if e.bounded == nil {
		return
	}
	e.bounded.Free(uint32(stack[0]))
}

func (e *WazeroEngine) hostUsableSize(_ context.Context, _ api.Module, stack []uint64) {
	if e.bounded == nil {
		stack[0] = 0
		return
	}
	stack[0] = uint64(e.bounded.UsableSize(uint32(stack[0])))
}

// hostNormalizeModule resolves an import reference against its importing
// module through the configured loader. The resolved name goes back in a
// counted block because the guest releases it through its own free path.
func (e *WazeroEngine) hostNormalizeModule(_ context.Context, _ api.Module, stack []uint64) {
	basePtr, baseLen := uint32(stack[0]), uint32(stack[1])
	refPtr, refLen := uint32(stack[2]), uint32(stack[3])
	outPtr := uint32(stack[4])

	stack[0] = api.EncodeI32(-1)
	if e.loader == nil {
		return
	}
	base, err := e.readBytes(basePtr, baseLen)
	if err != nil {
		return
	}
	ref, err := e.readBytes(refPtr, refLen)
	if err != nil {
		return
	}
	name, err := e.loader.Normalize(string(base), string(ref))
	if err != nil {
		Logger().Debug("module name resolution failed",
			zap.String("base", string(base)),
			zap.String("ref", string(ref)),
			zap.Error(err))
		return
	}
	ptr := e.pushCounted([]byte(name))
	if ptr == 0 {
		return
	}
	if !e.writePair(outPtr, ptr, uint32(len(name))) {
		e.bounded.Free(ptr)
		return
	}
	stack[0] = 0
}

// hostLoadModule fetches module source through the configured loader.
func (e *WazeroEngine) hostLoadModule(_ context.Context, _ api.Module, stack []uint64) {
	namePtr, nameLen := uint32(stack[0]), uint32(stack[1])
	outPtr := uint32(stack[2])

	stack[0] = api.EncodeI32(-1)
	if e.loader == nil {
		return
	}
	name, err := e.readBytes(namePtr, nameLen)
	if err != nil {
		return
	}
	src, err := e.loader.Load(string(name))
	if err != nil {
		Logger().Debug("module load failed",
			zap.String("name", string(name)),
			zap.Error(err))
		return
	}
	ptr := e.pushCounted(src)
	if ptr == 0 {
		return
	}
	if !e.writePair(outPtr, ptr, uint32(len(src))) {
		e.bounded.Free(ptr)
		return
	}
	stack[0] = 0
}

func (e *WazeroEngine) hostReject(_ context.Context, _ api.Module, stack []uint64) {
	if e.onReject == nil {
		return
	}
	reason, err := e.readBytes(uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		return
	}
	e.onReject(string(reason), stack[2] != 0)
}

// NewRealm constructs the primary evaluation context.
func (e *WazeroEngine) NewRealm(ctx context.Context) (scriptruntime.Realm, error) {
	if e.closed {
		return nil, errors.Closed("NewRealm")
	}
	h, err := e.call(ctx, "qjs_context_new", e.rt)
	if err != nil {
		return nil, err
	}
	if h == 0 {
		return nil, errors.ConstructionFailed("JS context", nil)
	}
	return &wazeroRealm{engine: e, handle: h, handles: newHandleTable()}, nil
}

// ExecutePendingJob runs one queued job. A negative guest status means
// a job ran and threw; the guest has already dumped the exception, so it
// still counts as progress and must not end a drain early.
func (e *WazeroEngine) ExecutePendingJob(ctx context.Context) (bool, error) {
	if e.closed {
		return false, errors.Closed("ExecutePendingJob")
	}
	r, err := e.call(ctx, "qjs_execute_pending_job", e.rt)
	if err != nil {
		return false, err
	}
	return int32(uint32(r)) != 0, nil
}

// Poll services timer and IO events, reporting false when idle.
func (e *WazeroEngine) Poll(ctx context.Context) (bool, error) {
	if e.closed {
		return false, errors.Closed("Poll")
	}
	r, err := e.call(ctx, "qjs_poll", e.rt)
	if err != nil {
		return false, err
	}
	return int32(uint32(r)) == 1, nil
}

// SetMemoryLimit applies a live-byte ceiling to the allocator state.
// Zero removes the limit. Takes effect on the next allocation.
func (e *WazeroEngine) SetMemoryLimit(bytes uint64) error {
	if e.closed {
		return errors.Closed("SetMemoryLimit")
	}
	e.state.SetLimit(bytes)
	return nil
}

func (e *WazeroEngine) SetMaxStackSize(bytes uint64) error {
	if e.closed {
		return errors.Closed("SetMaxStackSize")
	}
	_, err := e.call(context.Background(), "qjs_set_max_stack_size", e.rt, bytes)
	return err
}

func (e *WazeroEngine) SetStrip(mode scriptruntime.StripMode) error {
	if e.closed {
		return errors.Closed("SetStrip")
	}
	_, err := e.call(context.Background(), "qjs_set_strip", e.rt, uint64(mode))
	return err
}

// SetModuleLoader installs l behind the guest's module hooks. The guest
// vtable is switched over on the first call only; later calls just swap
// the host-side loader.
func (e *WazeroEngine) SetModuleLoader(l scriptruntime.ModuleLoader) error {
	if e.closed {
		return errors.Closed("SetModuleLoader")
	}
	e.loader = l
	if e.loaderSet {
		return nil
	}
	if _, err := e.call(context.Background(), "qjs_set_loader", e.rt); err != nil {
		return err
	}
	e.loaderSet = true
	return nil
}

// SetRejectionTracker installs h as the unhandled-rejection callback. A
// nil handler disables tracking on the guest side as well.
func (e *WazeroEngine) SetRejectionTracker(h scriptruntime.RejectionHandler) error {
	if e.closed {
		return errors.Closed("SetRejectionTracker")
	}
	e.onReject = h
	var enable uint64
	if h != nil {
		enable = 1
	}
	_, err := e.call(context.Background(), "qjs_set_rejection_tracker", e.rt, enable)
	return err
}

func (e *WazeroEngine) EnableWorkerRealms() error {
	if e.closed {
		return errors.Closed("EnableWorkerRealms")
	}
	_, err := e.call(context.Background(), "qjs_enable_workers", e.rt)
	return err
}

func (e *WazeroEngine) InitHostHandlers(ctx context.Context) error {
	if e.closed {
		return errors.Closed("InitHostHandlers")
	}
	status, err := e.call(ctx, "qjs_init_handlers", e.rt)
	if err != nil {
		return err
	}
	if int32(uint32(status)) != 0 {
		return errors.ConstructionFailed("host handlers", nil)
	}
	return nil
}

func (e *WazeroEngine) FreeHostHandlers(ctx context.Context) error {
	if e.closed {
		return errors.Closed("FreeHostHandlers")
	}
	_, err := e.call(ctx, "qjs_free_handlers", e.rt)
	return err
}

// MemoryUsage asks the guest for its accounting snapshot and overlays
// the malloc counters with the host state, which is authoritative for
// them.
func (e *WazeroEngine) MemoryUsage(ctx context.Context) (*scriptruntime.MemoryUsage, error) {
	if e.closed {
		return nil, errors.Closed("MemoryUsage")
	}
	outPtr := e.heap.Alloc(8)
	if outPtr == 0 {
		_, live, limit := e.state.Snapshot()
		return nil, errors.LimitExceeded(errors.PhaseEngine, 8, live, limit)
	}
	defer e.heap.Free(outPtr)

	status, err := e.call(ctx, "qjs_memory_json", e.rt, uint64(outPtr))
	if err != nil {
		return nil, err
	}
	if int32(uint32(status)) != 0 {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindABI, nil, "usage snapshot failed in guest")
	}
	ptr, length, err := e.readPair(outPtr)
	if err != nil {
		return nil, err
	}
	data, err := e.readBytes(ptr, length)
	e.bounded.Free(ptr)
	if err != nil {
		return nil, err
	}

	var u scriptruntime.MemoryUsage
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindABI, err, "usage snapshot is not valid JSON")
	}
	blocks, live, limit := e.state.Snapshot()
	u.MallocCount = blocks
	u.MallocSize = int64(live)
	u.MallocLimit = int64(limit)
	return &u, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	if e.closed {
		return nil
	}
	var firstErr error
	if e.rt != 0 {
		if _, err := e.call(ctx, "qjs_runtime_free", e.rt); err != nil {
			firstErr = err
		}
		e.rt = 0
	}
	e.closed = true
	if e.runtime != nil {
		if err := e.runtime.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		e.runtime = nil
	}
	// Clear references to help GC
	e.mod = nil
	e.mem = nil
	e.heap = nil
	e.bounded = nil
	e.funcs = nil
	e.stackBuf = nil
	e.loader = nil
	e.onReject = nil
	return firstErr
}

// wazeroRealm is one evaluation context inside a WazeroEngine. It tracks
// outstanding value handles so Close can release what the caller leaked.
//
// wazeroRealm is NOT safe for concurrent use.
type wazeroRealm struct {
	engine  *WazeroEngine
	handle  uint64
	handles *handleTable
	closed  bool
}

var _ scriptruntime.Realm = (*wazeroRealm)(nil)

// Eval compiles and runs src. Exceptions come back as values carrying
// the exception marker, never as errors.
func (r *wazeroRealm) Eval(ctx context.Context, src []byte, name string, flags scriptruntime.EvalFlags) (scriptruntime.Value, error) {
	if r.closed {
		return 0, errors.Closed("Eval")
	}
	e := r.engine
	srcPtr, err := e.pushBytes(src)
	if err != nil {
		return 0, err
	}
	defer e.heap.Free(srcPtr)
	namePtr, err := e.pushBytes([]byte(name))
	if err != nil {
		return 0, err
	}
	defer e.heap.Free(namePtr)

	v, err := e.call(ctx, "qjs_eval",
		r.handle,
		uint64(srcPtr), uint64(len(src)),
		uint64(namePtr), uint64(len(name)),
		uint64(flags))
	if err != nil {
		return 0, err
	}
	val := scriptruntime.Value(uint32(v))
	r.handles.insert(val.Handle())
	return val, nil
}

// EvalFunction runs a compile-only result. The function value is
// consumed by the guest whether or not the run succeeds.
func (r *wazeroRealm) EvalFunction(ctx context.Context, fn scriptruntime.Value) (scriptruntime.Value, error) {
	if r.closed {
		return 0, errors.Closed("EvalFunction")
	}
	r.handles.remove(fn.Handle())
	v, err := r.engine.call(ctx, "qjs_eval_function", r.handle, uint64(fn))
	if err != nil {
		return 0, err
	}
	val := scriptruntime.Value(uint32(v))
	r.handles.insert(val.Handle())
	return val, nil
}

// BindImportMeta attaches module metadata to a compiled module. A
// nonzero guest status means the binding threw; the guest has already
// dumped the pending exception.
func (r *wazeroRealm) BindImportMeta(ctx context.Context, fn scriptruntime.Value, main bool) error {
	if r.closed {
		return errors.Closed("BindImportMeta")
	}
	var isMain uint64
	if main {
		isMain = 1
	}
	status, err := r.engine.call(ctx, "qjs_bind_import_meta", r.handle, uint64(fn), isMain)
	if err != nil {
		return err
	}
	if int32(uint32(status)) != 0 {
		return errors.Wrap(errors.PhaseCompile, errors.KindException, nil, "import metadata binding threw")
	}
	return nil
}

func (r *wazeroRealm) PromiseState(ctx context.Context, v scriptruntime.Value) (scriptruntime.PromiseState, error) {
	if r.closed {
		return 0, errors.Closed("PromiseState")
	}
	s, err := r.engine.call(ctx, "qjs_promise_state", r.handle, uint64(v))
	if err != nil {
		return 0, err
	}
	st := uint32(s)
	if st > uint32(scriptruntime.NotAPromise) {
		return 0, errors.Wrap(errors.PhaseExecute, errors.KindABI, nil, "promise state out of range")
	}
	return scriptruntime.PromiseState(st), nil
}

func (r *wazeroRealm) PromiseResult(ctx context.Context, v scriptruntime.Value) (scriptruntime.Value, error) {
	if r.closed {
		return 0, errors.Closed("PromiseResult")
	}
	res, err := r.engine.call(ctx, "qjs_promise_result", r.handle, uint64(v))
	if err != nil {
		return 0, err
	}
	val := scriptruntime.Value(uint32(res))
	r.handles.insert(val.Handle())
	return val, nil
}

// DumpError renders v's message and stack to the engine's error stream.
func (r *wazeroRealm) DumpError(ctx context.Context, v scriptruntime.Value) error {
	if r.closed {
		return errors.Closed("DumpError")
	}
	_, err := r.engine.call(ctx, "qjs_dump_error", r.handle, uint64(v))
	return err
}

func (r *wazeroRealm) ToString(ctx context.Context, v scriptruntime.Value) (string, error) {
	if r.closed {
		return "", errors.Closed("ToString")
	}
	e := r.engine
	lenPtr := e.heap.Alloc(4)
	if lenPtr == 0 {
		_, live, limit := e.state.Snapshot()
		return "", errors.LimitExceeded(errors.PhaseExecute, 4, live, limit)
	}
	defer e.heap.Free(lenPtr)

	strPtr, err := e.call(ctx, "qjs_to_cstring", r.handle, uint64(v), uint64(lenPtr))
	if err != nil {
		return "", err
	}
	if strPtr == 0 {
		return "", errors.Wrap(errors.PhaseExecute, errors.KindException, nil, "string conversion threw")
	}
	length, err := e.readU32(lenPtr)
	if err != nil {
		return "", err
	}
	data, err := e.readBytes(uint32(strPtr), length)
	_, _ = e.call(ctx, "qjs_free_cstring", r.handle, strPtr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Free releases a value handle. Unknown or already-freed handles never
// reach the guest.
func (r *wazeroRealm) Free(ctx context.Context, v scriptruntime.Value) {
	if r.closed || v == scriptruntime.Undefined {
		return
	}
	if !r.handles.remove(v.Handle()) {
		return
	}
	_, _ = r.engine.call(ctx, "qjs_free_value", r.handle, uint64(v))
}

// InstallGlobals binds the named standard modules onto global scope.
func (r *wazeroRealm) InstallGlobals(ctx context.Context, names ...string) error {
	if r.closed {
		return errors.Closed("InstallGlobals")
	}
	e := r.engine
	for _, name := range names {
		ptr, err := e.pushBytes([]byte(name))
		if err != nil {
			return err
		}
		status, err := e.call(ctx, "qjs_install_module", r.handle, uint64(ptr), uint64(len(name)))
		e.heap.Free(ptr)
		if err != nil {
			return err
		}
		if int32(uint32(status)) != 0 {
			return errors.NotFound(errors.PhaseConfigure, "module", name)
		}
	}
	return nil
}

// SetScriptArgs exposes args to scripts as the argument array global.
func (r *wazeroRealm) SetScriptArgs(ctx context.Context, args []string) error {
	if r.closed {
		return errors.Closed("SetScriptArgs")
	}
	e := r.engine
	joined := strings.Join(args, "\x00")
	ptr, err := e.pushBytes([]byte(joined))
	if err != nil {
		return err
	}
	status, err := e.call(ctx, "qjs_set_script_args", r.handle, uint64(ptr), uint64(len(joined)))
	e.heap.Free(ptr)
	if err != nil {
		return err
	}
	if int32(uint32(status)) != 0 {
		return errors.Wrap(errors.PhaseConfigure, errors.KindException, nil, "installing script arguments threw")
	}
	return nil
}

func (r *wazeroRealm) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	e := r.engine

	leaked := r.handles.drain()
	if len(leaked) > 0 {
		Logger().Warn("realm closed with live script values",
			zap.String("engine", e.name),
			zap.Int("count", len(leaked)))
		for _, h := range leaked {
			_, _ = e.call(ctx, "qjs_free_value", r.handle, uint64(h))
		}
	}
	r.handles.close()

	_, err := e.call(ctx, "qjs_context_free", r.handle)
	r.handle = 0
	r.engine = nil
	return err
}

// wazeroMemory adapts the instance's linear memory to the root Memory
// contract.
type wazeroMemory struct {
	mem api.Memory
}

var _ scriptruntime.Memory = (*wazeroMemory)(nil)

func (m *wazeroMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	return m.mem.Read(offset, byteCount)
}

func (m *wazeroMemory) Write(offset uint32, data []byte) bool {
	return m.mem.Write(offset, data)
}

func (m *wazeroMemory) Size() uint32 {
	return m.mem.Size()
}

func (m *wazeroMemory) Grow(deltaPages uint32) (uint32, bool) {
	return m.mem.Grow(deltaPages)
}
