package scriptruntime

import "context"

// Value is an opaque handle to a script value owned by an engine realm.
// Handle 0 is the absent value. Bit 31 carries the exception marker so
// failure checks never need a guest call.
type Value uint32

// Undefined is the zero Value.
const Undefined Value = 0

const exceptionBit Value = 1 << 31

// IsException reports whether v carries the exception marker.
func IsException(v Value) bool {
	return v&exceptionBit != 0
}

// AsException returns v with the exception marker set.
func AsException(v Value) Value {
	return v | exceptionBit
}

// Handle returns the raw handle index with the exception marker stripped.
func (v Value) Handle() uint32 {
	return uint32(v &^ exceptionBit)
}

// PromiseState describes the settlement state of a value.
type PromiseState uint8

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
	NotAPromise
)

func (s PromiseState) String() string {
	switch s {
	case PromisePending:
		return "pending"
	case PromiseFulfilled:
		return "fulfilled"
	case PromiseRejected:
		return "rejected"
	default:
		return "not-a-promise"
	}
}

// EvalFlags select how a source buffer is compiled and run.
type EvalFlags uint32

const (
	// EvalGlobal compiles and runs the buffer as a classic script.
	EvalGlobal EvalFlags = 0
	// EvalModule treats the buffer as a module with its own scope.
	EvalModule EvalFlags = 1 << 0
	// EvalCompileOnly compiles without running, so module metadata can be
	// attached before the body executes.
	EvalCompileOnly EvalFlags = 1 << 5
)

// StripMode controls how much debug information the engine retains.
type StripMode uint8

const (
	StripNone StripMode = iota
	StripDebug
	StripSource
)

// Memory is a bounds-checked view of an engine's linear memory.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, data []byte) bool
	// Size returns the current size in bytes.
	Size() uint32
	// Grow extends the memory by deltaPages 64KiB pages and returns the
	// previous size in pages.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// Allocator is the allocation backend contract an engine runtime is
// constructed against. Failure is signalled by a zero pointer, identical in
// shape to out-of-memory from a system allocator; implementations never
// panic on exhaustion.
//
// Zero-size Alloc requests are disallowed; callers must not issue them.
type Allocator interface {
	// Alloc returns a block of at least size bytes, or 0 on failure.
	Alloc(size uint32) uint32
	// Realloc resizes a block. Realloc(0, n) allocates; Realloc(p, 0)
	// frees p and returns 0. On failure the original block is untouched.
	Realloc(ptr, size uint32) uint32
	// Free releases a block. Free(0) is a no-op.
	Free(ptr uint32)
	// UsableSize reports the true reserved size of a live block, or 0
	// when unknown. It is a pure query.
	UsableSize(ptr uint32) uint32
}

// ModuleLoader resolves and fetches module source for the engine.
type ModuleLoader interface {
	// Normalize resolves ref against the importing module base name.
	Normalize(base, ref string) (string, error)
	// Load returns the source bytes for a normalized module name.
	Load(name string) ([]byte, error)
}

// RejectionHandler is invoked when a promise settles rejected with no
// attached handler by the time the job queue drains. The reason is already
// rendered to text by the engine.
type RejectionHandler func(reason string, handled bool)

// MemoryUsage is the engine's own allocation accounting snapshot.
type MemoryUsage struct {
	MallocCount     int64 `json:"malloc_count"`
	MallocSize      int64 `json:"malloc_size"`
	MallocLimit     int64 `json:"malloc_limit"`
	MemoryUsedCount int64 `json:"memory_used_count"`
	MemoryUsedSize  int64 `json:"memory_used_size"`
	AtomCount       int64 `json:"atom_count"`
	AtomSize        int64 `json:"atom_size"`
	StrCount        int64 `json:"str_count"`
	StrSize         int64 `json:"str_size"`
	ObjCount        int64 `json:"obj_count"`
	ObjSize         int64 `json:"obj_size"`
	PropCount       int64 `json:"prop_count"`
	PropSize        int64 `json:"prop_size"`
	ShapeCount      int64 `json:"shape_count"`
	ShapeSize       int64 `json:"shape_size"`
	JSFuncCount     int64 `json:"js_func_count"`
	JSFuncSize      int64 `json:"js_func_size"`
}

// Engine owns one script runtime instance. Methods returning error report
// engine faults (a trap, a closed engine), never script-level outcomes;
// script failures travel as exception Values.
//
// Engine is NOT safe for concurrent use; the process model is one logical
// thread of control per engine.
type Engine interface {
	// NewRealm constructs the primary evaluation context with the
	// standard module set installed.
	NewRealm(ctx context.Context) (Realm, error)

	// ExecutePendingJob runs one queued job. It reports false when the
	// queue is empty. Script-level job failures are dumped by the engine
	// and do not surface as errors.
	ExecutePendingJob(ctx context.Context) (ran bool, err error)

	// Poll services timer and IO events, reporting false when idle.
	Poll(ctx context.Context) (ran bool, err error)

	SetMemoryLimit(bytes uint64) error
	SetMaxStackSize(bytes uint64) error
	SetStrip(mode StripMode) error
	SetModuleLoader(l ModuleLoader) error
	// SetRejectionTracker installs h as the unhandled-rejection callback.
	// A nil handler disables tracking.
	SetRejectionTracker(h RejectionHandler) error
	// EnableWorkerRealms makes nested worker contexts mirror the primary
	// realm's standard module setup.
	EnableWorkerRealms() error

	// InitHostHandlers installs process-wide IO/event handler state.
	// FreeHostHandlers releases it; both are once-per-engine calls.
	InitHostHandlers(ctx context.Context) error
	FreeHostHandlers(ctx context.Context) error

	MemoryUsage(ctx context.Context) (*MemoryUsage, error)

	Close(ctx context.Context) error
}

// Realm is one evaluation context. Values returned by Realm methods are
// owned by the caller and must be released with Free.
//
// Realm is NOT safe for concurrent use.
type Realm interface {
	// Eval compiles (and unless EvalCompileOnly is set, runs) src. The
	// result carries the exception marker on compile or runtime failure.
	Eval(ctx context.Context, src []byte, name string, flags EvalFlags) (Value, error)

	// EvalFunction runs a compile-only result and consumes it.
	EvalFunction(ctx context.Context, fn Value) (Value, error)

	// BindImportMeta attaches module metadata (module URL, main flag) to
	// a compiled module before its body runs.
	BindImportMeta(ctx context.Context, fn Value, main bool) error

	PromiseState(ctx context.Context, v Value) (PromiseState, error)
	// PromiseResult returns the settled result of a promise value. The
	// promise itself stays live until freed.
	PromiseResult(ctx context.Context, v Value) (Value, error)

	// DumpError renders a value's message and stack to the engine's
	// error stream.
	DumpError(ctx context.Context, v Value) error

	ToString(ctx context.Context, v Value) (string, error)
	Free(ctx context.Context, v Value)

	// InstallGlobals binds the named standard modules onto global scope.
	InstallGlobals(ctx context.Context, names ...string) error
	// SetScriptArgs exposes args to scripts as the argument array global.
	SetScriptArgs(ctx context.Context, args []string) error

	Close(ctx context.Context) error
}
