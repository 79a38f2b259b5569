// Package scriptruntime provides a Go host for an embedded JavaScript
// engine compiled to WebAssembly.
//
// The engine binary (a QuickJS build targeting wasm32) runs under wazero
// with its runtime allocator routed through host imports, so the host owns
// allocation policy: hard memory ceilings and diagnostic allocation tracing
// are applied outside the guest, without rebuilding it.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	scriptruntime/       Root package with the core contracts: Memory,
//	                     Allocator, Engine, Realm, Value
//	├── alloc/           Bounded tracing allocator: accounting state,
//	                     ceiling policy, trace stream, size-class heap
//	├── engine/          wazero integration: guest ABI bridge, binary
//	                     preflight, manifest, value-handle registry
//	├── runtime/         Source units, evaluation dispatcher, byte-size
//	                     parsing, module loader, process bootstrap
//	├── enginetest/      Scripted in-process engine fake for tests
//	├── errors/          Structured error types for debugging
//	└── cmd/run/         CLI driver with an interactive REPL
//
// # Quick Start
//
// Evaluate a file with a 64 MiB ceiling:
//
//	binary, err := os.ReadFile("qjs.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg := runtime.Config{
//	    NewEngine: func(ctx context.Context, state *alloc.State, trace io.Writer) (scriptruntime.Engine, error) {
//	        return engine.New(ctx, engine.Config{
//	            Binary: binary,
//	            Name:   "app",
//	            Stdout: os.Stdout,
//	            Stderr: os.Stderr,
//	            State:  state,
//	            Trace:  trace,
//	        })
//	    },
//	    MemoryLimit: 64 << 20,
//	    MainFile:    "app.js",
//	}
//	os.Exit(runtime.NewRunner(cfg).Run(ctx))
//
// # Evaluation Model
//
// A source unit is classified as a module, a classic script, or a bare
// expression. Modules compile first, receive their import metadata, then
// run; their completion value is awaited by cooperatively draining the
// engine's job queue. Classic scripts and expressions compile-and-run in
// one step with no implicit await.
//
// # Thread Safety
//
// Engine and Realm follow the engine's own execution model: exactly one
// logical thread of control per engine. Allocator accounting is mutex
// guarded so a bounded allocator may be observed from other goroutines,
// but evaluation itself must stay on a single goroutine.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. Freed guest blocks are
// recycled by the host-side heap but the pages stay reserved for the
// lifetime of the engine instance.
package scriptruntime
