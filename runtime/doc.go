// Package runtime turns source text into running programs: it models
// source units, classifies them as modules or scripts, dispatches
// evaluation with top-level-await semantics, and sequences the whole
// process lifecycle with deterministic exit codes.
//
// # Quick Start
//
//	cfg := runtime.Config{
//	    NewEngine: func(ctx context.Context, state *alloc.State, trace io.Writer) (scriptruntime.Engine, error) {
//	        return engine.New(ctx, engine.Config{
//	            Binary: wasmBytes,
//	            State:  state,
//	            Trace:  trace,
//	        })
//	    },
//	    MainFile: "app.js",
//	}
//	os.Exit(runtime.NewRunner(cfg).Run(ctx))
//
// # Source Kinds
//
// A unit runs as a module or as a classic script. KindAuto resolves by
// name suffix and a leading-syntax sniff:
//
//	Classify(SourceUnit{Name: "a.mjs"})                  // module
//	Classify(SourceUnit{Src: []byte("export let x")})    // module
//	Classify(SourceUnit{Src: []byte("let x = 1")})       // global
//
// Modules compile first so import.meta is bound before the body runs,
// then the completion promise is settled by servicing the job queue.
// Globals and expressions run in a single step.
//
// # Lifecycle
//
// Runner.Run walks: construct engine, apply limits, install handlers,
// construct realm, install loader and rejection tracker, run units
// (std/os bootstrap, includes, expression, main file or piped stdin,
// interactive session), drain the job queue, dump stats, tear down.
// The first failed unit aborts the rest of the run.
//
// Exit codes: 0 clean, 1 a unit failed, 2 the engine or realm could
// not be constructed.
//
// # Thread Safety
//
// Nothing in this package is safe for concurrent use. One Runner, one
// Dispatcher, one logical thread of control per engine.
package runtime
