package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/alloc"
	"github.com/wippyai/script-runtime/engine"
	scripterrors "github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/runtime"
)

const maxIncludes = 32

// includeList collects repeated -I/--include flags.
type includeList []string

func (l *includeList) String() string { return strings.Join(*l, ",") }

func (l *includeList) Set(v string) error {
	if len(*l) >= maxIncludes {
		return errors.New("too many included files")
	}
	*l = append(*l, v)
	return nil
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: qjs [options] [file [args]]
-h  --help         list options
-e  --eval EXPR    evaluate EXPR
-i  --interactive  go to interactive mode
-m  --module       load as ES6 module (default=autodetect)
    --script       load as ES6 script (default=autodetect)
-I  --include file include an additional file
    --std          make 'std' and 'os' available to the loaded script
-T  --trace        trace memory allocation
-d  --dump         dump the memory usage stats
    --memory-limit n  limit the memory usage to 'n' bytes (SI suffixes allowed)
    --stack-size n    limit the stack size to 'n' bytes (SI suffixes allowed)
    --no-unhandled-rejection  ignore unhandled promise rejections
-s                 strip all the debug info
    --strip-source strip the source code
-q  --quit         just instantiate the interpreter and quit
    --engine file.wasm       engine binary (default=$QJS_WASM)
    --engine-manifest file   engine manifest (default=<engine>.yaml)
-v  --verbose      log host internals
`)
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		expr         string
		includes     includeList
		interactive  bool
		forceModule  bool
		forceScript  bool
		loadStd      bool
		traceMem     bool
		dumpMem      bool
		memLimit     string
		stackSize    string
		noRejection  bool
		stripDebug   bool
		stripSource  bool
		emptyRun     bool
		enginePath   string
		manifestPath string
		verbose      bool
	)
	flag.StringVar(&expr, "e", "", "evaluate EXPR")
	flag.StringVar(&expr, "eval", "", "evaluate EXPR")
	flag.BoolVar(&interactive, "i", false, "go to interactive mode")
	flag.BoolVar(&interactive, "interactive", false, "go to interactive mode")
	flag.BoolVar(&forceModule, "m", false, "load as ES6 module")
	flag.BoolVar(&forceModule, "module", false, "load as ES6 module")
	flag.BoolVar(&forceScript, "script", false, "load as ES6 script")
	flag.Var(&includes, "I", "include an additional file")
	flag.Var(&includes, "include", "include an additional file")
	flag.BoolVar(&loadStd, "std", false, "make 'std' and 'os' available to the loaded script")
	flag.BoolVar(&traceMem, "T", false, "trace memory allocation")
	flag.BoolVar(&traceMem, "trace", false, "trace memory allocation")
	flag.BoolVar(&dumpMem, "d", false, "dump the memory usage stats")
	flag.BoolVar(&dumpMem, "dump", false, "dump the memory usage stats")
	flag.StringVar(&memLimit, "memory-limit", "", "limit the memory usage to 'n' bytes")
	flag.StringVar(&stackSize, "stack-size", "", "limit the stack size to 'n' bytes")
	flag.BoolVar(&noRejection, "no-unhandled-rejection", false, "ignore unhandled promise rejections")
	flag.BoolVar(&stripDebug, "s", false, "strip all the debug info")
	flag.BoolVar(&stripSource, "strip-source", false, "strip the source code")
	flag.BoolVar(&emptyRun, "q", false, "just instantiate the interpreter and quit")
	flag.BoolVar(&emptyRun, "quit", false, "just instantiate the interpreter and quit")
	flag.StringVar(&enginePath, "engine", "", "engine binary")
	flag.StringVar(&manifestPath, "engine-manifest", "", "engine manifest")
	flag.BoolVar(&verbose, "v", false, "log host internals")
	flag.BoolVar(&verbose, "verbose", false, "log host internals")
	flag.Usage = usage
	flag.Parse()

	// distinguish -e '' from no -e at all
	hasExpr := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "e" || f.Name == "eval" {
			hasExpr = true
		}
	})

	if verbose {
		if lg, err := zap.NewDevelopment(); err == nil {
			defer func() { _ = lg.Sync() }()
			engine.SetLogger(lg)
			runtime.SetLogger(lg)
		}
	}

	memLimitBytes, ok := parseSize(memLimit)
	if !ok {
		return 2
	}
	stackBytes, ok := parseSize(stackSize)
	if !ok {
		return 2
	}

	binary, manifest, err := loadEngine(enginePath, manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qjs: %v\n", err)
		return 2
	}
	name := "qjs"
	if manifest != nil && manifest.Name != "" {
		name = manifest.Name
	}

	strip := scriptruntime.StripNone
	if stripDebug {
		strip = scriptruntime.StripDebug
	}
	if stripSource {
		strip = scriptruntime.StripSource
	}
	forceKind := runtime.KindAuto
	if forceModule {
		forceKind = runtime.KindModule
	}
	if forceScript {
		forceKind = runtime.KindGlobal
	}

	args := flag.Args()
	mainFile := ""
	if len(args) > 0 {
		mainFile = args[0]
	}

	// with nothing to run and a pipe on stdin, the pipe is the unit
	stdinTTY := term.IsTerminal(int(os.Stdin.Fd()))
	var stdinSrc []byte
	if !hasExpr && mainFile == "" && !interactive && !emptyRun && !stdinTTY {
		src, rerr := io.ReadAll(os.Stdin)
		if rerr != nil {
			fmt.Fprintf(os.Stderr, "qjs: %v\n", rerr)
			return 2
		}
		stdinSrc = src
	}

	cfg := runtime.Config{
		NewEngine: func(ctx context.Context, state *alloc.State, trace io.Writer) (scriptruntime.Engine, error) {
			ecfg := engine.Config{
				Binary: binary,
				Name:   name,
				Stdout: os.Stdout,
				Stderr: os.Stderr,
				State:  state,
				Trace:  trace,
			}
			if manifest != nil {
				ecfg.HeapStart = manifest.HeapStart
				ecfg.MemoryLimitPages = manifest.MemoryLimitPages
			}
			return engine.New(ctx, ecfg)
		},
		MemoryLimit:             memLimitBytes,
		StackSize:               stackBytes,
		Strip:                   strip,
		TraceMemory:             traceMem,
		DumpMemory:              dumpMem,
		EmptyRun:                emptyRun,
		LoadStd:                 loadStd,
		Includes:                includes,
		Expr:                    expr,
		HasExpr:                 hasExpr,
		MainFile:                mainFile,
		Stdin:                   stdinSrc,
		ForceKind:               forceKind,
		Interactive:             interactive,
		DisableRejectionTracker: noRejection,
		Args:                    args,
	}
	if interactive || stdinTTY {
		cfg.Interact = runREPL
	}

	return runtime.NewRunner(cfg).Run(context.Background())
}

// parseSize maps a size flag through the suffix grammar. Malformed
// values are fatal configuration errors.
func parseSize(v string) (uint64, bool) {
	if v == "" {
		return 0, true
	}
	n, err := runtime.ParseByteSize(v)
	if err != nil {
		var se *scripterrors.Error
		if errors.As(err, &se) && se.Detail != "" {
			fmt.Fprintf(os.Stderr, "qjs: %s\n", se.Detail)
		} else {
			fmt.Fprintf(os.Stderr, "qjs: %v\n", err)
		}
		return 0, false
	}
	return n, true
}

// loadEngine resolves the engine binary. An explicit manifest wins;
// otherwise the --engine path or $QJS_WASM is used, with its yaml
// sidecar picked up when one sits next to the binary.
func loadEngine(enginePath, manifestPath string) ([]byte, *engine.Manifest, error) {
	if manifestPath == "" {
		if enginePath == "" {
			enginePath = os.Getenv("QJS_WASM")
		}
		if enginePath == "" {
			return nil, nil, errors.New("no engine binary; pass --engine or set QJS_WASM")
		}
		if side := enginePath + ".yaml"; fileExists(side) {
			manifestPath = side
		}
	}
	if manifestPath != "" {
		m, err := engine.LoadManifest(manifestPath)
		if err != nil {
			return nil, nil, err
		}
		bin, err := m.ReadBinary()
		if err != nil {
			return nil, nil, err
		}
		return bin, m, nil
	}
	bin, err := os.ReadFile(enginePath)
	if err != nil {
		return nil, nil, err
	}
	return bin, nil, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
