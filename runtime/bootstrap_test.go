package runtime

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"testing"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/alloc"
	"github.com/wippyai/script-runtime/enginetest"
)

// harness adapts the scripted engine to the Config.NewEngine factory,
// capturing the constructed engine for assertions.
type harness struct {
	base enginetest.Config
	eng  *enginetest.Engine
}

func newHarness(scripts map[string]enginetest.Script) *harness {
	return &harness{base: enginetest.Config{Scripts: scripts}}
}

func (h *harness) factory(ctx context.Context, state *alloc.State, trace io.Writer) (scriptruntime.Engine, error) {
	cfg := h.base
	cfg.State = state
	cfg.Trace = trace
	eng, err := enginetest.New(cfg)
	if err != nil {
		return nil, err
	}
	h.eng = eng
	return eng, nil
}

func logIndex(log []string, entry string) int {
	for i, e := range log {
		if e == entry {
			return i
		}
	}
	return -1
}

func writeScript(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunnerExpression(t *testing.T) {
	h := newHarness(map[string]enginetest.Script{"1 + 1": {Result: "2"}})
	var stderr bytes.Buffer
	r := NewRunner(Config{
		NewEngine: h.factory,
		Expr:      "1 + 1",
		HasExpr:   true,
		Stderr:    &stderr,
	})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0 (stderr %q)", code, stderr.String())
	}
	if r.State() != StateTornDown {
		t.Fatalf("state = %v, want %v", r.State(), StateTornDown)
	}

	want := []string{
		"SetStrip 0",
		"EnableWorkerRealms",
		"InitHostHandlers",
		"NewRealm",
		"SetModuleLoader",
		"SetRejectionTracker on",
		"SetScriptArgs 0",
		"Eval <cmdline>",
		"FreeHostHandlers",
		"Realm.Close",
		"Engine.Close",
	}
	if !reflect.DeepEqual(h.eng.Log, want) {
		t.Fatalf("Log = %v\nwant  %v", h.eng.Log, want)
	}
}

func TestRunnerAppliesLimits(t *testing.T) {
	h := newHarness(nil)
	r := NewRunner(Config{
		NewEngine:   h.factory,
		MemoryLimit: 1 << 20,
		StackSize:   1 << 18,
		Strip:       scriptruntime.StripSource,
		EmptyRun:    true,
		Stderr:      io.Discard,
	})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	for _, entry := range []string{"SetMemoryLimit 1048576", "SetMaxStackSize 262144", "SetStrip 2"} {
		if logIndex(h.eng.Log, entry) < 0 {
			t.Fatalf("Log = %v, missing %q", h.eng.Log, entry)
		}
	}
}

func TestRunnerFirstFailureAborts(t *testing.T) {
	first := writeScript(t, "first.js", "throw new Error('early');")
	second := writeScript(t, "second.js", "after();")
	h := newHarness(map[string]enginetest.Script{
		"throw new Error('early');": {Result: "Error: early", Throw: true},
		"after();":                  {Result: "undefined"},
	})
	var stderr bytes.Buffer
	h.base.Stderr = &stderr
	r := NewRunner(Config{
		NewEngine: h.factory,
		Includes:  []string{first, second},
		Expr:      "1 + 1",
		HasExpr:   true,
		Stderr:    &stderr,
	})

	if code := r.Run(context.Background()); code != 1 {
		t.Fatalf("Run = %d, want 1", code)
	}
	if logIndex(h.eng.Log, "Eval "+second) >= 0 {
		t.Fatalf("second include still ran: %v", h.eng.Log)
	}
	if logIndex(h.eng.Log, "Eval <cmdline>") >= 0 {
		t.Fatalf("expression ran after a failed include: %v", h.eng.Log)
	}
	if !strings.Contains(stderr.String(), "Error: early") {
		t.Fatalf("stderr = %q, want the dumped exception", stderr.String())
	}
	if r.State() != StateTornDown {
		t.Fatalf("state = %v, want %v", r.State(), StateTornDown)
	}
}

func TestRunnerEngineConstructionFails(t *testing.T) {
	h := newHarness(nil)
	h.base.FailConstruction = true
	var stderr bytes.Buffer
	r := NewRunner(Config{NewEngine: h.factory, Stderr: &stderr})

	if code := r.Run(context.Background()); code != 2 {
		t.Fatalf("Run = %d, want 2", code)
	}
	if got := stderr.String(); got != "qjs: cannot allocate JS runtime\n" {
		t.Fatalf("stderr = %q", got)
	}
	if r.State() != StateUninitialized {
		t.Fatalf("state = %v, want %v", r.State(), StateUninitialized)
	}
}

func TestRunnerContextAllocationFails(t *testing.T) {
	h := newHarness(nil)
	h.base.RealmFootprint = 256 << 10
	var stderr bytes.Buffer
	r := NewRunner(Config{
		NewEngine:   h.factory,
		MemoryLimit: 64 << 10,
		Expr:        "1 + 1",
		HasExpr:     true,
		Stderr:      &stderr,
	})

	if code := r.Run(context.Background()); code != 2 {
		t.Fatalf("Run = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "qjs: cannot allocate JS context") {
		t.Fatalf("stderr = %q", stderr.String())
	}
	// construction failure exits straight; nothing is torn down
	for _, entry := range []string{"FreeHostHandlers", "Realm.Close", "Engine.Close"} {
		if logIndex(h.eng.Log, entry) >= 0 {
			t.Fatalf("Log = %v, teardown ran after a failed context", h.eng.Log)
		}
	}
	if r.State() != StateRuntimeConstructed {
		t.Fatalf("state = %v, want %v", r.State(), StateRuntimeConstructed)
	}
}

func TestRunnerRejectionNoticeIsDiagnosticOnly(t *testing.T) {
	src := "sideEffect(); await main();"
	main := writeScript(t, "main.mjs", src)
	h := newHarness(map[string]enginetest.Script{
		src: {Result: "oops", Jobs: 2, Notices: 1},
	})
	var stderr bytes.Buffer
	r := NewRunner(Config{NewEngine: h.factory, MainFile: main, Stderr: &stderr})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	want := "Possibly unhandled promise rejection: oops\n"
	if got := stderr.String(); got != want {
		t.Fatalf("stderr = %q, want %q", got, want)
	}
}

func TestRunnerInteractiveDisablesTracker(t *testing.T) {
	h := newHarness(map[string]enginetest.Script{"1 + 1": {Result: "2"}})
	interacted := false
	r := NewRunner(Config{
		NewEngine:   h.factory,
		Expr:        "1 + 1",
		HasExpr:     true,
		Interactive: true,
		Stderr:      io.Discard,
		Interact: func(ctx context.Context, realm scriptruntime.Realm, eng scriptruntime.Engine) error {
			interacted = true
			return nil
		},
	})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	if !interacted {
		t.Fatal("the interactive session never ran")
	}
	on := logIndex(h.eng.Log, "SetRejectionTracker on")
	off := logIndex(h.eng.Log, "SetRejectionTracker off")
	if on < 0 || off < 0 || off < on {
		t.Fatalf("Log = %v, want the tracker installed then dropped", h.eng.Log)
	}
	if h.eng.Tracker() != nil {
		t.Fatal("tracker still installed during the session")
	}
}

func TestRunnerImpliedInteractive(t *testing.T) {
	h := newHarness(nil)
	interacted := false
	r := NewRunner(Config{
		NewEngine: h.factory,
		Stderr:    io.Discard,
		Interact: func(ctx context.Context, realm scriptruntime.Realm, eng scriptruntime.Engine) error {
			interacted = true
			return nil
		},
	})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	if !interacted {
		t.Fatal("no unit ran, yet no session was started")
	}
}

func TestRunnerStdBootstrapFailureIsIgnored(t *testing.T) {
	h := newHarness(map[string]enginetest.Script{
		stdBootstrap: {Result: "ReferenceError: std", Throw: true},
		"1 + 1":      {Result: "2"},
	})
	var stderr bytes.Buffer
	h.base.Stderr = &stderr
	r := NewRunner(Config{
		NewEngine: h.factory,
		LoadStd:   true,
		Expr:      "1 + 1",
		HasExpr:   true,
		Stderr:    &stderr,
	})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	boot := logIndex(h.eng.Log, "Eval <input>")
	expr := logIndex(h.eng.Log, "Eval <cmdline>")
	if boot < 0 || expr < 0 || expr < boot {
		t.Fatalf("Log = %v, want the bootstrap before the expression", h.eng.Log)
	}
	if !strings.Contains(stderr.String(), "ReferenceError: std") {
		t.Fatalf("stderr = %q, want the dumped bootstrap error", stderr.String())
	}
}

func TestRunnerStdBootstrapIsModuleUnit(t *testing.T) {
	h := newHarness(map[string]enginetest.Script{"1 + 1": {Result: "2"}})
	r := NewRunner(Config{
		NewEngine: h.factory,
		LoadStd:   true,
		Expr:      "1 + 1",
		HasExpr:   true,
		Stderr:    io.Discard,
	})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	boot := logIndex(h.eng.Log, "Eval <input>")
	bind := logIndex(h.eng.Log, "BindImportMeta main")
	if boot < 0 || bind != boot+1 {
		t.Fatalf("Log = %v, want import metadata bound on the bootstrap unit", h.eng.Log)
	}
}

func TestRunnerEmptyRun(t *testing.T) {
	h := newHarness(nil)
	r := NewRunner(Config{NewEngine: h.factory, EmptyRun: true, Stderr: io.Discard})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	for _, entry := range h.eng.Log {
		if strings.HasPrefix(entry, "Eval") || strings.HasPrefix(entry, "SetScriptArgs") {
			t.Fatalf("empty run still evaluated something: %v", h.eng.Log)
		}
	}
	if r.State() != StateTornDown {
		t.Fatalf("state = %v, want %v", r.State(), StateTornDown)
	}
}

func TestRunnerDumpMemory(t *testing.T) {
	h := newHarness(map[string]enginetest.Script{"1 + 1": {Result: "2"}})
	h.base.RuntimeFootprint = 4096
	var stdout bytes.Buffer
	r := NewRunner(Config{
		NewEngine:  h.factory,
		Expr:       "1 + 1",
		HasExpr:    true,
		DumpMemory: true,
		Stdout:     &stdout,
		Stderr:     io.Discard,
	})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	out := stdout.String()
	if !strings.Contains(out, "memory usage -- malloc limit: -1") {
		t.Fatalf("stdout = %q, want the unlimited-limit header", out)
	}
	for _, row := range []string{"memory allocated", "memory used", "atoms", "objects", "bytecode functions"} {
		if !strings.Contains(out, row) {
			t.Fatalf("stdout = %q, missing row %q", out, row)
		}
	}
	dump := logIndex(h.eng.Log, "MemoryUsage")
	free := logIndex(h.eng.Log, "FreeHostHandlers")
	if dump < 0 || free < 0 || free < dump {
		t.Fatalf("Log = %v, want the snapshot taken before teardown", h.eng.Log)
	}
}

func TestRunnerDumpMemorySkippedOnFailure(t *testing.T) {
	h := newHarness(map[string]enginetest.Script{
		"x": {Result: "ReferenceError: x is not defined", Throw: true},
	})
	var stdout bytes.Buffer
	r := NewRunner(Config{
		NewEngine:  h.factory,
		Expr:       "x",
		HasExpr:    true,
		DumpMemory: true,
		Stdout:     &stdout,
		Stderr:     io.Discard,
	})

	if code := r.Run(context.Background()); code != 1 {
		t.Fatalf("Run = %d, want 1", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout = %q, want no usage dump after a failed unit", stdout.String())
	}
}

func TestRunnerBenchmark(t *testing.T) {
	h := newHarness(nil)
	var stdout bytes.Buffer
	r := NewRunner(Config{
		NewEngine:  h.factory,
		EmptyRun:   true,
		DumpMemory: true,
		Stdout:     &stdout,
		Stderr:     io.Discard,
	})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	re := regexp.MustCompile(`\nInstantiation times \(ms\): \d+\.\d{3} = \d+\.\d{3}\+\d+\.\d{3}\+\d+\.\d{3}\+\d+\.\d{3}\n`)
	if !re.MatchString(stdout.String()) {
		t.Fatalf("stdout = %q, want the instantiation report", stdout.String())
	}
}

func TestRunnerModuleAwaitDrains(t *testing.T) {
	src := "await work();"
	main := writeScript(t, "main.mjs", src)
	h := newHarness(map[string]enginetest.Script{src: {Result: "done", Jobs: 2}})
	r := NewRunner(Config{NewEngine: h.factory, MainFile: main, Stderr: io.Discard})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	if h.eng.JobsRan != 2 {
		t.Fatalf("JobsRan = %d, want 2", h.eng.JobsRan)
	}
}

func TestRunnerForceKind(t *testing.T) {
	src := "let x = 1;"
	t.Run("module forcing binds metadata", func(t *testing.T) {
		main := writeScript(t, "plain.js", src)
		h := newHarness(map[string]enginetest.Script{src: {Result: "undefined"}})
		r := NewRunner(Config{NewEngine: h.factory, MainFile: main, ForceKind: KindModule, Stderr: io.Discard})
		if code := r.Run(context.Background()); code != 0 {
			t.Fatalf("Run = %d, want 0", code)
		}
		if logIndex(h.eng.Log, "BindImportMeta main") < 0 {
			t.Fatalf("Log = %v, want the file treated as a module", h.eng.Log)
		}
	})
	t.Run("global forcing wins over suffix", func(t *testing.T) {
		main := writeScript(t, "plain.mjs", src)
		h := newHarness(map[string]enginetest.Script{src: {Result: "undefined"}})
		r := NewRunner(Config{NewEngine: h.factory, MainFile: main, ForceKind: KindGlobal, Stderr: io.Discard})
		if code := r.Run(context.Background()); code != 0 {
			t.Fatalf("Run = %d, want 0", code)
		}
		if logIndex(h.eng.Log, "BindImportMeta main") >= 0 {
			t.Fatalf("Log = %v, want the file treated as a plain script", h.eng.Log)
		}
	})
}

func TestRunnerTraceMemory(t *testing.T) {
	h := newHarness(nil)
	h.base.RuntimeFootprint = 4096
	var trace bytes.Buffer
	r := NewRunner(Config{
		NewEngine:   h.factory,
		EmptyRun:    true,
		TraceMemory: true,
		TraceOut:    &trace,
		Stderr:      io.Discard,
	})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	if !strings.Contains(trace.String(), "A 4096 -> ") {
		t.Fatalf("trace = %q, want the footprint allocation", trace.String())
	}
}

func TestRunnerStdinUnit(t *testing.T) {
	src := "export let x = answer();"
	h := newHarness(map[string]enginetest.Script{src: {Result: "undefined"}})
	r := NewRunner(Config{NewEngine: h.factory, Stdin: []byte(src), Stderr: io.Discard})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	if logIndex(h.eng.Log, "Eval <stdin>") < 0 {
		t.Fatalf("Log = %v, want the piped unit evaluated", h.eng.Log)
	}
	if logIndex(h.eng.Log, "BindImportMeta main") < 0 {
		t.Fatalf("Log = %v, want module autodetection on piped source", h.eng.Log)
	}
}

func TestRunnerUnreadableFileFails(t *testing.T) {
	h := newHarness(nil)
	var stderr bytes.Buffer
	r := NewRunner(Config{
		NewEngine: h.factory,
		MainFile:  filepath.Join(t.TempDir(), "absent.js"),
		Stderr:    &stderr,
	})

	if code := r.Run(context.Background()); code != 1 {
		t.Fatalf("Run = %d, want 1", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("the read error was not reported")
	}
	if r.State() != StateTornDown {
		t.Fatalf("state = %v, want %v", r.State(), StateTornDown)
	}
}
