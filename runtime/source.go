package runtime

import "strings"

// SourceKind selects how a source unit is compiled and run.
type SourceKind uint8

const (
	// KindAuto defers the module/global decision to Classify.
	KindAuto SourceKind = iota
	// KindGlobal runs the unit as a classic script.
	KindGlobal
	// KindModule runs the unit as an ES module with top-level await.
	KindModule
	// KindExpression is a one-shot command-line expression, always global.
	KindExpression
	// KindBootstrap is the inline std/os binding unit, always a module.
	KindBootstrap
)

func (k SourceKind) String() string {
	switch k {
	case KindAuto:
		return "auto"
	case KindGlobal:
		return "global"
	case KindModule:
		return "module"
	case KindExpression:
		return "expression"
	case KindBootstrap:
		return "bootstrap"
	default:
		return "unknown"
	}
}

// SourceUnit is one buffer of source text with its logical name.
// Units are immutable and consumed exactly once by the dispatcher.
type SourceUnit struct {
	Name string
	Src  []byte
	Kind SourceKind
}

// Classify resolves KindAuto to Module or Global: a ".mjs" name or
// leading module syntax means Module. Explicit kinds pass through.
func Classify(u SourceUnit) SourceKind {
	if u.Kind != KindAuto {
		return u.Kind
	}
	if strings.HasSuffix(u.Name, ".mjs") || DetectModule(u.Src) {
		return KindModule
	}
	return KindGlobal
}
