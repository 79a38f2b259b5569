package engine

import (
	"bytes"
	"io"

	"github.com/wippyai/script-runtime/errors"
)

// WebAssembly binary framing constants.
const (
	wasmMagic   = 0x6d736100 // "\0asm"
	wasmVersion = 1

	sectionExport = 7

	exportKindFunc   = 0
	exportKindMemory = 2
)

// requiredExports lists the guest functions the engine ABI depends on.
// Preflight rejects a binary missing any of them before instantiation,
// so ABI drift surfaces as one clear error instead of a nil call later.
var requiredExports = []string{
	"qjs_runtime_new",
	"qjs_runtime_free",
	"qjs_set_max_stack_size",
	"qjs_set_strip",
	"qjs_set_loader",
	"qjs_set_rejection_tracker",
	"qjs_enable_workers",
	"qjs_init_handlers",
	"qjs_free_handlers",
	"qjs_context_new",
	"qjs_context_free",
	"qjs_eval",
	"qjs_eval_function",
	"qjs_bind_import_meta",
	"qjs_promise_state",
	"qjs_promise_result",
	"qjs_dump_error",
	"qjs_to_cstring",
	"qjs_free_cstring",
	"qjs_free_value",
	"qjs_install_module",
	"qjs_set_script_args",
	"qjs_execute_pending_job",
	"qjs_poll",
	"qjs_memory_json",
}

// Preflight checks that data is a core wasm module exporting the engine
// ABI: every required guest function plus an exported linear memory
// named "memory". It scans only section framing and the export section;
// full validation is the runtime's job at compile time.
func Preflight(data []byte) error {
	r := bytes.NewReader(data)

	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return errors.InvalidInput(errors.PhaseLoad, "truncated wasm header")
	}
	if le32(header[0:4]) != wasmMagic {
		return errors.InvalidInput(errors.PhaseLoad, "invalid wasm magic number")
	}
	if le32(header[4:8]) != wasmVersion {
		return errors.InvalidInput(errors.PhaseLoad, "unsupported wasm version")
	}

	funcs := make(map[string]bool)
	memoryExported := false

	for {
		id, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.InvalidInput(errors.PhaseLoad, "truncated section header")
		}
		size, err := readLEB128u(r)
		if err != nil {
			return errors.InvalidInput(errors.PhaseLoad, "bad section size")
		}
		if id != sectionExport {
			// Seeking past the end succeeds on a bytes.Reader, so the
			// bound has to be checked against what remains.
			if int64(size) > int64(r.Len()) {
				return errors.InvalidInput(errors.PhaseLoad, "truncated section body")
			}
			if _, err := r.Seek(int64(size), io.SeekCurrent); err != nil {
				return errors.InvalidInput(errors.PhaseLoad, "truncated section body")
			}
			continue
		}

		count, err := readLEB128u(r)
		if err != nil {
			return errors.InvalidInput(errors.PhaseLoad, "bad export count")
		}
		for i := uint32(0); i < count; i++ {
			nameLen, err := readLEB128u(r)
			if err != nil {
				return errors.InvalidInput(errors.PhaseLoad, "bad export name length")
			}
			name := make([]byte, nameLen)
			if _, err := io.ReadFull(r, name); err != nil {
				return errors.InvalidInput(errors.PhaseLoad, "truncated export name")
			}
			kind, err := r.ReadByte()
			if err != nil {
				return errors.InvalidInput(errors.PhaseLoad, "truncated export kind")
			}
			if _, err := readLEB128u(r); err != nil {
				return errors.InvalidInput(errors.PhaseLoad, "bad export index")
			}
			switch kind {
			case exportKindFunc:
				funcs[string(name)] = true
			case exportKindMemory:
				if string(name) == "memory" {
					memoryExported = true
				}
			}
		}
	}

	for _, name := range requiredExports {
		if !funcs[name] {
			return errors.MissingExport(name)
		}
	}
	if !memoryExported {
		return errors.MissingExport("memory")
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
