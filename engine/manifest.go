package engine

import (
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/script-runtime/errors"
)

// Manifest is the YAML sidecar describing an engine binary. It travels
// next to the wasm file so deployments can carry per-build memory
// layout without recompiling the host.
//
//	name: quickjs
//	version: 2024-01-13
//	binary: quickjs.wasm
//	heap_start: 0
//	memory_limit_pages: 4096
type Manifest struct {
	// Name identifies the engine build in logs and diagnostics.
	Name string `yaml:"name"`
	// Version is the guest build's version string.
	Version string `yaml:"version"`
	// Binary is the wasm file path, resolved against the manifest's
	// directory when relative.
	Binary string `yaml:"binary"`
	// HeapStart overrides where the host heap begins. Zero keeps the
	// default placement at the end of the guest's initial memory.
	HeapStart uint32 `yaml:"heap_start"`
	// MemoryLimitPages caps the instance linear memory in 64KiB pages.
	// Zero keeps the wazero default.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

// LoadManifest parses an engine manifest and resolves its binary path.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.LoadFailed("opening engine manifest", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return nil, errors.InvalidInput(errors.PhaseLoad, "engine manifest is empty")
		}
		return nil, errors.LoadFailed("parsing engine manifest", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(m.Binary) {
		m.Binary = filepath.Join(filepath.Dir(path), m.Binary)
	}
	return &m, nil
}

// Validate checks the manifest fields that do not require IO.
func (m *Manifest) Validate() error {
	if m.Binary == "" {
		return errors.InvalidInput(errors.PhaseLoad, "engine manifest has no binary path")
	}
	return nil
}

// ReadBinary loads the wasm module the manifest points at.
func (m *Manifest) ReadBinary() ([]byte, error) {
	data, err := os.ReadFile(m.Binary)
	if err != nil {
		return nil, errors.LoadFailed("reading engine binary", err)
	}
	return data, nil
}
