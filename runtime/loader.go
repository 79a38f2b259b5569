package runtime

import (
	"os"
	"path"
	"strings"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/errors"
)

// FileLoader resolves and fetches modules from the filesystem. Module
// names use forward slashes regardless of host platform.
type FileLoader struct{}

var _ scriptruntime.ModuleLoader = FileLoader{}

// Normalize resolves relative references against the importing module's
// directory. Bare names pass through untouched so the engine's built-in
// modules ("std", "os") and any registered names keep working.
func (FileLoader) Normalize(base, ref string) (string, error) {
	if !strings.HasPrefix(ref, "./") && !strings.HasPrefix(ref, "../") {
		return ref, nil
	}
	return path.Join(path.Dir(base), ref), nil
}

// Load reads the module source. The engine turns a failed load into a
// script-level reference error at the import site.
func (FileLoader) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.LoadFailed("reading module "+name, err)
	}
	return data, nil
}
