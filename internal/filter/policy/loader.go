package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyBundle is returned when a bundle directory holds no policy modules.
var ErrEmptyBundle = errors.New("policy bundle contains no .rego modules")

// LoadBundle reads every .rego module under dir, descending into
// subdirectories. Rego test files (*_test.rego) are skipped. Module names are
// paths relative to dir.
func LoadBundle(dir string) (map[string]string, error) {
	modules := make(map[string]string)
	err := fs.WalkDir(os.DirFS(dir), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".rego" || strings.HasSuffix(path, "_test.rego") {
			return nil
		}
		data, err := os.ReadFile(filepath.Join(dir, path))
		if err != nil {
			return err
		}
		modules[path] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read policy bundle %s: %w", dir, err)
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyBundle, dir)
	}
	return modules, nil
}
