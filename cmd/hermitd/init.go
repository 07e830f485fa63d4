package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/hermitd/internal/defaults"
)

// runInit writes the bundled example configuration to dir/hermitd.yaml.
// An existing file is never overwritten.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "hermitd.yaml")
	written, err := writeIfMissing(configPath, defaults.ConfigYAML)
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(w, "  ✓ %s\n", configPath)
	} else {
		fmt.Fprintf(w, "  - %s already exists, left unchanged\n", configPath)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit hermitd.yaml to choose a model, then run: hermitd serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist. The file may hold API keys, so it is created private.
func writeIfMissing(path string, content []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
