package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ResetDirectory removes path recursively if it exists, so a following fetch
// always starts from an empty location. It reports whether something was removed.
func ResetDirectory(path string) (bool, error) {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return false, fmt.Errorf("refusing to remove %q", path)
	}

	if _, err := os.Lstat(clean); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", clean, err)
	}

	if err := os.RemoveAll(clean); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", clean, err)
	}
	return true, nil
}
