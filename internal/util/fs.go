package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

func SafeJoin(root, name string) string {
	return filepath.Join(root, filepath.Base(name))
}

// PaperDir is the artifact directory for a paper. Old-style arXiv ids
// ("hep-th/9901001") contain a slash, so it is flattened.
func PaperDir(root, paperID string) string {
	return filepath.Join(root, "papers", strings.ReplaceAll(paperID, "/", "_"))
}
