package pyworker

import (
	"fmt"
	"os"
)

// NewWorkDir creates a fresh per-call directory under root and returns it with
// a cleanup func that removes it.
func NewWorkDir(root, prefix string) (string, func(), error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", nil, fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, prefix+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
