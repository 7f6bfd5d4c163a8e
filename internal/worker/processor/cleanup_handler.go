package processor

import (
	"fmt"
	"os"
	"sync"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
)

// Directory kinds handed to WorkDirs.Allocate.
const (
	KindSource    = "in"
	KindRendition = "out"
)

// WorkDirs owns the temporary directories of one invocation. Every directory
// it allocates is fresh and is removed by ReleaseAll.
type WorkDirs struct {
	root string
	log  *logger.Logger

	mu       sync.Mutex
	dirs     []string
	released bool
}

// NewWorkDirs allocates below root, or the OS temp dir when root is empty.
func NewWorkDirs(root string, log *logger.Logger) *WorkDirs {
	if log == nil {
		log = logger.Discard()
	}
	return &WorkDirs{root: root, log: log}
}

// Allocate creates a new directory that did not exist before the call.
func (w *WorkDirs) Allocate(kind string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return "", fmt.Errorf("work dirs already released")
	}
	if w.root != "" {
		if err := os.MkdirAll(w.root, 0o755); err != nil {
			return "", fmt.Errorf("create work root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(w.root, "asset-compute-"+kind+"-")
	if err != nil {
		return "", fmt.Errorf("allocate %s directory: %w", kind, err)
	}
	w.dirs = append(w.dirs, dir)
	return dir, nil
}

// Dirs returns the directories allocated so far.
func (w *WorkDirs) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.dirs...)
}

// ReleaseAll removes every allocated directory. Only the first call does
// anything; removal failures are logged, never returned.
func (w *WorkDirs) ReleaseAll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return
	}
	w.released = true

	for i := len(w.dirs) - 1; i >= 0; i-- {
		if err := os.RemoveAll(w.dirs[i]); err != nil {
			w.log.Warn("failed to remove work directory", "dir", w.dirs[i], "error", err.Error())
		}
	}
	w.log.Debug("work directories released", "count", len(w.dirs))
}
