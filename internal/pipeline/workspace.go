package pipeline

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"apkrepack/internal/config"
	"apkrepack/internal/faults"
)

// Workspace is the transient working directory of one run. A workspace
// created by the pipeline is owned and may be removed on release; a
// caller-supplied directory is never removed, whatever the cleanup policy
// says.
type Workspace struct {
	Dir     string
	Owned   bool
	cleanup string
}

// NewWorkspace returns a workspace rooted at dir, or a fresh owned temp
// directory when dir is empty.
func NewWorkspace(dir, prefix, cleanupPolicy string) (*Workspace, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &faults.IOFailure{Op: "mkdir", Path: dir, Err: err}
		}
		return &Workspace{Dir: dir, cleanup: cleanupPolicy}, nil
	}
	tmp, err := os.MkdirTemp("", prefix)
	if err != nil {
		return nil, &faults.IOFailure{Op: "mkdir", Path: os.TempDir(), Err: err}
	}
	return &Workspace{Dir: tmp, Owned: true, cleanup: cleanupPolicy}, nil
}

// Path joins parts under the workspace root.
func (w *Workspace) Path(parts ...string) string {
	return filepath.Join(append([]string{w.Dir}, parts...)...)
}

// Release disposes of the workspace according to the cleanup policy. failed
// reports whether the run it served ended in failure.
func (w *Workspace) Release(failed bool) error {
	if !w.Owned {
		return nil
	}
	keep := w.cleanup == config.CleanupNever ||
		(w.cleanup == config.CleanupOnSuccess && failed)
	if keep {
		log.WithField("dir", w.Dir).Info("keeping workspace")
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return &faults.IOFailure{Op: "remove", Path: w.Dir, Err: err}
	}
	return nil
}
