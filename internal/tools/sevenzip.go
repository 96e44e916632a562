package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"apkrepack/internal/faults"
)

// SevenZip packs a tree with an external archiver. It produces a plain ZIP
// without per-entry storage decisions, so the alignment pass and signing
// still run afterwards; it exists for trees where archiver throughput
// matters more than packaging policy.
type SevenZip struct {
	Path string
}

// Configured reports whether an archiver was configured at all. Unlike the
// other tools there is no default binary name; absence simply deselects the
// strategy.
func (s *SevenZip) Configured() bool {
	return s.Path != ""
}

// Pack archives the contents of srcDir into outApk at the given deflate
// level. The archiver runs inside srcDir so entry names stay relative.
func (s *SevenZip) Pack(ctx context.Context, srcDir, outApk string, level int) error {
	out, err := filepath.Abs(outApk)
	if err != nil {
		return &faults.IOFailure{Op: "resolve", Path: outApk, Err: err}
	}
	_, err = RunIn(ctx, srcDir, s.Path, "a", "-tzip", fmt.Sprintf("-mx=%d", level), out, "*")
	return err
}
