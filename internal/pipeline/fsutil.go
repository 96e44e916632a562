package pipeline

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"apkrepack/internal/faults"
)

// copyFile copies src to dst through a temp file in dst's directory, so a
// half-written output is never observable under the final name.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &faults.IOFailure{Op: "read", Path: src, Err: err}
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return &faults.IOFailure{Op: "stat", Path: src, Err: err}
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &faults.IOFailure{Op: "mkdir", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp.*")
	if err != nil {
		return &faults.IOFailure{Op: "create", Path: dst, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		tmp.Close()
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return &faults.IOFailure{Op: "write", Path: dst, Err: err}
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return &faults.IOFailure{Op: "chmod", Path: dst, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &faults.IOFailure{Op: "close", Path: dst, Err: err}
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return &faults.IOFailure{Op: "rename", Path: dst, Err: err}
	}
	committed = true
	return nil
}

// copyTree replicates the regular files under src into dst, preserving the
// relative layout. Symlinks are skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &faults.IOFailure{Op: "walk", Path: p, Err: err}
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return &faults.IOFailure{Op: "walk", Path: p, Err: err}
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &faults.IOFailure{Op: "mkdir", Path: target, Err: err}
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, target)
	})
}
