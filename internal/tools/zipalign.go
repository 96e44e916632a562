package tools

import (
	"context"
	"errors"
	"os/exec"
	"reflect"

	"apkrepack/internal/archive"
	"apkrepack/internal/faults"
)

// Zipalign drives the platform alignment tool as an alternative to the
// in-process alignment pass.
type Zipalign struct {
	Path string
}

// Available reports whether the tool can be found.
func (z *Zipalign) Available() bool {
	_, err := exec.LookPath(z.Path)
	return err == nil
}

// Align runs the tool at a 4-byte boundary, page-aligning mapped entries
// when pageAlign is set. The output is then verified against the input:
// entry names, checksums and sizes must match exactly, because the tool is
// trusted to move bytes but never to change content.
func (z *Zipalign) Align(ctx context.Context, in, out string, pageAlign bool) error {
	args := []string{"-f"}
	if pageAlign {
		args = append(args, "-p")
	}
	args = append(args, "4", in, out)
	if _, err := Run(ctx, z.Path, args...); err != nil {
		return err
	}

	before, err := archive.Snapshot(in)
	if err != nil {
		return err
	}
	after, err := archive.Snapshot(out)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(before, after) {
		return &faults.ExternalToolFailure{
			Tool: z.Path,
			Err:  errors.New("aligned output content differs from input"),
		}
	}
	return nil
}
