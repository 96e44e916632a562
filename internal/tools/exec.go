// Package tools wraps the external executables the pipeline delegates to:
// the resource decoder/builder, the platform signer, the alignment tool and
// an optional archiver. Every wrapper reports failures through the shared
// fault types and never parses tool output beyond exit status.
package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"

	log "github.com/sirupsen/logrus"

	"apkrepack/internal/faults"
)

// Result carries the captured output of a completed tool run.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Run executes name with args and waits for it to finish. A missing binary
// or a non-zero exit both surface as *faults.ExternalToolFailure; stderr is
// carried verbatim.
func Run(ctx context.Context, name string, args ...string) (*Result, error) {
	return RunIn(ctx, "", name, args...)
}

// RunIn is Run with an explicit working directory.
//
// The child is placed in its own process group so that cancellation kills the
// whole tree, including anything a JVM wrapper script spawns. Arguments are
// never logged: signing invocations carry credentials.
func RunIn(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.WithField("tool", name).Debug("running external tool")

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &faults.ExternalToolFailure{Tool: name, Absent: true, Err: err}
		}
		return nil, &faults.ExternalToolFailure{Tool: name, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			// Negative PID targets the process group.
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, &faults.ExternalToolFailure{
				Tool:   name,
				Stderr: stderr.String(),
				Err:    err,
			}
		}
	}

	return &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}
