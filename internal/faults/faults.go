// Package faults defines the error taxonomy shared by the repackaging
// pipeline components.
//
// Components fail fast and return the most specific applicable kind; the
// pipeline controller wraps the failing stage around it and never downgrades
// a failure to a warning. External diagnostic text is carried verbatim.
package faults

import (
	"fmt"
	"strings"
)

// IOFailure reports an unreadable or unwritable filesystem path.
type IOFailure struct {
	Op   string // short operation name: "read", "create", "walk", ...
	Path string
	Err  error
}

func (e *IOFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error { return e.Err }

// StructuralConflict reports a duplicate or invalid archive entry name.
type StructuralConflict struct {
	Name   string
	Reason string
}

func (e *StructuralConflict) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("conflicting archive entry %q", e.Name)
	}
	return fmt.Sprintf("conflicting archive entry %q: %s", e.Name, e.Reason)
}

// PreconditionFailed reports a missing or invalid signing input, detected
// before any subprocess runs so credentials never leak into a doomed
// invocation.
type PreconditionFailed struct {
	Check  string // the precondition that failed, e.g. "keystore"
	Detail string
}

func (e *PreconditionFailed) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("precondition failed: %s", e.Check)
	}
	return fmt.Sprintf("precondition failed: %s: %s", e.Check, e.Detail)
}

// ExternalToolFailure reports a delegated tool that exited non-zero or is
// absent when required. Stderr carries the tool's diagnostic output verbatim;
// it is never parsed or reinterpreted.
type ExternalToolFailure struct {
	Tool   string
	Absent bool
	Stderr string
	Err    error
}

func (e *ExternalToolFailure) Error() string {
	if e.Absent {
		return fmt.Sprintf("%s: tool not found", e.Tool)
	}
	msg := fmt.Sprintf("%s: %v", e.Tool, e.Err)
	if diag := strings.TrimSpace(e.Stderr); diag != "" {
		msg += ": " + diag
	}
	return msg
}

func (e *ExternalToolFailure) Unwrap() error { return e.Err }

// SigningFailed is the signing specialization of ExternalToolFailure: the
// external signer exited non-zero. Stderr is the signer's diagnostic output,
// surfaced unmodified.
type SigningFailed struct {
	Stderr string
	Err    error
}

func (e *SigningFailed) Error() string {
	msg := fmt.Sprintf("signing failed: %v", e.Err)
	if diag := strings.TrimSpace(e.Stderr); diag != "" {
		msg += ": " + diag
	}
	return msg
}

func (e *SigningFailed) Unwrap() error { return e.Err }
