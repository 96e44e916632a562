// Package cli parses the command line into a canonical invocation and
// executes it. Parsing is side-effect free: errors are returned with a
// semantic exit code, never printed from here.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

// Semantic exit codes.
const (
	ExitSuccess           = 0
	ExitPipelineFailure   = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
	ExitInterrupted       = 130
)

// Command is one of the tool's subcommands.
type Command string

const (
	CommandBuild  Command = "build"
	CommandRepack Command = "repack"
	CommandSign   Command = "sign"
	CommandAlign  Command = "align"
	CommandInfo   Command = "info"
	CommandBatch  Command = "batch"
)

// Invocation is the fully parsed description of a run. Field applicability
// depends on the command; ParseInvocation enforces the required ones.
type Invocation struct {
	Command Command

	Input  string
	Output string

	ConfigPath string

	// Signing overrides. Empty fields defer to the config file.
	Keystore  string
	Alias     string
	StorePass string
	KeyPass   string
	Scheme    string
	Sign      bool

	// Packaging and workspace overrides.
	Align     string
	Workspace string
	Cleanup   string

	// Check makes the align command verify instead of rewrite.
	Check bool

	ReportPath string

	// Batch controls.
	Variants string
	Jobs     int

	Verbose bool
}

// InvocationError carries a semantic exit code alongside the message.
type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

const usage = `usage: apkrepack <command> [flags]

commands:
  build    package a source tree into an archive
  repack   decode an archive, rebuild and repackage it
  sign     sign an existing archive
  align    align an existing archive (or verify with -check)
  info     print identifying metadata of an archive
  batch    build one archive per variant from a source tree
`

// ParseInvocation parses argv (excluding argv[0]).
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, invalidInvocationf("%s", usage)
	}

	cmd := Command(strings.ToLower(args[0]))
	switch cmd {
	case CommandBuild, CommandRepack, CommandSign, CommandAlign, CommandInfo, CommandBatch:
	default:
		return Invocation{}, invalidInvocationf("unknown command %q\n%s", args[0], usage)
	}

	inv := Invocation{Command: cmd}
	fs := flag.NewFlagSet("apkrepack "+string(cmd), flag.ContinueOnError)
	fs.SetOutput(io.Discard) // parsing errors are returned, not printed

	fs.StringVar(&inv.Input, "i", "", "input path")
	fs.StringVar(&inv.ConfigPath, "c", "", "config file path")
	fs.BoolVar(&inv.Verbose, "v", false, "verbose logging")

	switch cmd {
	case CommandBuild, CommandRepack, CommandBatch:
		fs.StringVar(&inv.Output, "o", "", "output archive path")
		fs.BoolVar(&inv.Sign, "sign", false, "sign the output")
		fs.StringVar(&inv.Align, "align", "", "alignment strategy: internal|zipalign|skip")
		fs.StringVar(&inv.Workspace, "workspace", "", "explicit workspace directory (kept after the run)")
		fs.StringVar(&inv.Cleanup, "cleanup", "", "workspace cleanup policy: always|never|on-success")
		fs.StringVar(&inv.ReportPath, "report", "", "write a JSON run report to this path")
	case CommandAlign:
		fs.StringVar(&inv.Output, "o", "", "output archive path (default: rewrite in place)")
		fs.BoolVar(&inv.Check, "check", false, "verify alignment instead of rewriting")
		fs.StringVar(&inv.Align, "align", "", "alignment strategy: internal|zipalign")
	}

	if cmd == CommandSign || cmd == CommandBuild || cmd == CommandRepack || cmd == CommandBatch {
		fs.StringVar(&inv.Keystore, "k", "", "keystore path")
		fs.StringVar(&inv.Alias, "a", "", "key alias")
		fs.StringVar(&inv.StorePass, "p", "", "keystore password")
		fs.StringVar(&inv.KeyPass, "keypass", "", "key password (default: keystore password)")
		fs.StringVar(&inv.Scheme, "scheme", "", "signature schemes: v1|v2|v1v2")
	}

	if cmd == CommandBatch {
		fs.StringVar(&inv.Variants, "variants", "", "comma-separated variant names")
		fs.IntVar(&inv.Jobs, "jobs", 2, "maximum concurrent variant builds")
	}

	if err := fs.Parse(args[1:]); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}

	if err := inv.validate(); err != nil {
		return Invocation{}, err
	}
	return inv, nil
}

func (inv *Invocation) validate() error {
	if strings.TrimSpace(inv.Input) == "" {
		return invalidInvocationf("-i is required")
	}
	switch inv.Command {
	case CommandBuild, CommandRepack:
		if strings.TrimSpace(inv.Output) == "" {
			return invalidInvocationf("-o is required")
		}
	case CommandBatch:
		if strings.TrimSpace(inv.Output) == "" {
			return invalidInvocationf("-o is required")
		}
		if strings.TrimSpace(inv.Variants) == "" {
			return invalidInvocationf("-variants is required")
		}
		if inv.Jobs < 1 {
			return invalidInvocationf("-jobs must be at least 1")
		}
	case CommandAlign:
		if inv.Check && inv.Output != "" {
			return invalidInvocationf("-check and -o are mutually exclusive")
		}
	}
	switch inv.Align {
	case "", "internal", "zipalign", "skip":
	default:
		return invalidInvocationf("invalid -align %q (expected internal|zipalign|skip)", inv.Align)
	}
	switch inv.Cleanup {
	case "", "always", "never", "on-success":
	default:
		return invalidInvocationf("invalid -cleanup %q (expected always|never|on-success)", inv.Cleanup)
	}
	if inv.Scheme != "" {
		switch strings.ToLower(inv.Scheme) {
		case "v1", "v2", "v1v2":
		default:
			return invalidInvocationf("invalid -scheme %q (expected v1|v2|v1v2)", inv.Scheme)
		}
	}
	return nil
}

// ExitCodeFor maps an error to the process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ExitInterrupted
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr.ExitCode != 0 {
		return invErr.ExitCode
	}
	return ExitPipelineFailure
}
