// Package sign drives the external platform signer and verifies its output.
//
// The signer wrapper validates every input before any subprocess starts:
// credentials must never reach a command line that is doomed to fail, and a
// missing keystore is a configuration problem, not a tool problem.
package sign

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"apkrepack/internal/faults"
	"apkrepack/internal/tools"
)

// SchemeSet selects which signature schemes the signer emits. At least one
// must be enabled.
type SchemeSet struct {
	V1 bool
	V2 bool
}

func (s SchemeSet) String() string {
	switch {
	case s.V1 && s.V2:
		return "v1v2"
	case s.V1:
		return "v1"
	case s.V2:
		return "v2"
	}
	return "none"
}

// ParseSchemeSet parses the configuration form: v1, v2 or v1v2.
func ParseSchemeSet(v string) (SchemeSet, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "v1":
		return SchemeSet{V1: true}, nil
	case "v2":
		return SchemeSet{V2: true}, nil
	case "v1v2":
		return SchemeSet{V1: true, V2: true}, nil
	}
	return SchemeSet{}, fmt.Errorf("unknown signing scheme %q (want v1, v2 or v1v2)", v)
}

// Config is one signing request. KeyPass falls back to StorePass when empty.
type Config struct {
	Keystore  string
	Alias     string
	StorePass string
	KeyPass   string
	Schemes   SchemeSet
}

// Signer wraps the external signing tool.
type Signer struct {
	Path string
}

// Sign signs apkPath in place. Precondition violations return
// *faults.PreconditionFailed without spawning anything; a signer that runs
// and fails returns *faults.SigningFailed carrying its stderr verbatim.
func (s *Signer) Sign(ctx context.Context, cfg Config, apkPath string) error {
	if err := checkPreconditions(cfg, apkPath); err != nil {
		return err
	}
	if _, err := tools.Run(ctx, s.Path, buildArgs(cfg, apkPath)...); err != nil {
		var toolErr *faults.ExternalToolFailure
		if errors.As(err, &toolErr) && !toolErr.Absent {
			return &faults.SigningFailed{Stderr: toolErr.Stderr, Err: toolErr.Err}
		}
		return err
	}
	return nil
}

func checkPreconditions(cfg Config, apkPath string) error {
	if !cfg.Schemes.V1 && !cfg.Schemes.V2 {
		return &faults.PreconditionFailed{Check: "scheme", Detail: "no signature scheme enabled"}
	}
	if strings.TrimSpace(cfg.Keystore) == "" {
		return &faults.PreconditionFailed{Check: "keystore", Detail: "no keystore configured"}
	}
	info, err := os.Stat(cfg.Keystore)
	if err != nil {
		return &faults.PreconditionFailed{Check: "keystore", Detail: fmt.Sprintf("%s: %v", cfg.Keystore, err)}
	}
	if !info.Mode().IsRegular() {
		return &faults.PreconditionFailed{Check: "keystore", Detail: cfg.Keystore + ": not a regular file"}
	}
	if f, err := os.Open(cfg.Keystore); err != nil {
		return &faults.PreconditionFailed{Check: "keystore", Detail: fmt.Sprintf("%s: %v", cfg.Keystore, err)}
	} else {
		f.Close()
	}
	if strings.TrimSpace(cfg.Alias) == "" {
		return &faults.PreconditionFailed{Check: "alias", Detail: "no key alias configured"}
	}
	if cfg.StorePass == "" {
		return &faults.PreconditionFailed{Check: "storepass", Detail: "no keystore password configured"}
	}
	if _, err := os.Stat(apkPath); err != nil {
		return &faults.PreconditionFailed{Check: "input", Detail: fmt.Sprintf("%s: %v", apkPath, err)}
	}
	return nil
}

// buildArgs maps the request onto the signer's command line. Scheme selection
// is always explicit: relying on the tool's defaults would tie behavior to
// its version.
func buildArgs(cfg Config, apkPath string) []string {
	keyPass := cfg.KeyPass
	if keyPass == "" {
		keyPass = cfg.StorePass
	}
	return []string{
		"sign",
		"--ks", cfg.Keystore,
		"--ks-key-alias", cfg.Alias,
		"--ks-pass", "pass:" + cfg.StorePass,
		"--key-pass", "pass:" + keyPass,
		"--v1-signing-enabled", strconv.FormatBool(cfg.Schemes.V1),
		"--v2-signing-enabled", strconv.FormatBool(cfg.Schemes.V2),
		apkPath,
	}
}
