package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"apkrepack/internal/archive"
	"apkrepack/internal/config"
	"apkrepack/internal/faults"
	"apkrepack/internal/sign"
	"apkrepack/internal/tools"
)

// Request describes one run.
type Request struct {
	// Input is a source tree for Build, or a packaged archive for Repack.
	Input string

	// Output is the final archive path.
	Output string

	// Workspace optionally pins the working directory. An explicit
	// workspace is never removed.
	Workspace string

	// Sign enables the signing stage using Signing.
	Sign    bool
	Signing sign.Config
}

// Toolset is the pipeline's external collaborators. Nil members deselect the
// strategies that need them.
type Toolset struct {
	Apktool  *tools.Apktool
	Zipalign *tools.Zipalign
	SevenZip *tools.SevenZip
	Signer   *sign.Signer
}

// StageError wraps a failure with the stage it happened in. The underlying
// fault stays reachable through Unwrap.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Controller sequences one run. It is single-use: a second Build or Repack
// call on the same controller fails.
type Controller struct {
	cfg   *config.Config
	tools Toolset
	log   *log.Entry
	used  atomic.Bool
	state machine
}

// New builds a controller over cfg and the given collaborators.
func New(cfg *config.Config, ts Toolset) *Controller {
	return &Controller{
		cfg:   cfg,
		tools: ts,
		log:   log.WithField("component", "pipeline"),
	}
}

// State exposes the current lifecycle position, mainly for reporting.
func (c *Controller) State() State { return c.state.cur }

// Build packages the tree at req.Input into req.Output.
func (c *Controller) Build(ctx context.Context, req Request) (*Report, error) {
	return c.run(ctx, req, false)
}

// Repack decodes the archive at req.Input, rebuilds it and packages the
// result into req.Output. Requires the resource decoder.
func (c *Controller) Repack(ctx context.Context, req Request) (*Report, error) {
	return c.run(ctx, req, true)
}

func (c *Controller) run(ctx context.Context, req Request, decode bool) (rep *Report, err error) {
	if !c.used.CompareAndSwap(false, true) {
		return nil, errors.New("pipeline controller is single-use")
	}
	rep = newReport(req.Input, req.Output)
	defer func() {
		rep.FinishedAt = time.Now().UTC()
		rep.FinalState = c.state.cur.String()
	}()

	ws, err := NewWorkspace(req.Workspace, c.cfg.Workspace.TempPrefix, c.cfg.Workspace.Cleanup)
	if err != nil {
		c.state.to(StateFailed)
		return rep, err
	}
	failed := true
	defer func() {
		if rerr := ws.Release(failed); rerr != nil {
			c.log.WithError(rerr).Warn("workspace cleanup failed")
		}
	}()

	srcDir := req.Input
	err = c.stage(rep, "prepare", StatePrepared, func() error {
		info, statErr := os.Stat(req.Input)
		if statErr != nil {
			return &faults.IOFailure{Op: "stat", Path: req.Input, Err: statErr}
		}
		if decode {
			if info.IsDir() {
				return &faults.IOFailure{Op: "stat", Path: req.Input, Err: errors.New("expected an archive, got a directory")}
			}
			if c.tools.Apktool == nil {
				return &faults.ExternalToolFailure{Tool: "apktool", Absent: true, Err: errors.New("resource decoder not configured")}
			}
			srcDir = ws.Path("src")
			return c.tools.Apktool.Decode(ctx, req.Input, srcDir)
		}
		if !info.IsDir() {
			return &faults.IOFailure{Op: "stat", Path: req.Input, Err: errors.New("expected a directory")}
		}
		return nil
	})
	if err != nil {
		return rep, err
	}

	apkPath := ws.Path("unsigned.apk")
	err = c.stage(rep, "assemble", StateAssembled, func() error {
		return c.assemble(ctx, srcDir, apkPath)
	})
	if err != nil {
		return rep, err
	}

	err = c.stage(rep, "align", StateAligned, func() error {
		aligned, alignErr := c.align(ctx, ws, apkPath)
		if alignErr != nil {
			return alignErr
		}
		apkPath = aligned
		return nil
	})
	if err != nil {
		return rep, err
	}

	if req.Sign {
		err = c.stage(rep, "sign", StateSigned, func() error {
			if c.tools.Signer == nil {
				return &faults.ExternalToolFailure{Tool: "apksigner", Absent: true, Err: errors.New("signer not configured")}
			}
			if signErr := c.tools.Signer.Sign(ctx, req.Signing, apkPath); signErr != nil {
				return signErr
			}
			att, verifyErr := sign.Verify(apkPath)
			if verifyErr != nil {
				return verifyErr
			}
			rep.Attestation = att
			return nil
		})
		if err != nil {
			return rep, err
		}
	}

	err = c.stage(rep, "deliver", StateDone, func() error {
		return copyFile(apkPath, req.Output)
	})
	if err != nil {
		return rep, err
	}

	failed = false
	c.log.WithField("output", req.Output).Info("run complete")
	return rep, nil
}

// stage runs fn, records its outcome and advances the state machine. A
// failing stage moves the run to failed and wraps the fault.
func (c *Controller) stage(rep *Report, name string, next State, fn func() error) error {
	start := time.Now()
	err := fn()
	rep.record(name, time.Since(start), err)
	if err != nil {
		c.state.to(StateFailed)
		c.log.WithField("stage", name).WithError(err).Error("stage failed")
		return &StageError{Stage: name, Err: err}
	}
	if terr := c.state.to(next); terr != nil {
		return &StageError{Stage: name, Err: terr}
	}
	c.log.WithFields(log.Fields{"stage": name, "state": next.String()}).Debug("stage complete")
	return nil
}

// assemble picks the build strategy: a decoded tree goes back through the
// resource builder, otherwise an external archiver is used when configured,
// otherwise the in-process assembler.
func (c *Controller) assemble(ctx context.Context, srcDir, outPath string) error {
	switch {
	case tools.HasMetadata(srcDir):
		if c.tools.Apktool == nil {
			return &faults.ExternalToolFailure{Tool: "apktool", Absent: true, Err: errors.New("decoded tree requires the resource builder")}
		}
		return c.tools.Apktool.Build(ctx, srcDir, outPath)
	case c.tools.SevenZip != nil && c.tools.SevenZip.Configured():
		return c.tools.SevenZip.Pack(ctx, srcDir, outPath, c.cfg.Packaging.CompressionLevel)
	default:
		return archive.Assemble(srcDir, c.classifier(), c.cfg.Packaging.CompressionLevel, outPath)
	}
}

// align applies the configured alignment strategy and returns the path of
// the aligned archive.
func (c *Controller) align(ctx context.Context, ws *Workspace, apkPath string) (string, error) {
	switch c.cfg.Packaging.Alignment {
	case config.AlignSkip:
		return apkPath, nil
	case config.AlignZipalign:
		if c.tools.Zipalign == nil || !c.tools.Zipalign.Available() {
			return "", &faults.ExternalToolFailure{Tool: "zipalign", Absent: true, Err: errors.New("alignment tool not found")}
		}
		aligned := ws.Path("aligned.apk")
		if err := c.tools.Zipalign.Align(ctx, apkPath, aligned, c.cfg.Packaging.ModernAlignTier); err != nil {
			return "", err
		}
		return aligned, nil
	default:
		return apkPath, archive.Align(apkPath, apkPath, c.classifier())
	}
}

func (c *Controller) classifier() *archive.Classifier {
	return archive.NewClassifier(c.cfg.Packaging.NoCompress, c.cfg.Packaging.ModernAlignTier)
}
