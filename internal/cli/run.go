package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"apkrepack/internal/archive"
	"apkrepack/internal/config"
	"apkrepack/internal/inspect"
	"apkrepack/internal/pipeline"
	"apkrepack/internal/sign"
	"apkrepack/internal/tools"
)

// Run parses args (excluding argv[0]) and executes the invocation. It
// returns the semantic exit code plus any error; suitable as a black-box
// test entrypoint.
func Run(ctx context.Context, args []string, out io.Writer) (int, error) {
	inv, err := ParseInvocation(args)
	if err != nil {
		return ExitCodeFor(err), err
	}
	return Execute(ctx, inv, out)
}

// Execute runs a parsed invocation.
func Execute(ctx context.Context, inv Invocation, out io.Writer) (int, error) {
	setupLogging(inv.Verbose)

	cfgPath := inv.ConfigPath
	if cfgPath == "" {
		cfgPath = config.DefaultFileName
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return ExitConfigError, configErrorf("%v", err)
	}
	applyOverrides(cfg, inv)

	var execErr error
	switch inv.Command {
	case CommandBuild:
		execErr = runPipeline(ctx, cfg, inv, out, false)
	case CommandRepack:
		execErr = runPipeline(ctx, cfg, inv, out, true)
	case CommandSign:
		execErr = runSign(ctx, cfg, inv, out)
	case CommandAlign:
		execErr = runAlign(ctx, cfg, inv, out)
	case CommandInfo:
		execErr = runInfo(inv, out)
	case CommandBatch:
		execErr = runBatch(ctx, cfg, inv, out)
	default:
		return ExitInternalError, fmt.Errorf("unhandled command %q", inv.Command)
	}
	return ExitCodeFor(execErr), execErr
}

func setupLogging(verbose bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// applyOverrides layers flag values over the loaded configuration.
func applyOverrides(cfg *config.Config, inv Invocation) {
	if inv.Keystore != "" {
		cfg.Signing.Keystore = inv.Keystore
	}
	if inv.Alias != "" {
		cfg.Signing.Alias = inv.Alias
	}
	if inv.StorePass != "" {
		cfg.Signing.StorePass = inv.StorePass
	}
	if inv.KeyPass != "" {
		cfg.Signing.KeyPass = inv.KeyPass
	}
	if inv.Scheme != "" {
		cfg.Signing.Scheme = strings.ToLower(inv.Scheme)
	}
	if inv.Align != "" {
		cfg.Packaging.Alignment = inv.Align
	}
	if inv.Cleanup != "" {
		cfg.Workspace.Cleanup = inv.Cleanup
	}
}

func toolset(cfg *config.Config) pipeline.Toolset {
	return pipeline.Toolset{
		Apktool:  &tools.Apktool{Path: cfg.Tools.Apktool, Java: cfg.Tools.Java},
		Zipalign: &tools.Zipalign{Path: cfg.Tools.Zipalign},
		SevenZip: &tools.SevenZip{Path: cfg.Tools.SevenZip},
		Signer:   &sign.Signer{Path: cfg.Tools.Apksigner},
	}
}

func signConfig(cfg *config.Config) (sign.Config, error) {
	schemes, err := sign.ParseSchemeSet(cfg.Signing.Scheme)
	if err != nil {
		return sign.Config{}, configErrorf("%v", err)
	}
	return sign.Config{
		Keystore:  cfg.Signing.Keystore,
		Alias:     cfg.Signing.Alias,
		StorePass: cfg.Signing.StorePass,
		KeyPass:   cfg.Signing.KeyPass,
		Schemes:   schemes,
	}, nil
}

func runPipeline(ctx context.Context, cfg *config.Config, inv Invocation, out io.Writer, repack bool) error {
	req := pipeline.Request{
		Input:     inv.Input,
		Output:    inv.Output,
		Workspace: inv.Workspace,
		Sign:      inv.Sign,
	}
	if inv.Sign {
		sc, err := signConfig(cfg)
		if err != nil {
			return err
		}
		req.Signing = sc
	}

	ctrl := pipeline.New(cfg, toolset(cfg))
	var rep *pipeline.Report
	var runErr error
	if repack {
		rep, runErr = ctrl.Repack(ctx, req)
	} else {
		rep, runErr = ctrl.Build(ctx, req)
	}
	if rep != nil && inv.ReportPath != "" {
		if werr := rep.WriteFile(inv.ReportPath); werr != nil {
			log.WithError(werr).Warn("failed to write run report")
		}
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintln(out, inv.Output)
	return nil
}

func runSign(ctx context.Context, cfg *config.Config, inv Invocation, out io.Writer) error {
	sc, err := signConfig(cfg)
	if err != nil {
		return err
	}
	signer := sign.Signer{Path: cfg.Tools.Apksigner}
	if err := signer.Sign(ctx, sc, inv.Input); err != nil {
		return err
	}
	att, err := sign.Verify(inv.Input)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "signed %s\n", inv.Input)
	fmt.Fprintf(out, "scheme: v%d\n", att.SchemeID)
	fmt.Fprintf(out, "certificate: %s\n", att.Subject)
	fmt.Fprintf(out, "sha256: %s\n", att.SHA256)
	return nil
}

func runAlign(ctx context.Context, cfg *config.Config, inv Invocation, out io.Writer) error {
	classifier := archive.NewClassifier(cfg.Packaging.NoCompress, cfg.Packaging.ModernAlignTier)

	if inv.Check {
		ok, err := archive.Check(inv.Input, classifier)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: misaligned entries found", inv.Input)
		}
		fmt.Fprintf(out, "%s: aligned\n", inv.Input)
		return nil
	}

	output := inv.Output
	if output == "" {
		output = inv.Input
	}
	if cfg.Packaging.Alignment == config.AlignZipalign {
		z := tools.Zipalign{Path: cfg.Tools.Zipalign}
		// The external tool cannot rewrite in place.
		target := output
		if target == inv.Input {
			target = output + ".aligned"
		}
		if err := z.Align(ctx, inv.Input, target, cfg.Packaging.ModernAlignTier); err != nil {
			return err
		}
		if target != output {
			if err := os.Rename(target, output); err != nil {
				return err
			}
		}
	} else {
		if err := archive.Align(inv.Input, output, classifier); err != nil {
			return err
		}
	}
	fmt.Fprintln(out, output)
	return nil
}

func runInfo(inv Invocation, out io.Writer) error {
	s, err := inspect.Summarize(inv.Input)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "package: %s\n", s.Package)
	fmt.Fprintf(out, "version: %s (%d)\n", s.VersionName, s.VersionCode)
	if s.Label != "" {
		fmt.Fprintf(out, "label: %s\n", s.Label)
	}
	fmt.Fprintf(out, "sdk: min %d, target %d\n", s.MinSDK, s.TargetSDK)
	if len(s.Architectures) > 0 {
		fmt.Fprintf(out, "abis: %s\n", strings.Join(s.Architectures, ", "))
	}
	fmt.Fprintf(out, "entries: %d\n", s.Entries)
	return nil
}

func runBatch(ctx context.Context, cfg *config.Config, inv Invocation, out io.Writer) error {
	variants, err := pipeline.ParseVariants(inv.Variants)
	if err != nil {
		return invalidInvocationf("%v", err)
	}

	req := pipeline.Request{
		Input:  inv.Input,
		Output: inv.Output,
		Sign:   inv.Sign,
	}
	if inv.Sign {
		sc, err := signConfig(cfg)
		if err != nil {
			return err
		}
		req.Signing = sc
	}

	results, err := pipeline.RunBatch(ctx, cfg, toolset(cfg), req, variants, inv.Jobs)
	if err != nil {
		return err
	}

	var failures int
	for _, res := range results {
		if res.Err != nil {
			failures++
			fmt.Fprintf(out, "%s: failed: %v\n", res.Name, res.Err)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", res.Name, res.Output)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d variants failed", failures, len(results))
	}
	return nil
}
