package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"apkrepack/internal/config"
	"apkrepack/internal/faults"
)

// VariantPlaceholder is the token batch builds substitute in the source tree
// text files before packaging each variant.
const VariantPlaceholder = "__VARIANT__"

var variantNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ParseVariants parses a comma-separated variant list. Names must be
// filename-safe and unique.
func ParseVariants(list string) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	for _, raw := range strings.Split(list, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if !variantNameRe.MatchString(name) {
			return nil, fmt.Errorf("invalid variant name %q", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate variant name %q", name)
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no variants given")
	}
	return out, nil
}

// VariantResult is the outcome of one variant build.
type VariantResult struct {
	Name   string
	Output string
	Report *Report
	Err    error
}

// RunBatch builds one output per variant from the source tree in
// req.Input. Each variant gets an isolated copy of the tree with
// VariantPlaceholder replaced by the variant name, its own controller and
// its own workspace; a failing variant never blocks the others. At most
// jobs variants build concurrently.
//
// req.Output is treated as a base path: "out/app.apk" yields
// "out/app-<variant>.apk".
func RunBatch(ctx context.Context, cfg *config.Config, ts Toolset, req Request, variants []string, jobs int) ([]VariantResult, error) {
	if jobs < 1 {
		jobs = 1
	}
	results := make([]VariantResult, len(variants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, name := range variants {
		g.Go(func() error {
			res := buildVariant(gctx, cfg, ts, req, name)
			results[i] = res
			if res.Err != nil {
				log.WithField("variant", name).WithError(res.Err).Error("variant build failed")
			}
			// Variant failures are reported per entry, not propagated,
			// so the remaining variants keep building.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func buildVariant(ctx context.Context, cfg *config.Config, ts Toolset, req Request, name string) VariantResult {
	res := VariantResult{Name: name, Output: variantOutput(req.Output, name)}

	treeDir, err := os.MkdirTemp("", cfg.Workspace.TempPrefix+name+"-")
	if err != nil {
		res.Err = &faults.IOFailure{Op: "mkdir", Path: os.TempDir(), Err: err}
		return res
	}
	defer os.RemoveAll(treeDir)

	if err := copyTree(req.Input, treeDir); err != nil {
		res.Err = err
		return res
	}
	if err := substitutePlaceholder(treeDir, name); err != nil {
		res.Err = err
		return res
	}

	vreq := req
	vreq.Input = treeDir
	vreq.Output = res.Output
	vreq.Workspace = ""

	rep, err := New(cfg, ts).Build(ctx, vreq)
	res.Report = rep
	res.Err = err
	return res
}

// variantOutput derives "base-variant.ext" from the base output path.
func variantOutput(base, variant string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + variant + ext
}

// substitutePlaceholder rewrites the variant token in the tree's manifest
// and text resources. Binary payloads are left alone: only files that
// actually contain the token are touched.
func substitutePlaceholder(root, variant string) error {
	token := []byte(VariantPlaceholder)
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &faults.IOFailure{Op: "walk", Path: p, Err: err}
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".xml", ".txt", ".json", ".properties", ".yml", ".yaml":
		default:
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return &faults.IOFailure{Op: "read", Path: p, Err: err}
		}
		if !bytes.Contains(data, token) {
			return nil
		}
		data = bytes.ReplaceAll(data, token, []byte(variant))
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return &faults.IOFailure{Op: "write", Path: p, Err: err}
		}
		return nil
	})
}
