package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"apkrepack/internal/archive"
	"apkrepack/internal/config"
	"apkrepack/internal/faults"
	"apkrepack/internal/sign"
	"apkrepack/internal/tools"
)

func sourceTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string][]byte{
		"AndroidManifest.xml":      []byte("<manifest package=\"com.example.demo\"/>"),
		"classes.dex":              bytes.Repeat([]byte{0x64}, 2000),
		"resources.arsc":           bytes.Repeat([]byte{0x02, 0x00}, 600),
		"lib/arm64-v8a/libdemo.so": bytes.Repeat([]byte{0x7f}, 10000),
		"res/drawable/icon.png":    bytes.Repeat([]byte{0x89}, 128),
		"META-INF/MANIFEST.MF":     []byte("Manifest-Version: 1.0\n"),
	}
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// leftoverWorkspaces globs the temp root for directories with the prefix.
func leftoverWorkspaces(t *testing.T, prefix string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), prefix+"*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func testConfig(prefix string) *config.Config {
	cfg := config.Default()
	cfg.Workspace.TempPrefix = prefix
	return &cfg
}

func TestBuild_EndToEndUnsigned(t *testing.T) {
	const prefix = "apkrepack-e2e-build-"
	cfg := testConfig(prefix)
	out := filepath.Join(t.TempDir(), "app.apk")

	ctrl := New(cfg, Toolset{})
	rep, err := ctrl.Build(context.Background(), Request{Input: sourceTree(t), Output: out})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if ctrl.State() != StateDone {
		t.Errorf("final state = %s, want done", ctrl.State())
	}
	if rep.FinalState != "done" {
		t.Errorf("report final state = %q, want done", rep.FinalState)
	}

	wantStages := []string{"prepare", "assemble", "align", "deliver"}
	if len(rep.Stages) != len(wantStages) {
		t.Fatalf("stages = %v, want %v", rep.Stages, wantStages)
	}
	for i, s := range rep.Stages {
		if s.Name != wantStages[i] {
			t.Errorf("stage %d = %q, want %q", i, s.Name, wantStages[i])
		}
		if s.Error != "" {
			t.Errorf("stage %q recorded error %q", s.Name, s.Error)
		}
	}

	c := archive.NewClassifier(nil, true)
	ok, err := archive.Check(out, c)
	if err != nil {
		t.Fatalf("alignment check on output: %v", err)
	}
	if !ok {
		t.Error("delivered archive is not aligned")
	}

	r, err := zip.OpenReader(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer r.Close()
	for _, f := range r.File {
		if f.Name == "META-INF/MANIFEST.MF" {
			t.Error("stale signature entry survived the pipeline")
		}
	}

	if left := leftoverWorkspaces(t, prefix); len(left) != 0 {
		t.Errorf("workspaces left behind under always policy: %v", left)
	}
}

func TestBuild_SigningPreconditionFailureCleansWorkspace(t *testing.T) {
	const prefix = "apkrepack-e2e-sign-"
	cfg := testConfig(prefix)
	out := filepath.Join(t.TempDir(), "app.apk")

	ctrl := New(cfg, Toolset{Signer: &sign.Signer{Path: "definitely-not-apksigner-7f3a"}})
	_, err := ctrl.Build(context.Background(), Request{
		Input:  sourceTree(t),
		Output: out,
		Sign:   true,
		Signing: sign.Config{
			Keystore:  filepath.Join(t.TempDir(), "missing.jks"),
			Alias:     "key",
			StorePass: "pw",
			Schemes:   sign.SchemeSet{V2: true},
		},
	})

	var pre *faults.PreconditionFailed
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want PreconditionFailed", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "sign" {
		t.Errorf("err = %v, want failure attributed to the sign stage", err)
	}
	if ctrl.State() != StateFailed {
		t.Errorf("final state = %s, want failed", ctrl.State())
	}
	if _, statErr := os.Stat(out); statErr == nil {
		t.Error("output delivered despite signing failure")
	}
	if left := leftoverWorkspaces(t, prefix); len(left) != 0 {
		t.Errorf("workspaces left behind after failure under always policy: %v", left)
	}
}

func TestBuild_OnSuccessPolicyKeepsFailedWorkspace(t *testing.T) {
	const prefix = "apkrepack-e2e-keep-"
	cfg := testConfig(prefix)
	cfg.Workspace.Cleanup = config.CleanupOnSuccess

	ctrl := New(cfg, Toolset{})
	_, err := ctrl.Build(context.Background(), Request{
		Input:  filepath.Join(t.TempDir(), "does-not-exist"),
		Output: filepath.Join(t.TempDir(), "app.apk"),
	})
	if err == nil {
		t.Fatal("expected prepare failure")
	}

	left := leftoverWorkspaces(t, prefix)
	if len(left) == 0 {
		t.Fatal("failed run's workspace was removed under on-success policy")
	}
	for _, dir := range left {
		os.RemoveAll(dir)
	}
}

func TestController_SingleUse(t *testing.T) {
	cfg := testConfig("apkrepack-e2e-reuse-")
	ctrl := New(cfg, Toolset{})
	req := Request{Input: sourceTree(t), Output: filepath.Join(t.TempDir(), "app.apk")}
	if _, err := ctrl.Build(context.Background(), req); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := ctrl.Build(context.Background(), req); err == nil {
		t.Error("second run on the same controller succeeded")
	}
}

func TestBuild_MissingInputFailsPrepare(t *testing.T) {
	cfg := testConfig("apkrepack-e2e-missing-")
	ctrl := New(cfg, Toolset{})
	_, err := ctrl.Build(context.Background(), Request{
		Input:  filepath.Join(t.TempDir(), "nope"),
		Output: filepath.Join(t.TempDir(), "app.apk"),
	})
	var ioErr *faults.IOFailure
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want IOFailure", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "prepare" {
		t.Errorf("err = %v, want failure attributed to the prepare stage", err)
	}
}

// A decoded tree (apktool.yml marker) must go back through the resource
// builder, never the in-process assembler. The missing builder binary proves
// the strategy choice: the in-process path would have succeeded.
func TestBuild_DecodedTreeSelectsResourceBuilder(t *testing.T) {
	cfg := testConfig("apkrepack-e2e-strategy-")
	src := sourceTree(t)
	if err := os.WriteFile(filepath.Join(src, "apktool.yml"), []byte("version: 2.9.3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ts := Toolset{Apktool: &tools.Apktool{Path: "definitely-not-apktool-7f3a", Java: "java"}}
	_, err := New(cfg, ts).Build(context.Background(), Request{
		Input:  src,
		Output: filepath.Join(t.TempDir(), "app.apk"),
	})
	var toolErr *faults.ExternalToolFailure
	if !errors.As(err, &toolErr) || !toolErr.Absent {
		t.Fatalf("err = %v, want absent ExternalToolFailure from the resource builder", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "assemble" {
		t.Errorf("err = %v, want failure attributed to the assemble stage", err)
	}
}

func TestReport_WriteFile(t *testing.T) {
	cfg := testConfig("apkrepack-e2e-report-")
	out := filepath.Join(t.TempDir(), "app.apk")
	rep, err := New(cfg, Toolset{}).Build(context.Background(), Request{Input: sourceTree(t), Output: out})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	path := filepath.Join(t.TempDir(), "report.json")
	if err := rep.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"final_state": "done"`)) {
		t.Errorf("report JSON missing final state:\n%s", data)
	}
}
