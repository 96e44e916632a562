package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLoad_MissingFileUsesDefaults: a missing config file is not an error.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Packaging.CompressionLevel != 9 {
		t.Errorf("default compression level = %d, want 9", cfg.Packaging.CompressionLevel)
	}
	if cfg.Packaging.Alignment != AlignInternal {
		t.Errorf("default alignment = %q, want %q", cfg.Packaging.Alignment, AlignInternal)
	}
	if cfg.Workspace.Cleanup != CleanupAlways {
		t.Errorf("default cleanup = %q, want %q", cfg.Workspace.Cleanup, CleanupAlways)
	}
	if cfg.Signing.Scheme != "v2" {
		t.Errorf("default scheme = %q, want v2", cfg.Signing.Scheme)
	}
}

// TestLoad_ParsesAndResolvesPaths: relative keystore and tool paths resolve
// against the config file's directory; bare command names stay bare.
func TestLoad_ParsesAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apkrepack.yaml")
	content := `version: 1
tools:
  apktool: ./tools/apktool.jar
  apksigner: apksigner
signing:
  keystore: ./keys/test.jks
  alias: testkey
  storepass: test001
  scheme: V1V2
packaging:
  compression_level: 6
  alignment: zipalign
workspace:
  cleanup: on-success
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if want := filepath.Join(dir, "tools", "apktool.jar"); cfg.Tools.Apktool != want {
		t.Errorf("apktool = %q, want %q", cfg.Tools.Apktool, want)
	}
	if cfg.Tools.Apksigner != "apksigner" {
		t.Errorf("apksigner = %q, want bare command name", cfg.Tools.Apksigner)
	}
	if want := filepath.Join(dir, "keys", "test.jks"); cfg.Signing.Keystore != want {
		t.Errorf("keystore = %q, want %q", cfg.Signing.Keystore, want)
	}
	if cfg.Signing.Scheme != "v1v2" {
		t.Errorf("scheme = %q, want normalized v1v2", cfg.Signing.Scheme)
	}
	if cfg.Packaging.CompressionLevel != 6 {
		t.Errorf("compression level = %d, want 6", cfg.Packaging.CompressionLevel)
	}
	if cfg.Workspace.Cleanup != CleanupOnSuccess {
		t.Errorf("cleanup = %q, want %q", cfg.Workspace.Cleanup, CleanupOnSuccess)
	}
}

// TestLoad_RejectsInvalidValues covers the validation table.
func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad level", "packaging:\n  compression_level: 11\n", "compression_level"},
		{"bad alignment", "packaging:\n  compression_level: 9\n  alignment: sometimes\n", "alignment"},
		{"bad cleanup", "workspace:\n  cleanup: maybe\n", "cleanup"},
		{"bad scheme", "signing:\n  scheme: v3\n", "scheme"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "apkrepack.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

// TestLoad_MalformedYAMLFails rejects syntactically broken config.
func TestLoad_MalformedYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apkrepack.yaml")
	if err := os.WriteFile(path, []byte("tools: [not-a-map\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
