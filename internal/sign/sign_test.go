package sign

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"apkrepack/internal/faults"
)

func validConfig(t *testing.T) (Config, string) {
	t.Helper()
	dir := t.TempDir()
	keystore := filepath.Join(dir, "test.jks")
	if err := os.WriteFile(keystore, []byte("not a real keystore"), 0o600); err != nil {
		t.Fatal(err)
	}
	apk := filepath.Join(dir, "app.apk")
	if err := os.WriteFile(apk, []byte("PK"), 0o644); err != nil {
		t.Fatal(err)
	}
	return Config{
		Keystore:  keystore,
		Alias:     "testkey",
		StorePass: "test001",
		Schemes:   SchemeSet{V2: true},
	}, apk
}

// Precondition violations must surface before any subprocess runs. The
// signer path points at a binary that cannot exist; reaching it would turn
// the expected PreconditionFailed into an ExternalToolFailure.
func TestSign_PreconditionsCheckedBeforeSpawn(t *testing.T) {
	signer := &Signer{Path: "definitely-not-apksigner-7f3a"}

	mutations := []struct {
		name  string
		check string
		apply func(cfg *Config, apk *string)
	}{
		{"missing keystore", "keystore", func(cfg *Config, _ *string) {
			cfg.Keystore = filepath.Join(t.TempDir(), "nope.jks")
		}},
		{"empty keystore path", "keystore", func(cfg *Config, _ *string) { cfg.Keystore = "" }},
		{"empty alias", "alias", func(cfg *Config, _ *string) { cfg.Alias = "" }},
		{"empty storepass", "storepass", func(cfg *Config, _ *string) { cfg.StorePass = "" }},
		{"no schemes", "scheme", func(cfg *Config, _ *string) { cfg.Schemes = SchemeSet{} }},
		{"missing input", "input", func(_ *Config, apk *string) {
			*apk = filepath.Join(t.TempDir(), "nope.apk")
		}},
	}
	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			cfg, apk := validConfig(t)
			tc.apply(&cfg, &apk)

			err := signer.Sign(context.Background(), cfg, apk)
			var pre *faults.PreconditionFailed
			if !errors.As(err, &pre) {
				t.Fatalf("err = %v, want PreconditionFailed", err)
			}
			if pre.Check != tc.check {
				t.Errorf("failed check = %q, want %q", pre.Check, tc.check)
			}
		})
	}
}

func TestSign_AbsentSignerAfterValidPreconditions(t *testing.T) {
	signer := &Signer{Path: "definitely-not-apksigner-7f3a"}
	cfg, apk := validConfig(t)
	err := signer.Sign(context.Background(), cfg, apk)
	var toolErr *faults.ExternalToolFailure
	if !errors.As(err, &toolErr) || !toolErr.Absent {
		t.Fatalf("err = %v, want absent ExternalToolFailure", err)
	}
}

func TestSign_NonZeroExitBecomesSigningFailed(t *testing.T) {
	// false(1) stands in for a signer that runs and exits non-zero.
	signer := &Signer{Path: "false"}
	cfg, apk := validConfig(t)
	err := signer.Sign(context.Background(), cfg, apk)
	var signErr *faults.SigningFailed
	if !errors.As(err, &signErr) {
		t.Fatalf("err = %v, want SigningFailed", err)
	}
}

func TestBuildArgs(t *testing.T) {
	cfg := Config{
		Keystore:  "/keys/release.jks",
		Alias:     "release",
		StorePass: "storepw",
		KeyPass:   "keypw",
		Schemes:   SchemeSet{V1: true, V2: true},
	}
	got := buildArgs(cfg, "/work/app.apk")
	want := []string{
		"sign",
		"--ks", "/keys/release.jks",
		"--ks-key-alias", "release",
		"--ks-pass", "pass:storepw",
		"--key-pass", "pass:keypw",
		"--v1-signing-enabled", "true",
		"--v2-signing-enabled", "true",
		"/work/app.apk",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs = %v, want %v", got, want)
	}
}

func TestBuildArgs_KeyPassDefaultsToStorePass(t *testing.T) {
	cfg := Config{
		Keystore:  "/keys/release.jks",
		Alias:     "release",
		StorePass: "shared",
		Schemes:   SchemeSet{V2: true},
	}
	args := buildArgs(cfg, "app.apk")
	found := false
	for i, a := range args {
		if a == "--key-pass" {
			found = true
			if args[i+1] != "pass:shared" {
				t.Errorf("key-pass = %q, want pass:shared", args[i+1])
			}
		}
		if a == "--v1-signing-enabled" && args[i+1] != "false" {
			t.Errorf("v1 enabled = %q, want false", args[i+1])
		}
	}
	if !found {
		t.Error("--key-pass missing from args")
	}
}

func TestParseSchemeSet(t *testing.T) {
	cases := []struct {
		in      string
		want    SchemeSet
		wantErr bool
	}{
		{"v1", SchemeSet{V1: true}, false},
		{"V2", SchemeSet{V2: true}, false},
		{" v1v2 ", SchemeSet{V1: true, V2: true}, false},
		{"v3", SchemeSet{}, true},
		{"", SchemeSet{}, true},
	}
	for _, tc := range cases {
		got, err := ParseSchemeSet(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseSchemeSet(%q) succeeded, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSchemeSet(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSchemeSet(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestVerify_UnsignedArchiveFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.apk")
	if err := os.WriteFile(path, []byte("not an archive"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Verify(path)
	var signErr *faults.SigningFailed
	if !errors.As(err, &signErr) {
		t.Errorf("err = %v, want SigningFailed", err)
	}
}
