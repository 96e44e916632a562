package tools

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"apkrepack/internal/faults"
)

// MetadataName is the marker file a resource-decoded tree carries at its
// root. Its presence selects the decoder-driven build strategy.
const MetadataName = "apktool.yml"

// Apktool drives the external resource decoder/builder. When Path ends in
// .jar the tool is launched through the configured Java runtime.
type Apktool struct {
	Path string
	Java string
}

// command maps the logical invocation onto the executable form.
func (a *Apktool) command(args ...string) (string, []string) {
	if strings.EqualFold(filepath.Ext(a.Path), ".jar") {
		return a.Java, append([]string{"-jar", a.Path}, args...)
	}
	return a.Path, args
}

// Decode unpacks apkPath into outDir, overwriting a previous decode.
func (a *Apktool) Decode(ctx context.Context, apkPath, outDir string) error {
	name, args := a.command("d", apkPath, "-o", outDir, "-f")
	_, err := Run(ctx, name, args...)
	return err
}

// Build rebuilds the decoded tree at srcDir into outApk. The builder handles
// resource recompilation itself; alignment and signing stay with the
// pipeline.
func (a *Apktool) Build(ctx context.Context, srcDir, outApk string) error {
	name, args := a.command("b", srcDir, "-o", outApk, "--use-aapt2")
	_, err := Run(ctx, name, args...)
	return err
}

// HasMetadata reports whether dir is a decoded tree.
func HasMetadata(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, MetadataName))
	return err == nil && info.Mode().IsRegular()
}

// Metadata is the subset of the decoder's marker file the pipeline reads.
type Metadata struct {
	Version     string `yaml:"version"`
	ApkFileName string `yaml:"apkFileName"`
	SdkInfo     struct {
		MinSdkVersion    string `yaml:"minSdkVersion"`
		TargetSdkVersion string `yaml:"targetSdkVersion"`
	} `yaml:"sdkInfo"`
	VersionInfo struct {
		VersionCode string `yaml:"versionCode"`
		VersionName string `yaml:"versionName"`
	} `yaml:"versionInfo"`
}

// ReadMetadata parses the marker file in a decoded tree. Older decoder
// versions prefix the document with a java-side type tag, which is stripped
// before parsing.
func ReadMetadata(dir string) (*Metadata, error) {
	path := filepath.Join(dir, MetadataName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &faults.IOFailure{Op: "read", Path: path, Err: err}
	}
	if bytes.HasPrefix(data, []byte("!!")) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		}
	}
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, &faults.IOFailure{Op: "parse", Path: path, Err: err}
	}
	return &meta, nil
}
