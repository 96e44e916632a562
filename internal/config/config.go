// Package config loads the tool's YAML configuration file.
//
// The configuration is an immutable value threaded explicitly through the
// pipeline at construction. Concurrent pipeline runs therefore cannot observe
// each other's configuration; there is no ambient global state.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the working directory when no explicit
// config path is given.
const DefaultFileName = "apkrepack.yaml"

// Alignment strategies for the post-assembly alignment stage.
//
// The relative priority between an available external zipalign and the
// in-process pass is an explicit configuration choice, not an implicit
// fallback order.
const (
	AlignInternal = "internal"
	AlignZipalign = "zipalign"
	AlignSkip     = "skip"
)

// Cleanup policies for the pipeline workspace.
const (
	CleanupAlways    = "always"
	CleanupNever     = "never"
	CleanupOnSuccess = "on-success"
)

// ToolsConfig locates the external executables the pipeline shells out to.
// Apktool may point at a .jar, in which case Java is used to run it.
type ToolsConfig struct {
	Apktool   string `yaml:"apktool"`
	Java      string `yaml:"java"`
	Apksigner string `yaml:"apksigner"`
	Zipalign  string `yaml:"zipalign"`
	SevenZip  string `yaml:"sevenzip"`
}

// SigningConfig holds the signing defaults. Flags override these per run.
// KeyPass defaults to StorePass when empty.
type SigningConfig struct {
	Keystore  string `yaml:"keystore"`
	Alias     string `yaml:"alias"`
	StorePass string `yaml:"storepass"`
	KeyPass   string `yaml:"keypass"`
	Scheme    string `yaml:"scheme"` // v1 | v2 | v1v2
}

// PackagingConfig controls the in-process archive assembly and alignment.
type PackagingConfig struct {
	// CompressionLevel applies to DEFLATED entries (0-9).
	CompressionLevel int `yaml:"compression_level"`

	// Alignment selects the alignment stage strategy: internal | zipalign | skip.
	Alignment string `yaml:"alignment"`

	// ModernAlignTier aligns the resource table at 4096 bytes instead of 4,
	// as required by newer platform tiers that memory-map it.
	ModernAlignTier bool `yaml:"modern_align_tier"`

	// NoCompress lists file extensions stored without compression.
	// Empty means the built-in default set.
	NoCompress []string `yaml:"no_compress"`
}

// WorkspaceConfig governs the transient working directory of one run.
type WorkspaceConfig struct {
	Cleanup    string `yaml:"cleanup"` // always | never | on-success
	TempPrefix string `yaml:"temp_prefix"`
}

// Config models the full apkrepack.yaml file.
type Config struct {
	Version   int             `yaml:"version"`
	Tools     ToolsConfig     `yaml:"tools"`
	Signing   SigningConfig   `yaml:"signing"`
	Packaging PackagingConfig `yaml:"packaging"`
	Workspace WorkspaceConfig `yaml:"workspace"`
}

// Default returns the built-in configuration used when no file exists.
func Default() Config {
	return Config{
		Version: 1,
		Tools: ToolsConfig{
			Apktool:   "apktool",
			Java:      "java",
			Apksigner: "apksigner",
			Zipalign:  "zipalign",
		},
		Signing: SigningConfig{
			Scheme: "v2",
		},
		Packaging: PackagingConfig{
			CompressionLevel: 9,
			Alignment:        AlignInternal,
			ModernAlignTier:  true,
		},
		Workspace: WorkspaceConfig{
			Cleanup:    CleanupAlways,
			TempPrefix: "apkrepack-",
		},
	}
}

// Load reads the config file at path. A missing file is not an error: the
// defaults apply. Relative tool and keystore paths are resolved against the
// directory containing the config file.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: resolve base dir: %w", err)
	}
	cfg.normalize(base)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize(base string) {
	if c.Version == 0 {
		c.Version = 1
	}
	def := Default()
	if strings.TrimSpace(c.Workspace.Cleanup) == "" {
		c.Workspace.Cleanup = def.Workspace.Cleanup
	}
	if strings.TrimSpace(c.Workspace.TempPrefix) == "" {
		c.Workspace.TempPrefix = def.Workspace.TempPrefix
	}
	if strings.TrimSpace(c.Packaging.Alignment) == "" {
		c.Packaging.Alignment = def.Packaging.Alignment
	}
	if strings.TrimSpace(c.Signing.Scheme) == "" {
		c.Signing.Scheme = def.Signing.Scheme
	}
	c.Workspace.Cleanup = strings.ToLower(strings.TrimSpace(c.Workspace.Cleanup))
	c.Packaging.Alignment = strings.ToLower(strings.TrimSpace(c.Packaging.Alignment))
	c.Signing.Scheme = strings.ToLower(strings.TrimSpace(c.Signing.Scheme))

	// Only keystore resolution is path-sensitive among signing fields.
	c.Signing.Keystore = resolvePath(base, c.Signing.Keystore)
	c.Tools.Apktool = resolveTool(base, c.Tools.Apktool, def.Tools.Apktool)
	c.Tools.Java = resolveTool(base, c.Tools.Java, def.Tools.Java)
	c.Tools.Apksigner = resolveTool(base, c.Tools.Apksigner, def.Tools.Apksigner)
	c.Tools.Zipalign = resolveTool(base, c.Tools.Zipalign, def.Tools.Zipalign)
	c.Tools.SevenZip = resolveTool(base, c.Tools.SevenZip, "")
}

func (c *Config) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if c.Packaging.CompressionLevel < 0 || c.Packaging.CompressionLevel > 9 {
		return fmt.Errorf("packaging.compression_level must be in [0,9], got %d", c.Packaging.CompressionLevel)
	}
	switch c.Packaging.Alignment {
	case AlignInternal, AlignZipalign, AlignSkip:
	default:
		return fmt.Errorf("packaging.alignment must be internal, zipalign or skip, got %q", c.Packaging.Alignment)
	}
	switch c.Workspace.Cleanup {
	case CleanupAlways, CleanupNever, CleanupOnSuccess:
	default:
		return fmt.Errorf("workspace.cleanup must be always, never or on-success, got %q", c.Workspace.Cleanup)
	}
	switch c.Signing.Scheme {
	case "v1", "v2", "v1v2":
	default:
		return fmt.Errorf("signing.scheme must be v1, v2 or v1v2, got %q", c.Signing.Scheme)
	}
	return nil
}

// resolveTool keeps bare command names untouched so PATH lookup still works,
// and resolves explicit relative paths against the config file's directory.
func resolveTool(base, value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	if !strings.ContainsRune(trimmed, os.PathSeparator) && !strings.ContainsRune(trimmed, '/') {
		return trimmed
	}
	return resolvePath(base, trimmed)
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
