// Package archive builds and post-processes the ZIP container that holds a
// repackaged application.
//
// It is intentionally split into:
//   - Entry classification (storage method, alignment, drop) as a pure policy
//   - Assembly: deterministic tree -> archive construction
//   - Alignment: an idempotent rewrite that pads stored entries to their
//     required byte boundaries
package archive

import (
	"archive/zip"
	"path"
	"strings"
)

// signaturePrefix is the reserved signature-metadata directory. Entries under
// it are dropped during assembly: stale signatures must not survive
// repackaging.
const signaturePrefix = "META-INF/"

// resourceTableName is the single entry that newer platform tiers map
// directly into memory, requiring page alignment.
const resourceTableName = "resources.arsc"

// DefaultNoCompress is the canonical set of extensions whose on-disk form is
// already compressed. Compressing them again wastes CPU for no size win, so
// they are stored.
var DefaultNoCompress = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp",
	".wav", ".mp2", ".mp3", ".ogg", ".aac",
	".mpg", ".mpeg", ".mid", ".midi", ".smf", ".jet",
	".rtttl", ".imy", ".xmf", ".mp4", ".m4a", ".m4v",
	".3gp", ".3gpp", ".3g2", ".3gpp2", ".amr", ".awb",
	".wma", ".wmv", ".webm", ".mkv",
}

// Policy is the per-entry packaging decision.
type Policy struct {
	// Method is zip.Store or zip.Deflate.
	Method uint16

	// Alignment is the required byte boundary of the entry's data start.
	// Zero means no requirement. Only meaningful for stored entries;
	// compression destroys byte-exact alignment anyway.
	Alignment int

	// Drop excludes the entry from the archive entirely.
	Drop bool
}

// Classifier decides the packaging policy for each entry. It is a pure
// function of entry name and size; safe for concurrent use.
type Classifier struct {
	noCompress map[string]struct{}
	tableAlign int
}

// NewClassifier builds a classifier. An empty extension list selects
// DefaultNoCompress. modernTier aligns the resource table at 4096 bytes
// instead of 4.
func NewClassifier(noCompressExts []string, modernTier bool) *Classifier {
	if len(noCompressExts) == 0 {
		noCompressExts = DefaultNoCompress
	}
	set := make(map[string]struct{}, len(noCompressExts))
	for _, ext := range noCompressExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	tableAlign := 4
	if modernTier {
		tableAlign = 4096
	}
	return &Classifier{noCompress: set, tableAlign: tableAlign}
}

// Classify returns the packaging policy for an archive entry name (forward
// slashes) and its uncompressed size. Rules apply in priority order.
func (c *Classifier) Classify(name string, size int64) Policy {
	name = path.Clean(strings.TrimPrefix(name, "/"))

	if strings.HasPrefix(name, signaturePrefix) {
		return Policy{Drop: true}
	}
	if isNativeLib(name) {
		return Policy{Method: zip.Store, Alignment: 4}
	}
	if name == resourceTableName {
		return Policy{Method: zip.Store, Alignment: c.tableAlign}
	}
	if _, ok := c.noCompress[strings.ToLower(path.Ext(name))]; ok {
		return Policy{Method: zip.Store}
	}
	// Zero-length deflate streams are mishandled by some readers and save
	// nothing; store empty files as-is.
	if size == 0 {
		return Policy{Method: zip.Store}
	}
	return Policy{Method: zip.Deflate}
}

func isNativeLib(name string) bool {
	return strings.HasPrefix(name, "lib/") && strings.HasSuffix(name, ".so")
}
