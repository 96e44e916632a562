// Package inspect reads identifying metadata back out of a packaged archive.
// It is read-only: the pipeline uses it for the info command and for
// reporting what a run produced.
package inspect

import (
	"archive/zip"
	"sort"
	"strings"

	"github.com/shogo82148/androidbinary/apk"

	"apkrepack/internal/faults"
)

// Summary is the identifying metadata of one packaged application.
type Summary struct {
	Package       string
	VersionName   string
	VersionCode   int64
	Label         string
	MinSDK        int32
	TargetSDK     int32
	Architectures []string
	Entries       int
}

// Summarize parses the binary manifest and resource table of the archive at
// path. Label resolution is best effort; a missing label leaves the field
// empty rather than failing the summary.
func Summarize(path string) (*Summary, error) {
	pkg, err := apk.OpenFile(path)
	if err != nil {
		return nil, &faults.IOFailure{Op: "open", Path: path, Err: err}
	}
	defer pkg.Close()

	m := pkg.Manifest()
	s := &Summary{
		Package:     m.Package.MustString(),
		VersionName: m.VersionName.MustString(),
		VersionCode: int64(m.VersionCode.MustInt32()),
		MinSDK:      m.SDK.Min.MustInt32(),
		TargetSDK:   m.SDK.Target.MustInt32(),
	}
	if label, err := pkg.Label(nil); err == nil {
		s.Label = label
	}

	s.Architectures, s.Entries, err = scanEntries(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// scanEntries counts archive entries and collects the native ABI directories
// under lib/.
func scanEntries(path string) ([]string, int, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, 0, &faults.IOFailure{Op: "open", Path: path, Err: err}
	}
	defer r.Close()

	abis := map[string]struct{}{}
	for _, f := range r.File {
		if !strings.HasPrefix(f.Name, "lib/") {
			continue
		}
		parts := strings.SplitN(f.Name, "/", 3)
		if len(parts) == 3 && parts[1] != "" {
			abis[parts[1]] = struct{}{}
		}
	}

	out := make([]string, 0, len(abis))
	for abi := range abis {
		out = append(out, abi)
	}
	sort.Strings(out)
	return out, len(r.File), nil
}
