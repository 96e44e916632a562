package archive

import (
	"archive/zip"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"

	"apkrepack/internal/faults"
)

// Fixed MS-DOS timestamp (1980-01-01 00:00:00) written into every entry.
// Wall-clock timestamps would make two assemblies of the same tree differ.
const (
	fixedDosDate = uint16(0x21)
	fixedDosTime = uint16(0)
)

// Entry is one file scheduled for assembly. Name uses forward slashes and is
// relative to the source tree root.
type Entry struct {
	Name string
	Path string
	Size int64
}

// WalkTree enumerates the regular files under root in lexicographic entry
// name order. Directories become implicit through their children; symlinks
// are skipped rather than followed.
func WalkTree(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &faults.IOFailure{Op: "walk", Path: p, Err: err}
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return &faults.IOFailure{Op: "walk", Path: p, Err: err}
		}
		info, err := d.Info()
		if err != nil {
			return &faults.IOFailure{Op: "stat", Path: p, Err: err}
		}
		entries = append(entries, Entry{
			Name: filepath.ToSlash(rel),
			Path: p,
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for i := 1; i < len(entries); i++ {
		if entries[i].Name == entries[i-1].Name {
			return nil, &faults.StructuralConflict{Name: entries[i].Name, Reason: "duplicate entry"}
		}
	}
	return entries, nil
}

// Assemble builds a fresh archive at outPath from the tree rooted at srcDir.
// The output depends only on tree content: entry order, storage decisions and
// timestamps are all fixed, so identical trees produce byte-identical
// archives.
func Assemble(srcDir string, c *Classifier, level int, outPath string) error {
	entries, err := WalkTree(srcDir)
	if err != nil {
		return err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return &faults.IOFailure{Op: "create", Path: outPath, Err: err}
	}
	if err := assembleEntries(out, entries, c, level); err != nil {
		out.Close()
		os.Remove(outPath)
		return err
	}
	if err := out.Close(); err != nil {
		return &faults.IOFailure{Op: "close", Path: outPath, Err: err}
	}
	return nil
}

// assembleEntries writes the classified entries to w in the order given.
// Split out from Assemble so tests can drive it with synthetic entry lists.
func assembleEntries(w io.Writer, entries []Entry, c *Classifier, level int) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		name := filepath.ToSlash(e.Name)
		if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
			return &faults.StructuralConflict{Name: e.Name, Reason: "invalid entry name"}
		}
		pol := c.Classify(name, e.Size)
		if pol.Drop {
			continue
		}
		if _, dup := seen[name]; dup {
			return &faults.StructuralConflict{Name: name, Reason: "duplicate entry"}
		}
		seen[name] = struct{}{}

		var err error
		if pol.Method == zip.Store {
			err = writeStored(zw, name, e.Path)
		} else {
			err = writeDeflated(zw, name, e.Path)
		}
		if err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// writeStored emits a STORED entry through the raw path with the checksum and
// sizes precomputed, so no data descriptor follows the payload. The alignment
// pass depends on that: descriptors would shift every later entry when
// padding is inserted.
func writeStored(zw *zip.Writer, name, srcPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return &faults.IOFailure{Op: "read", Path: srcPath, Err: err}
	}
	fh := &zip.FileHeader{
		Name:               name,
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(data),
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: uint64(len(data)),
		ModifiedDate:       fixedDosDate,
		ModifiedTime:       fixedDosTime,
	}
	w, err := zw.CreateRaw(fh)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}

func writeDeflated(zw *zip.Writer, name, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return &faults.IOFailure{Op: "read", Path: srcPath, Err: err}
	}
	defer src.Close()

	fh := &zip.FileHeader{
		Name:         name,
		Method:       zip.Deflate,
		ModifiedDate: fixedDosDate,
		ModifiedTime: fixedDosTime,
	}
	w, err := zw.CreateHeader(fh)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}
