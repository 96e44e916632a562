package archive

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"apkrepack/internal/faults"
)

// alignExtraID is the extra-field header ID used for alignment padding,
// matching the padding field emitted by the platform's alignment tool. The
// field payload is a uint16 alignment value followed by zero bytes.
const alignExtraID = uint16(0xd935)

// localHeaderLen is the fixed portion of a ZIP local file header.
const localHeaderLen = 30

// dataDescriptorFlag marks an entry whose sizes trail the payload. The
// rewrite always clears it: trailing descriptors make entry offsets depend on
// payload layout, which breaks padding arithmetic.
const dataDescriptorFlag = uint16(0x8)

// Align rewrites the archive at inPath to outPath so that every stored entry
// with an alignment requirement starts its data on the required boundary.
// Padding rides in an extra field on the local header; existing padding
// fields are stripped first and recomputed, which makes the rewrite
// idempotent: aligning an aligned archive reproduces it byte for byte.
//
// inPath and outPath may be the same file.
func Align(inPath, outPath string, c *Classifier) error {
	r, err := zip.OpenReader(inPath)
	if err != nil {
		return &faults.IOFailure{Op: "open", Path: inPath, Err: err}
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".align-*")
	if err != nil {
		return &faults.IOFailure{Op: "create", Path: outPath, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := alignTo(tmp, &r.Reader, c); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return &faults.IOFailure{Op: "close", Path: tmpPath, Err: err}
	}
	// Source must be released before rename when rewriting in place.
	r.Close()
	if err := os.Rename(tmpPath, outPath); err != nil {
		return &faults.IOFailure{Op: "rename", Path: outPath, Err: err}
	}
	return nil
}

func alignTo(w io.Writer, r *zip.Reader, c *Classifier) error {
	zw := zip.NewWriter(w)
	if r.Comment != "" {
		if err := zw.SetComment(r.Comment); err != nil {
			return fmt.Errorf("align: %w", err)
		}
	}

	// Running byte offset of the next local header. The writer is
	// sequential, so the offset is fully determined by what has been
	// written: header, name, extra, payload, no descriptors.
	var offset uint64
	for _, f := range r.File {
		fh := f.FileHeader
		fh.Flags &^= dataDescriptorFlag
		fh.Extra = stripAlignExtra(fh.Extra)

		pol := c.Classify(fh.Name, int64(fh.UncompressedSize64))
		if !pol.Drop && pol.Alignment > 1 && fh.Method == zip.Store {
			base := offset + localHeaderLen + uint64(len(fh.Name)) + uint64(len(fh.Extra))
			fh.Extra = appendAlignExtra(fh.Extra, base, uint64(pol.Alignment))
		}

		src, err := f.OpenRaw()
		if err != nil {
			return fmt.Errorf("align %s: %w", fh.Name, err)
		}
		dst, err := zw.CreateRaw(&fh)
		if err != nil {
			return fmt.Errorf("align %s: %w", fh.Name, err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			return fmt.Errorf("align %s: %w", fh.Name, err)
		}
		offset += localHeaderLen + uint64(len(fh.Name)) + uint64(len(fh.Extra)) + fh.CompressedSize64
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("align: finalize archive: %w", err)
	}
	return nil
}

// appendAlignExtra pads the local header so the entry data lands on the
// boundary. base is the data offset before padding. An already aligned entry
// gets no field at all, keeping the minimal form canonical.
func appendAlignExtra(extra []byte, base, align uint64) []byte {
	if base%align == 0 {
		return extra
	}
	// The field itself occupies 6+n bytes (id, size, alignment value,
	// n zero bytes), all of which precede the data.
	n := (align - (base+6)%align) % align
	field := make([]byte, 6+n)
	binary.LittleEndian.PutUint16(field[0:], alignExtraID)
	binary.LittleEndian.PutUint16(field[2:], uint16(2+n))
	binary.LittleEndian.PutUint16(field[4:], uint16(align))
	return append(extra, field...)
}

// stripAlignExtra removes any alignment padding fields, leaving other extra
// fields intact. Malformed extra data is returned unmodified.
func stripAlignExtra(extra []byte) []byte {
	var out []byte
	rest := extra
	for len(rest) >= 4 {
		id := binary.LittleEndian.Uint16(rest[0:])
		size := int(binary.LittleEndian.Uint16(rest[2:]))
		if 4+size > len(rest) {
			return extra
		}
		if id != alignExtraID {
			out = append(out, rest[:4+size]...)
		}
		rest = rest[4+size:]
	}
	if len(rest) > 0 {
		return extra
	}
	return out
}

// Check reports whether every stored entry with an alignment requirement has
// its data start on the required boundary.
func Check(path string, c *Classifier) (bool, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false, &faults.IOFailure{Op: "open", Path: path, Err: err}
	}
	defer r.Close()

	for _, f := range r.File {
		pol := c.Classify(f.Name, int64(f.UncompressedSize64))
		if pol.Drop || pol.Alignment <= 1 || f.Method != zip.Store {
			continue
		}
		off, err := f.DataOffset()
		if err != nil {
			return false, fmt.Errorf("check %s: %w", f.Name, err)
		}
		if off%int64(pol.Alignment) != 0 {
			return false, nil
		}
	}
	return true, nil
}

// EntrySum identifies one archive entry by name, checksum and size.
type EntrySum struct {
	Name  string
	CRC32 uint32
	Size  uint64
}

// Snapshot lists the entries of an archive sorted by name. Two snapshots
// compare equal exactly when the archives hold the same logical content,
// regardless of entry order, compression or padding.
func Snapshot(path string) ([]EntrySum, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, &faults.IOFailure{Op: "open", Path: path, Err: err}
	}
	defer r.Close()

	sums := make([]EntrySum, 0, len(r.File))
	for _, f := range r.File {
		sums = append(sums, EntrySum{Name: f.Name, CRC32: f.CRC32, Size: f.UncompressedSize64})
	}
	sort.Slice(sums, func(i, j int) bool { return sums[i].Name < sums[j].Name })
	return sums, nil
}
