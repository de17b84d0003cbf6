// Package container defines the on-disk patch file format written by the
// diffrelay CLI. A file is a 5-byte preamble (magic plus compression codec),
// a length-prefixed JSON header, and three length-prefixed sections holding
// the control, diff, and extra streams, each compressed independently with
// the declared codec.
package container

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Magic identifies a diffrelay patch container.
var Magic = [4]byte{'D', 'R', 'P', '1'}

// Compression identifies the codec applied to each section.
type Compression byte

// Supported codecs.
const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionXZ   Compression = 2
)

// maxSectionSize caps any single decoded section; it mirrors the 2^31-1
// protocol limit on buffer sizes.
const maxSectionSize = 1<<31 - 1

// String returns the codec's config name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionXZ:
		return "xz"
	default:
		return fmt.Sprintf("unknown(%d)", byte(c))
	}
}

// ParseCompression maps a config name to a codec.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "xz":
		return CompressionXZ, nil
	default:
		return 0, fmt.Errorf("unsupported compression: %s (must be 'none', 'zstd' or 'xz')", name)
	}
}

// Header describes the patch independent of its payload sections.
type Header struct {
	// Engine names the engine that produced the delta ("raw" or "bsdiff4").
	Engine string `json:"engine"`

	// CurrentLen is the exact byte length of the reconstructed target.
	CurrentLen uint32 `json:"current_len"`

	// ChunkSize is the chunk size used for the target Merkle root.
	ChunkSize int `json:"chunk_size"`

	// TargetRoot is the Merkle root of the target buffer, verified after
	// reconstruction.
	TargetRoot []byte `json:"target_root"`
}

// File is a fully decoded patch container.
type File struct {
	Header  Header
	Control []byte
	Diff    []byte
	Extra   []byte
}

// Write serializes f with the given codec.
func Write(w io.Writer, f *File, comp Compression) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if _, err := w.Write([]byte{byte(comp)}); err != nil {
		return fmt.Errorf("write codec: %w", err)
	}

	hdr, err := json.Marshal(f.Header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if err := writeSection(w, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, s := range []struct {
		name string
		data []byte
	}{
		{"control", f.Control},
		{"diff", f.Diff},
		{"extra", f.Extra},
	} {
		packed, err := compress(s.data, comp)
		if err != nil {
			return fmt.Errorf("compress %s section: %w", s.name, err)
		}
		if err := writeSection(w, packed); err != nil {
			return fmt.Errorf("write %s section: %w", s.name, err)
		}
	}

	return nil
}

// Read parses a patch container.
func Read(r io.Reader) (*File, error) {
	var preamble [5]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return nil, fmt.Errorf("read preamble: %w", err)
	}
	if !bytes.Equal(preamble[:4], Magic[:]) {
		return nil, fmt.Errorf("not a diffrelay patch container")
	}
	comp := Compression(preamble[4])
	if comp != CompressionNone && comp != CompressionZstd && comp != CompressionXZ {
		return nil, fmt.Errorf("unsupported compression codec %d", preamble[4])
	}

	hdr, err := readSection(r)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	f := &File{}
	if err := json.Unmarshal(hdr, &f.Header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	for _, s := range []struct {
		name string
		dst  *[]byte
	}{
		{"control", &f.Control},
		{"diff", &f.Diff},
		{"extra", &f.Extra},
	} {
		packed, err := readSection(r)
		if err != nil {
			return nil, fmt.Errorf("read %s section: %w", s.name, err)
		}
		data, err := decompress(packed, comp)
		if err != nil {
			return nil, fmt.Errorf("decompress %s section: %w", s.name, err)
		}
		*s.dst = data
	}

	return f, nil
}

func writeSection(w io.Writer, data []byte) error {
	if len(data) > maxSectionSize {
		return fmt.Errorf("section of %d bytes exceeds limit", len(data))
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(data)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readSection(r io.Reader) ([]byte, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(n[:])
	if size > maxSectionSize {
		return nil, fmt.Errorf("section of %d bytes exceeds limit", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func compress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		var buf bytes.Buffer
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := enc.Write(data); err != nil {
			enc.Close()
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionXZ:
		var buf bytes.Buffer
		enc, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := enc.Write(data); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression codec %d", byte(comp))
	}
}

func decompress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(io.LimitReader(dec.IOReadCloser(), maxSectionSize))
	case CompressionXZ:
		dec, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(io.LimitReader(dec, maxSectionSize))
	default:
		return nil, fmt.Errorf("unsupported compression codec %d", byte(comp))
	}
}
