package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Codec selects the compression applied to snapshot page data
type Codec uint8

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecZstd
)

const (
	snapshotMagic = "HRSNAP01"
	// magic(8) + codec(1) + pages(8) + checksum(8)
	snapshotHeaderSize = 25
)

var (
	// ErrUnknownCodec is returned when an unsupported compression codec is specified
	ErrUnknownCodec = errors.New("unknown compression codec")
	// ErrInvalidSnapshot is returned when snapshot data cannot be verified
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrSnapshotTarget is returned when restoring into a memory that is not empty
	ErrSnapshotTarget = errors.New("snapshot target memory is not empty")
)

// String returns the codec name
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec converts a codec name into a Codec
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CodecNone, nil
	case "snappy":
		return CodecSnappy, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// WriteSnapshot streams every page of m to w using the given codec.
// The caller must make sure m is not mutated while the snapshot is taken.
func WriteSnapshot(w io.Writer, m Memory, codec Codec) error {
	pages := m.Size()
	page := make([]byte, PageSize)

	// First pass computes the checksum so it can live in the header
	digest := xxhash.New()
	for i := uint64(0); i < pages; i++ {
		if _, err := m.ReadAt(page, int64(i*PageSize)); err != nil {
			return fmt.Errorf("failed to read page %d: %w", i, err)
		}
		digest.Write(page)
	}

	header := make([]byte, snapshotHeaderSize)
	copy(header[0:8], snapshotMagic)
	header[8] = byte(codec)
	binary.LittleEndian.PutUint64(header[9:17], pages)
	binary.LittleEndian.PutUint64(header[17:25], digest.Sum64())
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	cw, err := newCompressor(w, codec)
	if err != nil {
		return err
	}

	for i := uint64(0); i < pages; i++ {
		if _, err := m.ReadAt(page, int64(i*PageSize)); err != nil {
			cw.Close()
			return fmt.Errorf("failed to read page %d: %w", i, err)
		}
		if _, err := cw.Write(page); err != nil {
			cw.Close()
			return fmt.Errorf("failed to write page %d: %w", i, err)
		}
	}

	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to finish snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot restores a snapshot produced by WriteSnapshot into dst, which must be empty
func ReadSnapshot(r io.Reader, dst Memory) error {
	if dst.Size() != 0 {
		return ErrSnapshotTarget
	}

	header := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("%w: short header: %v", ErrInvalidSnapshot, err)
	}
	if string(header[0:8]) != snapshotMagic {
		return fmt.Errorf("%w: bad magic %q", ErrInvalidSnapshot, header[0:8])
	}

	codec := Codec(header[8])
	pages := binary.LittleEndian.Uint64(header[9:17])
	want := binary.LittleEndian.Uint64(header[17:25])

	if pages > MaxPages {
		return fmt.Errorf("%w: %d pages exceeds limit", ErrInvalidSnapshot, pages)
	}

	cr, err := newDecompressor(r, codec)
	if err != nil {
		return err
	}
	defer cr.Close()

	if _, err := dst.Grow(pages); err != nil {
		return fmt.Errorf("failed to size snapshot target: %w", err)
	}

	digest := xxhash.New()
	page := make([]byte, PageSize)
	for i := uint64(0); i < pages; i++ {
		if _, err := io.ReadFull(cr, page); err != nil {
			return fmt.Errorf("%w: page %d: %v", ErrInvalidSnapshot, i, err)
		}
		digest.Write(page)
		if _, err := dst.WriteAt(page, int64(i*PageSize)); err != nil {
			return fmt.Errorf("failed to write page %d: %w", i, err)
		}
	}

	if got := digest.Sum64(); got != want {
		return fmt.Errorf("%w: checksum mismatch: have %x, want %x", ErrInvalidSnapshot, got, want)
	}
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func newCompressor(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecSnappy:
		return snappy.NewBufferedWriter(w), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create ZSTD encoder: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

func newDecompressor(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}
