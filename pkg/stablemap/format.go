package stablemap

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	headerMagic   = "SMP"
	headerVersion = 1

	// Header layout
	// - magic (3 bytes), version (1 byte)
	// - max value size (4 bytes)
	// - log start (8 bytes), log end (8 bytes)
	// - reserved
	// - checksum (8 bytes) over everything before it
	headerSize     = 64
	checksumOffset = headerSize - 8

	// dataStart is the first byte usable by the log
	dataStart = headerSize

	// Frame layout
	// - checksum (8 bytes) over length, type and payload
	// - payload length (4 bytes)
	// - type (1 byte)
	// - payload: key (8 bytes) | value
	frameHeaderSize = 13
	keySize         = 8

	// Record types
	recordTypePut    = 1
	recordTypeDelete = 2
)

// header is the persisted state of the map
type header struct {
	maxValueSize uint32
	logStart     uint64
	logEnd       uint64
}

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:3], headerMagic)
	buf[3] = headerVersion
	binary.LittleEndian.PutUint32(buf[4:8], h.maxValueSize)
	binary.LittleEndian.PutUint64(buf[8:16], h.logStart)
	binary.LittleEndian.PutUint64(buf[16:24], h.logEnd)
	binary.LittleEndian.PutUint64(buf[checksumOffset:], xxhash.Sum64(buf[:checksumOffset]))
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if string(buf[0:3]) != headerMagic {
		return header{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, buf[0:3])
	}
	if buf[3] != headerVersion {
		return header{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, buf[3])
	}
	if xxhash.Sum64(buf[:checksumOffset]) != binary.LittleEndian.Uint64(buf[checksumOffset:]) {
		return header{}, fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}

	h := header{
		maxValueSize: binary.LittleEndian.Uint32(buf[4:8]),
		logStart:     binary.LittleEndian.Uint64(buf[8:16]),
		logEnd:       binary.LittleEndian.Uint64(buf[16:24]),
	}
	if h.logStart < dataStart || h.logEnd < h.logStart {
		return header{}, fmt.Errorf("%w: invalid log bounds [%d, %d)", ErrCorrupt, h.logStart, h.logEnd)
	}
	return h, nil
}

// encodeFrame builds a complete log record
func encodeFrame(recordType uint8, key uint64, value []byte) []byte {
	payloadLen := keySize + len(value)
	buf := make([]byte, frameHeaderSize+payloadLen)

	binary.LittleEndian.PutUint32(buf[8:12], uint32(payloadLen))
	buf[12] = recordType
	binary.LittleEndian.PutUint64(buf[frameHeaderSize:], key)
	copy(buf[frameHeaderSize+keySize:], value)

	binary.LittleEndian.PutUint64(buf[0:8], xxhash.Sum64(buf[8:]))
	return buf
}

// frameSize returns the encoded size of a record carrying a value of n bytes
func frameSize(n int) uint64 {
	return uint64(frameHeaderSize + keySize + n)
}

// valueOffset returns the position of the value inside the frame at off
func valueOffset(off uint64) int64 {
	return int64(off + frameHeaderSize + keySize)
}
