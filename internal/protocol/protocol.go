package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"unicode/utf8"
)

//go:generate go tool stringer -type=Tag
type Tag uint8

const (
	// FixedSize: one value of constant size
	TagFixedSize Tag = 0x00

	// Dynamic: runtime-length sequence of fixed-size elements
	TagDynamic Tag = 0x01

	// 0x02-0xFF: Reserved
)

// Record Layout (little-endian):
//
// MAGIC "SHMT"                          4 bytes
// VERSION                               1 byte
// ENTRY header | user_header | payload  3 times:
//     TAG                               1 byte
//     NAME_LEN                          4 bytes
//     NAME                              NAME_LEN bytes, UTF-8
//     SIZE                              8 bytes
//     ALIGNMENT                         8 bytes
// CRC32 (IEEE) over all previous bytes  4 bytes

const (
	Magic   = "SHMT"
	Version = 0x01

	// MaxTypeNameLength bounds a single type name in a record
	MaxTypeNameLength = 4096

	preambleSize = len(Magic) + 1
	entryFixed   = 1 + 4 + 8 + 8
	crcSize      = 4

	// MinRecordSize is the size of a record with three empty type names
	MinRecordSize = preambleSize + 3*entryFixed + crcSize
)

var (
	ErrShortRecord  = errors.New("protocol: record too short")
	ErrBadMagic     = errors.New("protocol: bad magic")
	ErrBadVersion   = errors.New("protocol: unsupported version")
	ErrBadTag       = errors.New("protocol: unknown variant tag")
	ErrBadName      = errors.New("protocol: invalid type name")
	ErrTrailingData = errors.New("protocol: trailing data")
	ErrChecksum     = errors.New("protocol: checksum mismatch")
)

// Entry is the persisted form of one region descriptor
type Entry struct {
	Tag       Tag
	Name      string
	Size      uint64
	Alignment uint64
}

// Record is the persisted form of a message descriptor
type Record struct {
	Header     Entry
	UserHeader Entry
	Payload    Entry
}

func (r *Record) entries() [3]*Entry {
	return [3]*Entry{&r.Header, &r.UserHeader, &r.Payload}
}

// EncodedSize returns the number of bytes Encode produces for r
func (r *Record) EncodedSize() int {
	n := MinRecordSize
	for _, e := range r.entries() {
		n += len(e.Name)
	}
	return n
}

// Encode serializes the record
func (r *Record) Encode() ([]byte, error) {
	out := make([]byte, 0, r.EncodedSize())
	out = append(out, Magic...)
	out = append(out, Version)

	for _, e := range r.entries() {
		if e.Tag > TagDynamic {
			return nil, fmt.Errorf("%w: %s", ErrBadTag, e.Tag)
		}
		if len(e.Name) > MaxTypeNameLength || !utf8.ValidString(e.Name) {
			return nil, fmt.Errorf("%w: %.64q", ErrBadName, e.Name)
		}
		out = append(out, byte(e.Tag))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(e.Name)))
		out = append(out, e.Name...)
		out = binary.LittleEndian.AppendUint64(out, e.Size)
		out = binary.LittleEndian.AppendUint64(out, e.Alignment)
	}

	return binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(out)), nil
}

// Decode parses a record produced by Encode.
// The returned record does not alias data.
func Decode(data []byte) (Record, error) {
	var r Record

	if len(data) < MinRecordSize {
		return r, ErrShortRecord
	}
	if string(data[:len(Magic)]) != Magic {
		return r, ErrBadMagic
	}
	if v := data[len(Magic)]; v != Version {
		return r, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}

	body := data[:len(data)-crcSize]
	want := binary.LittleEndian.Uint32(data[len(data)-crcSize:])
	if crc32.ChecksumIEEE(body) != want {
		return r, ErrChecksum
	}

	off := preambleSize
	for _, e := range r.entries() {
		n, err := decodeEntry(body[off:], e)
		if err != nil {
			return Record{}, err
		}
		off += n
	}
	if off != len(body) {
		return Record{}, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(body)-off)
	}

	return r, nil
}

func decodeEntry(b []byte, e *Entry) (int, error) {
	if len(b) < entryFixed {
		return 0, ErrShortRecord
	}

	e.Tag = Tag(b[0])
	if e.Tag > TagDynamic {
		return 0, fmt.Errorf("%w: %s", ErrBadTag, e.Tag)
	}

	nameLen := binary.LittleEndian.Uint32(b[1:5])
	if nameLen > MaxTypeNameLength {
		return 0, fmt.Errorf("%w: length %d", ErrBadName, nameLen)
	}
	if uint64(len(b)) < uint64(entryFixed)+uint64(nameLen) {
		return 0, ErrShortRecord
	}

	name := b[5 : 5+nameLen]
	if !utf8.Valid(name) {
		return 0, fmt.Errorf("%w: not UTF-8", ErrBadName)
	}
	e.Name = string(name)

	rest := b[5+nameLen:]
	e.Size = binary.LittleEndian.Uint64(rest[0:8])
	e.Alignment = binary.LittleEndian.Uint64(rest[8:16])

	return entryFixed + int(nameLen), nil
}
