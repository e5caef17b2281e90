// Package usn decodes NTFS/ReFS update sequence number (USN) change journal
// records into jt.ChangeRecord values.
//
// Two on-disk layouts are understood:
//
//	USN_RECORD_V2: 64-bit file references, header of 60 bytes
//	USN_RECORD_V3: 128-bit file references, header of 76 bytes
//
// All integers are little-endian and file names are UTF-16LE. Records in a
// journal buffer are 8-byte aligned.
package usn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf16"

	"jt-go/internal/jt"
)

const (
	v2HeaderSize = 60
	v3HeaderSize = 76

	// FileAttributeDirectory is FILE_ATTRIBUTE_DIRECTORY.
	FileAttributeDirectory = 0x10

	// filetimeEpochDelta is the number of 100ns intervals between
	// 1601-01-01 and 1970-01-01.
	filetimeEpochDelta = 116444736000000000
)

var (
	ErrShortRecord        = errors.New("record shorter than its header")
	ErrBadLength          = errors.New("record length out of range")
	ErrUnsupportedVersion = errors.New("unsupported record version")
	ErrBadName            = errors.New("file name outside record")
	ErrWideReference      = errors.New("128-bit file reference does not fit in 64 bits")
)

// layout holds the field offsets that differ between record versions.
type layout struct {
	header     int
	fileRef    int
	parentRef  int
	refWidth   int
	usn        int
	timestamp  int
	reason     int
	sourceInfo int
	attributes int
	nameLength int
	nameOffset int
}

var (
	layoutV2 = layout{header: v2HeaderSize, fileRef: 8, parentRef: 16, refWidth: 8, usn: 24, timestamp: 32,
		reason: 40, sourceInfo: 44, attributes: 52, nameLength: 56, nameOffset: 58}
	layoutV3 = layout{header: v3HeaderSize, fileRef: 8, parentRef: 24, refWidth: 16, usn: 40, timestamp: 48,
		reason: 56, sourceInfo: 60, attributes: 68, nameLength: 72, nameOffset: 74}
)

func layoutFor(major uint16) (layout, error) {
	switch major {
	case 2:
		return layoutV2, nil
	case 3:
		return layoutV3, nil
	default:
		return layout{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, major)
	}
}

// Decode parses a single record. raw must start at the record's first byte;
// bytes after RecordLength are ignored.
func Decode(volume string, raw []byte) (jt.ChangeRecord, error) {
	if len(raw) < 8 {
		return jt.ChangeRecord{}, ErrShortRecord
	}
	length := int(binary.LittleEndian.Uint32(raw[0:4]))
	if length < 8 || length > len(raw) {
		return jt.ChangeRecord{}, fmt.Errorf("%w: %d (have %d bytes)", ErrBadLength, length, len(raw))
	}
	raw = raw[:length]

	l, err := layoutFor(binary.LittleEndian.Uint16(raw[4:6]))
	if err != nil {
		return jt.ChangeRecord{}, err
	}
	if length < l.header {
		return jt.ChangeRecord{}, ErrShortRecord
	}

	fileRef, err := readRef(raw, l.fileRef, l.refWidth)
	if err != nil {
		return jt.ChangeRecord{}, err
	}
	parentRef, err := readRef(raw, l.parentRef, l.refWidth)
	if err != nil {
		return jt.ChangeRecord{}, err
	}

	nameLen := int(binary.LittleEndian.Uint16(raw[l.nameLength:]))
	nameOff := int(binary.LittleEndian.Uint16(raw[l.nameOffset:]))
	if nameLen%2 != 0 || nameOff < l.header || nameOff+nameLen > length {
		return jt.ChangeRecord{}, fmt.Errorf("%w: offset %d length %d", ErrBadName, nameOff, nameLen)
	}

	attrs := binary.LittleEndian.Uint32(raw[l.attributes:])
	return jt.ChangeRecord{
		Sequence:         int64(binary.LittleEndian.Uint64(raw[l.usn:])),
		VolumeID:         volume,
		VolatileID:       fileRef,
		ParentVolatileID: parentRef,
		Name:             decodeName(raw[nameOff : nameOff+nameLen]),
		IsDirectory:      attrs&FileAttributeDirectory != 0,
		Reasons:          jt.Reason(binary.LittleEndian.Uint32(raw[l.reason:])),
		Timestamp:        FiletimeToTime(int64(binary.LittleEndian.Uint64(raw[l.timestamp:]))),
		SourceInfo:       binary.LittleEndian.Uint32(raw[l.sourceInfo:]),
		Attributes:       attrs,
	}, nil
}

// readRef reads a file reference. V3 references are 128 bits wide; NTFS
// zero-extends its 64-bit references, anything wider is rejected.
func readRef(raw []byte, off, width int) (uint64, error) {
	lo := binary.LittleEndian.Uint64(raw[off:])
	if width == 16 && binary.LittleEndian.Uint64(raw[off+8:]) != 0 {
		return 0, ErrWideReference
	}
	return lo, nil
}

func decodeName(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u))
}

// PeekSequence returns a record's USN without decoding the rest of it.
func PeekSequence(raw []byte) (int64, bool) {
	if len(raw) < 8 {
		return 0, false
	}
	l, err := layoutFor(binary.LittleEndian.Uint16(raw[4:6]))
	if err != nil || len(raw) < l.usn+8 {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(raw[l.usn:])), true
}

// FiletimeToTime converts a Windows FILETIME (100ns ticks since 1601) to UTC.
func FiletimeToTime(ft int64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	d := ft - filetimeEpochDelta
	return time.Unix(d/1e7, (d%1e7)*100).UTC()
}

// TimeToFiletime is the inverse of FiletimeToTime.
func TimeToFiletime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()*1e7 + int64(t.Nanosecond())/100 + filetimeEpochDelta
}
