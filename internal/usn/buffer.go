package usn

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"jt-go/internal/jt"
)

// Split cuts a buffer of consecutive records into individual raw records.
// It stops at the first length that cannot be trusted and returns the
// records before it together with a DecodeError for the bad offset.
func Split(buf []byte) ([][]byte, *jt.DecodeError) {
	var out [][]byte
	off := 0
	for off < len(buf) {
		if len(buf)-off < 8 {
			return out, &jt.DecodeError{Offset: off, Err: ErrShortRecord}
		}
		length := int(binary.LittleEndian.Uint32(buf[off:]))
		if length < 8 || off+length > len(buf) {
			return out, &jt.DecodeError{Offset: off, Err: fmt.Errorf("%w: %d", ErrBadLength, length)}
		}
		out = append(out, buf[off:off+length])
		off += length
	}
	return out, nil
}

// DecodeBuffer decodes every record in buf. Malformed records are reported
// and skipped; a record whose length cannot be trusted ends the walk.
func DecodeBuffer(volume string, buf []byte) ([]jt.ChangeRecord, []*jt.DecodeError) {
	raws, splitErr := Split(buf)

	var records []jt.ChangeRecord
	var errs []*jt.DecodeError
	off := 0
	for _, raw := range raws {
		rec, err := Decode(volume, raw)
		if err != nil {
			errs = append(errs, &jt.DecodeError{Volume: volume, Offset: off, Err: err})
		} else {
			records = append(records, rec)
		}
		off += len(raw)
	}
	if splitErr != nil {
		splitErr.Volume = volume
		errs = append(errs, splitErr)
	}
	return records, errs
}

// EncodeV2 serializes rec as a USN_RECORD_V2, padded to 8 bytes.
// Attributes gains FILE_ATTRIBUTE_DIRECTORY when rec.IsDirectory is set.
func EncodeV2(rec jt.ChangeRecord) []byte {
	name := utf16.Encode([]rune(rec.Name))
	nameLen := len(name) * 2
	length := (v2HeaderSize + nameLen + 7) &^ 7

	attrs := rec.Attributes
	if rec.IsDirectory {
		attrs |= FileAttributeDirectory
	}

	b := make([]byte, length)
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(length))
	le.PutUint16(b[4:], 2)
	le.PutUint16(b[6:], 0)
	le.PutUint64(b[8:], rec.VolatileID)
	le.PutUint64(b[16:], rec.ParentVolatileID)
	le.PutUint64(b[24:], uint64(rec.Sequence))
	le.PutUint64(b[32:], uint64(TimeToFiletime(rec.Timestamp)))
	le.PutUint32(b[40:], uint32(rec.Reasons))
	le.PutUint32(b[44:], rec.SourceInfo)
	le.PutUint32(b[48:], 0) // security id
	le.PutUint32(b[52:], attrs)
	le.PutUint16(b[56:], uint16(nameLen))
	le.PutUint16(b[58:], v2HeaderSize)
	for i, u := range name {
		le.PutUint16(b[v2HeaderSize+i*2:], u)
	}
	return b
}

// RecordSize returns the encoded V2 size of a record named name.
func RecordSize(name string) int {
	return (v2HeaderSize + len(utf16.Encode([]rune(name)))*2 + 7) &^ 7
}
