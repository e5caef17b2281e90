package usn

import (
	"encoding/binary"
	"errors"
	"testing"

	"jt-go/internal/jt"
)

func buildBuffer(recs ...jt.ChangeRecord) []byte {
	var buf []byte
	for _, r := range recs {
		buf = append(buf, EncodeV2(r)...)
	}
	return buf
}

func TestDecodeBuffer(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.Sequence = a.Sequence + int64(len(EncodeV2(a)))
	b.Name = "notes.txt"
	b.Reasons = jt.ReasonDataExtend

	t.Run("decodes consecutive records", func(t *testing.T) {
		recs, errs := DecodeBuffer("C:", buildBuffer(a, b))
		if len(errs) != 0 {
			t.Fatalf("DecodeBuffer() errs = %v", errs)
		}
		if len(recs) != 2 {
			t.Fatalf("len(records) = %d, want 2", len(recs))
		}
		if recs[1].Name != "notes.txt" || recs[1].Sequence != b.Sequence {
			t.Errorf("records[1] = %+v", recs[1])
		}
	})

	t.Run("skips a malformed record and continues", func(t *testing.T) {
		buf := buildBuffer(a, b)
		// Corrupt the first record's version; its length is still valid.
		binary.LittleEndian.PutUint16(buf[4:], 9)

		recs, errs := DecodeBuffer("C:", buf)
		if len(recs) != 1 || recs[0].Name != "notes.txt" {
			t.Fatalf("records = %+v, want only notes.txt", recs)
		}
		if len(errs) != 1 {
			t.Fatalf("len(errs) = %d, want 1", len(errs))
		}
		if errs[0].Offset != 0 || errs[0].Volume != "C:" {
			t.Errorf("errs[0] = %+v", errs[0])
		}
		if !errors.Is(errs[0], ErrUnsupportedVersion) {
			t.Errorf("errs[0] = %v, want ErrUnsupportedVersion", errs[0])
		}
	})

	t.Run("stops at an untrusted length", func(t *testing.T) {
		buf := buildBuffer(a, b)
		second := len(EncodeV2(a))
		binary.LittleEndian.PutUint32(buf[second:], 2)

		recs, errs := DecodeBuffer("C:", buf)
		if len(recs) != 1 {
			t.Fatalf("len(records) = %d, want 1", len(recs))
		}
		if len(errs) != 1 || errs[0].Offset != second {
			t.Fatalf("errs = %v, want one at offset %d", errs, second)
		}
	})

	t.Run("empty buffer", func(t *testing.T) {
		recs, errs := DecodeBuffer("C:", nil)
		if len(recs) != 0 || len(errs) != 0 {
			t.Errorf("DecodeBuffer(nil) = %v, %v", recs, errs)
		}
	})
}

func TestRecordSize(t *testing.T) {
	for _, name := range []string{"", "a", "report.docx", "résumé.txt"} {
		rec := sampleRecord()
		rec.Name = name
		if got, want := RecordSize(name), len(EncodeV2(rec)); got != want {
			t.Errorf("RecordSize(%q) = %d, want %d", name, got, want)
		}
	}
}
