package testutil

import (
	"time"

	"jt-go/internal/jt"
)

// RootRef is the NTFS volume root directory reference (record 5, sequence 5).
const RootRef uint64 = 0x0005000000000005

// Change builds a change record on volume C: with a fixed timestamp.
func Change(seq int64, ref, parent uint64, name string, reasons jt.Reason) jt.ChangeRecord {
	return jt.ChangeRecord{
		Sequence:         seq,
		VolumeID:         "C:",
		VolatileID:       ref,
		ParentVolatileID: parent,
		Name:             name,
		Reasons:          reasons,
		Timestamp:        time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

// Dir marks a change record as a directory.
func Dir(r jt.ChangeRecord) jt.ChangeRecord {
	r.IsDirectory = true
	r.Attributes |= 0x10
	return r
}
