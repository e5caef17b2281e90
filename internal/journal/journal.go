// Package journal provides change-journal sources: live NTFS journals,
// on-disk journal dumps and an in-memory journal for tests.
package journal

import (
	"jt-go/internal/jt"
	"jt-go/internal/usn"
)

// sliceIterator yields raw entries that have already been read.
type sliceIterator struct {
	entries [][]byte
	pos     int
	err     error
}

func newSliceIterator(entries [][]byte) *sliceIterator {
	return &sliceIterator{entries: entries, pos: -1}
}

func (it *sliceIterator) Next() bool {
	if it.err != nil || it.pos+1 >= len(it.entries) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Entry() []byte { return it.entries[it.pos] }
func (it *sliceIterator) Err() error    { return it.err }
func (it *sliceIterator) Close() error  { return nil }

// entriesAfter splits a record buffer and keeps the entries whose sequence is
// greater than after. Entries whose sequence cannot be read are kept so the
// collector reports them as decode errors. An unsplittable tail is returned
// as a single entry for the same reason.
func entriesAfter(buf []byte, after int64) [][]byte {
	raws, splitErr := usn.Split(buf)
	var out [][]byte
	consumed := 0
	for _, raw := range raws {
		consumed += len(raw)
		if seq, ok := usn.PeekSequence(raw); ok && seq <= after {
			continue
		}
		out = append(out, raw)
	}
	if splitErr != nil && consumed < len(buf) {
		out = append(out, buf[consumed:])
	}
	return out
}

var _ jt.RawIterator = (*sliceIterator)(nil)
