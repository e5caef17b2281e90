package journal

import (
	"context"
	"fmt"
	"sync"

	"jt-go/internal/jt"
	"jt-go/internal/usn"
)

type memEntry struct {
	seq int64
	raw []byte
}

type memJournal struct {
	identity string
	lowest   int64
	next     int64
	entries  []memEntry
	fail     []error // injected errors, consumed one per call
	denied   error
}

// MemorySource is an in-memory journal. Sequences are byte offsets, as on
// NTFS, so they grow by each record's encoded size.
type MemorySource struct {
	mu       sync.Mutex
	journals map[string]*memJournal
	resets   int
}

func NewMemorySource() *MemorySource {
	return &MemorySource{journals: make(map[string]*memJournal)}
}

func (s *MemorySource) journal(volume string) *memJournal {
	j := s.journals[volume]
	if j == nil {
		j = &memJournal{identity: fmt.Sprintf("mem-%s-0", volume)}
		s.journals[volume] = j
	}
	return j
}

// Append encodes records into the volume's journal and returns them with
// their assigned sequence and volume.
func (s *MemorySource) Append(volume string, records ...jt.ChangeRecord) []jt.ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.journal(volume)

	out := make([]jt.ChangeRecord, len(records))
	for i, r := range records {
		r.Sequence = j.next
		r.VolumeID = volume
		raw := usn.EncodeV2(r)
		j.entries = append(j.entries, memEntry{seq: j.next, raw: raw})
		j.next += int64(len(raw))
		out[i] = r
	}
	return out
}

// AppendRaw adds an undecodable entry occupying size bytes of sequence space.
func (s *MemorySource) AppendRaw(volume string, raw []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.journal(volume)
	seq := j.next
	j.entries = append(j.entries, memEntry{seq: seq, raw: raw})
	j.next += int64(max(len(raw), 8))
	return seq
}

// Reset deletes and recreates the volume's journal: a new identity, no
// readable records, sequences continuing from the old end.
func (s *MemorySource) Reset(volume string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.journal(volume)
	s.resets++
	j.identity = fmt.Sprintf("mem-%s-%d", volume, s.resets)
	j.entries = nil
	j.lowest = j.next
	return j.identity
}

// Truncate discards records below lowest, as when the journal wraps.
func (s *MemorySource) Truncate(volume string, lowest int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.journal(volume)
	kept := j.entries[:0]
	for _, e := range j.entries {
		if e.seq >= lowest {
			kept = append(kept, e)
		}
	}
	j.entries = kept
	j.lowest = lowest
}

// FailNext makes the next call for the volume return err.
func (s *MemorySource) FailNext(volume string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.journal(volume)
	j.fail = append(j.fail, err)
}

// Deny makes every call for the volume fail with an access error until
// Allow is called.
func (s *MemorySource) Deny(volume string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal(volume).denied = err
}

func (s *MemorySource) Allow(volume string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal(volume).denied = nil
}

func (s *MemorySource) check(ctx context.Context, volume string) (*memJournal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j := s.journal(volume)
	if j.denied != nil {
		return nil, &jt.AccessError{Volume: volume, Err: j.denied}
	}
	if len(j.fail) > 0 {
		err := j.fail[0]
		j.fail = j.fail[1:]
		return nil, err
	}
	return j, nil
}

func (s *MemorySource) CurrentState(ctx context.Context, volume string) (jt.JournalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.check(ctx, volume)
	if err != nil {
		return jt.JournalState{}, err
	}
	return jt.JournalState{Identity: j.identity, LowestSequence: j.lowest, NextSequence: j.next}, nil
}

func (s *MemorySource) ReadFrom(ctx context.Context, volume string, after int64) (jt.RawIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.check(ctx, volume)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, e := range j.entries {
		if e.seq > after {
			out = append(out, append([]byte(nil), e.raw...))
		}
	}
	return newSliceIterator(out), nil
}

var _ jt.JournalSource = (*MemorySource)(nil)
