package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jt-go/internal/jt"
)

// ErrCursorBackwards is returned when an advance would move a cursor to an
// earlier sequence of the same journal.
var ErrCursorBackwards = errors.New("cursor cannot move backwards")

type cursorDoc struct {
	VolumeID        string `json:"volume_id"`
	JournalIdentity string `json:"journal_identity"`
	LastSequence    int64  `json:"last_sequence"`
	UpdatedAt       int64  `json:"updated_at"`
}

func (d cursorDoc) cursor() jt.Cursor {
	return jt.Cursor{
		VolumeID:        d.VolumeID,
		JournalIdentity: d.JournalIdentity,
		LastSequence:    d.LastSequence,
		UpdatedAt:       time.Unix(0, d.UpdatedAt).UTC(),
	}
}

// CursorStore persists one cursor per volume in the cursors collection.
// A volume's cursor has a single writer, enforced by its lease.
type CursorStore struct {
	store jt.DocumentStore
	clock jt.Clock
}

func NewCursorStore(store jt.DocumentStore, clock jt.Clock) *CursorStore {
	return &CursorStore{store: store, clock: clock}
}

// Get returns the volume's cursor. found is false if the volume has never
// been collected.
func (s *CursorStore) Get(ctx context.Context, volume string) (jt.Cursor, bool, error) {
	var doc cursorDoc
	found, err := s.store.Get(ctx, jt.CollectionCursors, volume, &doc)
	if err != nil {
		return jt.Cursor{}, false, fmt.Errorf("reading cursor for %s: %w", volume, err)
	}
	if !found {
		return jt.Cursor{}, false, nil
	}
	return doc.cursor(), true, nil
}

// Advance moves the volume's cursor to seq. It refuses to go backwards
// within the same journal identity; use Reset after a resync.
func (s *CursorStore) Advance(ctx context.Context, volume, identity string, seq int64) error {
	cur, found, err := s.Get(ctx, volume)
	if err != nil {
		return err
	}
	if found && cur.JournalIdentity == identity && seq < cur.LastSequence {
		return fmt.Errorf("%w: %s from %d to %d", ErrCursorBackwards, volume, cur.LastSequence, seq)
	}
	if found && cur.JournalIdentity == identity && seq == cur.LastSequence {
		return nil
	}
	return s.put(ctx, volume, identity, seq, found)
}

// Reset points the volume's cursor at seq of identity unconditionally.
func (s *CursorStore) Reset(ctx context.Context, volume, identity string, seq int64) error {
	_, found, err := s.Get(ctx, volume)
	if err != nil {
		return err
	}
	return s.put(ctx, volume, identity, seq, found)
}

func (s *CursorStore) put(ctx context.Context, volume, identity string, seq int64, exists bool) error {
	now := s.clock.Now().UnixNano()
	if !exists {
		doc := cursorDoc{VolumeID: volume, JournalIdentity: identity, LastSequence: seq, UpdatedAt: now}
		inserted, err := s.store.InsertIfAbsent(ctx, jt.CollectionCursors, volume, doc)
		if err != nil {
			return fmt.Errorf("creating cursor for %s: %w", volume, err)
		}
		if inserted {
			return nil
		}
	}
	_, err := s.store.Update(ctx, jt.CollectionCursors, volume, jt.Patch{
		"journal_identity": identity,
		"last_sequence":    seq,
		"updated_at":       now,
	})
	if err != nil {
		return fmt.Errorf("updating cursor for %s: %w", volume, err)
	}
	return nil
}

// List returns every stored cursor ordered by volume.
func (s *CursorStore) List(ctx context.Context) ([]jt.Cursor, error) {
	it, err := s.store.Query(ctx, jt.CollectionCursors, jt.Query{})
	if err != nil {
		return nil, fmt.Errorf("listing cursors: %w", err)
	}
	defer it.Close()

	var out []jt.Cursor
	for it.Next() {
		var doc cursorDoc
		if err := it.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.cursor())
	}
	return out, it.Err()
}
