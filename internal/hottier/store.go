// Package hottier is the short-retention activity store. Each journal record
// becomes one ActivityRecord keyed by (volume, sequence), annotated with its
// entity, classification and importance, and expires after the retention
// window.
package hottier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jt-go/internal/entity"
	"jt-go/internal/jt"
	"jt-go/internal/scoring"
)

// ErrNotFound is returned when no record exists at (volume, sequence).
var ErrNotFound = errors.New("activity record not found")

// Options configures a Store.
type Options struct {
	Retention time.Duration
	Retry     RetryPolicy

	// Sink receives expired records before they are deleted. Nil discards them.
	Sink   jt.HandoffSink
	HostID string
	IDs    jt.IDGenerator
}

// Store is the hot-tier activity store.
type Store struct {
	docs     jt.DocumentStore
	resolver *entity.Resolver
	scorer   *scoring.Scorer
	clock    jt.Clock
	logger   jt.Logger
	opts     Options

	locks jt.KeyedMutex
}

func New(docs jt.DocumentStore, resolver *entity.Resolver, scorer *scoring.Scorer, clock jt.Clock, logger jt.Logger, opts Options) *Store {
	if opts.IDs == nil {
		opts.IDs = jt.UUIDGenerator{}
	}
	return &Store{
		docs:     docs,
		resolver: resolver,
		scorer:   scorer,
		clock:    clock,
		logger:   logger,
		opts:     opts,
	}
}

// Retention returns the configured retention window.
func (s *Store) Retention() time.Duration { return s.opts.Retention }

// Ingest stores rec as an activity record and returns it. Ingesting a
// record that is already stored returns the stored copy without touching
// its entity or score.
func (s *Store) Ingest(ctx context.Context, rec jt.ChangeRecord) (jt.ActivityRecord, error) {
	a, _, err := s.ingest(ctx, rec)
	return a, err
}

func (s *Store) ingest(ctx context.Context, rec jt.ChangeRecord) (jt.ActivityRecord, bool, error) {
	key := Key(rec.VolumeID, rec.Sequence)
	unlock := s.locks.Lock(key)
	defer unlock()

	if existing, err := s.get(ctx, key); err != nil {
		return jt.ActivityRecord{}, false, err
	} else if existing != nil {
		return *existing, false, nil
	}

	typ, role := jt.Normalize(rec.Reasons)
	e, err := s.resolver.Observe(ctx, rec, typ, role)
	if err != nil {
		return jt.ActivityRecord{}, false, fmt.Errorf("resolving entity for %s: %w", key, err)
	}

	now := s.clock.Now().UTC()
	a := jt.ActivityRecord{
		ChangeRecord:    rec,
		EntityID:        e.EntityID,
		Path:            e.Path,
		ActivityType:    typ,
		Ext:             jt.Extension{RenameRole: role, RawReasons: rec.Reasons},
		ImportanceScore: s.scorer.Score(typ, e.Path, rec.IsDirectory),
		IngestedAt:      now,
		ExpiresAt:       now.Add(s.opts.Retention),
	}

	inserted, err := s.docs.InsertIfAbsent(ctx, jt.CollectionActivities, key, newActivityDoc(&a))
	if err != nil {
		return jt.ActivityRecord{}, false, fmt.Errorf("storing %s: %w", key, err)
	}
	if !inserted {
		// Another process stored it first.
		existing, err := s.get(ctx, key)
		if err != nil {
			return jt.ActivityRecord{}, false, err
		}
		if existing != nil {
			return *existing, false, nil
		}
	}
	return a, true, nil
}

// Get returns the record at (volume, sequence), or ErrNotFound.
func (s *Store) Get(ctx context.Context, volume string, sequence int64) (jt.ActivityRecord, error) {
	a, err := s.get(ctx, Key(volume, sequence))
	if err != nil {
		return jt.ActivityRecord{}, err
	}
	if a == nil {
		return jt.ActivityRecord{}, fmt.Errorf("%w: %s", ErrNotFound, Key(volume, sequence))
	}
	return *a, nil
}

func (s *Store) get(ctx context.Context, key string) (*jt.ActivityRecord, error) {
	var d activityDoc
	found, err := s.docs.Get(ctx, jt.CollectionActivities, key, &d)
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	if !found {
		return nil, nil
	}
	a := d.record()
	return &a, nil
}

// BumpImportance adds delta to a record's score, clamped to [0, 1], and
// returns the new score.
func (s *Store) BumpImportance(ctx context.Context, volume string, sequence int64, delta float64) (float64, error) {
	key := Key(volume, sequence)
	unlock := s.locks.Lock(key)
	defer unlock()

	a, err := s.get(ctx, key)
	if err != nil {
		return 0, err
	}
	if a == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	score := scoring.Clamp(a.ImportanceScore + delta)
	found, err := s.docs.Update(ctx, jt.CollectionActivities, key, jt.Patch{"importance_score": score})
	if err != nil {
		return 0, fmt.Errorf("updating score of %s: %w", key, err)
	}
	if !found {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return score, nil
}
