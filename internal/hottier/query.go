package hottier

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"jt-go/internal/jt"
)

// Queries return lazy sequences over live records. The underlying snapshot
// is taken when iteration starts; a non-nil error ends the sequence.

// QueryByTimeRange yields records ingested in [start, end), oldest first.
func (s *Store) QueryByTimeRange(ctx context.Context, start, end time.Time) iter.Seq2[jt.ActivityRecord, error] {
	return s.scan(ctx, jt.Query{
		Where:   []jt.Cond{jt.Gte("ingested_at", unixNano(start)), jt.Lt("ingested_at", unixNano(end))},
		OrderBy: "ingested_at",
	}, nil)
}

// QueryByEntity yields an entity's records, oldest first.
func (s *Store) QueryByEntity(ctx context.Context, entityID string) iter.Seq2[jt.ActivityRecord, error] {
	return s.scan(ctx, jt.Query{
		Where:   []jt.Cond{jt.Eq("entity_id", entityID)},
		OrderBy: "ingested_at",
	}, nil)
}

// QueryByActivityType yields records of one activity type, oldest first.
func (s *Store) QueryByActivityType(ctx context.Context, typ jt.ActivityType) iter.Seq2[jt.ActivityRecord, error] {
	return s.scan(ctx, jt.Query{
		Where:   []jt.Cond{jt.Eq("activity_type", string(typ))},
		OrderBy: "ingested_at",
	}, nil)
}

// QueryByPathPattern yields records whose path matches pattern. A pattern
// without glob syntax is a path prefix. Otherwise it is a glob where '*'
// stops at '/' and '**' does not.
func (s *Store) QueryByPathPattern(ctx context.Context, pattern string) iter.Seq2[jt.ActivityRecord, error] {
	literal := globPrefix(pattern)
	q := jt.Query{OrderBy: "ingested_at"}
	if literal != "" {
		q.Where = []jt.Cond{jt.Prefix("path", literal)}
	}
	if literal == pattern {
		return s.scan(ctx, q, nil)
	}

	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return func(yield func(jt.ActivityRecord, error) bool) {
			yield(jt.ActivityRecord{}, fmt.Errorf("invalid path pattern %q: %w", pattern, err))
		}
	}
	return s.scan(ctx, q, func(a *jt.ActivityRecord) bool { return g.Match(a.Path) })
}

// globPrefix returns the part of pattern before its first glob
// metacharacter.
func globPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[{\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

func (s *Store) scan(ctx context.Context, q jt.Query, keep func(*jt.ActivityRecord) bool) iter.Seq2[jt.ActivityRecord, error] {
	return func(yield func(jt.ActivityRecord, error) bool) {
		live := q
		live.Where = append([]jt.Cond{jt.Gt("expires_at", s.clock.Now().UnixNano())}, q.Where...)

		it, err := s.docs.Query(ctx, jt.CollectionActivities, live)
		if err != nil {
			yield(jt.ActivityRecord{}, fmt.Errorf("querying activities: %w", err))
			return
		}
		defer it.Close()

		for it.Next() {
			var d activityDoc
			if err := it.Decode(&d); err != nil {
				yield(jt.ActivityRecord{}, fmt.Errorf("decoding activity %s: %w", it.Key(), err))
				return
			}
			a := d.record()
			if keep != nil && !keep(&a) {
				continue
			}
			if !yield(a, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(jt.ActivityRecord{}, err)
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[jt.ActivityRecord, error]) ([]jt.ActivityRecord, error) {
	var out []jt.ActivityRecord
	for a, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}
