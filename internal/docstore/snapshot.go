// Package docstore implements jt.DocumentStore over SQLite and in memory.
package docstore

import (
	"encoding/json"
	"fmt"
	"regexp"

	"jt-go/internal/jt"
)

// Field names are interpolated into SQL JSON paths, so they are restricted
// to lower-case identifiers.
var fieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func validateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("invalid document field %q", field)
	}
	return nil
}

func validateQuery(q jt.Query) error {
	if err := validateConds(q.Where); err != nil {
		return err
	}
	if q.OrderBy != "" {
		if err := validateField(q.OrderBy); err != nil {
			return err
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("negative query limit %d", q.Limit)
	}
	return nil
}

func validateConds(where []jt.Cond) error {
	for _, c := range where {
		if err := validateField(c.Field); err != nil {
			return err
		}
		if c.Op < jt.OpEq || c.Op > jt.OpPrefix {
			return fmt.Errorf("unknown operator %v on field %s", c.Op, c.Field)
		}
		if c.Op == jt.OpPrefix {
			if _, ok := c.Value.(string); !ok {
				return fmt.Errorf("prefix on field %s needs a string, got %T", c.Field, c.Value)
			}
		}
		switch c.Value.(type) {
		case string, bool, int, int64, float64:
		default:
			return fmt.Errorf("unsupported value type %T for field %s", c.Value, c.Field)
		}
	}
	return nil
}

type snapshotEntry struct {
	key  string
	body []byte
}

// snapshotIterator walks query results that were fully read before the
// query returned.
type snapshotIterator struct {
	entries []snapshotEntry
	pos     int
}

func newSnapshotIterator(entries []snapshotEntry) *snapshotIterator {
	return &snapshotIterator{entries: entries, pos: -1}
}

func (it *snapshotIterator) Next() bool {
	if it.pos+1 >= len(it.entries) {
		it.pos = len(it.entries)
		return false
	}
	it.pos++
	return true
}

func (it *snapshotIterator) Key() string {
	return it.entries[it.pos].key
}

func (it *snapshotIterator) Decode(out any) error {
	e := it.entries[it.pos]
	if err := json.Unmarshal(e.body, out); err != nil {
		return fmt.Errorf("decoding document %s: %w", e.key, err)
	}
	return nil
}

func (it *snapshotIterator) Err() error   { return nil }
func (it *snapshotIterator) Close() error { return nil }

var _ jt.Iterator = (*snapshotIterator)(nil)
