package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"jt-go/internal/jt"
)

// MemoryStore is a map-backed jt.DocumentStore. Field comparisons follow
// SQLite's json_extract semantics so both stores answer queries alike.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) InsertIfAbsent(ctx context.Context, collection, key string, doc any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encoding %s/%s: %w", collection, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[collection]
	if coll == nil {
		coll = make(map[string][]byte)
		s.collections[collection] = coll
	}
	if _, ok := coll[key]; ok {
		return false, nil
	}
	coll[key] = body
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, key string, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	body, ok := s.collections[collection][key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decoding %s/%s: %w", collection, key, err)
	}
	return true, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, key string, patch jt.Patch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for f := range patch {
		if err := validateField(f); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.collections[collection][key]
	if !ok {
		return false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false, fmt.Errorf("decoding %s/%s: %w", collection, key, err)
	}
	for f, v := range patch {
		raw, err := json.Marshal(v)
		if err != nil {
			return false, fmt.Errorf("encoding field %s of %s/%s: %w", f, collection, key, err)
		}
		fields[f] = raw
	}
	updated, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("encoding %s/%s: %w", collection, key, err)
	}
	s.collections[collection][key] = updated
	return true, nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, q jt.Query) (jt.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	type match struct {
		entry snapshotEntry
		order any
	}
	var matches []match

	s.mu.RLock()
	for key, body := range s.collections[collection] {
		fields, err := decodeFields(body)
		if err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("decoding %s/%s: %w", collection, key, err)
		}
		if !matchAll(fields, q.Where) {
			continue
		}
		m := match{entry: snapshotEntry{key: key, body: body}}
		if q.OrderBy != "" {
			m.order = fields[q.OrderBy]
		}
		matches = append(matches, m)
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		c := compareSortable(matches[i].order, matches[j].order)
		if c == 0 {
			c = strings.Compare(matches[i].entry.key, matches[j].entry.key)
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}

	entries := make([]snapshotEntry, len(matches))
	for i, m := range matches {
		entries[i] = m.entry
	}
	return newSnapshotIterator(entries), nil
}

func (s *MemoryStore) DeleteWhere(ctx context.Context, collection string, where []jt.Cond) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateConds(where); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[collection]
	n := 0
	for key, body := range coll {
		fields, err := decodeFields(body)
		if err != nil {
			return n, fmt.Errorf("decoding %s/%s: %w", collection, key, err)
		}
		if matchAll(fields, where) {
			delete(coll, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }

func decodeFields(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func matchAll(fields map[string]any, where []jt.Cond) bool {
	for _, c := range where {
		if !matchCond(fields[c.Field], c) {
			return false
		}
	}
	return true
}

func matchCond(v any, c jt.Cond) bool {
	if v == nil {
		return false
	}
	if c.Op == jt.OpPrefix {
		s, ok := v.(string)
		return ok && strings.HasPrefix(s, c.Value.(string))
	}
	cmp := compareSortable(v, c.Value)
	switch c.Op {
	case jt.OpEq:
		return cmp == 0
	case jt.OpLt:
		return cmp < 0
	case jt.OpLte:
		return cmp <= 0
	case jt.OpGt:
		return cmp > 0
	case jt.OpGte:
		return cmp >= 0
	}
	return false
}

// Storage classes in SQLite's comparison order.
const (
	classNull = iota
	classNumeric
	classText
)

type sortable struct {
	class   int
	isFloat bool
	i       int64
	f       float64
	s       string
}

func toSortable(v any) sortable {
	switch x := v.(type) {
	case nil:
		return sortable{class: classNull}
	case bool:
		if x {
			return sortable{class: classNumeric, i: 1}
		}
		return sortable{class: classNumeric}
	case int:
		return sortable{class: classNumeric, i: int64(x)}
	case int64:
		return sortable{class: classNumeric, i: x}
	case float64:
		return sortable{class: classNumeric, isFloat: true, f: x}
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return sortable{class: classNumeric, i: i}
		}
		f, _ := x.Float64()
		return sortable{class: classNumeric, isFloat: true, f: f}
	case string:
		return sortable{class: classText, s: x}
	default:
		// Objects and arrays come back from json_extract as JSON text.
		b, _ := json.Marshal(x)
		return sortable{class: classText, s: string(b)}
	}
}

func compareSortable(a, b any) int {
	x, y := toSortable(a), toSortable(b)
	if x.class != y.class {
		return x.class - y.class
	}
	switch x.class {
	case classNumeric:
		if !x.isFloat && !y.isFloat {
			switch {
			case x.i < y.i:
				return -1
			case x.i > y.i:
				return 1
			}
			return 0
		}
		xf, yf := x.f, y.f
		if !x.isFloat {
			xf = float64(x.i)
		}
		if !y.isFloat {
			yf = float64(y.i)
		}
		switch {
		case xf < yf:
			return -1
		case xf > yf:
			return 1
		}
		return 0
	case classText:
		return strings.Compare(x.s, y.s)
	}
	return 0
}

var _ jt.DocumentStore = (*MemoryStore)(nil)
