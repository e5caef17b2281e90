package jt

import (
	"context"
	"fmt"
)

// Collections used by the core.
const (
	CollectionCursors    = "cursors"
	CollectionEntities   = "entities"
	CollectionActivities = "activities"
	CollectionRuns       = "runs"
	CollectionOperations = "operations"
)

// DocumentStore is the minimal persistence contract the core depends on.
// Documents are JSON-encodable values stored under (collection, key).
// Implementations must make each single-document write atomic; nothing
// here needs multi-document transactions.
type DocumentStore interface {
	// InsertIfAbsent stores doc under key unless the key already exists.
	// Reports whether the document was inserted.
	InsertIfAbsent(ctx context.Context, collection, key string, doc any) (bool, error)

	// Get decodes the document stored under key into out.
	// Returns false with no error if the key does not exist.
	Get(ctx context.Context, collection, key string, out any) (bool, error)

	// Update sets the top-level fields in patch on an existing document.
	// Returns false with no error if the key does not exist.
	Update(ctx context.Context, collection, key string, patch Patch) (bool, error)

	// Query returns the documents matching q. The result is a snapshot taken
	// when Query returns; later writes do not affect it.
	Query(ctx context.Context, collection string, q Query) (Iterator, error)

	// DeleteWhere removes all documents matching every condition and returns
	// how many were removed.
	DeleteWhere(ctx context.Context, collection string, where []Cond) (int, error)

	// Close releases the store's resources.
	Close() error
}

// Patch maps top-level document fields to new values.
type Patch map[string]any

// Op is a comparison operator for a Cond.
type Op int

const (
	OpEq Op = iota
	OpLt
	OpLte
	OpGt
	OpGte
	OpPrefix
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpPrefix:
		return "prefix"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Cond compares a top-level document field against a value.
// Values may be string, bool, int64 (or int) and float64.
type Cond struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, v any) Cond { return Cond{Field: field, Op: OpEq, Value: v} }
func Lt(field string, v any) Cond { return Cond{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Cond { return Cond{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v any) Cond { return Cond{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Cond { return Cond{Field: field, Op: OpGte, Value: v} }
func Prefix(field, p string) Cond { return Cond{Field: field, Op: OpPrefix, Value: p} }

// Query selects documents from one collection.
// Results are ordered by OrderBy (then key); an empty OrderBy orders by key.
type Query struct {
	Where   []Cond
	OrderBy string
	Desc    bool
	Limit   int
}

// Iterator walks a query snapshot.
type Iterator interface {
	Next() bool
	Key() string
	Decode(out any) error
	Err() error
	Close() error
}
