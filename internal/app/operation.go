package app

import (
	"context"
	"fmt"
	"time"

	"jt-go/internal/jt"
)

// Operation statuses.
const (
	OperationRunning = "running"
	OperationSuccess = "success"
	OperationError   = "error"
)

// Operation tracks a CLI command that mutates the store. Operations start in
// memory; only mutating commands persist them to the operations collection.
type Operation struct {
	ID         string `json:"id"`
	LogID      string `json:"log_id"` // stamped on every log line of the invocation
	Operation  string `json:"operation"`
	Parameters string `json:"parameters"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`

	persisted bool
}

// NewOperation creates a new in-memory operation.
func NewOperation(id, logID, operation, parameters string, startedAt time.Time) *Operation {
	return &Operation{
		ID:         id,
		LogID:      logID,
		Operation:  operation,
		Parameters: parameters,
		Status:     OperationRunning,
		StartedAt:  startedAt.UnixNano(),
	}
}

// Persisted returns true if this operation has been saved to the store.
func (op *Operation) Persisted() bool {
	return op.persisted
}

// Fail marks the operation failed with err. Nil is ignored.
func (op *Operation) Fail(err error) {
	if err == nil {
		return
	}
	op.Status = OperationError
	op.Error = err.Error()
}

// Started returns StartedAt as a time.
func (op *Operation) Started() time.Time { return time.Unix(0, op.StartedAt).UTC() }

// Duration returns how long a finished operation took.
func (op *Operation) Duration() time.Duration {
	if op.FinishedAt == 0 {
		return 0
	}
	return time.Duration(op.FinishedAt - op.StartedAt)
}

func (op *Operation) persist(ctx context.Context, docs jt.DocumentStore) error {
	if op.persisted {
		return nil
	}
	if _, err := docs.InsertIfAbsent(ctx, jt.CollectionOperations, op.ID, op); err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	op.persisted = true
	return nil
}

func (op *Operation) finish(ctx context.Context, docs jt.DocumentStore, now time.Time) error {
	if op.Status == OperationRunning {
		op.Status = OperationSuccess
	}
	op.FinishedAt = now.UnixNano()
	patch := jt.Patch{"status": op.Status, "finished_at": op.FinishedAt}
	if op.Error != "" {
		patch["error"] = op.Error
	}
	if _, err := docs.Update(ctx, jt.CollectionOperations, op.ID, patch); err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// ListOperations returns up to limit persisted operations, newest first.
func ListOperations(ctx context.Context, docs jt.DocumentStore, limit int) ([]*Operation, error) {
	it, err := docs.Query(ctx, jt.CollectionOperations, jt.Query{OrderBy: "started_at", Desc: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer it.Close()

	var out []*Operation
	for it.Next() {
		op := &Operation{persisted: true}
		if err := it.Decode(op); err != nil {
			return nil, fmt.Errorf("decoding operation %s: %w", it.Key(), err)
		}
		out = append(out, op)
	}
	return out, it.Err()
}
