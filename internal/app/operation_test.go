package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"jt-go/internal/docstore"
)

func TestNewOperation(t *testing.T) {
	start := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{name: "with parameters", operation: "Collect", parameters: "C:,D:"},
		{name: "empty parameters", operation: "Expire", parameters: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation("id-1", "20240615T143045Z", tt.operation, tt.parameters, start)

			if op.Operation != tt.operation {
				t.Errorf("Operation = %q, want %q", op.Operation, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != OperationRunning {
				t.Errorf("Status = %q, want %q", op.Status, OperationRunning)
			}
			if !op.Started().Equal(start) {
				t.Errorf("Started() = %v, want %v", op.Started(), start)
			}
			if op.Persisted() {
				t.Error("Persisted() = true, want false")
			}
		})
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("id-1", "log", "Bump", "", time.Now())

	op.Fail(nil)
	if op.Status != OperationRunning {
		t.Errorf("Status after Fail(nil) = %q, want %q", op.Status, OperationRunning)
	}

	op.Fail(errors.New("record not found"))
	if op.Status != OperationError || op.Error != "record not found" {
		t.Errorf("after Fail() = %q/%q, want error/record not found", op.Status, op.Error)
	}
}

func TestOperation_PersistAndList(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	t0 := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	first := NewOperation("op-a", "log-a", "Collect", "C:", t0)
	second := NewOperation("op-b", "log-b", "Expire", "", t0.Add(time.Minute))

	for _, op := range []*Operation{first, second} {
		if err := op.persist(ctx, docs); err != nil {
			t.Fatalf("persist(%s) error = %v", op.ID, err)
		}
		if !op.Persisted() {
			t.Errorf("Persisted() = false after persist(%s)", op.ID)
		}
	}
	// persisting again is a no-op
	if err := first.persist(ctx, docs); err != nil {
		t.Fatalf("second persist error = %v", err)
	}

	second.Fail(errors.New("hand-off failed"))
	if err := first.finish(ctx, docs, t0.Add(2*time.Second)); err != nil {
		t.Fatalf("finish(first) error = %v", err)
	}
	if err := second.finish(ctx, docs, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("finish(second) error = %v", err)
	}

	ops, err := ListOperations(ctx, docs, 10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("len(ListOperations()) = %d, want 2", len(ops))
	}
	if ops[0].ID != "op-b" || ops[1].ID != "op-a" {
		t.Errorf("order = %s, %s, want op-b, op-a", ops[0].ID, ops[1].ID)
	}
	if ops[0].Status != OperationError || ops[0].Error != "hand-off failed" {
		t.Errorf("op-b = %q/%q, want error/hand-off failed", ops[0].Status, ops[0].Error)
	}
	if ops[1].Status != OperationSuccess {
		t.Errorf("op-a Status = %q, want %q", ops[1].Status, OperationSuccess)
	}
	if ops[1].Duration() != 2*time.Second {
		t.Errorf("op-a Duration() = %v, want 2s", ops[1].Duration())
	}

	limited, err := ListOperations(ctx, docs, 1)
	if err != nil {
		t.Fatalf("ListOperations(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(ListOperations(1)) = %d, want 1", len(limited))
	}
}
