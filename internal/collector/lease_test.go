package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jt-go/internal/jt"
	"jt-go/internal/testutil"
)

func TestFileLeases(t *testing.T) {
	ctx := context.Background()

	t.Run("exclusive until released", func(t *testing.T) {
		dir := t.TempDir()
		clock := testutil.FixedClock()
		a := NewFileLeases(dir, "host/run-a", time.Hour, clock, jt.NewNopLogger())
		b := NewFileLeases(dir, "host/run-b", time.Hour, clock, jt.NewNopLogger())

		lease, err := a.Acquire(ctx, "C:")
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if _, err := b.Acquire(ctx, "C:"); !errors.Is(err, jt.ErrLeaseHeld) {
			t.Errorf("second Acquire() error = %v, want ErrLeaseHeld", err)
		}
		if _, err := b.Acquire(ctx, "D:"); err != nil {
			t.Errorf("Acquire(D:) error = %v, want independent volume", err)
		}

		if err := lease.Release(); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if err := lease.Release(); err != nil {
			t.Errorf("second Release() error = %v", err)
		}
		if _, err := b.Acquire(ctx, "C:"); err != nil {
			t.Errorf("Acquire() after release error = %v", err)
		}
	})

	t.Run("stale lease is broken", func(t *testing.T) {
		dir := t.TempDir()
		clock := testutil.FixedClock()
		a := NewFileLeases(dir, "host/run-a", 10*time.Minute, clock, jt.NewNopLogger())
		b := NewFileLeases(dir, "host/run-b", 10*time.Minute, clock, jt.NewNopLogger())

		old, err := a.Acquire(ctx, "C:")
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		clock.Advance(11 * time.Minute)

		if _, err := b.Acquire(ctx, "C:"); err != nil {
			t.Fatalf("Acquire() of stale lease error = %v", err)
		}

		// The broken holder must not remove the new lock.
		if err := old.Release(); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "C_3a.lock")); err != nil {
			t.Errorf("new lock removed by stale holder: %v", err)
		}
	})

	t.Run("renewed lease survives past stale age", func(t *testing.T) {
		dir := t.TempDir()
		clock := testutil.FixedClock()
		a := NewFileLeases(dir, "host/run-a", 10*time.Minute, clock, jt.NewNopLogger())
		b := NewFileLeases(dir, "host/run-b", 10*time.Minute, clock, jt.NewNopLogger())

		lease, err := a.Acquire(ctx, "C:")
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		for range 3 {
			clock.Advance(6 * time.Minute)
			if err := lease.Renew(); err != nil {
				t.Fatalf("Renew() error = %v", err)
			}
		}
		clock.Advance(6 * time.Minute)
		if _, err := b.Acquire(ctx, "C:"); !errors.Is(err, jt.ErrLeaseHeld) {
			t.Errorf("Acquire() of a renewed lease error = %v, want ErrLeaseHeld", err)
		}
		if err := lease.Release(); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if err := lease.Renew(); !errors.Is(err, jt.ErrLeaseLost) {
			t.Errorf("Renew() after Release error = %v, want ErrLeaseLost", err)
		}
	})

	t.Run("taken over lease cannot renew", func(t *testing.T) {
		dir := t.TempDir()
		clock := testutil.FixedClock()
		a := NewFileLeases(dir, "host/run-a", 10*time.Minute, clock, jt.NewNopLogger())
		b := NewFileLeases(dir, "host/run-b", 10*time.Minute, clock, jt.NewNopLogger())

		old, err := a.Acquire(ctx, "C:")
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		clock.Advance(11 * time.Minute)
		if _, err := b.Acquire(ctx, "C:"); err != nil {
			t.Fatalf("Acquire() of stale lease error = %v", err)
		}

		if err := old.Renew(); !errors.Is(err, jt.ErrLeaseLost) {
			t.Errorf("Renew() by broken holder error = %v, want ErrLeaseLost", err)
		}
	})

	t.Run("unreadable lock uses file age", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "C_3a.lock"), []byte("garbage = ["), 0644); err != nil {
			t.Fatal(err)
		}
		m := NewFileLeases(dir, "me", time.Hour, jt.RealClock{}, jt.NewNopLogger())
		if _, err := m.Acquire(ctx, "C:"); !errors.Is(err, jt.ErrLeaseHeld) {
			t.Errorf("Acquire() error = %v, want ErrLeaseHeld for fresh unreadable lock", err)
		}
	})
}

func TestMemoryLeases(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLeases()

	lease, err := m.Acquire(ctx, "C:")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !m.Held("C:") {
		t.Error("Held(C:) = false after Acquire")
	}
	if _, err := m.Acquire(ctx, "C:"); !errors.Is(err, jt.ErrLeaseHeld) {
		t.Errorf("second Acquire() error = %v, want ErrLeaseHeld", err)
	}
	if err := lease.Renew(); err != nil {
		t.Errorf("Renew() error = %v", err)
	}
	lease.Release()
	if m.Held("C:") {
		t.Error("Held(C:) = true after Release")
	}
	if err := lease.Renew(); !errors.Is(err, jt.ErrLeaseLost) {
		t.Errorf("Renew() after Release error = %v, want ErrLeaseLost", err)
	}

	// A stale handle must not release a newer holder's lease.
	next, err := m.Acquire(ctx, "C:")
	if err != nil {
		t.Fatalf("Acquire() after Release error = %v", err)
	}
	lease.Release()
	if !m.Held("C:") {
		t.Error("old handle released the new lease")
	}
	next.Release()
}

func TestIgnoreMatcher(t *testing.T) {
	m, err := NewIgnoreMatcher([]string{"", "# office lock files", "~$*", "*.TMP"})
	if err != nil {
		t.Fatalf("NewIgnoreMatcher() error = %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"~$report.docx", true},
		{"build.tmp", true},
		{"BUILD.Tmp", true},
		{"report.docx", false},
		{"tmp", false},
	}
	for _, tt := range tests {
		if _, got := m.Match(tt.name); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	var nilMatcher *IgnoreMatcher
	if _, ok := nilMatcher.Match("x"); ok {
		t.Error("nil matcher should match nothing")
	}
}
