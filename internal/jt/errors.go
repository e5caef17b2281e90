package jt

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLeaseHeld is returned when another run holds a volume's lease.
	ErrLeaseHeld = errors.New("volume lease held by another run")

	// ErrLeaseLost is returned when a held lease was broken and taken over.
	ErrLeaseLost = errors.New("volume lease taken over by another run")

	// ErrResolutionConflict signals that two resolutions raced on the same
	// (volatile id, volume) key. Resolution is serialized per key, so this is
	// only returned when a store write loses to another process.
	ErrResolutionConflict = errors.New("entity resolution conflict")
)

// AccessError is a permission or hardware failure reading a volume's journal.
// It is fatal for that volume and does not affect others.
type AccessError struct {
	Volume string
	Err    error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("journal access on volume %s: %v", e.Volume, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// ResyncReason explains why a cursor could not be resumed.
type ResyncReason string

const (
	// ResyncIdentityChanged means the journal was deleted and recreated.
	ResyncIdentityChanged ResyncReason = "identity_changed"
	// ResyncWrapped means records after the cursor were overwritten before
	// they were read.
	ResyncWrapped ResyncReason = "wrapped"
)

// ResyncRequiredError reports that a volume's cursor was invalid and was
// restarted. Records written between the old cursor and the restart point
// may have been lost.
type ResyncRequiredError struct {
	Volume           string
	Reason           ResyncReason
	PreviousIdentity string
	CurrentIdentity  string
	PreviousSequence int64
	RestartSequence  int64
}

func (e *ResyncRequiredError) Error() string {
	return fmt.Sprintf("journal resync required on volume %s (%s): cursor %d restarted at %d, records may have been lost",
		e.Volume, e.Reason, e.PreviousSequence, e.RestartSequence)
}

// DecodeError is a malformed journal entry. It is skipped, not fatal.
type DecodeError struct {
	Volume string
	Offset int // byte offset within the raw entry or buffer
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Volume == "" {
		return fmt.Sprintf("decoding journal record at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("decoding journal record on volume %s at offset %d: %v", e.Volume, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StoreWriteError is a record that could not be persisted after retries.
type StoreWriteError struct {
	Volume   string
	Sequence int64
	Attempts int
	Err      error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("storing record %s/%d failed after %d attempt(s): %v", e.Volume, e.Sequence, e.Attempts, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient condition worth retrying.
// Access, decode and resync errors are final, as is context cancellation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var access *AccessError
	var resync *ResyncRequiredError
	var decode *DecodeError
	switch {
	case errors.As(err, &access), errors.As(err, &resync), errors.As(err, &decode):
		return false
	case errors.Is(err, ErrLeaseHeld), errors.Is(err, ErrLeaseLost):
		return false
	}
	return true
}
