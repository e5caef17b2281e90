package jt

import "context"

// JournalSource reads a volume's raw change journal.
type JournalSource interface {
	// CurrentState returns the journal's identity and readable range.
	CurrentState(ctx context.Context, volume string) (JournalState, error)

	// ReadFrom returns raw entries with sequence strictly greater than after,
	// in journal order.
	ReadFrom(ctx context.Context, volume string, after int64) (RawIterator, error)
}

// RawIterator yields undecoded journal entries.
type RawIterator interface {
	Next() bool
	Entry() []byte
	Err() error
	Close() error
}
