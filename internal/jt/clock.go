package jt

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies ingestion and expiry times. Records, cursors and run
// reports all take their timestamps from it.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC, matching journal timestamps.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator mints entity, run and operation ids.
type IDGenerator interface {
	New() string
}

// UUIDGenerator mints version 7 UUIDs, so ids minted later sort later.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
