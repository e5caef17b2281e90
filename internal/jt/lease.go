package jt

import "context"

// LeaseManager grants exclusive per-volume collection leases so two runs
// never advance the same cursor concurrently.
type LeaseManager interface {
	// Acquire returns ErrLeaseHeld if another holder owns the volume.
	Acquire(ctx context.Context, volume string) (Lease, error)
}

// Lease is an acquired volume lease. A holder must call Renew before
// every cursor commit; a lease left unrenewed past its stale age may be
// broken by another run.
type Lease interface {
	// Renew refreshes the lease, or returns ErrLeaseLost when another
	// holder has taken it over.
	Renew() error
	Release() error
}
