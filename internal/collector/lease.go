package collector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"jt-go/internal/jt"
	"jt-go/internal/journal"
)

type leaseInfo struct {
	Owner      string    `toml:"owner"`
	PID        int       `toml:"pid"`
	AcquiredAt time.Time `toml:"acquired_at"`
}

// FileLeases grants volume leases as lock files created with O_EXCL in dir.
// A lock older than staleAfter is assumed abandoned and broken.
type FileLeases struct {
	dir        string
	owner      string
	staleAfter time.Duration
	clock      jt.Clock
	logger     jt.Logger
}

func NewFileLeases(dir, owner string, staleAfter time.Duration, clock jt.Clock, logger jt.Logger) *FileLeases {
	return &FileLeases{dir: dir, owner: owner, staleAfter: staleAfter, clock: clock, logger: logger}
}

func (m *FileLeases) path(volume string) string {
	return filepath.Join(m.dir, journal.DumpFileBase(volume)+".lock")
}

func (m *FileLeases) Acquire(ctx context.Context, volume string) (jt.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lease directory: %w", err)
	}
	path := m.path(volume)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			info := leaseInfo{Owner: m.owner, PID: os.Getpid(), AcquiredAt: m.clock.Now().UTC()}
			werr := toml.NewEncoder(f).Encode(info)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("writing lease %s: %w", path, errors.Join(werr, cerr))
			}
			return &fileLease{path: path, volume: volume, owner: m.owner, clock: m.clock}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating lease %s: %w", path, err)
		}

		held, age := m.inspect(path)
		if age < m.staleAfter {
			return nil, fmt.Errorf("%w: %s held by %s for %s", jt.ErrLeaseHeld, volume, held.Owner, age.Truncate(time.Second))
		}
		m.logger.Warn("breaking stale lease", "volume", volume, "owner", held.Owner, "age", age.String())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("breaking stale lease %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", jt.ErrLeaseHeld, volume)
}

// inspect reads a lock file's owner and age. An unreadable lock is dated by
// its modification time.
func (m *FileLeases) inspect(path string) (leaseInfo, time.Duration) {
	var info leaseInfo
	if _, err := toml.DecodeFile(path, &info); err != nil || info.AcquiredAt.IsZero() {
		st, serr := os.Stat(path)
		if serr != nil {
			return leaseInfo{Owner: "unknown"}, 0
		}
		info = leaseInfo{Owner: "unknown", AcquiredAt: st.ModTime()}
	}
	return info, m.clock.Now().Sub(info.AcquiredAt)
}

type fileLease struct {
	path   string
	volume string
	owner  string
	clock  jt.Clock

	mu       sync.Mutex
	released bool
	err      error
}

// owned reports whether the lock file still names this holder.
func (l *fileLease) owned() (bool, error) {
	var info leaseInfo
	_, err := toml.DecodeFile(l.path, &info)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("reading lease %s: %w", l.path, err)
	}
	return info.Owner == l.owner, nil
}

// Renew rewrites the lock with a fresh acquisition time. The lock is
// replaced by rename, so it never disappears while held.
func (l *fileLease) Renew() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return fmt.Errorf("%w: %s already released", jt.ErrLeaseLost, l.volume)
	}
	ok, err := l.owned()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", jt.ErrLeaseLost, l.volume)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".renew-*")
	if err != nil {
		return fmt.Errorf("renewing lease %s: %w", l.path, err)
	}
	info := leaseInfo{Owner: l.owner, PID: os.Getpid(), AcquiredAt: l.clock.Now().UTC()}
	werr := toml.NewEncoder(tmp).Encode(info)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp.Name(), l.path)
	}
	if werr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renewing lease %s: %w", l.path, werr)
	}
	return nil
}

// Release removes the lock file unless another holder has since broken
// and replaced it.
func (l *fileLease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return l.err
	}
	l.released = true
	if ok, err := l.owned(); err == nil && !ok {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.err = fmt.Errorf("releasing lease %s: %w", l.path, err)
	}
	return l.err
}

// MemoryLeases is an in-process LeaseManager.
type MemoryLeases struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLeases() *MemoryLeases {
	return &MemoryLeases{held: make(map[string]bool)}
}

func (m *MemoryLeases) Acquire(ctx context.Context, volume string) (jt.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[volume] {
		return nil, fmt.Errorf("%w: %s", jt.ErrLeaseHeld, volume)
	}
	m.held[volume] = true
	return &memoryLease{m: m, volume: volume}, nil
}

// Held reports whether volume is currently leased.
func (m *MemoryLeases) Held(volume string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[volume]
}

type memoryLease struct {
	m        *MemoryLeases
	volume   string
	released bool
}

func (l *memoryLease) Renew() error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if l.released || !l.m.held[l.volume] {
		return fmt.Errorf("%w: %s", jt.ErrLeaseLost, l.volume)
	}
	return nil
}

func (l *memoryLease) Release() error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if !l.released {
		l.released = true
		delete(l.m.held, l.volume)
	}
	return nil
}

// OwnerName builds a lease owner string from host id and a run id.
func OwnerName(hostID, runID string) string {
	return strings.Join([]string{hostID, runID}, "/")
}

var (
	_ jt.LeaseManager = (*FileLeases)(nil)
	_ jt.LeaseManager = (*MemoryLeases)(nil)
)
