//go:build windows

package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"jt-go/internal/jt"
)

const (
	fsctlQueryUSNJournal = 0x000900f4
	fsctlReadUSNJournal  = 0x000900bb

	errJournalDeleteInProgress = syscall.Errno(1178)
	errJournalNotActive        = syscall.Errno(1179)
	errJournalEntryDeleted     = syscall.Errno(1181)

	readBufferSize = 64 << 10
)

// usnJournalData is USN_JOURNAL_DATA_V0.
type usnJournalData struct {
	UsnJournalID    uint64
	FirstUsn        int64
	NextUsn         int64
	LowestValidUsn  int64
	MaxUsn          int64
	MaximumSize     uint64
	AllocationDelta uint64
}

// readUSNJournalData is READ_USN_JOURNAL_DATA_V1.
type readUSNJournalData struct {
	StartUsn          int64
	ReasonMask        uint32
	ReturnOnlyOnClose uint32
	Timeout           uint64
	BytesToWaitFor    uint64
	UsnJournalID      uint64
	MinMajorVersion   uint16
	MaxMajorVersion   uint16
}

// USNSource reads the live NTFS change journal of one volume device.
type USNSource struct {
	device string
}

func NewUSNSource(device string) (jt.JournalSource, error) {
	return &USNSource{device: device}, nil
}

func (s *USNSource) open(volume string) (windows.Handle, error) {
	name, err := windows.UTF16PtrFromString(s.device)
	if err != nil {
		return windows.InvalidHandle, &jt.AccessError{Volume: volume, Err: err}
	}
	h, err := windows.CreateFile(name,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return windows.InvalidHandle, classifyWin(volume, fmt.Errorf("opening %s: %w", s.device, err))
	}
	return h, nil
}

func query(h windows.Handle) (usnJournalData, error) {
	var data usnJournalData
	var n uint32
	err := windows.DeviceIoControl(h, fsctlQueryUSNJournal, nil, 0,
		(*byte)(unsafe.Pointer(&data)), uint32(unsafe.Sizeof(data)), &n, nil)
	return data, err
}

func (s *USNSource) CurrentState(ctx context.Context, volume string) (jt.JournalState, error) {
	if err := ctx.Err(); err != nil {
		return jt.JournalState{}, err
	}
	h, err := s.open(volume)
	if err != nil {
		return jt.JournalState{}, err
	}
	defer windows.CloseHandle(h)

	data, err := query(h)
	if err != nil {
		return jt.JournalState{}, classifyWin(volume, fmt.Errorf("querying journal: %w", err))
	}
	return jt.JournalState{
		Identity:       strconv.FormatUint(data.UsnJournalID, 16),
		LowestSequence: data.LowestValidUsn,
		NextSequence:   data.NextUsn,
	}, nil
}

func (s *USNSource) ReadFrom(ctx context.Context, volume string, after int64) (jt.RawIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := s.open(volume)
	if err != nil {
		return nil, err
	}
	data, err := query(h)
	if err != nil {
		windows.CloseHandle(h)
		return nil, classifyWin(volume, fmt.Errorf("querying journal: %w", err))
	}
	return &usnIterator{
		ctx:    ctx,
		volume: volume,
		h:      h,
		req: readUSNJournalData{
			StartUsn:        after + 1,
			ReasonMask:      0xFFFFFFFF,
			UsnJournalID:    data.UsnJournalID,
			MinMajorVersion: 2,
			MaxMajorVersion: 3,
		},
		stop: data.NextUsn,
		buf:  make([]byte, readBufferSize),
	}, nil
}

// usnIterator pulls FSCTL_READ_USN_JOURNAL buffers on demand until it
// reaches the journal's next USN as of ReadFrom.
type usnIterator struct {
	ctx     context.Context
	volume  string
	h       windows.Handle
	req     readUSNJournalData
	stop    int64
	buf     []byte
	pending [][]byte
	cur     []byte
	done    bool
	err     error
}

func (it *usnIterator) Next() bool {
	for len(it.pending) == 0 {
		if it.done || it.err != nil {
			return false
		}
		it.fill()
	}
	it.cur = it.pending[0]
	it.pending = it.pending[1:]
	return true
}

func (it *usnIterator) fill() {
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return
	}
	if it.req.StartUsn >= it.stop {
		it.done = true
		return
	}
	var n uint32
	err := windows.DeviceIoControl(it.h, fsctlReadUSNJournal,
		(*byte)(unsafe.Pointer(&it.req)), uint32(unsafe.Sizeof(it.req)),
		&it.buf[0], uint32(len(it.buf)), &n, nil)
	if err != nil {
		it.err = classifyWin(it.volume, fmt.Errorf("reading journal at %d: %w", it.req.StartUsn, err))
		return
	}
	if n <= 8 {
		it.done = true
		return
	}
	next := int64(binary.LittleEndian.Uint64(it.buf[:8]))
	chunk := append([]byte(nil), it.buf[8:n]...)
	it.pending = entriesAfter(chunk, it.req.StartUsn-1)
	if next <= it.req.StartUsn {
		it.done = true
		return
	}
	it.req.StartUsn = next
}

func (it *usnIterator) Entry() []byte { return it.cur }
func (it *usnIterator) Err() error    { return it.err }

func (it *usnIterator) Close() error {
	if it.h == windows.InvalidHandle {
		return nil
	}
	err := windows.CloseHandle(it.h)
	it.h = windows.InvalidHandle
	return err
}

// classifyWin separates fatal journal conditions from transient I/O errors.
func classifyWin(volume string, err error) error {
	switch {
	case errors.Is(err, windows.ERROR_ACCESS_DENIED),
		errors.Is(err, windows.ERROR_FILE_NOT_FOUND),
		errors.Is(err, windows.ERROR_PATH_NOT_FOUND),
		errors.Is(err, errJournalNotActive),
		errors.Is(err, errJournalDeleteInProgress),
		errors.Is(err, errJournalEntryDeleted):
		return &jt.AccessError{Volume: volume, Err: err}
	}
	return err
}
