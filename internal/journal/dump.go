package journal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"jt-go/internal/jt"
	"jt-go/internal/usn"
)

// DumpState is the sidecar describing a journal dump, stored as TOML next
// to the record file.
type DumpState struct {
	JournalID   string `toml:"journal_id"`
	LowestValid int64  `toml:"lowest_valid"`
	Next        int64  `toml:"next"`
}

// DumpSource reads journals exported to a directory. Each volume has a
// <name>.usn file of concatenated USN records and a <name>.journal.toml
// sidecar, where <name> is the volume id with unsafe characters replaced.
type DumpSource struct {
	dir string
}

func NewDumpSource(dir string) *DumpSource {
	return &DumpSource{dir: dir}
}

// Dir returns the directory the source reads from.
func (s *DumpSource) Dir() string {
	return s.dir
}

// DumpFileBase maps a volume id to the file name stem used for its dump
// and lock files. Letters, digits, '-' and '.' are kept; every other byte
// becomes '_' and two hex digits, so distinct ids never share a stem:
// "C:" is "C_3a" and "C_" is "C_5f".
func DumpFileBase(volume string) string {
	var b strings.Builder
	for i := 0; i < len(volume); i++ {
		c := volume[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

func (s *DumpSource) recordPath(volume string) string {
	return filepath.Join(s.dir, DumpFileBase(volume)+".usn")
}

func (s *DumpSource) statePath(volume string) string {
	return filepath.Join(s.dir, DumpFileBase(volume)+".journal.toml")
}

func (s *DumpSource) CurrentState(ctx context.Context, volume string) (jt.JournalState, error) {
	if err := ctx.Err(); err != nil {
		return jt.JournalState{}, err
	}
	st, err := s.readState(volume)
	if err != nil {
		return jt.JournalState{}, err
	}
	return jt.JournalState{Identity: st.JournalID, LowestSequence: st.LowestValid, NextSequence: st.Next}, nil
}

func (s *DumpSource) ReadFrom(ctx context.Context, volume string, after int64) (jt.RawIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := os.ReadFile(s.recordPath(volume))
	if errors.Is(err, fs.ErrNotExist) {
		// A journal with no records yet.
		if _, serr := s.readState(volume); serr != nil {
			return nil, serr
		}
		return newSliceIterator(nil), nil
	}
	if err != nil {
		return nil, classify(volume, fmt.Errorf("reading journal dump: %w", err))
	}
	return newSliceIterator(entriesAfter(buf, after)), nil
}

func (s *DumpSource) readState(volume string) (DumpState, error) {
	var st DumpState
	if _, err := toml.DecodeFile(s.statePath(volume), &st); err != nil {
		return DumpState{}, classify(volume, fmt.Errorf("reading journal state: %w", err))
	}
	if st.JournalID == "" {
		return DumpState{}, &jt.AccessError{Volume: volume, Err: fmt.Errorf("journal state %s has no journal_id", s.statePath(volume))}
	}
	return st, nil
}

// classify turns missing and unreadable files into access errors; anything
// else stays transient.
func classify(volume string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return &jt.AccessError{Volume: volume, Err: err}
	}
	var perr toml.ParseError
	if errors.As(err, &perr) {
		return &jt.AccessError{Volume: volume, Err: err}
	}
	return err
}

// WriteDump replaces a volume's dump with records and state. Records keep
// the sequences they carry. Both files are written atomically.
func WriteDump(dir, volume string, st DumpState, records []jt.ChangeRecord) error {
	var buf []byte
	for _, r := range records {
		buf = append(buf, usn.EncodeV2(r)...)
	}
	return writeDumpFiles(dir, volume, st, buf)
}

// AppendDump appends records to a volume's dump, assigning each the next
// sequence, and advances the state. It creates the dump when missing.
func AppendDump(dir, volume string, records []jt.ChangeRecord) ([]jt.ChangeRecord, error) {
	src := NewDumpSource(dir)
	st, err := src.readState(volume)
	var access *jt.AccessError
	if errors.As(err, &access) && errors.Is(err, fs.ErrNotExist) {
		st = DumpState{JournalID: "dump-" + DumpFileBase(volume), LowestValid: 0, Next: 0}
	} else if err != nil {
		return nil, err
	}

	buf, err := os.ReadFile(src.recordPath(volume))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading journal dump: %w", err)
	}

	out := make([]jt.ChangeRecord, len(records))
	for i, r := range records {
		r.Sequence = st.Next
		r.VolumeID = volume
		raw := usn.EncodeV2(r)
		buf = append(buf, raw...)
		st.Next += int64(len(raw))
		out[i] = r
	}
	if err := writeDumpFiles(dir, volume, st, buf); err != nil {
		return nil, err
	}
	return out, nil
}

func writeDumpFiles(dir, volume string, st DumpState, records []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}
	src := NewDumpSource(dir)
	if err := writeFileAtomic(src.recordPath(volume), records); err != nil {
		return err
	}

	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(st); err != nil {
		return fmt.Errorf("encoding journal state: %w", err)
	}
	return writeFileAtomic(src.statePath(volume), []byte(sb.String()))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

var _ jt.JournalSource = (*DumpSource)(nil)
