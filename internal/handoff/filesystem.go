package handoff

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"jt-go/internal/jt"
)

// FileSink drops each batch into a per-host directory, typically a mount
// shared with the warm tier:
//
//	<root>/<hostID>/<batchID>.jsonl      plaintext
//	<root>/<hostID>/<batchID>.jsonl.age  sealed
type FileSink struct {
	root string
	enc  jt.Encryptor
}

var _ jt.HandoffSink = (*FileSink)(nil)

// NewFileSink creates root if needed. A nil enc writes plaintext batches.
func NewFileSink(root string, enc jt.Encryptor) (*FileSink, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating hand-off directory: %w", err)
	}
	return &FileSink{root: root, enc: enc}, nil
}

func (s *FileSink) Root() string { return s.root }

// Handoff writes b durably. A batch only appears under its final name
// once fully synced, so a warm-tier importer never reads half a batch.
func (s *FileSink) Handoff(ctx context.Context, b jt.HandoffBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := seal(b, s.enc)
	if err != nil {
		return err
	}

	dest := filepath.Join(s.root, filepath.FromSlash(ObjectName(b, s.enc != nil)))
	hostDir := filepath.Dir(dest)
	if err := os.MkdirAll(hostDir, 0755); err != nil {
		return fmt.Errorf("creating host directory for batch %s: %w", b.ID, err)
	}

	tmp, err := os.CreateTemp(hostDir, "."+b.ID+"-*")
	if err != nil {
		return fmt.Errorf("staging batch %s: %w", b.ID, err)
	}
	_, werr := tmp.Write(payload)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp.Name(), dest)
	}
	if werr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing batch %s: %w", b.ID, werr)
	}
	return nil
}
