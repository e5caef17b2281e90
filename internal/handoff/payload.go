// Package handoff moves expiring hot-tier records to the warm tier.
//
// A batch is serialized as JSON lines: one header line followed by one line
// per record. Sinks may age-encrypt the payload, in which case the object
// name ends in .jsonl.age instead of .jsonl.
package handoff

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"jt-go/internal/jt"
)

const (
	formatVersion = 1

	PlainExt     = ".jsonl"
	EncryptedExt = ".jsonl.age"
)

type batchHeader struct {
	Format    int       `json:"format"`
	BatchID   string    `json:"batch_id"`
	HostID    string    `json:"host_id"`
	CreatedAt time.Time `json:"created_at"`
	Count     int       `json:"count"`
}

type recordLine struct {
	VolumeID         string    `json:"volume_id"`
	Sequence         int64     `json:"sequence"`
	VolatileID       uint64    `json:"volatile_id,string"`
	ParentVolatileID uint64    `json:"parent_volatile_id,string"`
	Name             string    `json:"name"`
	IsDirectory      bool      `json:"is_directory"`
	Reasons          uint32    `json:"reasons"`
	ReasonNames      []string  `json:"reason_names"`
	Timestamp        time.Time `json:"timestamp"`
	SourceInfo       uint32    `json:"source_info"`
	Attributes       uint32    `json:"attributes"`
	EntityID         string    `json:"entity_id"`
	Path             string    `json:"path"`
	ActivityType     string    `json:"activity_type"`
	RenameRole       string    `json:"rename_role,omitempty"`
	ImportanceScore  float64   `json:"importance_score"`
	IngestedAt       time.Time `json:"ingested_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func toLine(a *jt.ActivityRecord) recordLine {
	return recordLine{
		VolumeID:         a.VolumeID,
		Sequence:         a.Sequence,
		VolatileID:       a.VolatileID,
		ParentVolatileID: a.ParentVolatileID,
		Name:             a.Name,
		IsDirectory:      a.IsDirectory,
		Reasons:          uint32(a.Reasons),
		ReasonNames:      a.Reasons.Names(),
		Timestamp:        a.Timestamp,
		SourceInfo:       a.SourceInfo,
		Attributes:       a.Attributes,
		EntityID:         a.EntityID,
		Path:             a.Path,
		ActivityType:     string(a.ActivityType),
		RenameRole:       string(a.Ext.RenameRole),
		ImportanceScore:  a.ImportanceScore,
		IngestedAt:       a.IngestedAt,
		ExpiresAt:        a.ExpiresAt,
	}
}

func (l *recordLine) record() jt.ActivityRecord {
	reasons := jt.Reason(l.Reasons)
	return jt.ActivityRecord{
		ChangeRecord: jt.ChangeRecord{
			Sequence:         l.Sequence,
			VolumeID:         l.VolumeID,
			VolatileID:       l.VolatileID,
			ParentVolatileID: l.ParentVolatileID,
			Name:             l.Name,
			IsDirectory:      l.IsDirectory,
			Reasons:          reasons,
			Timestamp:        l.Timestamp,
			SourceInfo:       l.SourceInfo,
			Attributes:       l.Attributes,
		},
		EntityID:        l.EntityID,
		Path:            l.Path,
		ActivityType:    jt.ActivityType(l.ActivityType),
		Ext:             jt.Extension{RenameRole: jt.RenameRole(l.RenameRole), RawReasons: reasons},
		ImportanceScore: l.ImportanceScore,
		IngestedAt:      l.IngestedAt,
		ExpiresAt:       l.ExpiresAt,
	}
}

// Encode writes b as JSON lines.
func Encode(w io.Writer, b jt.HandoffBatch) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(batchHeader{
		Format:    formatVersion,
		BatchID:   b.ID,
		HostID:    b.HostID,
		CreatedAt: b.CreatedAt,
		Count:     len(b.Records),
	}); err != nil {
		return fmt.Errorf("encoding batch header: %w", err)
	}
	for i := range b.Records {
		if err := enc.Encode(toLine(&b.Records[i])); err != nil {
			return fmt.Errorf("encoding record %d: %w", i, err)
		}
	}
	return nil
}

// Decode reads a batch written by Encode.
func Decode(r io.Reader) (jt.HandoffBatch, error) {
	dec := json.NewDecoder(bufio.NewReader(r))

	var h batchHeader
	if err := dec.Decode(&h); err != nil {
		return jt.HandoffBatch{}, fmt.Errorf("decoding batch header: %w", err)
	}
	if h.Format != formatVersion {
		return jt.HandoffBatch{}, fmt.Errorf("unsupported batch format %d", h.Format)
	}

	b := jt.HandoffBatch{ID: h.BatchID, HostID: h.HostID, CreatedAt: h.CreatedAt}
	for {
		var l recordLine
		err := dec.Decode(&l)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return jt.HandoffBatch{}, fmt.Errorf("decoding record %d: %w", len(b.Records), err)
		}
		b.Records = append(b.Records, l.record())
	}
	if len(b.Records) != h.Count {
		return jt.HandoffBatch{}, fmt.Errorf("batch %s is truncated: %d of %d records", h.BatchID, len(b.Records), h.Count)
	}
	return b, nil
}

// ObjectName is the slash-separated name a batch is stored under, relative
// to a sink's root.
func ObjectName(b jt.HandoffBatch, encrypted bool) string {
	ext := PlainExt
	if encrypted {
		ext = EncryptedExt
	}
	host := b.HostID
	if host == "" {
		host = "unknown-host"
	}
	return path.Join(host, b.ID+ext)
}

// seal encodes b and encrypts it when enc is non-nil.
func seal(b jt.HandoffBatch, enc jt.Encryptor) ([]byte, error) {
	var plain bytes.Buffer
	if err := Encode(&plain, b); err != nil {
		return nil, err
	}
	if enc == nil {
		return plain.Bytes(), nil
	}
	var sealed bytes.Buffer
	if err := enc.Encrypt(&plain, &sealed); err != nil {
		return nil, fmt.Errorf("encrypting batch %s: %w", b.ID, err)
	}
	return sealed.Bytes(), nil
}

// Open reads a batch file. Encrypted files need an unlocked dc.
func Open(filename string, dc jt.DecryptionContext) (jt.HandoffBatch, error) {
	f, err := os.Open(filename)
	if err != nil {
		return jt.HandoffBatch{}, fmt.Errorf("opening batch: %w", err)
	}
	defer f.Close()

	if !strings.HasSuffix(filename, EncryptedExt) {
		return Decode(f)
	}
	if dc == nil {
		return jt.HandoffBatch{}, fmt.Errorf("%s is encrypted; unlock the hand-off key first", filename)
	}
	var plain bytes.Buffer
	if err := dc.Decrypt(f, &plain); err != nil {
		return jt.HandoffBatch{}, fmt.Errorf("decrypting batch: %w", err)
	}
	return Decode(&plain)
}
