package handoff

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/go-cmp/cmp"

	"jt-go/internal/config"
	"jt-go/internal/jt"
	"jt-go/internal/testutil"
)

func testBatch() jt.HandoffBatch {
	ingested := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	rec := jt.ActivityRecord{
		ChangeRecord: testutil.Change(16, 0x0001000000000200, testutil.RootRef, "report.docx", jt.ReasonRenameNewName|jt.ReasonClose),
		EntityID:     "id-7",
		Path:         "/Documents/report.docx",
		ActivityType: jt.ActivityOther,
		Ext: jt.Extension{
			RenameRole: jt.RenameNew,
			RawReasons: jt.ReasonRenameNewName | jt.ReasonClose,
		},
		ImportanceScore: 0.6,
		IngestedAt:      ingested,
		ExpiresAt:       ingested.Add(96 * time.Hour),
	}
	other := rec
	other.Sequence = 24
	other.Ext = jt.Extension{RawReasons: jt.ReasonClose}
	other.Reasons = jt.ReasonClose
	other.ActivityType = jt.ActivityClose
	other.VolatileID = 0xFFFFFFFFFFFFFFFF
	return jt.HandoffBatch{
		ID:        "batch-1",
		HostID:    "host-1",
		CreatedAt: ingested.Add(96 * time.Hour),
		Records:   []jt.ActivityRecord{rec, other},
	}
}

func TestEncodeDecode(t *testing.T) {
	want := testBatch()

	var buf bytes.Buffer
	if err := Encode(&buf, want); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Errorf("payload has %d lines, want header plus 2 records", lines)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Truncated(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, testBatch()); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	lines := strings.SplitAfter(buf.String(), "\n")
	truncated := strings.Join(lines[:2], "")

	if _, err := Decode(strings.NewReader(truncated)); err == nil {
		t.Error("Decode() of a truncated batch expected error")
	}
	if _, err := Decode(strings.NewReader(`{"format":9}` + "\n")); err == nil {
		t.Error("Decode() of an unknown format expected error")
	}
}

func TestObjectName(t *testing.T) {
	b := testBatch()
	if got := ObjectName(b, false); got != "host-1/batch-1.jsonl" {
		t.Errorf("ObjectName(plain) = %q", got)
	}
	if got := ObjectName(b, true); got != "host-1/batch-1.jsonl.age" {
		t.Errorf("ObjectName(encrypted) = %q", got)
	}
}

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySink()

	s.FailNext(errors.New("boom"))
	if err := s.Handoff(ctx, testBatch()); err == nil {
		t.Fatal("Handoff() expected injected error")
	}
	if err := s.Handoff(ctx, testBatch()); err != nil {
		t.Fatalf("Handoff() error = %v", err)
	}
	if n := len(s.Batches()); n != 1 {
		t.Errorf("len(Batches()) = %d, want 1", n)
	}
	if n := len(s.Records()); n != 2 {
		t.Errorf("len(Records()) = %d, want 2", n)
	}
}

func TestFileSink_Plain(t *testing.T) {
	root := filepath.Join(t.TempDir(), "warm")
	s, err := NewFileSink(root, nil)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	want := testBatch()
	if err := s.Handoff(context.Background(), want); err != nil {
		t.Fatalf("Handoff() error = %v", err)
	}

	path := filepath.Join(root, "host-1", "batch-1.jsonl")
	got, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Open() mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Join(root, "host-1"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("host directory has %d entries, want only the batch file", len(entries))
	}
}

func TestFileSink_Encrypted(t *testing.T) {
	enc := testutil.NewTestEncryptor(t)
	root := t.TempDir()
	s, err := NewFileSink(root, enc)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	want := testBatch()
	if err := s.Handoff(context.Background(), want); err != nil {
		t.Fatalf("Handoff() error = %v", err)
	}

	path := filepath.Join(root, "host-1", "batch-1.jsonl.age")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if bytes.Contains(raw, []byte("report.docx")) {
		t.Error("encrypted batch contains plaintext path")
	}

	if _, err := Open(path, nil); err == nil {
		t.Error("Open() without a key expected error")
	}

	dc, err := enc.Unlock(testutil.TestPassphrase)
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	got, err := Open(path, dc)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Open() mismatch (-want +got):\n%s", diff)
	}
}

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &manager.UploadOutput{}, nil
}

func TestS3Sink_Handoff(t *testing.T) {
	up := &fakeUploader{}
	s := newS3Sink(up, "warm-bucket", "jt/hot", nil)

	want := testBatch()
	if err := s.Handoff(context.Background(), want); err != nil {
		t.Fatalf("Handoff() error = %v", err)
	}
	if len(up.inputs) != 1 {
		t.Fatalf("uploads = %d, want 1", len(up.inputs))
	}

	in := up.inputs[0]
	if *in.Bucket != "warm-bucket" {
		t.Errorf("Bucket = %q", *in.Bucket)
	}
	if *in.Key != "jt/hot/host-1/batch-1.jsonl" {
		t.Errorf("Key = %q", *in.Key)
	}
	if *in.ContentLength != int64(len(up.bodies[0])) {
		t.Errorf("ContentLength = %d, body is %d bytes", *in.ContentLength, len(up.bodies[0]))
	}
	if in.Metadata["jt-records"] != "2" {
		t.Errorf("Metadata[jt-records] = %q, want 2", in.Metadata["jt-records"])
	}

	got, err := Decode(bytes.NewReader(up.bodies[0]))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("uploaded batch mismatch (-want +got):\n%s", diff)
	}
}

func TestS3Sink_UploadError(t *testing.T) {
	s := newS3Sink(&fakeUploader{err: errors.New("access denied")}, "b", "", nil)
	if err := s.Handoff(context.Background(), testBatch()); err == nil {
		t.Fatal("Handoff() expected error")
	}
}

func TestNewSinkFromConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.HandoffConfig
		enc     jt.Encryptor
		wantNil bool
		wantErr bool
	}{
		{name: "none", cfg: config.HandoffConfig{Type: "none"}, wantNil: true},
		{name: "memory", cfg: config.HandoffConfig{Type: "memory"}},
		{name: "filesystem", cfg: config.HandoffConfig{Type: "filesystem", Dir: t.TempDir()}},
		{name: "filesystem without dir", cfg: config.HandoffConfig{Type: "filesystem"}, wantErr: true},
		{name: "s3 without bucket", cfg: config.HandoffConfig{Type: "s3"}, wantErr: true},
		{name: "encrypt without encryptor", cfg: config.HandoffConfig{Type: "memory", Encrypt: true}, wantErr: true},
		{name: "unknown", cfg: config.HandoffConfig{Type: "tape"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromConfig(ctx, tt.cfg, tt.enc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSinkFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (sink == nil) != tt.wantNil {
				t.Errorf("NewSinkFromConfig() sink = %v, wantNil %v", sink, tt.wantNil)
			}
		})
	}
}
