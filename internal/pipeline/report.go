package pipeline

import (
	"time"

	"jt-go/internal/collector"
	"jt-go/internal/jt"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial" // some volumes failed or left records behind
	StatusError   = "error"   // no volume completed
)

// VolumeReport describes one volume's part of a run.
type VolumeReport struct {
	Volume       string
	Identity     string
	Batches      int
	Collected    int // decoded records offered for ingestion
	Ingested     int
	Duplicates   int
	Skipped      []collector.Skipped
	DecodeErrors []*jt.DecodeError
	Resyncs      []*jt.ResyncRequiredError
	Failed       *jt.StoreWriteError // record that stopped the volume
	Err          error               // fatal volume error: access, lease or cursor
	StartCursor  int64
	EndCursor    int64
}

// OK reports whether the volume finished without a fatal error or a stuck
// record.
func (v *VolumeReport) OK() bool {
	return v.Err == nil && v.Failed == nil
}

// RunReport summarizes one collection run across volumes.
type RunReport struct {
	RunID      string
	HostID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Volumes    []VolumeReport
}

// Status classifies the run as success, partial or error.
func (r *RunReport) Status() string {
	ok := 0
	for i := range r.Volumes {
		if r.Volumes[i].OK() {
			ok++
		}
	}
	switch {
	case ok == len(r.Volumes):
		return StatusSuccess
	case ok == 0:
		return StatusError
	default:
		return StatusPartial
	}
}

// Ingested sums newly stored records across volumes.
func (r *RunReport) Ingested() int {
	n := 0
	for i := range r.Volumes {
		n += r.Volumes[i].Ingested
	}
	return n
}

// Resyncs returns every resync event of the run.
func (r *RunReport) Resyncs() []*jt.ResyncRequiredError {
	var out []*jt.ResyncRequiredError
	for i := range r.Volumes {
		out = append(out, r.Volumes[i].Resyncs...)
	}
	return out
}

// RunSummary is the persisted form of a RunReport, as listed by History.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	HostID     string          `json:"host_id"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at"`
	Status     string          `json:"status"`
	Volumes    []VolumeSummary `json:"volumes"`
}

// VolumeSummary is the persisted form of a VolumeReport.
type VolumeSummary struct {
	Volume       string   `json:"volume"`
	Batches      int      `json:"batches"`
	Collected    int      `json:"collected"`
	Ingested     int      `json:"ingested"`
	Duplicates   int      `json:"duplicates"`
	Skipped      int      `json:"skipped"`
	DecodeErrors int      `json:"decode_errors"`
	Resyncs      []string `json:"resyncs,omitempty"`
	Failed       string   `json:"failed,omitempty"`
	Error        string   `json:"error,omitempty"`
	StartCursor  int64    `json:"start_cursor"`
	EndCursor    int64    `json:"end_cursor"`
}

// Started returns StartedAt as a time.
func (s *RunSummary) Started() time.Time { return time.Unix(0, s.StartedAt).UTC() }

// Duration returns how long the run took.
func (s *RunSummary) Duration() time.Duration { return time.Duration(s.FinishedAt - s.StartedAt) }

// Summary converts the report to its persisted form.
func (r *RunReport) Summary() RunSummary {
	s := RunSummary{
		RunID:      r.RunID,
		HostID:     r.HostID,
		StartedAt:  r.StartedAt.UnixNano(),
		FinishedAt: r.FinishedAt.UnixNano(),
		Status:     r.Status(),
	}
	for i := range r.Volumes {
		v := &r.Volumes[i]
		vs := VolumeSummary{
			Volume:       v.Volume,
			Batches:      v.Batches,
			Collected:    v.Collected,
			Ingested:     v.Ingested,
			Duplicates:   v.Duplicates,
			Skipped:      len(v.Skipped),
			DecodeErrors: len(v.DecodeErrors),
			StartCursor:  v.StartCursor,
			EndCursor:    v.EndCursor,
		}
		for _, rs := range v.Resyncs {
			vs.Resyncs = append(vs.Resyncs, rs.Error())
		}
		if v.Failed != nil {
			vs.Failed = v.Failed.Error()
		}
		if v.Err != nil {
			vs.Error = v.Err.Error()
		}
		s.Volumes = append(s.Volumes, vs)
	}
	return s
}
