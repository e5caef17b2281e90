package scoring

import (
	"math"
	"testing"

	"jt-go/internal/jt"
)

func TestScorer_Score(t *testing.T) {
	s := New(nil, nil)

	tests := []struct {
		name  string
		typ   jt.ActivityType
		path  string
		isDir bool
		want  float64
	}{
		{"base", jt.ActivityModify, "/tmp/x.bin", false, 0.3},
		{"create", jt.ActivityCreate, "/tmp/x.bin", false, 0.5},
		{"security change", jt.ActivitySecurityChange, "/tmp/x.bin", false, 0.5},
		{"document", jt.ActivityModify, "/tmp/notes.md", false, 0.4},
		{"document extension case", jt.ActivityModify, "/tmp/NOTES.MD", false, 0.4},
		{"significant dir", jt.ActivityModify, "/Documents/x.bin", false, 0.4},
		{"significant dir case", jt.ActivityModify, "/users/me/documents/x.bin", false, 0.4},
		{"created report under Documents", jt.ActivityCreate, "/Documents/report.docx", false, 0.7},
		{"directory ignores extension", jt.ActivityCreate, "/Projects/site.md", true, 0.6},
		{"final segment is not a parent", jt.ActivityModify, "/Documents", true, 0.3},
		{"unanchored path", jt.ActivityClose, "report.docx", false, 0.4},
		{"segment must match whole", jt.ActivityModify, "/MyDocuments/x.bin", false, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Score(tt.typ, tt.path, tt.isDir)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score(%s, %q, %v) = %v, want %v", tt.typ, tt.path, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestScorer_ReportScenario(t *testing.T) {
	s := New(nil, nil)
	if got := s.Score(jt.ActivityCreate, "/Documents/report.docx", false); got < 0.5 {
		t.Errorf("Score = %v, want >= 0.5", got)
	}
}

func TestScorer_CustomLists(t *testing.T) {
	s := New([]string{".LOG"}, []string{"/var/"})

	if got := s.Score(jt.ActivityModify, "/var/app.log", false); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Score = %v, want 0.5", got)
	}
	if got := s.Score(jt.ActivityModify, "/Documents/a.docx", false); math.Abs(got-0.3) > 1e-9 {
		t.Errorf("Score = %v, want 0.3 once defaults are replaced", got)
	}
}

func TestClamp(t *testing.T) {
	for in, want := range map[float64]float64{-0.5: 0, 0: 0, 0.42: 0.42, 1: 1, 1.7: 1} {
		if got := Clamp(in); got != want {
			t.Errorf("Clamp(%v) = %v, want %v", in, got, want)
		}
	}
}
