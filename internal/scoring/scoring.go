// Package scoring assigns heuristic importance scores to activity records.
package scoring

import (
	"path"
	"strings"

	"jt-go/internal/jt"
)

const (
	baseScore        = 0.3
	typeBonus        = 0.2
	documentBonus    = 0.1
	significantBonus = 0.1
)

var (
	DefaultDocumentExtensions = []string{
		"doc", "docx", "xls", "xlsx", "ppt", "pptx", "pdf", "txt", "md", "odt", "rtf", "csv",
		"go", "py", "js", "ts", "java", "c", "cpp", "h", "rs",
	}
	DefaultSignificantDirs = []string{"Documents", "Desktop", "Projects", "src", "Source"}
)

// Scorer computes importance scores. It is immutable and safe for
// concurrent use.
type Scorer struct {
	extensions map[string]struct{}
	dirs       map[string]struct{}
}

// New builds a Scorer. Nil lists select the defaults; extensions may be
// given with or without the leading dot. Matching is case-insensitive.
func New(extensions, significantDirs []string) *Scorer {
	if extensions == nil {
		extensions = DefaultDocumentExtensions
	}
	if significantDirs == nil {
		significantDirs = DefaultSignificantDirs
	}
	s := &Scorer{
		extensions: make(map[string]struct{}, len(extensions)),
		dirs:       make(map[string]struct{}, len(significantDirs)),
	}
	for _, e := range extensions {
		s.extensions[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	for _, d := range significantDirs {
		s.dirs[strings.ToLower(strings.Trim(d, "/"))] = struct{}{}
	}
	return s
}

// Score returns the importance of an activity on path, in [0, 1].
func (s *Scorer) Score(typ jt.ActivityType, p string, isDir bool) float64 {
	score := baseScore
	if typ == jt.ActivityCreate || typ == jt.ActivitySecurityChange {
		score += typeBonus
	}
	if !isDir && s.isDocument(p) {
		score += documentBonus
	}
	if s.underSignificant(p) {
		score += significantBonus
	}
	return Clamp(score)
}

func (s *Scorer) isDocument(p string) bool {
	ext := path.Ext(p)
	if ext == "" {
		return false
	}
	_, ok := s.extensions[strings.ToLower(ext[1:])]
	return ok
}

// underSignificant reports whether any directory segment of p, excluding
// the final name, is a significant directory.
func (s *Scorer) underSignificant(p string) bool {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for _, seg := range segs[:len(segs)-1] {
		if _, ok := s.dirs[strings.ToLower(seg)]; ok {
			return true
		}
	}
	return false
}

// Clamp limits v to [0, 1].
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
