package collector

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// IgnoreMatcher checks record names against glob patterns. Matching is
// case-insensitive because NTFS names are.
type IgnoreMatcher struct {
	patterns []glob.Glob
	raw      []string
}

// NewIgnoreMatcher compiles raw patterns. Blank lines and lines starting
// with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{}
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		g, err := glob.Compile(strings.ToLower(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", raw, err)
		}
		m.patterns = append(m.patterns, g)
		m.raw = append(m.raw, raw)
	}
	return m, nil
}

// Match returns the first pattern matching name, if any.
func (m *IgnoreMatcher) Match(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	lower := strings.ToLower(name)
	for i, g := range m.patterns {
		if g.Match(lower) {
			return m.raw[i], true
		}
	}
	return "", false
}
