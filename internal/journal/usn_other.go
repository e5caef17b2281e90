//go:build !windows

package journal

import (
	"errors"

	"jt-go/internal/jt"
)

// NewUSNSource is only available on Windows.
func NewUSNSource(device string) (jt.JournalSource, error) {
	return nil, errors.New("live USN journals are only supported on windows; use a dump volume")
}
