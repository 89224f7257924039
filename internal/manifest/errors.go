package manifest

import (
	"errors"
	"fmt"
)

// Stage errors, so the scheduler can distinguish "nothing to do" from
// "failed, skip this cycle".
var (
	ErrNetwork  = errors.New("network failure")
	ErrParse    = errors.New("manifest parse failure")
	ErrDownload = errors.New("download failure")
)

// IntegrityError reports a checksum mismatch. The caller deletes the
// artifact before this error is surfaced.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s (expected %s, got %s)", e.Path, e.Expected, e.Actual)
}
