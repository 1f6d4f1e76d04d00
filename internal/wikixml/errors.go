package wikixml

import (
	"errors"
	"fmt"
)

// ErrTruncated marks a stream that ended early without losing anything but
// the article that was being read. Callers may keep what they have.
var ErrTruncated = errors.New("dump truncated")

var (
	errPageTooLarge   = errors.New("page exceeds size limit")
	errMarkupTooLarge = errors.New("markup outside pages exceeds recovery window")
)

// CorruptionError is a fatal parse failure. Offset is the decompressed byte
// offset at which the damage was detected.
type CorruptionError struct {
	Offset int64
	Err    error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt dump at byte %d: %v", e.Offset, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}
