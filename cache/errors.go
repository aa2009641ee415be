package cache

import "github.com/cockroachdb/errors"

// These errors never leave the package through the public API, which only
// reports present or absent values. They classify what was logged.
var (
	ErrDiskUnavailable  = errors.New("cache: disk tier unavailable")
	ErrCorruptEntry     = errors.New("cache: corrupt disk entry")
	ErrGenerationFailed = errors.New("cache: thumbnail generation failed")
	ErrClosed           = errors.New("cache: closed")
)
