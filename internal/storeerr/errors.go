// Package storeerr defines the sentinel error kinds shared across the
// storage core, so callers can use errors.Is regardless of which layer
// produced the failure.
package storeerr

import "errors"

var (
	// ErrIoFailure wraps any file or socket I/O error surfaced to a caller.
	ErrIoFailure = errors.New("io failure")

	// ErrCorruptLog marks a WAL line with an unrecognized tag.
	ErrCorruptLog = errors.New("corrupt log")

	// ErrCorruptSSTable marks a truncated record or a length prefix that
	// overruns the remaining file.
	ErrCorruptSSTable = errors.New("corrupt sstable")

	// ErrParseError marks a query-language statement that failed to parse.
	ErrParseError = errors.New("parse error")

	// ErrUnsupported marks a request larger than 1024 bytes or one with no
	// terminating newline, and an engine opened without a data directory.
	// Keys and values containing a tab or newline are not checked for and
	// do not produce it.
	ErrUnsupported = errors.New("unsupported request")
)
