// backup/errors.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package backup

import (
	"errors"

	"github.com/vbk/vbackup/storage"
)

// The error kinds that operations report. Every failure out of this
// package wraps exactly one of these (or storage.ErrArchiveFormat /
// storage.ErrArchiveLocked), so callers can pick an exit status with
// errors.Is and otherwise just print the message.
var (
	// ErrSourceIO: the source directory or a file in it couldn't be
	// read. The build aborts before committing anything.
	ErrSourceIO = errors.New("source I/O error")

	// ErrVersionNotFound: a version selector named a version the
	// archive doesn't have.
	ErrVersionNotFound = errors.New("version not found")

	// ErrInvalidArgument: a caller-supplied parameter is out of range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCorruptArchive: the archive's internal references don't
	// resolve (a manifest points at content that isn't there, or stored
	// bytes no longer match their hash). Never auto-repaired.
	ErrCorruptArchive = errors.New("archive corrupt")

	// ErrIO: writing the destination directory, a temporary archive, or
	// the archive itself failed.
	ErrIO = errors.New("I/O error")
)

// Process exit statuses, one per error kind.
const (
	ExitFailure         = 1
	ExitInvalidArgument = 2
	ExitSourceIO        = 3
	ExitArchiveFormat   = 4
	ExitCorruptArchive  = 5
	ExitVersionNotFound = 6
	ExitIO              = 7
)

// ExitCode maps an error returned by this package to the process exit
// status for it.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidArgument):
		return ExitInvalidArgument
	case errors.Is(err, ErrSourceIO):
		return ExitSourceIO
	case errors.Is(err, storage.ErrArchiveFormat):
		return ExitArchiveFormat
	case errors.Is(err, ErrCorruptArchive),
		errors.Is(err, storage.ErrBlobMagicWrong),
		errors.Is(err, storage.ErrVersionMagicWrong),
		errors.Is(err, storage.ErrHashMismatch),
		errors.Is(err, storage.ErrArchiveDamaged):
		return ExitCorruptArchive
	case errors.Is(err, ErrVersionNotFound):
		return ExitVersionNotFound
	case errors.Is(err, ErrIO):
		return ExitIO
	default:
		return ExitFailure
	}
}
