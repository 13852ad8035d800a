package datafile

import "codeberg.org/mutker/cdc/internal/errors"

const (
	// Construction Errors
	ErrInvalidArgument  = errors.ErrInvalidArgument
	ErrInvalidInterval  = errors.ErrInvalidInterval
	ErrInvalidMode      = errors.ErrInvalidMode
	ErrMissingSensor    = errors.ErrMissingSensor
	ErrMissingDirectory = errors.ErrMissingDirectory

	// File Errors
	ErrOpenFailed   = errors.ErrorCode("datafile_open_failed")
	ErrRotateFailed = errors.ErrorCode("datafile_rotate_failed")
	ErrWriteFailed  = errors.ErrorCode("datafile_write_failed")
	ErrClosed       = errors.ErrorCode("datafile_closed")

	// Scheduler Errors
	ErrInvalidObject   = errors.ErrInvalidObject
	ErrDuplicateObject = errors.ErrDuplicateObject
)
