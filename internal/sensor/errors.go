package sensor

import "codeberg.org/mutker/cdc/internal/errors"

const (
	// Construction Errors
	ErrInvalidArgument   = errors.ErrInvalidArgument
	ErrUnknownSensorType = errors.ErrorCode("unknown_sensor_type")

	// Read Errors
	ErrReadFailed = errors.ErrorCode("sensor_read_failed")

	// Registry Errors
	ErrInvalidObject    = errors.ErrInvalidObject
	ErrInvalidInterval  = errors.ErrInvalidInterval
	ErrDuplicateKey     = errors.ErrDuplicateKey
	ErrNotFound         = errors.ErrNotFound
	ErrNotAveraging     = errors.ErrNotAveraging
	ErrOrphanAveraging  = errors.ErrOrphanAveraging
	ErrInvalidOperation = errors.ErrInvalidOperation
)
