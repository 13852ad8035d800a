package collector

import "codeberg.org/mutker/cdc/internal/errors"

const (
	ErrInvalidConfig    = errors.ErrInvalidConfig
	ErrInitFailed       = errors.ErrInitFailed
	ErrShutdownFailed   = errors.ErrShutdownFailed
	ErrInvalidOperation = errors.ErrInvalidOperation
)
