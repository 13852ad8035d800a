package onewire

import (
	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/sensor"
)

const (
	ErrIDAlreadyConverted = errors.ErrorCode("onewire_id_already_converted")
	ErrInvalidID          = errors.ErrorCode("onewire_invalid_id")
	ErrConnectionMismatch = errors.ErrorCode("onewire_connection_already_initialized")
	ErrCRCFailed          = errors.ErrorCode("onewire_crc_failed")
	ErrReadFailed         = sensor.ErrReadFailed
)
