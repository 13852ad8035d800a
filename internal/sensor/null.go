package sensor

import (
	"context"
	"fmt"
	"strconv"

	"codeberg.org/mutker/cdc/internal/errors"
)

const NullType = "null"

// Null always returns the configured value, or an absent reading when no
// value is configured. It stands in for sensors that could not be found
// and is handy for testing.
type Null struct {
	Base
	value Value
}

// NewNull builds a null sensor. The only parameter is "value".
func NewNull(name, _ string, params map[string]string) (Sensor, error) {
	if err := CheckParams(NullType, params, "value"); err != nil {
		return nil, err
	}

	s := &Null{Base: NewBase(NullType, name), value: Absent()}

	if raw, ok := params["value"]; ok && raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.New().WithMessage(ErrInvalidArgument,
				fmt.Sprintf("Value '%s' for sensor type '%s' is not a number", raw, NullType))
		}
		s.value = Of(v)
	}

	return s, nil
}

func (s *Null) Reading(_ context.Context) (Value, error) {
	return s.value, nil
}
