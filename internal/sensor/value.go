package sensor

import (
	"math"
	"strconv"
)

// AbsentToken is how an absent reading is rendered in data files.
const AbsentToken = "N/A"

// Value is a reading: either a finite number or absent.
type Value struct {
	v  float64
	ok bool
}

// Absent returns a Value with no reading.
func Absent() Value {
	return Value{}
}

// Of returns a Value holding v. NaN and infinities are treated as absent.
func Of(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{v: v, ok: true}
}

// Float returns the number and whether the value is present.
func (v Value) Float() (float64, bool) {
	return v.v, v.ok
}

// IsAbsent reports whether there is no reading.
func (v Value) IsAbsent() bool {
	return !v.ok
}

func (v Value) String() string {
	if !v.ok {
		return AbsentToken
	}
	return strconv.FormatFloat(v.v, 'f', -1, 64)
}
