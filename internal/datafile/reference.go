package datafile

import (
	"strings"

	"codeberg.org/mutker/cdc/internal/errors"
)

// Mode selects whether a file records a sensor's raw reading or its
// average over the file's sampling time.
type Mode string

const (
	Sample  Mode = "SAMPLE"
	Average Mode = "AVERAGE"
)

// ParseMode parses a mode name, ignoring case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case Sample, Average:
		return m, nil
	default:
		return "", errors.New().WithData(ErrInvalidMode, s)
	}
}

// Reference names one column of a data file.
type Reference struct {
	Group string
	Name  string
	Mode  Mode
}

// ParseReference parses "[group.]name[/mode]". A missing group or mode
// falls back to the given defaults.
func ParseReference(s, defaultGroup string, defaultMode Mode) (Reference, error) {
	ref := Reference{Group: defaultGroup, Mode: defaultMode}

	rest := strings.TrimSpace(s)
	if group, name, ok := strings.Cut(rest, "."); ok {
		ref.Group = group
		rest = name
	}

	name, mode, ok := strings.Cut(rest, "/")
	ref.Name = name
	if ok {
		m, err := ParseMode(mode)
		if err != nil {
			return Reference{}, err
		}
		ref.Mode = m
	} else if _, err := ParseMode(string(ref.Mode)); err != nil {
		return Reference{}, err
	}

	if ref.Group == "" || ref.Name == "" {
		return Reference{}, errors.New().WithData(ErrInvalidArgument, s)
	}

	return ref, nil
}

func (r Reference) String() string {
	return r.Group + "." + r.Name + "/" + string(r.Mode)
}
