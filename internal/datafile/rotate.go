package datafile

import (
	"os"
	"strconv"

	"codeberg.org/mutker/cdc/internal/errors"
)

// Rotate moves path out of the way as path.1, shifting existing backups
// up by one so a higher suffix always means an older file. Backups above
// the first gap in the sequence are left alone.
func Rotate(path string) error {
	errFactory := errors.New()

	highest := 0
	for {
		if _, err := os.Stat(backup(path, highest+1)); err != nil {
			break
		}
		highest++
	}

	for n := highest; n > 0; n-- {
		if err := os.Rename(backup(path, n), backup(path, n+1)); err != nil {
			return errFactory.Wrap(ErrRotateFailed, err)
		}
	}

	if err := os.Rename(path, backup(path, 1)); err != nil {
		return errFactory.Wrap(ErrRotateFailed, err)
	}

	return nil
}

func backup(path string, n int) string {
	return path + "." + strconv.Itoa(n)
}
