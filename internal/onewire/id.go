package onewire

import (
	"encoding/hex"
	"fmt"
	"strings"

	"codeberg.org/mutker/cdc/internal/errors"
)

// OwfsID converts an id as printed on the sensor packaging
// (BF000002A86AF728) to the family.serial form owfs addresses devices by
// (28.F76AA8020000). The printed id lists the CRC byte first and the
// family code last, with the serial bytes in reverse order.
func OwfsID(id string) (string, error) {
	errFactory := errors.New()

	if strings.Contains(id, ".") {
		return "", errFactory.WithMessage(ErrIDAlreadyConverted,
			fmt.Sprintf("Given id '%s' to convert, but id already has a '.' in it", id))
	}
	if len(id) != 16 {
		return "", errFactory.WithData(ErrInvalidID, id)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return "", errFactory.Wrap(ErrInvalidID, err)
	}

	var b strings.Builder
	b.WriteString(id[14:])
	b.WriteByte('.')
	for i := 6; i > 0; i-- {
		b.WriteString(id[i*2 : i*2+2])
	}

	return strings.ToUpper(b.String()), nil
}

// normalizeID accepts either the printed form or the owfs form.
func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if len(id) > 2 && id[2] == '.' {
		return strings.ToUpper(id), nil
	}
	return OwfsID(id)
}

// sysfsID turns an owfs id (28.F76AA8020000) into the name the Linux w1
// subsystem uses for the same device (28-f76aa8020000).
func sysfsID(owfsID string) string {
	return strings.ToLower(strings.Replace(owfsID, ".", "-", 1))
}
