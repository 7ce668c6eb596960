package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned when a value does not fit the target type.
var ErrOverflow = errors.New("integer overflow")

// IntToUint32 converts a length or count to a 32-bit frame field.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d does not fit uint32", ErrOverflow, v)
	}
	return uint32(v), nil
}

// Uint64ToInt converts a size read from disk to an int.
func Uint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%w: %d does not fit int", ErrOverflow, v)
	}
	return int(v), nil
}

// Uint64ToInt64 converts a file offset read from disk to an int64.
func Uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d does not fit int64", ErrOverflow, v)
	}
	return int64(v), nil
}
