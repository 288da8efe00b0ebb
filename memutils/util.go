package memutils

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return errors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckRange verifies that low <= number <= high
func CheckRange[T Number](number, low, high T, name string) error {
	if number < low || number > high {
		return errors.Wrapf(OutOfRangeError, "%s is %d, must be between %d and %d", name, number, low, high)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

// DivCeil divides value by divisor, rounding up
func DivCeil[T Number](value, divisor T) T {
	return (value + divisor - 1) / divisor
}

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
