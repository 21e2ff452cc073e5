package tensor

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// NumElements returns the number of elements of a row-major array with the
// given shape. A zero-rank shape holds one element.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Strides returns the row-major strides of shape, in elements.
func Strides(shape []int) []int {
	strides := make([]int, len(shape))
	if len(shape) == 0 {
		return strides
	}
	strides[len(shape)-1] = 1
	for i := len(shape) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * shape[i+1]
	}
	return strides
}

// maxElementSize is the widest element type in bytes.
const maxElementSize = 8

func validateShape(shape []int) error {
	limit := math.MaxInt / maxElementSize
	n := 1
	for i, d := range shape {
		if d <= 0 {
			return fmt.Errorf("%w: dimension %d is %d (must be > 0)", ErrInvalidTensor, i, d)
		}
		if n > limit/d {
			return fmt.Errorf("%w: shape %v is too large", ErrInvalidTensor, shape)
		}
		n *= d
	}
	return nil
}

// NormalizeAxes lower-cases an axes string and checks that every label is a
// single unique letter.
func NormalizeAxes(axes string) (string, error) {
	axes = strings.ToLower(strings.TrimSpace(axes))
	if axes == "" {
		return "", fmt.Errorf("%w: axes must not be empty", ErrInvalidTensor)
	}
	seen := make(map[rune]bool, len(axes))
	for _, r := range axes {
		if r < 'a' || r > 'z' {
			return "", fmt.Errorf("%w: axis label %q is not a letter", ErrInvalidTensor, r)
		}
		if seen[r] {
			return "", fmt.Errorf("%w: axis label %q repeated in %q", ErrInvalidTensor, r, axes)
		}
		seen[r] = true
	}
	return axes, nil
}

func checkRank(axes string, shape []int) error {
	if len(axes) != len(shape) {
		return fmt.Errorf("%w: %d axes %q but shape %v has %d dimensions",
			ErrInvalidTensor, len(axes), axes, shape, len(shape))
	}
	return validateShape(shape)
}

func cloneShape(shape []int) []int {
	return slices.Clone(shape)
}
