// Package constanttime provides comparisons over byte slices that may hold
// secret material. Running time depends only on the length of the inputs.
package constanttime

import "errors"

// ErrLengthMismatch is returned when the inputs differ in length. Lengths are
// protocol constants, so reporting the mismatch early leaks nothing secret.
var ErrLengthMismatch = errors.New("constanttime: inputs differ in length")

// Compare compares a and b as little-endian numbers and returns -1, 0 or 1.
// Every byte of both inputs is read exactly once whatever the content.
func Compare(a, b []byte) (int, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}
	return memcmpLE(a, b, noVisit), nil
}

// MustCompare is Compare for callers that guarantee equal lengths. It panics
// on a length mismatch.
func MustCompare(a, b []byte) int {
	res, err := Compare(a, b)
	if err != nil {
		panic(err)
	}
	return res
}

// Equal reports whether a and b hold the same bytes.
func Equal(a, b []byte) bool {
	res, err := Compare(a, b)
	return err == nil && res == 0
}

func noVisit(int) {}

// memcmpLE walks from the most significant byte down. The first nonzero
// difference is latched through a mask, so later bytes cannot overwrite it and
// no branch depends on the data.
//
//go:noinline
func memcmpLE(a, b []byte, visit func(int)) int {
	res := 0
	for i := len(a) - 1; i >= 0; i-- {
		visit(i)
		diff := int(a[i]) - int(b[i])
		// all ones while res == 0, zero afterwards
		mask := ((res - 1) &^ res) >> 8
		res |= diff & mask
	}
	return ((res - 1) >> 8) + (res >> 8) + 1
}
