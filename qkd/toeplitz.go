package qkd

import (
	"fmt"

	"github.com/qkdlab/cascade/qkd/bitmap"
)

// A toeplitz represents a matrix whose diagonals are all constant. It
// operates in F_2, i.e. all of its scalars are 0 or 1.
type toeplitz struct {
	// The diagonal constants. Row i of the m×n matrix is seed[i : i+n),
	// so m+n-1 seed bits describe the whole matrix.
	seed bitmap.Dense

	m int
	n int
}

// Mul computes the matrix product Av between the toeplitz matrix t and the
// provided vector.
func (t toeplitz) Mul(vec bitmap.Dense) (bitmap.Dense, error) {
	if t.seed.Size() < t.m+t.n-1 {
		return bitmap.Empty(), fmt.Errorf("improper toeplitz construction, has %d diagonals, needs %d", t.seed.Size(), t.m+t.n-1)
	}
	if t.n != vec.Size() {
		return bitmap.Empty(), fmt.Errorf("multiplying %dx%d matrix into %d-dim vector", t.m, t.n, vec.Size())
	}

	r := bitmap.Empty()
	for i := 0; i < t.m; i++ {
		row, err := bitmap.Slice(t.seed, i, i+t.n)
		if err != nil {
			return bitmap.Empty(), err
		}
		r.AppendBit(bitmap.Dot(row, vec))
	}
	return r, nil
}
