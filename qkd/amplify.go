package qkd

import (
	"fmt"
	"io"
	"math"

	rand "golang.org/x/exp/rand"
	"golang.org/x/crypto/blake2b"

	"github.com/qkdlab/cascade/qkd/bitmap"
)

// DefaultSafetyMargin is the fixed number of bits shaved off the secure key
// length on top of the leakage and entropy terms.
const DefaultSafetyMargin = 50

// BinaryEntropy computes h(p) = -p·log2(p) - (1-p)·log2(1-p), with the
// degenerate endpoints mapped to 0.
func BinaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

// FinalLength computes the secure output length for an n-bit reconciled key
// given the leaked-bit count, the QBER upper confidence bound, and a safety
// margin: max(0, floor(n - leaked - n·h(qberHigh) - margin)).
func FinalLength(n, leaked int, qberHigh float64, margin int) int {
	m := int(math.Floor(float64(n) - float64(leaked) - float64(n)*BinaryEntropy(qberHigh) - float64(margin)))
	if m < 0 {
		m = 0
	}
	return m
}

// SeedSize returns the number of Toeplitz seed bits needed to hash an n-bit
// key down to m bits.
func SeedSize(n, m int) int {
	if m == 0 {
		return 0
	}
	return n + m - 1
}

// NewSeed draws a fresh Toeplitz seed for hashing an n-bit key to m bits.
// The seed is public; whoever draws it must hand the identical bits to the
// other role.
func NewSeed(n, m int, rnd *rand.Rand) bitmap.Dense {
	size := SeedSize(n, m)
	b := make([]byte, bitmap.BytesFor(size))
	rnd.Read(b)
	return bitmap.NewDense(b, size)
}

// SeedFromNonce expands a shared public nonce into a Toeplitz seed for
// hashing an n-bit key to m bits, so both roles can derive one seed without
// sending n+m-1 bits over the channel.
func SeedFromNonce(nonce []byte, n, m int) (bitmap.Dense, error) {
	size := SeedSize(n, m)
	if size == 0 {
		return bitmap.Empty(), nil
	}
	xof, err := blake2b.NewXOF(blake2b.OutputLengthUnknown, nil)
	if err != nil {
		return bitmap.Empty(), fmt.Errorf("building seed XOF: %w", err)
	}
	if _, err := xof.Write(nonce); err != nil {
		return bitmap.Empty(), fmt.Errorf("absorbing seed nonce: %w", err)
	}
	b := make([]byte, bitmap.BytesFor(size))
	if _, err := io.ReadFull(xof, b); err != nil {
		return bitmap.Empty(), fmt.Errorf("expanding seed nonce: %w", err)
	}
	return bitmap.NewDense(b, size), nil
}

// ToeplitzHash compresses key to m bits by Toeplitz matrix-vector
// multiplication: output bit i is the parity of the bitwise AND of the key
// with the seed window [i, i+n). It is a pure function: equal keys hashed
// under equal seeds produce bit-identical output, which is also the final
// cross-check that reconciliation really converged.
func ToeplitzHash(key bitmap.Dense, m int, seed bitmap.Dense) (bitmap.Dense, error) {
	if m == 0 {
		return bitmap.Empty(), nil
	}
	t := toeplitz{seed: seed, m: m, n: key.Size()}
	return t.Mul(key)
}
