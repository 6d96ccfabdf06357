package qkd

import (
	rand "golang.org/x/exp/rand"

	"github.com/qkdlab/cascade/qkd/bitmap"
)

// IdentityShuffle is the shuffle identifier reserved for the identity
// permutation, used by the first reconciliation pass.
const IdentityShuffle uint64 = 0

// PermutationFor reconstructs the permutation named by id over n key indices.
// Both roles run this with the same id and arrive at the same bijection, so
// only the identifier ever crosses the channel. The identity permutation is
// returned as nil.
func PermutationFor(id uint64, n int) []int {
	if id == IdentityShuffle {
		return nil
	}
	return rand.New(rand.NewSource(id)).Perm(n)
}

// ShuffledParity computes the parity of key bits at permuted positions
// [start, end), i.e. of key[perm[start]], ..., key[perm[end-1]]. A nil perm
// is the identity.
func ShuffledParity(key bitmap.Dense, perm []int, start, end int) bool {
	parity := false
	if perm == nil {
		for i := start; i < end; i++ {
			if key.Get(i) {
				parity = !parity
			}
		}
		return parity
	}
	for i := start; i < end; i++ {
		if key.Get(perm[i]) {
			parity = !parity
		}
	}
	return parity
}
