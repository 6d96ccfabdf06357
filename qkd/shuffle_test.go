package qkd

import (
	"sort"
	"testing"

	"github.com/qkdlab/cascade/qkd/bitmap"
)

func TestPermutationForIdentity(t *testing.T) {
	if p := PermutationFor(IdentityShuffle, 64); p != nil {
		t.Errorf("PermutationFor(IdentityShuffle, 64) == %v, want nil", p)
	}
}

func TestPermutationForDeterministic(t *testing.T) {
	a := PermutationFor(1234, 100)
	b := PermutationFor(1234, 100)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same identifier produced different permutations at %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestPermutationForIsBijective(t *testing.T) {
	p := PermutationFor(99, 257)
	sorted := append([]int(nil), p...)
	sort.Ints(sorted)
	for i, v := range sorted {
		if v != i {
			t.Fatalf("permutation is not a bijection: sorted[%d] == %d", i, v)
		}
	}
}

func TestShuffledParity(t *testing.T) {
	key, err := bitmap.FromString("1011 0010")
	if err != nil {
		t.Fatalf("bugged test setup: %v", err)
	}
	tcs := []struct {
		name       string
		perm       []int
		start, end int
		eout       bool
	}{
		{"identity full", nil, 0, 8, false},
		{"identity prefix", nil, 0, 3, false},
		{"identity mid", nil, 1, 4, false},
		{"identity single", nil, 2, 3, true},
		{"reversed prefix", []int{7, 6, 5, 4, 3, 2, 1, 0}, 0, 3, true},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if out := ShuffledParity(key, tc.perm, tc.start, tc.end); out != tc.eout {
				t.Errorf("ShuffledParity(%v, %d, %d) == %v, want %v", tc.perm, tc.start, tc.end, out, tc.eout)
			}
		})
	}
}
