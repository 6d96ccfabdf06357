package qkd

import (
	"math"
	"testing"

	rand "golang.org/x/exp/rand"

	"github.com/qkdlab/cascade/qkd/bitmap"
)

func TestBinaryEntropy(t *testing.T) {
	tcs := []struct {
		name string
		p    float64
		eout float64
	}{
		{"zero", 0, 0},
		{"one", 1, 0},
		{"negative", -0.1, 0},
		{"half", 0.5, 1},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if out := BinaryEntropy(tc.p); math.Abs(out-tc.eout) > 1e-12 {
				t.Errorf("BinaryEntropy(%v) == %v, want %v", tc.p, out, tc.eout)
			}
		})
	}
	if h := BinaryEntropy(0.11); h <= BinaryEntropy(0.03) {
		t.Error("entropy is not increasing on (0, 0.5)")
	}
}

func TestFinalLength(t *testing.T) {
	tcs := []struct {
		name     string
		n, lk    int
		qberHigh float64
		margin   int
		eout     int
	}{
		{"noiseless", 1000, 200, 0, 50, 750},
		{"all leaked", 1000, 1000, 0, 0, 0},
		{"entropy eats everything", 1000, 100, 0.5, 0, 0},
		{"margin eats the rest", 1000, 900, 0, 150, 0},
		{"empty key", 0, 0, 0, 50, 0},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if out := FinalLength(tc.n, tc.lk, tc.qberHigh, tc.margin); out != tc.eout {
				t.Errorf("FinalLength(%d, %d, %v, %d) == %d, want %d", tc.n, tc.lk, tc.qberHigh, tc.margin, out, tc.eout)
			}
		})
	}
}

func TestSeedSize(t *testing.T) {
	if s := SeedSize(9000, 5200); s != 14199 {
		t.Errorf("SeedSize(9000, 5200) == %d, want 14199", s)
	}
	if s := SeedSize(9000, 0); s != 0 {
		t.Errorf("SeedSize(9000, 0) == %d, want 0", s)
	}
}

func TestNewSeed(t *testing.T) {
	seed := NewSeed(100, 40, rand.New(rand.NewSource(1)))
	if seed.Size() != 139 {
		t.Errorf("seed size == %d, want 139", seed.Size())
	}
	same := NewSeed(100, 40, rand.New(rand.NewSource(1)))
	if !bitmap.Equal(seed, same) {
		t.Error("same source produced different seeds")
	}
}

func TestSeedFromNonce(t *testing.T) {
	a, err := SeedFromNonce([]byte("session-7"), 100, 40)
	if err != nil {
		t.Fatalf("SeedFromNonce: %v", err)
	}
	if a.Size() != 139 {
		t.Errorf("seed size == %d, want 139", a.Size())
	}
	b, err := SeedFromNonce([]byte("session-7"), 100, 40)
	if err != nil {
		t.Fatalf("SeedFromNonce: %v", err)
	}
	if !bitmap.Equal(a, b) {
		t.Error("same nonce produced different seeds")
	}
	c, err := SeedFromNonce([]byte("session-8"), 100, 40)
	if err != nil {
		t.Fatalf("SeedFromNonce: %v", err)
	}
	if bitmap.Equal(a, c) {
		t.Error("different nonces produced the same seed")
	}
}

func TestToeplitzHashSmall(t *testing.T) {
	key, err := bitmap.FromString("1011")
	if err != nil {
		t.Fatalf("bugged test setup: %v", err)
	}
	seed, err := bitmap.FromString("110101")
	if err != nil {
		t.Fatalf("bugged test setup: %v", err)
	}
	out, err := ToeplitzHash(key, 3, seed)
	if err != nil {
		t.Fatalf("ToeplitzHash: %v", err)
	}
	want, err := bitmap.FromString("001")
	if err != nil {
		t.Fatalf("bugged test setup: %v", err)
	}
	if !bitmap.Equal(out, want) {
		t.Errorf("ToeplitzHash == %v, want %v", out.Data(), want.Data())
	}
}

func TestToeplitzHashAgreesAcrossRoles(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	key, _ := randomKeyPair(1000, 0, rnd)
	seed := NewSeed(1000, 600, rnd)
	a, err := ToeplitzHash(key, 600, seed)
	if err != nil {
		t.Fatalf("ToeplitzHash: %v", err)
	}
	b, err := ToeplitzHash(key.Clone(), 600, seed)
	if err != nil {
		t.Fatalf("ToeplitzHash: %v", err)
	}
	if a.Size() != 600 {
		t.Errorf("hash size == %d, want 600", a.Size())
	}
	if !bitmap.Equal(a, b) {
		t.Error("equal keys under an equal seed hashed differently")
	}
}

func TestToeplitzHashZeroLength(t *testing.T) {
	key, _ := randomKeyPair(100, 0, rand.New(rand.NewSource(3)))
	out, err := ToeplitzHash(key, 0, bitmap.Empty())
	if err != nil {
		t.Fatalf("ToeplitzHash: %v", err)
	}
	if out.Size() != 0 {
		t.Errorf("hash size == %d, want 0", out.Size())
	}
}

func TestToeplitzHashShortSeed(t *testing.T) {
	key, _ := randomKeyPair(100, 0, rand.New(rand.NewSource(4)))
	if _, err := ToeplitzHash(key, 40, NewSeed(100, 39, rand.New(rand.NewSource(5)))); err == nil {
		t.Error("ToeplitzHash accepted a seed one bit too short")
	}
}
