package prng_test

import (
	"math/big"
	"testing"

	"marketsim/internal/prng"
)

func TestFloat64_Deterministic(t *testing.T) {
	p1 := prng.New(1)
	p2 := prng.New(1)
	for i := 0; i < 10; i++ {
		a := p1.Float64()
		b := p2.Float64()
		if a != b {
			t.Fatalf("iteration %d: two generators seeded identically diverged: %v != %v", i, a, b)
		}
		if a < 0 || a >= 1 {
			t.Fatalf("iteration %d: Float64 out of [0,1): %v", i, a)
		}
	}
}

func TestInt_Bounds(t *testing.T) {
	p := prng.New(42)
	for i := 0; i < 1000; i++ {
		v := p.Int(5, 9)
		if v < 5 || v > 9 {
			t.Fatalf("Int out of bounds: %d", v)
		}
	}
}

func TestBigInt_Bounds(t *testing.T) {
	p := prng.New(7)
	lo := big.NewInt(0)
	hi := new(big.Int).Lsh(big.NewInt(1), 100)
	for i := 0; i < 50; i++ {
		v := p.BigInt(lo, hi)
		if v.Sign() < 0 || v.Cmp(hi) > 0 {
			t.Fatalf("BigInt out of bounds: %v", v)
		}
	}
}

func TestShuffle_Permutes(t *testing.T) {
	p := prng.New(123)
	xs := []int{0, 1, 2, 3, 4, 5, 6, 7}
	p.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })

	seen := make(map[int]bool)
	for _, v := range xs {
		seen[v] = true
	}
	if len(seen) != 8 {
		t.Fatalf("shuffle lost elements: %v", xs)
	}
}

func TestPick_InRange(t *testing.T) {
	p := prng.New(9)
	for i := 0; i < 100; i++ {
		idx := p.Pick(5)
		if idx < 0 || idx >= 5 {
			t.Fatalf("Pick out of range: %d", idx)
		}
	}
}

func TestChance_DistributionSanity(t *testing.T) {
	p := prng.New(99)
	hits := 0
	const n = 10000
	for i := 0; i < n; i++ {
		if p.Chance(0.3) {
			hits++
		}
	}
	frac := float64(hits) / n
	if frac < 0.2 || frac > 0.4 {
		t.Fatalf("Chance(0.3) produced suspicious frequency: %v", frac)
	}
}

func TestTwoSeeds_ProduceDifferentSequences(t *testing.T) {
	a := prng.New(1).Float64()
	b := prng.New(2).Float64()
	if a == b {
		t.Fatalf("different seeds produced identical first output")
	}
}
