// Package prng implements the reproducible scenario-randomness generator.
// It is never consulted for action ordering, tie-breaking, or matching
// priority — those are determined solely by receive sequence and book
// price-time priority.
package prng

import "math/big"

// PRNG is a Mulberry32-equivalent 32-bit generator. The zero value is not
// usable; construct with New.
type PRNG struct {
	state uint32
}

// New seeds a generator from the low 32 bits of seed.
func New(seed uint32) *PRNG {
	return &PRNG{state: seed}
}

// next advances the generator one step and returns the raw 32-bit output,
// following the exact Mulberry32 step: all multiplications are 32-bit
// wrapping, matched here by Go's native uint32 arithmetic.
func (p *PRNG) next() uint32 {
	p.state += 0x6D2B79F5
	t := p.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return (t ^ (t >> 14))
}

// Float64 returns a uniform real in [0, 1).
func (p *PRNG) Float64() float64 {
	return float64(p.next()) / 4294967296.0
}

// Int returns a uniform integer in [lo, hi] inclusive.
func (p *PRNG) Int(lo, hi int64) int64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	span := uint64(hi-lo) + 1
	return lo + int64(uint64(p.next())%span)
}

// BigInt returns a uniform big integer in [lo, hi] inclusive, built by
// accumulating successive 32-bit chunks from the generator until the
// accumulated range covers [0, hi-lo].
func (p *PRNG) BigInt(lo, hi *big.Int) *big.Int {
	span := new(big.Int).Sub(hi, lo)
	span.Add(span, big.NewInt(1))
	if span.Sign() <= 0 {
		return new(big.Int).Set(lo)
	}

	acc := new(big.Int)
	chunk := new(big.Int)
	shift := new(big.Int).SetInt64(1)
	chunkShift := new(big.Int).Lsh(big.NewInt(1), 32)

	for shift.Cmp(span) < 0 {
		chunk.SetUint64(uint64(p.next()))
		chunk.Mul(chunk, shift)
		acc.Add(acc, chunk)
		shift.Mul(shift, chunkShift)
	}

	acc.Mod(acc, span)
	return acc.Add(acc, lo)
}

// Shuffle performs an in-place Fisher-Yates shuffle using Int.
func (p *PRNG) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := p.Int(0, int64(i))
		swap(i, int(j))
	}
}

// Pick returns a uniformly chosen index in [0, n).
func (p *PRNG) Pick(n int) int {
	if n <= 0 {
		return -1
	}
	return int(p.Int(0, int64(n-1)))
}

// Chance reports a Bernoulli trial with success probability prob (0..1).
func (p *PRNG) Chance(prob float64) bool {
	return p.Float64() < prob
}
