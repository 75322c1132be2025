package world

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// idGenerator produces UUID-shaped strings deterministically by hashing
// "{seed}-{counter}" and re-shaping the digest's first 16 bytes into the
// v4 UUID layout. Because the kernel is its only consumer, the sequence of
// ids produced depends strictly on the sequence of calls — which in turn
// is determined entirely by the ordered action log.
type idGenerator struct {
	seed    uint32
	counter uint64
}

func newIDGenerator(seed uint32) *idGenerator {
	return &idGenerator{seed: seed}
}

// Counter returns the number of ids handed out so far, for snapshotting.
func (g *idGenerator) Counter() uint64 { return g.counter }

// SetCounter restores the generator's position, e.g. after loading a
// snapshot, so subsequently generated ids continue the same deterministic
// sequence rather than restarting from zero.
func (g *idGenerator) SetCounter(c uint64) { g.counter = c }

func (g *idGenerator) Next() string {
	g.counter++
	digest := sha256.Sum256([]byte(fmt.Sprintf("%d-%d", g.seed, g.counter)))

	var u uuid.UUID
	copy(u[:], digest[:16])
	u[6] = (u[6] & 0x0f) | 0x40 // version 4
	u[8] = (u[8] & 0x3f) | 0x80 // RFC 4122 variant

	return u.String()
}
