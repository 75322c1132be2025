// Package eventstore implements the append-only, hash-chained event log.
// It is the kernel's single write path for observable state transitions:
// append assigns the next sequence, computes the event hash over the prior
// chain tip, and records the event. Verification never trusts the stored
// hash — it always recomputes the chain from GENESIS.
//
// The log itself lives in memory here (a slice plus indexes); any store
// that preserves append order suffices, so a durable backing store
// (internal/persistence) is a swappable adapter, not part of the kernel's
// contract.
package eventstore

import (
	"marketsim/internal/canon"
	"marketsim/internal/event"
)

// Store is the append-only event log. It is not safe for concurrent use;
// the kernel is its single-threaded owner.
type Store struct {
	runID    string
	events   []event.Event
	byType   map[event.Type][]int
	byAgent  map[string][]int
	byTick   map[int64][]int
	lastHash string
	nextSeq  int64
}

// New constructs an empty Store for one run.
func New(runID string) *Store {
	return &Store{
		runID:    runID,
		byType:   make(map[event.Type][]int),
		byAgent:  make(map[string][]int),
		byTick:   make(map[int64][]int),
		lastHash: canon.Genesis,
	}
}

// Append assigns the next sequence number to e, computes its event_hash
// against the current chain tip, records it, and advances the tip. The
// caller supplies every field except RunID, ID, EventSeq, PrevHash, and
// EventHash, which Append sets itself.
func (s *Store) Append(e event.Event) event.Event {
	e.RunID = s.runID
	e.EventSeq = s.nextSeq
	e.ID = s.nextSeq
	e.PrevHash = s.lastHash
	e.EventHash = canon.EventHash(e.HashInput())

	idx := len(s.events)
	s.events = append(s.events, e)
	s.byType[e.EventType] = append(s.byType[e.EventType], idx)
	if e.AgentID != "" {
		s.byAgent[e.AgentID] = append(s.byAgent[e.AgentID], idx)
	}
	s.byTick[e.TickID] = append(s.byTick[e.TickID], idx)

	s.nextSeq++
	s.lastHash = e.EventHash
	return e
}

// AppendRaw records e verbatim without assigning a new sequence or hash,
// advancing the chain tip to e's own EventHash. Used by replay/restore
// paths that reconstruct a Store from a previously exported event log.
func (s *Store) AppendRaw(e event.Event) {
	idx := len(s.events)
	s.events = append(s.events, e)
	s.byType[e.EventType] = append(s.byType[e.EventType], idx)
	if e.AgentID != "" {
		s.byAgent[e.AgentID] = append(s.byAgent[e.AgentID], idx)
	}
	s.byTick[e.TickID] = append(s.byTick[e.TickID], idx)
	if e.EventSeq >= s.nextSeq {
		s.nextSeq = e.EventSeq + 1
	}
	s.lastHash = e.EventHash
}

// All returns every event in append order.
func (s *Store) All() []event.Event {
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType returns every event of the given type, in append order.
func (s *Store) ByType(t event.Type) []event.Event {
	return s.collect(s.byType[t])
}

// ByAgent returns every event associated with agentID, in append order.
func (s *Store) ByAgent(agentID string) []event.Event {
	return s.collect(s.byAgent[agentID])
}

// ByTick returns every event recorded under the given tick id, in append order.
func (s *Store) ByTick(tickID int64) []event.Event {
	return s.collect(s.byTick[tickID])
}

func (s *Store) collect(idxs []int) []event.Event {
	out := make([]event.Event, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.events[i])
	}
	return out
}

// LastHash returns the current chain tip.
func (s *Store) LastHash() string { return s.lastHash }

// Count returns the number of appended events.
func (s *Store) Count() int64 { return int64(len(s.events)) }

// VerifyResult reports the outcome of VerifyChain.
type VerifyResult struct {
	Valid        bool
	MismatchIdx  int64 // zero-based index of first mismatch, -1 if valid
}

// VerifyChain recomputes every event_hash in order starting from GENESIS
// and reports the index of the first mismatch, if any. The stored
// event_hash is never trusted — this is a full, independent recomputation.
func (s *Store) VerifyChain() VerifyResult {
	prev := canon.Genesis
	for i, e := range s.events {
		in := e.HashInput()
		in.PrevHash = prev
		want := canon.EventHash(in)
		if want != e.EventHash || e.PrevHash != prev {
			return VerifyResult{Valid: false, MismatchIdx: int64(i)}
		}
		prev = want
	}
	return VerifyResult{Valid: true, MismatchIdx: -1}
}

// Export renders every event as one canonical-JSON-shaped map per line,
// in append order, ready for a caller to json.Marshal line by line.
func (s *Store) Export() []map[string]interface{} {
	out := make([]map[string]interface{}, len(s.events))
	for i, e := range s.events {
		out[i] = e.Export()
	}
	return out
}
