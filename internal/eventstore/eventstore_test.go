package eventstore_test

import (
	"testing"

	"marketsim/internal/canon"
	"marketsim/internal/event"
	"marketsim/internal/eventstore"
)

func mkEvent(tick int64, typ event.Type, agentID string) event.Event {
	return event.Event{
		TickID:    tick,
		EventType: typ,
		AgentID:   agentID,
		Payload:   event.TickStartPayload{TickID: tick},
	}
}

func TestAppendAssignsSequenceAndChainsHash(t *testing.T) {
	s := eventstore.New("run-1")

	e0 := s.Append(mkEvent(0, event.TypeTickStart, ""))
	if e0.EventSeq != 0 {
		t.Fatalf("expected first seq 0, got %d", e0.EventSeq)
	}
	if e0.PrevHash != canon.Genesis {
		t.Fatalf("expected genesis prev hash, got %q", e0.PrevHash)
	}
	if len(e0.EventHash) != 64 {
		t.Fatalf("expected 64-hex digest, got %d chars", len(e0.EventHash))
	}

	e1 := s.Append(mkEvent(0, event.TypeTickEnd, ""))
	if e1.EventSeq != 1 {
		t.Fatalf("expected second seq 1, got %d", e1.EventSeq)
	}
	if e1.PrevHash != e0.EventHash {
		t.Fatalf("expected chained prev hash, got %q want %q", e1.PrevHash, e0.EventHash)
	}
	if s.LastHash() != e1.EventHash {
		t.Fatalf("store tip out of sync")
	}
	if s.Count() != 2 {
		t.Fatalf("expected count 2, got %d", s.Count())
	}
}

func TestVerifyChainValid(t *testing.T) {
	s := eventstore.New("run-1")
	for i := int64(0); i < 10; i++ {
		s.Append(mkEvent(i, event.TypeTickStart, ""))
	}
	res := s.VerifyChain()
	if !res.Valid {
		t.Fatalf("expected valid chain, mismatch at %d", res.MismatchIdx)
	}
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	s := eventstore.New("run-1")
	for i := int64(0); i < 5; i++ {
		s.Append(mkEvent(i, event.TypeTickStart, ""))
	}
	all := s.All()
	tampered := all[2]
	tampered.EventHash = "0000000000000000000000000000000000000000000000000000000000000"

	// Rebuild a store with the tampered event spliced in to exercise
	// VerifyChain's independent recomputation without exposing internal
	// mutation on Store itself.
	s2 := eventstore.New("run-1")
	for i, e := range all {
		if i == 2 {
			e = tampered
		}
		s2.AppendRaw(e)
	}
	res := s2.VerifyChain()
	if res.Valid {
		t.Fatalf("expected tamper to be detected")
	}
	if res.MismatchIdx != 2 {
		t.Fatalf("expected mismatch at index 2, got %d", res.MismatchIdx)
	}
}

func TestByTypeByAgentByTick(t *testing.T) {
	s := eventstore.New("run-1")
	s.Append(mkEvent(0, event.TypeAgentCreated, "agent-a"))
	s.Append(mkEvent(0, event.TypeOrderPlaced, "agent-a"))
	s.Append(mkEvent(1, event.TypeOrderPlaced, "agent-b"))

	if got := len(s.ByType(event.TypeOrderPlaced)); got != 2 {
		t.Fatalf("expected 2 ORDER_PLACED events, got %d", got)
	}
	if got := len(s.ByAgent("agent-a")); got != 2 {
		t.Fatalf("expected 2 events for agent-a, got %d", got)
	}
	if got := len(s.ByTick(1)); got != 1 {
		t.Fatalf("expected 1 event at tick 1, got %d", got)
	}
}

func TestExportOmitsNothingFromHashButIncludesCreatedAt(t *testing.T) {
	s := eventstore.New("run-1")
	s.Append(mkEvent(0, event.TypeTickStart, ""))
	lines := s.Export()
	if len(lines) != 1 {
		t.Fatalf("expected 1 exported line, got %d", len(lines))
	}
	if _, ok := lines[0]["created_at"]; !ok {
		t.Fatalf("expected created_at in export")
	}
	if _, ok := lines[0]["event_hash"]; !ok {
		t.Fatalf("expected event_hash in export")
	}
}
