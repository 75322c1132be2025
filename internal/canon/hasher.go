package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// Genesis is the fixed literal prev-hash of the first event in a run.
const Genesis = "GENESIS"

// EventHashInput is the exact field set that feeds event_hash, per the
// canonical encoder contract: created_at is never part of this input.
type EventHashInput struct {
	RunID     string
	TickID    int64
	EventSeq  int64
	EventType string
	AgentID   string // empty string when the event has no agent
	Payload   interface{}
	PrevHash  string
}

func (h EventHashInput) Canonical() interface{} {
	var agentID interface{}
	if h.AgentID != "" {
		agentID = h.AgentID
	}
	return map[string]interface{}{
		"run_id":     h.RunID,
		"tick_id":    h.TickID,
		"event_seq":  h.EventSeq,
		"event_type": h.EventType,
		"agent_id":   agentID,
		"payload":    h.Payload,
		"prev_hash":  h.PrevHash,
	}
}

// EventHash computes the 64-hex-character SHA-256 digest of the canonical
// encoding of in.
func EventHash(in EventHashInput) string {
	sum := sha256.Sum256(Encode(in))
	return hex.EncodeToString(sum[:])
}
