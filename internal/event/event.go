// Package event defines the kernel's observable event types: the payload
// shapes emitted by the tick controller, and the envelope that carries a
// payload through the hash chain, split into an envelope plus one struct
// per event type.
package event

import "marketsim/internal/canon"

// Type is the closed set of event-type tags the kernel ever emits.
type Type string

const (
	TypeRunCreated     Type = "RUN_CREATED"
	TypeRunStarted     Type = "RUN_STARTED"
	TypeRunStopped     Type = "RUN_STOPPED"
	TypeAgentCreated   Type = "AGENT_CREATED"
	TypeOrderPlaced    Type = "ORDER_PLACED"
	TypeOrderRejected  Type = "ORDER_REJECTED"
	TypeOrderCancelled Type = "ORDER_CANCELLED"
	TypeTradeExecuted  Type = "TRADE_EXECUTED"
	TypeBalanceUpdated Type = "BALANCE_UPDATED"
	TypeRateLimitHit   Type = "RATE_LIMIT_HIT"
	TypeDecayApplied   Type = "DECAY_APPLIED"
	TypeAgentBankrupt  Type = "AGENT_BANKRUPT"
	TypeTickStart      Type = "TICK_START"
	TypeTickEnd        Type = "TICK_END"
)

// Payload is implemented by every typed event payload. Canonical returns
// the plain map the canonical encoder hashes; it must contain exactly the
// fields the wire/export format documents for that event type.
type Payload interface {
	canon.Canonicalizer
}

// Event is one entry in the append-only log, fully materialized (including
// the fields excluded from the hash).
type Event struct {
	ID        int64  // monotonic id, identical to EventSeq for this implementation
	RunID     string
	TickID    int64
	EventSeq  int64
	EventType Type
	AgentID   string // empty when the event has no associated agent
	Payload   Payload
	PrevHash  string
	EventHash string
	CreatedAt int64 // unix micros, informational only, excluded from the hash
}

// HashInput builds the exact field set the canonical hash is computed over.
func (e Event) HashInput() canon.EventHashInput {
	return canon.EventHashInput{
		RunID:     e.RunID,
		TickID:    e.TickID,
		EventSeq:  e.EventSeq,
		EventType: string(e.EventType),
		AgentID:   e.AgentID,
		Payload:   e.Payload,
		PrevHash:  e.PrevHash,
	}
}

// Export renders the event in the one-line canonical JSON form used by the
// event export surface: the canonical fields plus created_at appended.
func (e Event) Export() map[string]interface{} {
	var payload interface{}
	if e.Payload != nil {
		payload = e.Payload.Canonical()
	}
	m := map[string]interface{}{
		"run_id":     e.RunID,
		"tick_id":    e.TickID,
		"event_seq":  e.EventSeq,
		"event_type": string(e.EventType),
		"payload":    payload,
		"prev_hash":  e.PrevHash,
		"event_hash": e.EventHash,
		"created_at": e.CreatedAt,
	}
	if e.AgentID != "" {
		m["agent_id"] = e.AgentID
	} else {
		m["agent_id"] = nil
	}
	return m
}
