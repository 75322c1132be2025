// Package query implements the kernel's read-only surface: run status,
// agent lookups, book depth, recent trades, and chain verification. It is
// a thin service wrapping a data source and returning response DTOs, but
// reads directly from the in-process kernel rather than a Postgres
// projection table, since the kernel's World is itself the single source
// of truth and there is no replication lag to reconcile.
package query

import (
	"marketsim/internal/amount"
	"marketsim/internal/eventstore"
	"marketsim/internal/kernel"
	"marketsim/internal/world"
)

// Service answers read-only questions about one kernel's state. It holds no
// state of its own and is safe to share across goroutines as long as the
// kernel itself is only ever mutated by its single owner.
type Service struct {
	k *kernel.Kernel
}

// NewService constructs a Service over k.
func NewService(k *kernel.Kernel) *Service {
	return &Service{k: k}
}

// RunStatusResponse summarizes the run's lifecycle and headline counters.
type RunStatusResponse struct {
	RunID           string
	Status          string
	CurrentTick     int64
	ActiveAgents    int
	BankruptAgents  int
	EventCount      int64
	LastEventHash   string
}

func (s *Service) RunStatus() RunStatusResponse {
	w := s.k.World()
	return RunStatusResponse{
		RunID:          s.k.RunID(),
		Status:         string(s.k.Status()),
		CurrentTick:    w.CurrentTick(),
		ActiveAgents:   w.ActiveAgentCount(),
		BankruptAgents: w.BankruptAgentCount(),
		EventCount:     s.k.Store().Count(),
		LastEventHash:  s.k.Store().LastHash(),
	}
}

// AgentResponse is the public view of an agent.
type AgentResponse struct {
	ID              string
	DisplayName     string
	Cash            amount.Amount
	Asset           amount.Amount
	Status          string
	ActionsThisTick int64
	BankruptAtTick  *int64
}

func toAgentResponse(a world.Agent) AgentResponse {
	return AgentResponse{
		ID: a.ID, DisplayName: a.DisplayName, Cash: a.Cash, Asset: a.Asset,
		Status: string(a.Status), ActionsThisTick: a.ActionsThisTick, BankruptAtTick: a.BankruptAtTick,
	}
}

// Agent looks an agent up by id.
func (s *Service) Agent(agentID string) (AgentResponse, bool) {
	a, ok := s.k.World().GetAgent(agentID)
	if !ok {
		return AgentResponse{}, false
	}
	return toAgentResponse(a), true
}

// AgentByFingerprint looks an agent up by its stored API-key fingerprint,
// for callers that only hold the fingerprint (never the plaintext key).
func (s *Service) AgentByFingerprint(fingerprint string) (AgentResponse, bool) {
	a, ok := s.k.World().GetAgentByFingerprint(fingerprint)
	if !ok {
		return AgentResponse{}, false
	}
	return toAgentResponse(a), true
}

// OrderResponse is the public view of a resting or historical order.
type OrderResponse struct {
	ID          string
	AgentID     string
	Side        string
	Price       amount.Amount
	OriginalQty amount.Amount
	FilledQty   amount.Amount
	Status      string
	TickCreated int64
	Sequence    int64
}

// OpenOrders returns agentID's open orders in sequence order.
func (s *Service) OpenOrders(agentID string) []OrderResponse {
	orders := s.k.World().OpenOrdersOf(agentID)
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = OrderResponse{
			ID: o.ID, AgentID: o.AgentID, Side: string(o.Side), Price: o.Price,
			OriginalQty: o.OriginalQty, FilledQty: o.FilledQty, Status: string(o.Status),
			TickCreated: o.TickCreated, Sequence: o.Sequence,
		}
	}
	return out
}

// DepthLevel is one aggregated price level in the book.
type DepthLevel struct {
	Price    amount.Amount
	Quantity amount.Amount
}

// Depth returns the top n aggregated levels on one side, computed live
// from open orders so it can never diverge from the book it summarizes.
func (s *Service) Depth(side world.Side, n int) []DepthLevel {
	levels := s.k.World().Depth(side, n)
	out := make([]DepthLevel, len(levels))
	for i, l := range levels {
		out[i] = DepthLevel{Price: l.Price, Quantity: l.Quantity}
	}
	return out
}

// BookSummary is the best bid/ask plus their derived mid price and spread.
type BookSummary struct {
	BestBid  amount.Amount
	HasBid   bool
	BestAsk  amount.Amount
	HasAsk   bool
	MidPrice amount.Amount
	HasMid   bool
	Spread   amount.Amount
	HasSpread bool
}

// Book returns the best bid/ask and the mid/spread derived from them, when
// both sides have resting liquidity.
func (s *Service) Book() BookSummary {
	bid, hasBid, ask, hasAsk := s.k.World().BestBidAsk()
	summary := BookSummary{BestBid: bid, HasBid: hasBid, BestAsk: ask, HasAsk: hasAsk}
	if hasBid && hasAsk {
		summary.MidPrice = bid.Add(ask).Div(amount.FromRaw(200000000))
		summary.HasMid = true
		summary.Spread = ask.Sub(bid)
		summary.HasSpread = true
	}
	return summary
}

// TradeResponse is the public view of a matched trade.
type TradeResponse struct {
	ID            string
	Tick          int64
	Price         amount.Amount
	Quantity      amount.Amount
	BuyOrderID    string
	SellOrderID   string
	BuyerAgentID  string
	SellerAgentID string
	TotalFee      amount.Amount
	AggressorSide string
}

// RecentTrades returns up to n most recent trades, newest last.
func (s *Service) RecentTrades(n int) []TradeResponse {
	trades := s.k.World().RecentTrades(n)
	out := make([]TradeResponse, len(trades))
	for i, t := range trades {
		out[i] = TradeResponse{
			ID: t.ID, Tick: t.Tick, Price: t.Price, Quantity: t.Quantity,
			BuyOrderID: t.BuyOrderID, SellOrderID: t.SellOrderID,
			BuyerAgentID: t.BuyerAgentID, SellerAgentID: t.SellerAgentID,
			TotalFee: t.TotalFee, AggressorSide: string(t.AggressorSide),
		}
	}
	return out
}

// VerifyChain recomputes the event hash chain from GENESIS and reports the
// outcome. It never trusts a stored hash.
func (s *Service) VerifyChain() eventstore.VerifyResult {
	return s.k.Store().VerifyChain()
}

// ExportEvents renders the full event log in canonical-JSON-shaped form,
// one entry per line, in append order.
func (s *Service) ExportEvents() []map[string]interface{} {
	return s.k.Store().Export()
}
