// Package world holds the state the kernel exclusively owns: the run
// configuration, agents, orders, trades, and the counters that drive id
// and sequence assignment. Nothing outside the kernel may mutate it;
// external callers only ever see value copies returned from the query
// methods in this package.
package world

import "marketsim/internal/amount"

type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentBankrupt  AgentStatus = "bankrupt"
	AgentInactive  AgentStatus = "inactive"
)

type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Config is the immutable per-run configuration.
type Config struct {
	InitialCash        amount.Amount
	InitialAsset       amount.Amount
	TradingFeeBps      int64
	DecayRateBps       int64
	DecayIntervalTicks int64
	MaxActionsPerTick  int64
	MinPrice           amount.Amount
	MaxPrice           amount.Amount
	MinQuantity        amount.Amount
}

// Agent is a participant in the market.
type Agent struct {
	ID               string
	DisplayName      string
	APIKeyFingerprint string
	Cash             amount.Amount
	Asset            amount.Amount
	Status           AgentStatus
	ActionsThisTick  int64
	BankruptAtTick   *int64
}

// Clone returns a value copy safe for callers to hold after the kernel
// continues mutating its own state.
func (a *Agent) Clone() Agent {
	cp := *a
	if a.BankruptAtTick != nil {
		t := *a.BankruptAtTick
		cp.BankruptAtTick = &t
	}
	return cp
}

// Order is a resting or historical limit order.
type Order struct {
	ID              string
	AgentID         string
	Side            Side
	Price           amount.Amount
	OriginalQty     amount.Amount
	FilledQty       amount.Amount
	Status          OrderStatus
	TickCreated     int64
	Sequence        int64
}

func (o *Order) Clone() Order { return *o }

func (o *Order) Remaining() amount.Amount {
	return o.OriginalQty.Sub(o.FilledQty)
}

// Trade is an immutable record of a single match.
type Trade struct {
	ID            string
	Tick          int64
	Price         amount.Amount
	Quantity      amount.Amount
	BuyOrderID    string
	SellOrderID   string
	BuyerAgentID  string
	SellerAgentID string
	TotalFee      amount.Amount
	AggressorSide Side
}

func (t *Trade) Clone() Trade { return *t }

// World is the kernel's single container for all mutable simulation state.
type World struct {
	Config Config

	idGen *idGenerator

	agents              map[string]*Agent
	agentOrder          []string
	agentsByFingerprint map[string]string
	orders              map[string]*Order
	trades              []*Trade

	currentTick  int64
	orderSeq     int64
	totalVolume  amount.Amount
	totalFees    amount.Amount
}

// New constructs an empty World for the given seed and config.
func New(seed uint32, cfg Config) *World {
	return &World{
		Config:              cfg,
		idGen:               newIDGenerator(seed),
		agents:              make(map[string]*Agent),
		agentsByFingerprint: make(map[string]string),
		orders:              make(map[string]*Order),
		totalVolume:         amount.Zero(),
		totalFees:           amount.Zero(),
	}
}

// NextID hands out the next deterministic id. The kernel is the sole
// caller; order is significant.
func (w *World) NextID() string { return w.idGen.Next() }

func (w *World) CurrentTick() int64 { return w.currentTick }

func (w *World) AdvanceTickCounter() { w.currentTick++ }

// NextOrderSequence returns the next globally monotonic order sequence
// number, assigned at placement.
func (w *World) NextOrderSequence() int64 {
	w.orderSeq++
	return w.orderSeq
}

// --- mutation (kernel-only) ---

func (w *World) PutAgent(a *Agent) {
	if _, exists := w.agents[a.ID]; !exists {
		w.agentOrder = append(w.agentOrder, a.ID)
	}
	w.agents[a.ID] = a
	if a.APIKeyFingerprint != "" {
		w.agentsByFingerprint[a.APIKeyFingerprint] = a.ID
	}
}

func (w *World) PutOrder(o *Order) {
	w.orders[o.ID] = o
}

func (w *World) AppendTrade(t *Trade) {
	w.trades = append(w.trades, t)
	w.totalVolume = w.totalVolume.Add(t.Price.Mul(t.Quantity))
	w.totalFees = w.totalFees.Add(t.TotalFee)
}

// --- queries (pure, read-only) ---

func (w *World) GetAgent(id string) (Agent, bool) {
	a, ok := w.agents[id]
	if !ok {
		return Agent{}, false
	}
	return a.Clone(), true
}

func (w *World) GetAgentByFingerprint(fingerprint string) (Agent, bool) {
	id, ok := w.agentsByFingerprint[fingerprint]
	if !ok {
		return Agent{}, false
	}
	return w.GetAgent(id)
}

func (w *World) GetOrder(id string) (Order, bool) {
	o, ok := w.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.Clone(), true
}

// OpenOrdersOf returns the agent's open orders in sequence order.
func (w *World) OpenOrdersOf(agentID string) []Order {
	var out []Order
	for _, o := range w.orders {
		if o.AgentID == agentID && o.Status == OrderOpen {
			out = append(out, o.Clone())
		}
	}
	sortOrdersBySequence(out)
	return out
}

// RecentTrades returns up to n most recent trades, newest last.
func (w *World) RecentTrades(n int) []Trade {
	start := 0
	if len(w.trades) > n {
		start = len(w.trades) - n
	}
	out := make([]Trade, 0, len(w.trades)-start)
	for _, t := range w.trades[start:] {
		out = append(out, t.Clone())
	}
	return out
}

func (w *World) ActiveAgentCount() int {
	n := 0
	for _, a := range w.agents {
		if a.Status == AgentActive {
			n++
		}
	}
	return n
}

func (w *World) BankruptAgentCount() int {
	n := 0
	for _, a := range w.agents {
		if a.Status == AgentBankrupt {
			n++
		}
	}
	return n
}

func (w *World) TotalVolume() amount.Amount { return w.totalVolume }
func (w *World) TotalFees() amount.Amount   { return w.totalFees }

// OpenOrdersBySideLive returns live (mutable) pointers to every open order
// on one side of the book, ordered by price-time priority: bids by price
// descending then sequence ascending, asks by price ascending then
// sequence ascending. It is used only by the matching engine, which runs
// inside the same single-owner kernel that owns World — external callers
// never see these pointers.
func (w *World) OpenOrdersBySideLive(side Side) []*Order {
	var out []*Order
	for _, o := range w.orders {
		if o.Side == side && o.Status == OrderOpen {
			out = append(out, o)
		}
	}
	sortBookLive(out, side)
	return out
}

// BestBidAsk returns the best resting price on each side, if any.
func (w *World) BestBidAsk() (bid amount.Amount, hasBid bool, ask amount.Amount, hasAsk bool) {
	bids := w.OpenOrdersBySideLive(SideBid)
	asks := w.OpenOrdersBySideLive(SideAsk)
	if len(bids) > 0 {
		bid, hasBid = bids[0].Price, true
	}
	if len(asks) > 0 {
		ask, hasAsk = asks[0].Price, true
	}
	return
}

// DepthLevel is one aggregated price level.
type DepthLevel struct {
	Price    amount.Amount
	Quantity amount.Amount
}

// Depth aggregates remaining quantity per price, top n levels per side,
// computed live from open orders (never cached) so it can never diverge
// from the orders it summarizes.
func (w *World) Depth(side Side, n int) []DepthLevel {
	orders := w.OpenOrdersBySideLive(side)

	var levels []DepthLevel
	for _, o := range orders {
		rem := o.Remaining()
		if len(levels) > 0 && levels[len(levels)-1].Price.Cmp(o.Price) == 0 {
			levels[len(levels)-1].Quantity = levels[len(levels)-1].Quantity.Add(rem)
			continue
		}
		levels = append(levels, DepthLevel{Price: o.Price, Quantity: rem})
	}
	if len(levels) > n {
		levels = levels[:n]
	}
	return levels
}

// OpenQuantity sums remaining quantity across every open order on one side,
// for aggregate book-depth reporting (as opposed to Depth's top-n levels).
func (w *World) OpenQuantity(side Side) amount.Amount {
	total := amount.Zero()
	for _, o := range w.OpenOrdersBySideLive(side) {
		total = total.Add(o.Remaining())
	}
	return total
}

// AgentsInsertionOrder returns every agent in the order it was created,
// required by the decay and bankruptcy sweeps in advance_tick.
func (w *World) AgentsInsertionOrder() []Agent {
	out := make([]Agent, 0, len(w.agentOrder))
	for _, id := range w.agentOrder {
		if a, ok := w.agents[id]; ok {
			out = append(out, a.Clone())
		}
	}
	return out
}

// MutateAgent applies fn to the live agent record and returns false if the
// agent does not exist. This is the kernel's only path for in-place agent
// mutation, keeping World the sole owner of the pointer.
func (w *World) MutateAgent(id string, fn func(*Agent)) bool {
	a, ok := w.agents[id]
	if !ok {
		return false
	}
	fn(a)
	return true
}

// MutateOrder applies fn to the live order record and returns false if the
// order does not exist.
func (w *World) MutateOrder(id string, fn func(*Order)) bool {
	o, ok := w.orders[id]
	if !ok {
		return false
	}
	fn(o)
	return true
}

// Snapshot is a complete, serializable copy of World's state, used by
// internal/persistence to support warm restart without replaying the full
// event log.
type Snapshot struct {
	Config      Config
	IDGenSeed   uint32
	IDGenCount  uint64
	CurrentTick int64
	OrderSeq    int64
	Agents      []Agent
	AgentOrder  []string
	Orders      []Order
	Trades      []Trade
	TotalVolume amount.Amount
	TotalFees   amount.Amount
}

// TakeSnapshot captures the entire World as a value, safe to serialize.
func (w *World) TakeSnapshot() Snapshot {
	agents := make([]Agent, 0, len(w.agents))
	for _, id := range w.agentOrder {
		agents = append(agents, w.agents[id].Clone())
	}
	orders := make([]Order, 0, len(w.orders))
	for _, o := range w.orders {
		orders = append(orders, o.Clone())
	}
	trades := make([]Trade, 0, len(w.trades))
	for _, t := range w.trades {
		trades = append(trades, t.Clone())
	}
	agentOrder := make([]string, len(w.agentOrder))
	copy(agentOrder, w.agentOrder)

	return Snapshot{
		Config:      w.Config,
		IDGenSeed:   w.idGen.seed,
		IDGenCount:  w.idGen.Counter(),
		CurrentTick: w.currentTick,
		OrderSeq:    w.orderSeq,
		Agents:      agents,
		AgentOrder:  agentOrder,
		Orders:      orders,
		Trades:      trades,
		TotalVolume: w.totalVolume,
		TotalFees:   w.totalFees,
	}
}

// Restore reconstructs a World from a Snapshot, continuing the id generator
// and tick/sequence counters from exactly where the snapshot left off.
func Restore(snap Snapshot) *World {
	w := New(snap.IDGenSeed, snap.Config)
	w.idGen.SetCounter(snap.IDGenCount)
	w.currentTick = snap.CurrentTick
	w.orderSeq = snap.OrderSeq
	w.totalVolume = snap.TotalVolume
	w.totalFees = snap.TotalFees

	for _, a := range snap.Agents {
		a := a
		w.PutAgent(&a)
	}
	for _, o := range snap.Orders {
		o := o
		w.PutOrder(&o)
	}
	for _, t := range snap.Trades {
		t := t
		w.trades = append(w.trades, &t)
	}
	return w
}
