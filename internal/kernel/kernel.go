// Package kernel implements the tick controller: the single-threaded
// cooperative actor that owns world.World and the event chain. It is the
// only component permitted to mutate world state; every external
// collaborator interacts with it through submit_actions, advance_tick,
// create_agent, start, and stop.
//
// The kernel never calls time.Now() directly — a clock function is
// threaded through instead, so a test (or a replay) can hold it fixed.
package kernel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketsim/internal/amount"
	"marketsim/internal/event"
	"marketsim/internal/eventstore"
	"marketsim/internal/idempotency"
	"marketsim/internal/matching"
	"marketsim/internal/world"
)

// RunStatus is the kernel's lifecycle state.
type RunStatus string

const (
	StatusCreated RunStatus = "created"
	StatusRunning RunStatus = "running"
	StatusStopped RunStatus = "stopped"
)

// LifecycleError is returned by start/stop when the current status forbids
// the requested transition.
type LifecycleError struct {
	Op      string
	Current RunStatus
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: invalid while run is %s", e.Op, e.Current)
}

const idempotencyFlushTicks = 100

// pendingAction is one queued (agent, action, receive_seq) triple awaiting
// the next advance_tick.
type pendingAction struct {
	agentID     string
	action      Action
	receiveSeq  int64
	actionIndex int
	orderID     string // pre-assigned for place_limit_order, empty otherwise
}

// ActionOutcome is one action's result within a submit_actions call.
type ActionOutcome struct {
	ActionIndex int
	Status      string // "accepted" or "rejected"
	OrderID     string
	ReasonCode  string
	Message     string
}

// SubmitResult is the full response to one submit_actions call.
type SubmitResult struct {
	TickID  int64
	Results []ActionOutcome
}

// Kernel is the tick controller. It is not safe for concurrent use; callers
// must serialize submit_actions/advance_tick/create_agent calls themselves
// (a single-owner lock or message queue).
type Kernel struct {
	world   *world.World
	store   *eventstore.Store
	idemp   *idempotency.Cache
	status  RunStatus
	runID   string
	now     func() int64
	log     zerolog.Logger
	metrics Metrics

	queue      []pendingAction
	receiveSeq int64
}

// Metrics is the narrow set of counters the kernel reports, satisfied by
// internal/observability.Metrics. A nil Metrics disables reporting.
type Metrics interface {
	ObserveTickAdvanced()
	ObserveActionAccepted()
	ObserveActionRejected(reasonCode string)
	ObserveTradeExecuted()
	ObserveEventAppended()
	ObserveChainVerification(valid bool)
	ObserveIdempotencyHit()
	ObserveDecaySweep()
	ObserveBankruptcySweep()
	ObserveIdempotencySize(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTickAdvanced()          {}
func (noopMetrics) ObserveActionAccepted()        {}
func (noopMetrics) ObserveActionRejected(string)  {}
func (noopMetrics) ObserveTradeExecuted()         {}
func (noopMetrics) ObserveEventAppended()         {}
func (noopMetrics) ObserveChainVerification(bool) {}
func (noopMetrics) ObserveIdempotencyHit()        {}
func (noopMetrics) ObserveDecaySweep()            {}
func (noopMetrics) ObserveBankruptcySweep()        {}
func (noopMetrics) ObserveIdempotencySize(int)     {}

// New constructs a Kernel in status=created, deriving a deterministic run id
// from seed and emitting RUN_CREATED. now supplies the informational,
// hash-excluded created_at timestamp on every event; pass nil to leave
// created_at at zero.
func New(seed uint32, cfg world.Config, log zerolog.Logger, metrics Metrics, now func() int64) *Kernel {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	runID := deterministicRunID(seed)
	k := &Kernel{
		world:   world.New(seed, cfg),
		store:   eventstore.New(runID),
		idemp:   idempotency.New(idempotencyFlushTicks),
		status:  StatusCreated,
		runID:   runID,
		now:     now,
		log:     log.With().Str("run_id", runID).Logger(),
		metrics: metrics,
	}
	k.emit(0, event.TypeRunCreated, "", event.RunCreatedPayload{
		Seed:           seed,
		InitialCash:    cfg.InitialCash,
		InitialAsset:   cfg.InitialAsset,
		TradingFeeBps:  cfg.TradingFeeBps,
		DecayRateBps:   cfg.DecayRateBps,
		DecayInterval:  cfg.DecayIntervalTicks,
		MaxActionsTick: cfg.MaxActionsPerTick,
		MinPrice:       cfg.MinPrice,
		MaxPrice:       cfg.MaxPrice,
		MinQuantity:    cfg.MinQuantity,
	})
	return k
}

// deterministicRunID hashes "run-{seed}" (no counter) into the same v4-UUID
// shape world's id generator uses, so two kernels constructed
// with the same seed share a run id and therefore an identical hash chain.
func deterministicRunID(seed uint32) string {
	digest := sha256.Sum256([]byte(fmt.Sprintf("run-%d", seed)))
	var u uuid.UUID
	copy(u[:], digest[:16])
	u[6] = (u[6] & 0x0f) | 0x40
	u[8] = (u[8] & 0x3f) | 0x80
	return u.String()
}

func (k *Kernel) emit(tick int64, typ event.Type, agentID string, payload event.Payload) event.Event {
	var createdAt int64
	if k.now != nil {
		createdAt = k.now()
	}
	e := k.store.Append(event.Event{
		TickID:    tick,
		EventType: typ,
		AgentID:   agentID,
		Payload:   payload,
		CreatedAt: createdAt,
	})
	k.metrics.ObserveEventAppended()
	return e
}

// RunID returns the run's deterministic identifier.
func (k *Kernel) RunID() string { return k.runID }

// Status returns the current lifecycle state.
func (k *Kernel) Status() RunStatus { return k.status }

// World exposes the read-only query surface; the kernel is still the only
// mutator.
func (k *Kernel) World() *world.World { return k.world }

// Store exposes the event log's query/export/verify surface.
func (k *Kernel) Store() *eventstore.Store { return k.store }

// Start transitions created -> running, emitting RUN_STARTED.
func (k *Kernel) Start() error {
	if k.status != StatusCreated {
		return &LifecycleError{Op: "start", Current: k.status}
	}
	k.status = StatusRunning
	k.emit(k.world.CurrentTick(), event.TypeRunStarted, "", event.RunStartedPayload{})
	return nil
}

// Stop transitions running -> stopped, emitting RUN_STOPPED.
func (k *Kernel) Stop(reason string) error {
	if k.status != StatusRunning {
		return &LifecycleError{Op: "stop", Current: k.status}
	}
	k.status = StatusStopped
	k.emit(k.world.CurrentTick(), event.TypeRunStopped, "", event.RunStoppedPayload{Reason: reason})
	return nil
}

// CreateAgent generates a fixed-prefix opaque API key, stores only its
// SHA-256 fingerprint, creates the agent at the run's configured opening
// balances, and emits AGENT_CREATED. The plaintext key is returned exactly
// once; the kernel never stores it. Key material is drawn from the world's
// deterministic id generator, not crypto/rand, so that replaying the same
// (seed, action log) reproduces the same fingerprint and therefore the same
// event hash chain.
func (k *Kernel) CreateAgent(displayName string) (agentID, apiKey string, err error) {
	agentID = k.world.NextID()
	keyMaterial := strings.ReplaceAll(k.world.NextID(), "-", "")
	apiKey = "msk_" + keyMaterial
	fingerprint := fingerprintKey(apiKey)

	k.world.PutAgent(&world.Agent{
		ID:                agentID,
		DisplayName:       displayName,
		APIKeyFingerprint: fingerprint,
		Cash:              k.world.Config.InitialCash,
		Asset:             k.world.Config.InitialAsset,
		Status:            world.AgentActive,
	})

	k.emit(k.world.CurrentTick(), event.TypeAgentCreated, agentID, event.AgentCreatedPayload{
		AgentID:      agentID,
		DisplayName:  displayName,
		APIKeyFinger: fingerprint,
		InitialCash:  k.world.Config.InitialCash,
		InitialAsset: k.world.Config.InitialAsset,
	})
	return agentID, apiKey, nil
}

func fingerprintKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// SubmitActions validates and queues a batch of actions for the next tick,
// deduping by idempotencyKey and returning the outcome of each action.
func (k *Kernel) SubmitActions(agentID string, actions []Action, idempotencyKey string) SubmitResult {
	if cached, ok := k.idemp.Get(idempotencyKey); ok {
		k.metrics.ObserveIdempotencyHit()
		return fromCached(cached)
	}

	tickID := k.world.CurrentTick()

	if k.status != StatusRunning {
		r := SubmitResult{TickID: tickID, Results: []ActionOutcome{{
			ActionIndex: 0, Status: "rejected",
			ReasonCode: string(matching.ReasonRunNotActive), Message: "run is not running",
		}}}
		k.metrics.ObserveActionRejected(string(matching.ReasonRunNotActive))
		k.putIdempotent(idempotencyKey, r)
		return r
	}

	agent, ok := k.world.GetAgent(agentID)
	if !ok {
		r := SubmitResult{TickID: tickID, Results: []ActionOutcome{{
			ActionIndex: 0, Status: "rejected",
			ReasonCode: string(matching.ReasonInvalidAction), Message: "unknown agent",
		}}}
		k.metrics.ObserveActionRejected(string(matching.ReasonInvalidAction))
		k.putIdempotent(idempotencyKey, r)
		return r
	}
	if agent.Status == world.AgentBankrupt {
		r := SubmitResult{TickID: tickID, Results: []ActionOutcome{{
			ActionIndex: 0, Status: "rejected",
			ReasonCode: string(matching.ReasonAgentBankrupt), Message: "agent is bankrupt",
		}}}
		k.metrics.ObserveActionRejected(string(matching.ReasonAgentBankrupt))
		k.putIdempotent(idempotencyKey, r)
		return r
	}

	results := make([]ActionOutcome, 0, len(actions))
	for i, a := range actions {
		if agent.ActionsThisTick >= k.world.Config.MaxActionsPerTick {
			k.emit(tickID, event.TypeRateLimitHit, agentID, event.RateLimitHitPayload{
				AgentID: agentID, ActionIndex: i,
			})
			k.metrics.ObserveActionRejected(string(matching.ReasonRateLimited))
			results = append(results, ActionOutcome{
				ActionIndex: i, Status: "rejected",
				ReasonCode: string(matching.ReasonRateLimited), Message: "max actions per tick exceeded",
			})
			continue
		}

		k.receiveSeq++
		pa := pendingAction{agentID: agentID, action: a, receiveSeq: k.receiveSeq, actionIndex: i}
		if _, isPlace := a.(PlaceLimitOrderAction); isPlace {
			pa.orderID = k.world.NextID()
		}
		k.queue = append(k.queue, pa)

		k.world.MutateAgent(agentID, func(ag *world.Agent) { ag.ActionsThisTick++ })
		agent.ActionsThisTick++

		k.metrics.ObserveActionAccepted()
		results = append(results, ActionOutcome{ActionIndex: i, Status: "accepted", OrderID: pa.orderID})
	}

	r := SubmitResult{TickID: tickID, Results: results}
	k.putIdempotent(idempotencyKey, r)
	return r
}

// putIdempotent records r under key and reports the cache's new size.
func (k *Kernel) putIdempotent(key string, r SubmitResult) {
	k.idemp.Put(key, toCached(r))
	k.metrics.ObserveIdempotencySize(k.idemp.Size())
}

func toCached(r SubmitResult) idempotency.Result {
	out := idempotency.Result{TickID: r.TickID, Results: make([]idempotency.ActionResult, len(r.Results))}
	for i, o := range r.Results {
		out.Results[i] = idempotency.ActionResult{
			ActionIndex: o.ActionIndex, Status: o.Status, OrderID: o.OrderID,
			ReasonCode: o.ReasonCode, Message: o.Message,
		}
	}
	return out
}

func fromCached(r idempotency.Result) SubmitResult {
	out := SubmitResult{TickID: r.TickID, Results: make([]ActionOutcome, len(r.Results))}
	for i, o := range r.Results {
		out.Results[i] = ActionOutcome{
			ActionIndex: o.ActionIndex, Status: o.Status, OrderID: o.OrderID,
			ReasonCode: o.ReasonCode, Message: o.Message,
		}
	}
	return out
}

// AdvanceTick runs the full tick sequence: emit TICK_START, reset per-agent
// action counters, process queued actions in receive order, run decay and
// bankruptcy sweeps, then emit TICK_END.
func (k *Kernel) AdvanceTick() {
	tickID := k.world.CurrentTick()

	// 1. TICK_START
	k.emit(tickID, event.TypeTickStart, "", event.TickStartPayload{TickID: tickID})

	// 2. reset per-agent action counters
	for _, a := range k.world.AgentsInsertionOrder() {
		id := a.ID
		k.world.MutateAgent(id, func(ag *world.Agent) { ag.ActionsThisTick = 0 })
	}

	// 3. stable sort by receive sequence (already append order, but
	// kept explicit since it's load-bearing for determinism)
	sort.SliceStable(k.queue, func(i, j int) bool {
		return k.queue[i].receiveSeq < k.queue[j].receiveSeq
	})

	var ordersProcessed, tradesExecuted int64

	// 4. process each queued action
	for _, pa := range k.queue {
		switch act := pa.action.(type) {
		case PlaceLimitOrderAction:
			ordersProcessed++
			tradesExecuted += k.processPlace(tickID, pa, act)
		case CancelOrderAction:
			k.processCancel(tickID, pa, act)
		}
	}

	// 5. clear the queue
	k.queue = k.queue[:0]

	// 6. decay sweep
	cfg := k.world.Config
	if cfg.DecayIntervalTicks > 0 && tickID > 0 && tickID%cfg.DecayIntervalTicks == 0 {
		k.metrics.ObserveDecaySweep()
		for _, a := range k.world.AgentsInsertionOrder() {
			if a.Status != world.AgentActive || !a.Cash.IsPositive() {
				continue
			}
			deduction := a.Cash.MulBps(cfg.DecayRateBps)
			var after amount.Amount
			id := a.ID
			k.world.MutateAgent(id, func(ag *world.Agent) {
				ag.Cash = ag.Cash.Sub(deduction)
				after = ag.Cash
			})
			k.emit(tickID, event.TypeDecayApplied, id, event.DecayAppliedPayload{
				AgentID: id, Amount: deduction, CashBefore: a.Cash, CashAfter: after,
			})
		}
	}

	// 7. bankruptcy sweep
	var bankrupted int
	for _, a := range k.world.AgentsInsertionOrder() {
		if a.Status != world.AgentActive || !a.Cash.IsNegative() {
			continue
		}
		id := a.ID
		bankruptTick := tickID
		k.world.MutateAgent(id, func(ag *world.Agent) {
			ag.Status = world.AgentBankrupt
			ag.BankruptAtTick = &bankruptTick
		})
		for _, o := range k.world.OpenOrdersOf(id) {
			oid := o.ID
			k.world.MutateOrder(oid, func(ord *world.Order) { ord.Status = world.OrderCancelled })
		}
		k.emit(tickID, event.TypeAgentBankrupt, id, event.AgentBankruptPayload{AgentID: id, Tick: tickID})
		bankrupted++
	}
	if bankrupted > 0 {
		k.metrics.ObserveBankruptcySweep()
	}

	// 8. TICK_END
	k.emit(tickID, event.TypeTickEnd, "", event.TickEndPayload{
		TickID: tickID, OrdersProcessed: ordersProcessed, TradesExecuted: tradesExecuted,
	})
	k.metrics.ObserveTickAdvanced()

	// 9. increment current_tick
	k.world.AdvanceTickCounter()
	k.idemp.OnTickAdvance(k.world.CurrentTick())
}

func (k *Kernel) processPlace(tickID int64, pa pendingAction, act PlaceLimitOrderAction) int64 {
	side := world.Side(act.Side)
	result, err := matching.PlaceLimitOrder(k.world, tickID, pa.orderID, pa.agentID, side, act.Price, act.Quantity, k.world.Config.TradingFeeBps)
	if err != nil {
		k.rejectQueued(tickID, pa, err)
		return 0
	}

	k.emit(tickID, event.TypeOrderPlaced, pa.agentID, event.OrderPlacedPayload{
		OrderID:  result.Order.ID,
		AgentID:  result.Order.AgentID,
		Side:     string(result.Order.Side),
		Price:    result.Order.Price,
		Quantity: result.Order.OriginalQty,
		Sequence: result.Order.Sequence,
		Tick:     tickID,
	})

	for i, trade := range result.Trades {
		k.emit(tickID, event.TypeTradeExecuted, "", event.TradeExecutedPayload{
			TradeID:       trade.ID,
			Tick:          trade.Tick,
			Price:         trade.Price,
			Quantity:      trade.Quantity,
			BuyOrderID:    trade.BuyOrderID,
			SellOrderID:   trade.SellOrderID,
			BuyerAgentID:  trade.BuyerAgentID,
			SellerAgentID: trade.SellerAgentID,
			TotalFee:      trade.TotalFee,
			AggressorSide: string(trade.AggressorSide),
		})
		k.metrics.ObserveTradeExecuted()

		// BALANCE_UPDATED, buyer before seller, for this trade's pair.
		base := i * 2
		for _, bc := range result.BalanceChanges[base : base+2] {
			k.emit(tickID, event.TypeBalanceUpdated, bc.AgentID, event.BalanceUpdatedPayload{
				AgentID:      bc.AgentID,
				CashDelta:    bc.CashDelta,
				AssetDelta:   bc.AssetDelta,
				CashBalance:  bc.CashBalance,
				AssetBalance: bc.AssetBalance,
				Reason:       "trade",
			})
		}
	}
	return int64(len(result.Trades))
}

func (k *Kernel) processCancel(tickID int64, pa pendingAction, act CancelOrderAction) {
	order, err := matching.CancelOrder(k.world, pa.agentID, act.OrderID)
	if err != nil {
		k.rejectQueued(tickID, pa, err)
		return
	}
	k.emit(tickID, event.TypeOrderCancelled, pa.agentID, event.OrderCancelledPayload{
		OrderID: order.ID, AgentID: order.AgentID,
	})
}

func (k *Kernel) rejectQueued(tickID int64, pa pendingAction, err error) {
	reason, message := matching.ReasonInvalidAction, err.Error()
	if re, ok := err.(*matching.RejectError); ok {
		reason, message = re.Reason, re.Message
	}
	k.emit(tickID, event.TypeOrderRejected, pa.agentID, event.OrderRejectedPayload{
		AgentID:     pa.agentID,
		ActionIndex: pa.actionIndex,
		ReasonCode:  string(reason),
		Message:     message,
	})
	k.metrics.ObserveActionRejected(string(reason))
}
