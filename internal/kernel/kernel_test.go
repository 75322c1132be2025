package kernel_test

import (
	"testing"

	"github.com/rs/zerolog"

	"marketsim/internal/amount"
	"marketsim/internal/event"
	"marketsim/internal/kernel"
	"marketsim/internal/world"
)

func amt(s string) amount.Amount {
	a, err := amount.Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func baseConfig() world.Config {
	return world.Config{
		InitialCash:        amt("10000.00"),
		InitialAsset:       amt("100.00"),
		TradingFeeBps:      10,
		DecayRateBps:       0,
		DecayIntervalTicks: 0,
		MaxActionsPerTick:  1000,
		MinPrice:           amt("0.00000001"),
		MaxPrice:           amt("1000000.00"),
		MinQuantity:        amt("0.00000001"),
	}
}

func fixedClock() func() int64 {
	var n int64
	return func() int64 { n++; return n }
}

func newKernel(cfg world.Config) *kernel.Kernel {
	k := kernel.New(1, cfg, zerolog.Nop(), nil, fixedClock())
	if err := k.Start(); err != nil {
		panic(err)
	}
	return k
}

func mustCreateAgent(t *testing.T, k *kernel.Kernel, name string) string {
	t.Helper()
	id, _, err := k.CreateAgent(name)
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return id
}

func place(side, price, qty string) kernel.PlaceLimitOrderAction {
	return kernel.PlaceLimitOrderAction{Side: side, Price: price, Quantity: qty}
}

// 1. Simple cross: ask 100.00x10.0 then bid 100.00x10.0, fee_bps=10.
func TestSimpleCross(t *testing.T) {
	k := newKernel(baseConfig())
	a := mustCreateAgent(t, k, "A")
	b := mustCreateAgent(t, k, "B")

	k.SubmitActions(a, []kernel.Action{place("ask", "100.00", "10.0")}, "a-1")
	k.SubmitActions(b, []kernel.Action{place("bid", "100.00", "10.0")}, "b-1")
	k.AdvanceTick()

	agentA, _ := k.World().GetAgent(a)
	agentB, _ := k.World().GetAgent(b)

	if agentA.Cash.String() != "10999.50000000" {
		t.Fatalf("agent A cash = %s, want 10999.50000000", agentA.Cash.String())
	}
	if agentA.Asset.String() != "90.00000000" {
		t.Fatalf("agent A asset = %s, want 90.00000000", agentA.Asset.String())
	}
	if agentB.Cash.String() != "8999.50000000" {
		t.Fatalf("agent B cash = %s, want 8999.50000000", agentB.Cash.String())
	}
	if agentB.Asset.String() != "110.00000000" {
		t.Fatalf("agent B asset = %s, want 110.00000000", agentB.Asset.String())
	}

	trades := k.Store().ByType(event.TypeTradeExecuted)
	if len(trades) != 1 {
		t.Fatalf("expected 1 TRADE_EXECUTED, got %d", len(trades))
	}
}

// Price improvement: resting order's price wins regardless of aggressor's limit.
func TestPriceImprovementFavorsRestingOrder(t *testing.T) {
	k := newKernel(baseConfig())
	a := mustCreateAgent(t, k, "A")
	b := mustCreateAgent(t, k, "B")

	// A rests an ask at 99.00; B aggressively bids at 100.00 — fill price must be 99.00.
	k.SubmitActions(a, []kernel.Action{place("ask", "99.00", "5.0")}, "a-1")
	k.AdvanceTick()
	k.SubmitActions(b, []kernel.Action{place("bid", "100.00", "5.0")}, "b-1")
	k.AdvanceTick()

	trades := k.Store().ByType(event.TypeTradeExecuted)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	payload := trades[0].Payload.(event.TradeExecutedPayload)
	if payload.Price.String() != "99.00000000" {
		t.Fatalf("trade price = %s, want 99.00000000 (resting price)", payload.Price.String())
	}
}

// Time priority: two equal-priced asks, earlier one fills first.
func TestTimePriorityFillsEarlierRestingOrderFirst(t *testing.T) {
	k := newKernel(baseConfig())
	a := mustCreateAgent(t, k, "A")
	b := mustCreateAgent(t, k, "B")
	c := mustCreateAgent(t, k, "C")

	k.SubmitActions(a, []kernel.Action{place("ask", "100.00", "5.0")}, "a-1")
	k.SubmitActions(b, []kernel.Action{place("ask", "100.00", "5.0")}, "b-1")
	k.AdvanceTick()

	k.SubmitActions(c, []kernel.Action{place("bid", "100.00", "5.0")}, "c-1")
	k.AdvanceTick()

	trades := k.Store().ByType(event.TypeTradeExecuted)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	payload := trades[0].Payload.(event.TradeExecutedPayload)
	if payload.SellerAgentID != a {
		t.Fatalf("expected earlier resting order (agent A) to fill first, got seller %s", payload.SellerAgentID)
	}
}

// Partial ladder: one large bid sweeps two asks at different prices.
func TestPartialLadderSweepsMultipleLevels(t *testing.T) {
	k := newKernel(baseConfig())
	a := mustCreateAgent(t, k, "A")
	b := mustCreateAgent(t, k, "B")
	c := mustCreateAgent(t, k, "C")

	k.SubmitActions(a, []kernel.Action{place("ask", "100.00", "5.0")}, "a-1")
	k.SubmitActions(b, []kernel.Action{place("ask", "101.00", "5.0")}, "b-1")
	k.AdvanceTick()

	k.SubmitActions(c, []kernel.Action{place("bid", "101.00", "10.0")}, "c-1")
	k.AdvanceTick()

	trades := k.Store().ByType(event.TypeTradeExecuted)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades sweeping the ladder, got %d", len(trades))
	}
	first := trades[0].Payload.(event.TradeExecutedPayload)
	second := trades[1].Payload.(event.TradeExecutedPayload)
	if first.Price.String() != "100.00000000" || second.Price.String() != "101.00000000" {
		t.Fatalf("expected fills at 100 then 101, got %s then %s", first.Price.String(), second.Price.String())
	}
}

// Rate limit: max_actions_per_tick=2, submit 3 placements in one call.
func TestRateLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxActionsPerTick = 2
	k := newKernel(cfg)
	a := mustCreateAgent(t, k, "A")

	res := k.SubmitActions(a, []kernel.Action{
		place("ask", "100.00", "1.0"),
		place("ask", "101.00", "1.0"),
		place("ask", "102.00", "1.0"),
	}, "a-1")

	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
	if res.Results[0].Status != "accepted" || res.Results[1].Status != "accepted" {
		t.Fatalf("expected first two actions accepted, got %+v", res.Results[:2])
	}
	if res.Results[2].Status != "rejected" || res.Results[2].ReasonCode != "RATE_LIMITED" {
		t.Fatalf("expected third action RATE_LIMITED, got %+v", res.Results[2])
	}

	hits := k.Store().ByType(event.TypeRateLimitHit)
	if len(hits) != 1 {
		t.Fatalf("expected 1 RATE_LIMIT_HIT event, got %d", len(hits))
	}
}

// Bankruptcy sweep: an agent whose cash is already negative (decay does not
// run at tick 0) is marked bankrupt by the sweep in the first tick, and
// AGENT_BANKRUPT is the last agent-scoped event before TICK_END.
func TestBankruptcyCascade(t *testing.T) {
	cfg := baseConfig()
	cfg.TradingFeeBps = 0
	cfg.InitialCash = amt("-1.00")
	cfg.DecayRateBps = 10000 // 100% of positive cash, irrelevant here; cash starts negative
	cfg.DecayIntervalTicks = 1
	k := newKernel(cfg)
	a := mustCreateAgent(t, k, "A")

	k.AdvanceTick()

	agent, _ := k.World().GetAgent(a)
	if agent.Status != world.AgentBankrupt {
		t.Fatalf("expected agent bankrupt, got status %s", agent.Status)
	}
	if agent.BankruptAtTick == nil || *agent.BankruptAtTick != 0 {
		t.Fatalf("expected bankrupt_at_tick=0, got %v", agent.BankruptAtTick)
	}

	tickEvents := k.Store().ByTick(0)
	lastAgentScoped := -1
	tickEndIdx := -1
	for i, e := range tickEvents {
		if e.EventType == event.TypeTickEnd {
			tickEndIdx = i
		}
		if e.AgentID != "" {
			lastAgentScoped = i
		}
	}
	if tickEndIdx == -1 || lastAgentScoped == -1 || lastAgentScoped >= tickEndIdx {
		t.Fatalf("expected AGENT_BANKRUPT to be the last agent-scoped event before TICK_END")
	}
	if tickEvents[lastAgentScoped].EventType != event.TypeAgentBankrupt {
		t.Fatalf("expected last agent-scoped event to be AGENT_BANKRUPT, got %s", tickEvents[lastAgentScoped].EventType)
	}
}

// Determinism: two kernels built from identical (seed, config, action log)
// must produce identical final chain hashes.
func TestDeterminismAcrossIdenticalRuns(t *testing.T) {
	run := func() string {
		k := newKernel(baseConfig())
		a := mustCreateAgent(t, k, "A")
		b := mustCreateAgent(t, k, "B")
		k.SubmitActions(a, []kernel.Action{place("ask", "100.00", "10.0")}, "a-1")
		k.SubmitActions(b, []kernel.Action{place("bid", "100.00", "10.0")}, "b-1")
		k.AdvanceTick()
		return k.Store().LastHash()
	}

	h1 := run()
	h2 := run()
	if h1 != h2 {
		t.Fatalf("expected identical last hash across identical runs, got %s vs %s", h1, h2)
	}
}

func TestVerifyChainValidAfterActivity(t *testing.T) {
	k := newKernel(baseConfig())
	a := mustCreateAgent(t, k, "A")
	b := mustCreateAgent(t, k, "B")
	k.SubmitActions(a, []kernel.Action{place("ask", "100.00", "10.0")}, "a-1")
	k.SubmitActions(b, []kernel.Action{place("bid", "100.00", "10.0")}, "b-1")
	k.AdvanceTick()

	res := k.Store().VerifyChain()
	if !res.Valid {
		t.Fatalf("expected valid chain, mismatch at %d", res.MismatchIdx)
	}
}

func TestIdempotentResubmissionReplaysCachedResultWithNoNewActions(t *testing.T) {
	k := newKernel(baseConfig())
	a := mustCreateAgent(t, k, "A")

	first := k.SubmitActions(a, []kernel.Action{place("ask", "100.00", "1.0")}, "dup-key")
	countBefore := k.Store().Count()

	second := k.SubmitActions(a, []kernel.Action{place("ask", "100.00", "1.0")}, "dup-key")
	countAfter := k.Store().Count()

	if countBefore != countAfter {
		t.Fatalf("expected no new events on idempotent replay, before=%d after=%d", countBefore, countAfter)
	}
	if first.Results[0].OrderID != second.Results[0].OrderID {
		t.Fatalf("expected replayed result to match original, got %s vs %s", first.Results[0].OrderID, second.Results[0].OrderID)
	}
}
