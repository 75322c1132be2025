package world_test

import (
	"testing"

	"marketsim/internal/amount"
	"marketsim/internal/world"
)

func testConfig() world.Config {
	cash, _ := amount.Parse("10000.00")
	asset, _ := amount.Parse("100.00")
	minP, _ := amount.Parse("0.01")
	maxP, _ := amount.Parse("1000000.00")
	minQ, _ := amount.Parse("0.00000001")
	return world.Config{
		InitialCash: cash, InitialAsset: asset,
		TradingFeeBps: 10, DecayRateBps: 0, DecayIntervalTicks: 0,
		MaxActionsPerTick: 100, MinPrice: minP, MaxPrice: maxP, MinQuantity: minQ,
	}
}

func TestNextID_DeterministicForSameSeed(t *testing.T) {
	w1 := world.New(42, testConfig())
	w2 := world.New(42, testConfig())

	for i := 0; i < 5; i++ {
		id1 := w1.NextID()
		id2 := w2.NextID()
		if id1 != id2 {
			t.Fatalf("iteration %d: ids diverged for identical seed: %s != %s", i, id1, id2)
		}
	}
}

func TestNextID_DiffersAcrossSeeds(t *testing.T) {
	w1 := world.New(1, testConfig())
	w2 := world.New(2, testConfig())
	if w1.NextID() == w2.NextID() {
		t.Fatalf("different seeds produced identical first id")
	}
}

func TestPutAgent_InsertionOrderPreserved(t *testing.T) {
	w := world.New(1, testConfig())
	ids := []string{"c", "a", "b"}
	for _, id := range ids {
		w.PutAgent(&world.Agent{ID: id, Status: world.AgentActive})
	}
	got := w.AgentsInsertionOrder()
	if len(got) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(got))
	}
	for i, a := range got {
		if a.ID != ids[i] {
			t.Fatalf("position %d: got %s want %s", i, a.ID, ids[i])
		}
	}
}

func mkOrder(id string, side world.Side, price, qty string, seq int64) *world.Order {
	p, _ := amount.Parse(price)
	q, _ := amount.Parse(qty)
	return &world.Order{
		ID: id, Side: side, Price: p, OriginalQty: q, FilledQty: amount.Zero(),
		Status: world.OrderOpen, Sequence: seq,
	}
}

func TestOpenOrdersBySideLive_PriceTimePriority(t *testing.T) {
	w := world.New(1, testConfig())
	w.PutOrder(mkOrder("ask-100-s1", world.SideAsk, "100.00", "5", 1))
	w.PutOrder(mkOrder("ask-99-s0", world.SideAsk, "99.00", "5", 0))
	w.PutOrder(mkOrder("ask-100-s2", world.SideAsk, "100.00", "5", 2))

	asks := w.OpenOrdersBySideLive(world.SideAsk)
	want := []string{"ask-99-s0", "ask-100-s1", "ask-100-s2"}
	for i, o := range asks {
		if o.ID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, o.ID, want[i])
		}
	}
}

func TestOpenOrdersBySideLive_BidDescending(t *testing.T) {
	w := world.New(1, testConfig())
	w.PutOrder(mkOrder("bid-100", world.SideBid, "100.00", "5", 0))
	w.PutOrder(mkOrder("bid-101", world.SideBid, "101.00", "5", 1))

	bids := w.OpenOrdersBySideLive(world.SideBid)
	if bids[0].ID != "bid-101" {
		t.Fatalf("expected best bid first, got %s", bids[0].ID)
	}
}

func TestDepth_AggregatesByPrice(t *testing.T) {
	w := world.New(1, testConfig())
	w.PutOrder(mkOrder("a1", world.SideAsk, "100.00", "5", 0))
	w.PutOrder(mkOrder("a2", world.SideAsk, "100.00", "3", 1))
	w.PutOrder(mkOrder("a3", world.SideAsk, "101.00", "2", 2))

	depth := w.Depth(world.SideAsk, 10)
	if len(depth) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(depth))
	}
	want, _ := amount.Parse("8")
	if depth[0].Quantity.Cmp(want) != 0 {
		t.Fatalf("expected aggregated qty 8 at best price, got %s", depth[0].Quantity)
	}
}
