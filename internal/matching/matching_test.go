package matching_test

import (
	"testing"

	"marketsim/internal/amount"
	"marketsim/internal/matching"
	"marketsim/internal/world"
)

func amt(t *testing.T, s string) amount.Amount {
	t.Helper()
	a, err := amount.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func cfg() world.Config {
	return world.Config{
		InitialCash:   amount.Zero(),
		InitialAsset:  amount.Zero(),
		TradingFeeBps: 10,
		MinPrice:      amount.FromRaw(1),
		MaxPrice:      amount.FromRaw(100_000 * 100_000_000),
		MinQuantity:   amount.FromRaw(1),
	}
}

func newAgent(t *testing.T, w *world.World, cash, asset string) string {
	t.Helper()
	id := w.NextID()
	w.PutAgent(&world.Agent{
		ID: id, Cash: amt(t, cash), Asset: amt(t, asset), Status: world.AgentActive,
	})
	return id
}

func TestPlaceLimitOrderRejectsPriceOutsideBounds(t *testing.T) {
	w := world.New(1, cfg())
	buyer := newAgent(t, w, "1000", "0")

	_, err := matching.PlaceLimitOrder(w, 0, w.NextID(), buyer, world.SideBid, "0", "1", 10)
	if err == nil {
		t.Fatal("expected rejection for zero price")
	}
	re, ok := err.(*matching.RejectError)
	if !ok || re.Reason != matching.ReasonInvalidPrice {
		t.Fatalf("got %v, want ReasonInvalidPrice", err)
	}
}

func TestPlaceLimitOrderRejectsInsufficientCashOnBid(t *testing.T) {
	w := world.New(1, cfg())
	buyer := newAgent(t, w, "10", "0")

	_, err := matching.PlaceLimitOrder(w, 0, w.NextID(), buyer, world.SideBid, "5", "10", 10)
	re, ok := err.(*matching.RejectError)
	if !ok || re.Reason != matching.ReasonInsufficientFunds {
		t.Fatalf("got %v, want ReasonInsufficientFunds", err)
	}
}

func TestPlaceLimitOrderRejectsInsufficientAssetOnAsk(t *testing.T) {
	w := world.New(1, cfg())
	seller := newAgent(t, w, "0", "1")

	_, err := matching.PlaceLimitOrder(w, 0, w.NextID(), seller, world.SideAsk, "5", "10", 10)
	re, ok := err.(*matching.RejectError)
	if !ok || re.Reason != matching.ReasonInsufficientFunds {
		t.Fatalf("got %v, want ReasonInsufficientFunds", err)
	}
}

func TestPlaceLimitOrderRestsWhenBookDoesNotCross(t *testing.T) {
	w := world.New(1, cfg())
	buyer := newAgent(t, w, "1000", "0")

	result, err := matching.PlaceLimitOrder(w, 0, w.NextID(), buyer, world.SideBid, "10", "5", 10)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if len(result.Trades) != 0 {
		t.Fatalf("expected no trades on empty book, got %d", len(result.Trades))
	}
	if result.Order.Status != world.OrderOpen {
		t.Fatalf("expected order to rest open, got %s", result.Order.Status)
	}
}

func TestCrossingOrderFillsAtRestingPrice(t *testing.T) {
	w := world.New(1, cfg())
	seller := newAgent(t, w, "0", "100")
	buyer := newAgent(t, w, "10000", "0")

	askResult, err := matching.PlaceLimitOrder(w, 0, w.NextID(), seller, world.SideAsk, "100", "10", 10)
	if err != nil {
		t.Fatalf("unexpected rejection placing ask: %v", err)
	}
	if len(askResult.Trades) != 0 {
		t.Fatalf("ask should rest on empty book, got %d trades", len(askResult.Trades))
	}

	bidResult, err := matching.PlaceLimitOrder(w, 1, w.NextID(), buyer, world.SideBid, "110", "10", 10)
	if err != nil {
		t.Fatalf("unexpected rejection placing crossing bid: %v", err)
	}
	if len(bidResult.Trades) != 1 {
		t.Fatalf("expected exactly one trade, got %d", len(bidResult.Trades))
	}
	trade := bidResult.Trades[0]
	if trade.Price.Cmp(amt(t, "100")) != 0 {
		t.Fatalf("expected fill at resting ask price 100, got %s", trade.Price)
	}
	if trade.AggressorSide != world.SideBid {
		t.Fatalf("expected bid to be recorded as aggressor, got %s", trade.AggressorSide)
	}
}

func TestCancelOrderRejectsWrongOwner(t *testing.T) {
	w := world.New(1, cfg())
	owner := newAgent(t, w, "1000", "0")
	other := newAgent(t, w, "1000", "0")

	result, err := matching.PlaceLimitOrder(w, 0, w.NextID(), owner, world.SideBid, "10", "5", 10)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}

	_, err = matching.CancelOrder(w, other, result.Order.ID)
	re, ok := err.(*matching.RejectError)
	if !ok || re.Reason != matching.ReasonOrderNotOwned {
		t.Fatalf("got %v, want ReasonOrderNotOwned", err)
	}
}

func TestCancelOrderRejectsAlreadyCancelled(t *testing.T) {
	w := world.New(1, cfg())
	owner := newAgent(t, w, "1000", "0")

	result, err := matching.PlaceLimitOrder(w, 0, w.NextID(), owner, world.SideBid, "10", "5", 10)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if _, err := matching.CancelOrder(w, owner, result.Order.ID); err != nil {
		t.Fatalf("first cancel should succeed: %v", err)
	}

	_, err = matching.CancelOrder(w, owner, result.Order.ID)
	re, ok := err.(*matching.RejectError)
	if !ok || re.Reason != matching.ReasonOrderNotFound {
		t.Fatalf("got %v, want ReasonOrderNotFound for a re-cancel", err)
	}
}

func TestFeeSplitTruncatesRemainderToBuyer(t *testing.T) {
	w := world.New(1, cfg())
	seller := newAgent(t, w, "0", "100")
	buyer := newAgent(t, w, "10000", "0")

	if _, err := matching.PlaceLimitOrder(w, 0, w.NextID(), seller, world.SideAsk, "1", "0.00000333", 333); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	result, err := matching.PlaceLimitOrder(w, 1, w.NextID(), buyer, world.SideBid, "1", "0.00000333", 333)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}

	trade := result.Trades[0]
	buyerChange, sellerChange := result.BalanceChanges[0], result.BalanceChanges[1]

	sum := buyerChange.CashDelta.Abs().Sub(sellerChange.CashDelta).Sub(trade.TotalFee)
	if !sum.IsZero() {
		// buyerDebit - sellerCredit == totalFee, since the remainder stays
		// with the buyer and the two legs must reconcile to the full fee.
		t.Fatalf("fee split does not reconcile: buyerDelta=%s sellerDelta=%s totalFee=%s",
			buyerChange.CashDelta, sellerChange.CashDelta, trade.TotalFee)
	}

	// 333 units at price 1 and 333 bps give an odd total fee of 11 units:
	// the seller's half truncates to 5, the buyer pays the remaining 6.
	tradeValue := trade.Price.Mul(trade.Quantity)
	buyerFee := buyerChange.CashDelta.Abs().Sub(tradeValue)
	sellerFee := tradeValue.Sub(sellerChange.CashDelta)
	if buyerFee.Cmp(amount.FromRaw(6)) != 0 || sellerFee.Cmp(amount.FromRaw(5)) != 0 {
		t.Fatalf("expected buyer fee 6 units and seller fee 5 units, got buyer=%s seller=%s", buyerFee, sellerFee)
	}
}
