// Package matching implements the continuous double auction: placement
// validation, price-time priority crossing, and cancellation. It mutates
// world.World directly — it is trusted kernel-internal code, not an
// external collaborator, so it is given live pointer access that external
// callers never receive. The algorithm's shape (walk the opposite side
// from the best price outward until exhausted or no longer crossing) is
// grounded on the classic price-time matching loop; see DESIGN.md.
package matching

import (
	"fmt"

	"marketsim/internal/amount"
	"marketsim/internal/world"
)

// ReasonCode is the closed set of rejection reasons the external action
// surface may report.
type ReasonCode string

const (
	ReasonInsufficientFunds       ReasonCode = "INSUFFICIENT_FUNDS"
	ReasonInvalidPrice            ReasonCode = "INVALID_PRICE"
	ReasonInvalidQuantity         ReasonCode = "INVALID_QUANTITY"
	ReasonOrderNotFound           ReasonCode = "ORDER_NOT_FOUND"
	ReasonOrderNotOwned           ReasonCode = "ORDER_NOT_OWNED"
	ReasonAgentBankrupt           ReasonCode = "AGENT_BANKRUPT"
	ReasonRateLimited             ReasonCode = "RATE_LIMITED"
	ReasonInvalidAction           ReasonCode = "INVALID_ACTION"
	ReasonRunNotActive            ReasonCode = "RUN_NOT_ACTIVE"
	ReasonDuplicateIdempotencyKey ReasonCode = "DUPLICATE_IDEMPOTENCY_KEY"
)

// RejectError is returned by every validation/matching failure; it carries
// exactly the reason code and message the external surface reports.
type RejectError struct {
	Reason  ReasonCode
	Message string
}

func (e *RejectError) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Message) }

func reject(reason ReasonCode, format string, args ...interface{}) *RejectError {
	return &RejectError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// BalanceChange describes one agent's balance movement resulting from a
// trade, in the order BALANCE_UPDATED events must be emitted (buyer
// before seller, per trade, in fill order).
type BalanceChange struct {
	AgentID      string
	CashDelta    amount.Amount
	AssetDelta   amount.Amount
	CashBalance  amount.Amount
	AssetBalance amount.Amount
}

// PlaceResult is everything the kernel needs to turn a successful
// placement into its event sequence.
type PlaceResult struct {
	Order          *world.Order
	Trades         []*world.Trade
	BalanceChanges []BalanceChange
}

// PlaceLimitOrder validates and, on success, matches a new limit order
// against the book, mutating w in place. The validation order below is
// significant: the first failing check wins.
func PlaceLimitOrder(
	w *world.World,
	tick int64,
	orderID string,
	agentID string,
	side world.Side,
	priceStr, qtyStr string,
	feeBps int64,
) (*PlaceResult, error) {
	price, err := amount.Parse(priceStr)
	if err != nil {
		return nil, reject(ReasonInvalidAction, "malformed price: %v", err)
	}
	qty, err := amount.Parse(qtyStr)
	if err != nil {
		return nil, reject(ReasonInvalidAction, "malformed quantity: %v", err)
	}

	if !price.IsPositive() || price.Cmp(w.Config.MinPrice) < 0 || price.Cmp(w.Config.MaxPrice) > 0 {
		return nil, reject(ReasonInvalidPrice, "price %s outside [%s, %s]", price, w.Config.MinPrice, w.Config.MaxPrice)
	}
	if !qty.IsPositive() || qty.Cmp(w.Config.MinQuantity) < 0 {
		return nil, reject(ReasonInvalidQuantity, "quantity %s below minimum %s", qty, w.Config.MinQuantity)
	}

	agent, ok := w.GetAgent(agentID)
	if !ok {
		return nil, reject(ReasonInvalidAction, "unknown agent %s", agentID)
	}
	if agent.Status != world.AgentActive {
		return nil, reject(ReasonAgentBankrupt, "agent %s is not active", agentID)
	}

	switch side {
	case world.SideBid:
		cost := price.Mul(qty)
		if agent.Cash.Cmp(cost) < 0 {
			return nil, reject(ReasonInsufficientFunds, "cash %s below required %s", agent.Cash, cost)
		}
	case world.SideAsk:
		if agent.Asset.Cmp(qty) < 0 {
			return nil, reject(ReasonInsufficientFunds, "asset %s below required %s", agent.Asset, qty)
		}
	default:
		return nil, reject(ReasonInvalidAction, "unknown side %q", side)
	}

	order := &world.Order{
		ID:          orderID,
		AgentID:     agentID,
		Side:        side,
		Price:       price,
		OriginalQty: qty,
		FilledQty:   amount.Zero(),
		Status:      world.OrderOpen,
		TickCreated: tick,
		Sequence:    w.NextOrderSequence(),
	}
	w.PutOrder(order)

	result := &PlaceResult{Order: order}
	crossMatch(w, tick, order, feeBps, result)
	return result, nil
}

// crossMatch walks the opposite side of the book in price-time priority,
// filling the incoming order until it is exhausted or the book no longer
// crosses. Trade price is always the resting order's limit price.
func crossMatch(w *world.World, tick int64, incoming *world.Order, feeBps int64, result *PlaceResult) {
	oppositeSide := world.SideAsk
	if incoming.Side == world.SideAsk {
		oppositeSide = world.SideBid
	}

	for incoming.Remaining().IsPositive() {
		resting := w.OpenOrdersBySideLive(oppositeSide)
		if len(resting) == 0 {
			return
		}
		best := resting[0]

		if !crosses(incoming, best) {
			return
		}

		fillQty := amount.Min(incoming.Remaining(), best.Remaining())
		tradePrice := best.Price

		var buyer, seller *world.Order
		if incoming.Side == world.SideBid {
			buyer, seller = incoming, best
		} else {
			buyer, seller = best, incoming
		}

		trade, changes := settleFill(w, tick, buyer, seller, tradePrice, fillQty, feeBps, incoming.Side)
		result.Trades = append(result.Trades, trade)
		result.BalanceChanges = append(result.BalanceChanges, changes...)

		// incoming and best are live pointers into World's order map (see
		// OpenOrdersBySideLive and PutOrder) — mutating them here is the
		// single source of truth, no separate map write-back needed.
		applyFill(incoming, fillQty)
		applyFill(best, fillQty)
	}
}

func crosses(incoming, resting *world.Order) bool {
	if incoming.Side == world.SideBid {
		return incoming.Price.Cmp(resting.Price) >= 0
	}
	return incoming.Price.Cmp(resting.Price) <= 0
}

func applyFill(o *world.Order, qty amount.Amount) {
	o.FilledQty = o.FilledQty.Add(qty)
	if o.FilledQty.Cmp(o.OriginalQty) == 0 {
		o.Status = world.OrderFilled
	}
}

// settleFill applies the cash/asset movements for one fill and appends the
// trade to World. Fee division truncates toward zero; any one-unit
// remainder from an odd total fee stays in the buyer's debit.
func settleFill(
	w *world.World,
	tick int64,
	buyer, seller *world.Order,
	price, qty amount.Amount,
	feeBps int64,
	aggressorSide world.Side,
) (*world.Trade, []BalanceChange) {
	tradeValue := price.Mul(qty)
	totalFee := tradeValue.MulBps(feeBps)
	sellerFee := totalFee.Div(amount.FromRaw(200000000)) // totalFee / 2, truncating toward zero
	buyerFee := totalFee.Sub(sellerFee)

	buyerCashDelta := tradeValue.Add(buyerFee).Neg()
	sellerCashDelta := tradeValue.Sub(sellerFee)

	var buyerCashAfter, buyerAssetAfter, sellerCashAfter, sellerAssetAfter amount.Amount
	w.MutateAgent(buyer.AgentID, func(a *world.Agent) {
		a.Cash = a.Cash.Add(buyerCashDelta)
		a.Asset = a.Asset.Add(qty)
		buyerCashAfter, buyerAssetAfter = a.Cash, a.Asset
	})
	w.MutateAgent(seller.AgentID, func(a *world.Agent) {
		a.Cash = a.Cash.Add(sellerCashDelta)
		a.Asset = a.Asset.Sub(qty)
		sellerCashAfter, sellerAssetAfter = a.Cash, a.Asset
	})

	trade := &world.Trade{
		ID:            w.NextID(),
		Tick:          tick,
		Price:         price,
		Quantity:      qty,
		BuyOrderID:    buyer.ID,
		SellOrderID:   seller.ID,
		BuyerAgentID:  buyer.AgentID,
		SellerAgentID: seller.AgentID,
		TotalFee:      totalFee,
		AggressorSide: aggressorSide,
	}
	w.AppendTrade(trade)

	changes := []BalanceChange{
		{AgentID: buyer.AgentID, CashDelta: buyerCashDelta, AssetDelta: qty, CashBalance: buyerCashAfter, AssetBalance: buyerAssetAfter},
		{AgentID: seller.AgentID, CashDelta: sellerCashDelta, AssetDelta: qty.Neg(), CashBalance: sellerCashAfter, AssetBalance: sellerAssetAfter},
	}
	return trade, changes
}

// CancelOrder validates ownership and open status before cancelling.
func CancelOrder(w *world.World, agentID, orderID string) (*world.Order, error) {
	order, ok := w.GetOrder(orderID)
	if !ok {
		return nil, reject(ReasonOrderNotFound, "order %s not found", orderID)
	}
	if order.AgentID != agentID {
		return nil, reject(ReasonOrderNotOwned, "order %s not owned by %s", orderID, agentID)
	}
	if order.Status != world.OrderOpen {
		return nil, reject(ReasonOrderNotFound, "order %s is not open", orderID)
	}

	w.MutateOrder(orderID, func(o *world.Order) { o.Status = world.OrderCancelled })
	cancelled, _ := w.GetOrder(orderID)
	return &cancelled, nil
}
