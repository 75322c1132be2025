package event

import "marketsim/internal/amount"

// RunCreatedPayload is emitted once, on kernel construction.
type RunCreatedPayload struct {
	Seed           uint32
	InitialCash    amount.Amount
	InitialAsset   amount.Amount
	TradingFeeBps  int64
	DecayRateBps   int64
	DecayInterval  int64
	MaxActionsTick int64
	MinPrice       amount.Amount
	MaxPrice       amount.Amount
	MinQuantity    amount.Amount
}

func (p RunCreatedPayload) Canonical() interface{} {
	return map[string]interface{}{
		"seed":                 int64(p.Seed),
		"initial_cash":         p.InitialCash.String(),
		"initial_asset":        p.InitialAsset.String(),
		"trading_fee_bps":      p.TradingFeeBps,
		"decay_rate_bps":       p.DecayRateBps,
		"decay_interval_ticks": p.DecayInterval,
		"max_actions_per_tick": p.MaxActionsTick,
		"min_price":            p.MinPrice.String(),
		"max_price":            p.MaxPrice.String(),
		"min_quantity":         p.MinQuantity.String(),
	}
}

type RunStartedPayload struct{}

func (p RunStartedPayload) Canonical() interface{} { return map[string]interface{}{} }

type RunStoppedPayload struct {
	Reason string
}

func (p RunStoppedPayload) Canonical() interface{} {
	return map[string]interface{}{"reason": p.Reason}
}

type AgentCreatedPayload struct {
	AgentID        string
	DisplayName    string
	APIKeyFinger   string
	InitialCash    amount.Amount
	InitialAsset   amount.Amount
}

func (p AgentCreatedPayload) Canonical() interface{} {
	return map[string]interface{}{
		"agent_id":          p.AgentID,
		"display_name":      p.DisplayName,
		"api_key_fingerprint": p.APIKeyFinger,
		"initial_cash":      p.InitialCash.String(),
		"initial_asset":     p.InitialAsset.String(),
	}
}

type OrderPlacedPayload struct {
	OrderID  string
	AgentID  string
	Side     string
	Price    amount.Amount
	Quantity amount.Amount
	Sequence int64
	Tick     int64
}

func (p OrderPlacedPayload) Canonical() interface{} {
	return map[string]interface{}{
		"order_id": p.OrderID,
		"agent_id": p.AgentID,
		"side":     p.Side,
		"price":    p.Price.String(),
		"quantity": p.Quantity.String(),
		"sequence": p.Sequence,
		"tick":     p.Tick,
	}
}

type OrderRejectedPayload struct {
	AgentID     string
	ActionIndex int
	ReasonCode  string
	Message     string
}

func (p OrderRejectedPayload) Canonical() interface{} {
	return map[string]interface{}{
		"agent_id":     p.AgentID,
		"action_index": p.ActionIndex,
		"reason_code":  p.ReasonCode,
		"message":      p.Message,
	}
}

type OrderCancelledPayload struct {
	OrderID string
	AgentID string
}

func (p OrderCancelledPayload) Canonical() interface{} {
	return map[string]interface{}{
		"order_id": p.OrderID,
		"agent_id": p.AgentID,
	}
}

type TradeExecutedPayload struct {
	TradeID       string
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

func (p TradeExecutedPayload) Canonical() interface{} {
	return map[string]interface{}{
		"trade_id":        p.TradeID,
		"tick":            p.Tick,
		"price":           p.Price.String(),
		"quantity":        p.Quantity.String(),
		"buy_order_id":    p.BuyOrderID,
		"sell_order_id":   p.SellOrderID,
		"buyer_agent_id":  p.BuyerAgentID,
		"seller_agent_id": p.SellerAgentID,
		"total_fee":       p.TotalFee.String(),
		"aggressor_side":  p.AggressorSide,
	}
}

type BalanceUpdatedPayload struct {
	AgentID      string
	CashDelta    amount.Amount
	AssetDelta   amount.Amount
	CashBalance  amount.Amount
	AssetBalance amount.Amount
	Reason       string
}

func (p BalanceUpdatedPayload) Canonical() interface{} {
	return map[string]interface{}{
		"agent_id":      p.AgentID,
		"cash_delta":    p.CashDelta.String(),
		"asset_delta":   p.AssetDelta.String(),
		"cash_balance":  p.CashBalance.String(),
		"asset_balance": p.AssetBalance.String(),
		"reason":        p.Reason,
	}
}

type RateLimitHitPayload struct {
	AgentID     string
	ActionIndex int
}

func (p RateLimitHitPayload) Canonical() interface{} {
	return map[string]interface{}{
		"agent_id":     p.AgentID,
		"action_index": p.ActionIndex,
	}
}

type DecayAppliedPayload struct {
	AgentID    string
	Amount     amount.Amount
	CashBefore amount.Amount
	CashAfter  amount.Amount
}

func (p DecayAppliedPayload) Canonical() interface{} {
	return map[string]interface{}{
		"agent_id":    p.AgentID,
		"amount":      p.Amount.String(),
		"cash_before": p.CashBefore.String(),
		"cash_after":  p.CashAfter.String(),
	}
}

type AgentBankruptPayload struct {
	AgentID string
	Tick    int64
}

func (p AgentBankruptPayload) Canonical() interface{} {
	return map[string]interface{}{
		"agent_id": p.AgentID,
		"tick":     p.Tick,
	}
}

type TickStartPayload struct {
	TickID int64
}

func (p TickStartPayload) Canonical() interface{} {
	return map[string]interface{}{"tick_id": p.TickID}
}

type TickEndPayload struct {
	TickID          int64
	OrdersProcessed int64
	TradesExecuted  int64
}

func (p TickEndPayload) Canonical() interface{} {
	return map[string]interface{}{
		"tick_id":          p.TickID,
		"orders_processed": p.OrdersProcessed,
		"trades_executed":  p.TradesExecuted,
	}
}
