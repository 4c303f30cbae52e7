// Package exchange defines the neutral exchange abstraction the replication
// engine is written against, so monitors and the replicator can be tested
// without a live venue.
package exchange

import "time"

// Order sides and types mirror the exchange's wire vocabulary.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	PositionLong  = "LONG"
	PositionShort = "SHORT"

	OrderTypeMarket           = "MARKET"
	OrderTypeLimit            = "LIMIT"
	OrderTypeStopMarket       = "STOP_MARKET"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"

	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusExpired         = "EXPIRED"
	StatusRejected        = "REJECTED"
)

// OppositeSide returns SELL for BUY and BUY for SELL.
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderSummary is one row of an account's open-order snapshot.
type OrderSummary struct {
	ExchangeOrderID string
	Symbol          string
	Side            string // BUY or SELL
	Type            string
	Status          string
	Quantity        float64 // original order quantity
	ExecutedQty     float64
	Price           float64 // limit price, 0 for market orders
	AvgPrice        float64 // average fill price, 0 until filled
	StopPrice       float64
	ReduceOnly      bool
	OpenedAt        time.Time
	UpdatedAt       time.Time
}

// PositionSummary describes a non-flat position in one symbol.
type PositionSummary struct {
	Symbol           string
	Side             string  // LONG or SHORT
	Size             float64 // absolute quantity
	EntryPrice       float64
	MarkPrice        float64
	Leverage         int
	UnrealizedProfit float64
}

// Closes reports whether an order on side would reduce this position.
func (p *PositionSummary) Closes(side string) bool {
	if p == nil || p.Size <= 0 {
		return false
	}
	return (p.Side == PositionLong && side == SideSell) ||
		(p.Side == PositionShort && side == SideBuy)
}

// OrderSpec contains the parameters for placing one order.
type OrderSpec struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      float64
	Price         float64 // required for LIMIT
	StopPrice     float64 // required for STOP_MARKET / TAKE_PROFIT_MARKET
	ReduceOnly    bool
	TimeInForce   string // defaults to GTC for LIMIT
	ClientOrderID string
	ClosePosition bool // close the whole position regardless of Quantity
}

// OrderResult is the exchange's acknowledgement of a placed order.
type OrderResult struct {
	ExchangeOrderID string
	Status          string
	ExecutedQty     float64
	AvgPrice        float64
}

// SymbolFilters carries the per-symbol trading constraints used by sizing.
type SymbolFilters struct {
	StepSize    float64 // lot quantization step
	MinQty      float64
	MaxQty      float64
	MinNotional float64 // exchange minimum order value in quote currency
	TickSize    float64
}
