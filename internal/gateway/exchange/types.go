// Package exchange defines a common abstraction for the trading venue.
// The engine works against this interface so paper trading and live
// futures trading stay interchangeable.
package exchange

import (
	"context"
	"time"
)

// Position represents an open futures position.
type Position struct {
	Symbol        string    // e.g. "BTCUSDT"
	Side          string    // "LONG" or "SHORT"
	Size          float64   // base asset quantity
	EntryPrice    float64   // average entry price
	MarkPrice     float64   // latest mark/last price
	Leverage      int       // position leverage
	Notional      float64   // position value in quote currency
	OpenedAt      time.Time // zero when the venue does not report it
	StopLoss      float64   // 0 if no bracket resting
	TakeProfit    float64   // 0 if no bracket resting
	UnrealizedPnL float64   // quote currency
}

// PnLPct 返回相对保证金的收益率（百分数），杠杆已计入。
func (p Position) PnLPct() float64 {
	if p.EntryPrice <= 0 || p.MarkPrice <= 0 {
		return 0
	}
	move := (p.MarkPrice - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == "SHORT" {
		move = -move
	}
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return move * float64(lev)
}

// Balance represents futures account balance in the stake currency.
type Balance struct {
	Currency  string
	Equity    float64 // wallet balance + unrealized PnL
	Available float64 // free margin
	UpdatedAt time.Time
}

// OpenRequest contains parameters for opening a position.
type OpenRequest struct {
	Symbol     string
	Side       string  // "LONG" or "SHORT"
	MarginUSD  float64 // margin to commit, quote currency
	Leverage   int
	StopLoss   float64 // bracket price, required
	TakeProfit float64 // bracket price, required
	Reason     string  // entry tag for logging
}

// CloseRequest contains parameters for closing a position.
type CloseRequest struct {
	Symbol string
	Side   string // side of the position being closed
	Reason string // exit tag for logging
}

// OrderResult is returned after a successful open.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          string
	Quantity      float64
	EntryPrice    float64
	Leverage      int
	StopLoss      float64
	TakeProfit    float64
}

// Gateway is the trading venue abstraction the engine drives.
type Gateway interface {
	Name() string

	GetPrice(ctx context.Context, symbol string) (float64, error)

	GetBalance(ctx context.Context) (Balance, error)

	ListOpenPositions(ctx context.Context) ([]Position, error)

	OpenPosition(ctx context.Context, req OpenRequest) (*OrderResult, error)

	// ClosePosition flattens the position with a reduce-only market order
	// and cancels any resting bracket orders.
	ClosePosition(ctx context.Context, req CloseRequest) error
}
