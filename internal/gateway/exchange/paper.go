package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"
	"quorum/internal/market"

	"github.com/google/uuid"
)

// 模拟盘按吃单费率双边收费
const paperTakerFeeRate = 0.0005

// PaperGateway 用真实行情模拟成交，供回放与上线前验证。
// 护栏单在每次 ListOpenPositions 刷新时按最新价触发。
type PaperGateway struct {
	source market.Source

	mu        sync.Mutex
	balance   float64
	positions map[string]*paperPosition
}

type paperPosition struct {
	Position
	margin float64
}

func NewPaperGateway(source market.Source, initialBalance float64) *PaperGateway {
	if initialBalance <= 0 {
		initialBalance = 10000
	}
	return &PaperGateway{
		source:    source,
		balance:   initialBalance,
		positions: make(map[string]*paperPosition),
	}
}

func (g *PaperGateway) Name() string { return "paper" }

func (g *PaperGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return g.source.LastPrice(ctx, symbol)
}

func (g *PaperGateway) GetBalance(ctx context.Context) (Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	equity := g.balance
	available := g.balance
	for _, p := range g.positions {
		equity += p.margin + p.UnrealizedPnL
	}
	return Balance{
		Currency:  "USDT",
		Equity:    equity,
		Available: available,
		UpdatedAt: time.Now(),
	}, nil
}

func (g *PaperGateway) ListOpenPositions(ctx context.Context) ([]Position, error) {
	g.mu.Lock()
	symbols := make([]string, 0, len(g.positions))
	for sym := range g.positions {
		symbols = append(symbols, sym)
	}
	g.mu.Unlock()

	for _, sym := range symbols {
		price, err := g.source.LastPrice(ctx, sym)
		if err != nil {
			logger.Warnf("模拟盘刷新 %s 价格失败: %v", sym, err)
			continue
		}
		g.refreshMark(sym, price)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Position, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, p.Position)
	}
	return out, nil
}

// refreshMark 更新标记价并检查护栏触发。
func (g *PaperGateway) refreshMark(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[symbol]
	if !ok || price <= 0 {
		return
	}
	p.MarkPrice = price
	p.Notional = p.Size * price
	diff := price - p.EntryPrice
	if p.Side == "SHORT" {
		diff = -diff
	}
	p.UnrealizedPnL = diff * p.Size

	triggered := ""
	if p.Side == "LONG" {
		if p.StopLoss > 0 && price <= p.StopLoss {
			triggered = "stop_loss"
		} else if p.TakeProfit > 0 && price >= p.TakeProfit {
			triggered = "take_profit"
		}
	} else {
		if p.StopLoss > 0 && price >= p.StopLoss {
			triggered = "stop_loss"
		} else if p.TakeProfit > 0 && price <= p.TakeProfit {
			triggered = "take_profit"
		}
	}
	if triggered != "" {
		g.settleLocked(p, price, triggered)
	}
}

func (g *PaperGateway) OpenPosition(ctx context.Context, req OpenRequest) (*OrderResult, error) {
	if req.MarginUSD <= 0 || req.Leverage <= 0 {
		return nil, fmt.Errorf("invalid open request: margin=%.2f leverage=%d", req.MarginUSD, req.Leverage)
	}
	price, err := g.source.LastPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch price: %w", err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("invalid price %.8f for %s", price, req.Symbol)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.positions[req.Symbol]; exists {
		return nil, fmt.Errorf("position already open for %s", req.Symbol)
	}
	notional := req.MarginUSD * float64(req.Leverage)
	fee := notional * paperTakerFeeRate
	if g.balance < req.MarginUSD+fee {
		return nil, fmt.Errorf("insufficient paper balance: need %.2f have %.2f", req.MarginUSD+fee, g.balance)
	}
	g.balance -= req.MarginUSD + fee

	size := notional / price
	clientID := "paper-" + uuid.NewString()[:18]
	g.positions[req.Symbol] = &paperPosition{
		Position: Position{
			Symbol:     req.Symbol,
			Side:       strings.ToUpper(req.Side),
			Size:       size,
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   req.Leverage,
			Notional:   notional,
			OpenedAt:   time.Now(),
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
		},
		margin: req.MarginUSD,
	}
	logger.Infof("模拟开仓 %s %s margin=%.2f lev=%d entry=%.4f", req.Symbol, req.Side, req.MarginUSD, req.Leverage, price)
	return &OrderResult{
		OrderID:       clientID,
		ClientOrderID: clientID,
		Symbol:        req.Symbol,
		Side:          strings.ToUpper(req.Side),
		Quantity:      size,
		EntryPrice:    price,
		Leverage:      req.Leverage,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
	}, nil
}

func (g *PaperGateway) ClosePosition(ctx context.Context, req CloseRequest) error {
	price, err := g.source.LastPrice(ctx, req.Symbol)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[req.Symbol]
	if !ok {
		return nil
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}
	g.settleLocked(p, price, reason)
	return nil
}

// settleLocked 结算仓位，调用方持锁。
func (g *PaperGateway) settleLocked(p *paperPosition, price float64, reason string) {
	diff := price - p.EntryPrice
	if p.Side == "SHORT" {
		diff = -diff
	}
	pnl := diff * p.Size
	fee := p.Size * price * paperTakerFeeRate
	g.balance += p.margin + pnl - fee
	delete(g.positions, p.Symbol)
	logger.Infof("模拟平仓 %s %s exit=%.4f pnl=%.2f reason=%s", p.Symbol, p.Side, price, pnl-fee, reason)
}
