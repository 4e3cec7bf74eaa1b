package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quorum/internal/logger"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// quantityPrecision 各合约的下单数量精度，缺省 1 位小数。
var quantityPrecision = map[string]int32{
	"BTCUSDT":  3,
	"ETHUSDT":  3,
	"BNBUSDT":  2,
	"SOLUSDT":  1,
	"LTCUSDT":  2,
	"DOGEUSDT": 0,
	"XRPUSDT":  1,
	"ADAUSDT":  0,
}

// BinanceGateway 对接币安 USDT 永续合约的实盘网关。
type BinanceGateway struct {
	client *futures.Client
}

func NewBinanceGateway(apiKey, secretKey, baseURL string) (*BinanceGateway, error) {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("exchange credentials are required for live trading")
	}
	client := futures.NewClient(apiKey, secretKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceGateway{client: client}, nil
}

func (g *BinanceGateway) Name() string { return "binance-futures" }

func (g *BinanceGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, symbol) {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("price not available for %s", symbol)
}

func (g *BinanceGateway) GetBalance(ctx context.Context) (Balance, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return Balance{}, err
	}
	wallet := parseFloat(account.TotalWalletBalance)
	unrealized := parseFloat(account.TotalUnrealizedProfit)
	return Balance{
		Currency:  "USDT",
		Equity:    wallet + unrealized,
		Available: parseFloat(account.AvailableBalance),
		UpdatedAt: time.Now(),
	}, nil
}

func (g *BinanceGateway) ListOpenPositions(ctx context.Context) ([]Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "LONG"
		size := amt
		if amt < 0 {
			side = "SHORT"
			size = -amt
		}
		mark := parseFloat(r.MarkPrice)
		positions = append(positions, Position{
			Symbol:        r.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     mark,
			Leverage:      int(parseFloat(r.Leverage)),
			Notional:      size * mark,
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
		})
	}
	return positions, nil
}

// OpenPosition 先调杠杆，再市价开仓，最后挂双向护栏单。
// 护栏单失败时立即市价平仓回滚，不留裸仓。
func (g *BinanceGateway) OpenPosition(ctx context.Context, req OpenRequest) (*OrderResult, error) {
	if req.MarginUSD <= 0 || req.Leverage <= 0 {
		return nil, fmt.Errorf("invalid open request: margin=%.2f leverage=%d", req.MarginUSD, req.Leverage)
	}
	if req.StopLoss <= 0 || req.TakeProfit <= 0 {
		return nil, fmt.Errorf("open request missing protective brackets")
	}
	price, err := g.GetPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch price: %w", err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("invalid price %.8f for %s", price, req.Symbol)
	}
	if _, err := g.client.NewChangeLeverageService().
		Symbol(req.Symbol).Leverage(req.Leverage).Do(ctx); err != nil {
		return nil, fmt.Errorf("change leverage: %w", err)
	}

	notional := decimal.NewFromFloat(req.MarginUSD).Mul(decimal.NewFromInt(int64(req.Leverage)))
	qty := notional.Div(decimal.NewFromFloat(price)).Truncate(qtyPrecision(req.Symbol))
	if !qty.IsPositive() {
		return nil, fmt.Errorf("order quantity rounds to zero (margin=%.2f price=%.4f)", req.MarginUSD, price)
	}

	entrySide := futures.SideTypeBuy
	exitSide := futures.SideTypeSell
	if req.Side == "SHORT" {
		entrySide = futures.SideTypeSell
		exitSide = futures.SideTypeBuy
	}
	clientID := "quorum-" + uuid.NewString()[:18]
	order, err := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(entrySide).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("market entry: %w", err)
	}
	logger.Infof("开仓成交 %s %s qty=%s orderID=%d", req.Symbol, req.Side, qty.String(), order.OrderID)

	if err := g.placeBrackets(ctx, req.Symbol, exitSide, req.StopLoss, req.TakeProfit); err != nil {
		logger.Errorf("护栏单失败，回滚 %s 仓位: %v", req.Symbol, err)
		if rollbackErr := g.ClosePosition(ctx, CloseRequest{
			Symbol: req.Symbol, Side: req.Side, Reason: "bracket_rollback",
		}); rollbackErr != nil {
			return nil, fmt.Errorf("brackets failed (%v) and rollback failed: %w", err, rollbackErr)
		}
		return nil, fmt.Errorf("place brackets: %w", err)
	}

	entryPrice := parseFloat(order.AvgPrice)
	if entryPrice <= 0 {
		entryPrice = price
	}
	qtyF, _ := qty.Float64()
	return &OrderResult{
		OrderID:       fmt.Sprintf("%d", order.OrderID),
		ClientOrderID: clientID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      qtyF,
		EntryPrice:    entryPrice,
		Leverage:      req.Leverage,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
	}, nil
}

func (g *BinanceGateway) placeBrackets(ctx context.Context, symbol string, exitSide futures.SideType, stopLoss, takeProfit float64) error {
	if _, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(exitSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatPrice(stopLoss)).
		ClosePosition(true).
		Do(ctx); err != nil {
		return fmt.Errorf("stop loss: %w", err)
	}
	if _, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(exitSide).
		Type(futures.OrderTypeTakeProfitMarket).
		StopPrice(formatPrice(takeProfit)).
		ClosePosition(true).
		Do(ctx); err != nil {
		return fmt.Errorf("take profit: %w", err)
	}
	return nil
}

func (g *BinanceGateway) ClosePosition(ctx context.Context, req CloseRequest) error {
	positions, err := g.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	var target *Position
	for i := range positions {
		if positions[i].Symbol == req.Symbol {
			target = &positions[i]
			break
		}
	}
	if target == nil {
		// 仓位已经不在了（护栏单触发等），只清理挂单
		if err := g.client.NewCancelAllOpenOrdersService().Symbol(req.Symbol).Do(ctx); err != nil {
			logger.Warnf("清理 %s 挂单失败: %v", req.Symbol, err)
		}
		return nil
	}
	exitSide := futures.SideTypeSell
	if target.Side == "SHORT" {
		exitSide = futures.SideTypeBuy
	}
	qty := decimal.NewFromFloat(target.Size).Truncate(qtyPrecision(req.Symbol))
	if _, err := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(exitSide).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		ReduceOnly(true).
		Do(ctx); err != nil {
		return fmt.Errorf("market close: %w", err)
	}
	if err := g.client.NewCancelAllOpenOrdersService().Symbol(req.Symbol).Do(ctx); err != nil {
		logger.Warnf("平仓后清理 %s 挂单失败: %v", req.Symbol, err)
	}
	logger.Infof("平仓完成 %s %s qty=%s reason=%s", req.Symbol, target.Side, qty.String(), req.Reason)
	return nil
}

func qtyPrecision(symbol string) int32 {
	if p, ok := quantityPrecision[strings.ToUpper(symbol)]; ok {
		return p
	}
	return 1
}

func formatPrice(p float64) string {
	// 币安对触发价精度宽容，2 位小数覆盖 USDT 本位主流合约
	d := decimal.NewFromFloat(p)
	if p < 1 {
		return d.Round(5).String()
	}
	return d.Round(2).String()
}

func parseFloat(v string) float64 {
	f, _ := decimal.NewFromString(strings.TrimSpace(v))
	out, _ := f.Float64()
	return out
}
