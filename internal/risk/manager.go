package risk

import (
	"fmt"
	"math"

	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/regime"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

const (
	atrPeriod    = 14
	atrBaseline  = 50  // ATR 比值的基准窗口
	liqSafeRatio = 0.85 // 止损距离相对爆仓距离的安全系数（留 15% 余量）
)

// OrderPlan 是一笔待执行开仓的完整参数。
type OrderPlan struct {
	Symbol     string
	Side       string // "LONG" | "SHORT"
	Tier       Tier
	MarginUSD  float64
	Leverage   int
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Reasoning  string
}

// Manager 负责层级查找、杠杆、仓位规模和护栏价位。
// 资金计算全部走 decimal，最后一步才转回 float64 交给网关。
type Manager struct {
	cfg   config.RiskConfig
	table *Table
}

func NewManager(cfg config.RiskConfig, table *Table) *Manager {
	return &Manager{cfg: cfg, table: table}
}

func (m *Manager) Table() *Table { return m.table }

// Plan 把一次开仓意图换算成订单参数。
func (m *Manager) Plan(symbol, side string, equity, confidence, price float64,
	candles []market.Candle, state regime.State, fearGreed, maxPositions int) (OrderPlan, error) {

	tier, err := m.table.TierFor(symbol)
	if err != nil {
		return OrderPlan{}, err
	}
	if equity <= 0 || price <= 0 {
		return OrderPlan{}, fmt.Errorf("invalid equity %.2f or price %.4f", equity, price)
	}

	atrPct, atrRatio := ATRStats(candles)
	leverage := m.Leverage(tier, atrPct, state)
	margin := m.MarginSize(equity, confidence, atrRatio, maxPositions)
	slPct, tpPct := m.bracketPcts(tier, fearGreed)

	// 爆仓防护：止损距离必须明显小于爆仓距离
	for leverage > m.minLeverage() && slPct > liqSafeRatio*90/float64(leverage) {
		leverage--
	}
	if slPct > liqSafeRatio*90/float64(leverage) {
		return OrderPlan{}, fmt.Errorf("stop distance %.2f%% too close to liquidation at %dx", slPct, leverage)
	}

	entry := decimal.NewFromFloat(price)
	slMove := entry.Mul(decimal.NewFromFloat(slPct / 100))
	tpMove := entry.Mul(decimal.NewFromFloat(tpPct / 100))
	var sl, tp decimal.Decimal
	if side == "SHORT" {
		sl = entry.Add(slMove)
		tp = entry.Sub(tpMove)
	} else {
		sl = entry.Sub(slMove)
		tp = entry.Add(tpMove)
	}

	marginF, _ := margin.Float64()
	slF, _ := sl.Float64()
	tpF, _ := tp.Float64()
	plan := OrderPlan{
		Symbol:     symbol,
		Side:       side,
		Tier:       tier,
		MarginUSD:  marginF,
		Leverage:   leverage,
		EntryPrice: price,
		StopLoss:   slF,
		TakeProfit: tpF,
		Reasoning: fmt.Sprintf("%s margin=%.2f lev=%d sl=%.2f%% tp=%.2f%% atr=%.2f%%/r%.2f",
			tier.Name(), marginF, leverage, slPct, tpPct, atrPct, atrRatio),
	}
	logger.Debugf("风控方案 %s %s: %s", symbol, side, plan.Reasoning)
	return plan, nil
}

// Leverage 从层级基准开始做波动与 regime 折减，再收敛到配置区间。
func (m *Manager) Leverage(tier Tier, atrPct float64, state regime.State) int {
	lev := tier.Leverage
	switch {
	case atrPct > 3:
		lev -= 2
	case atrPct > 2:
		lev--
	}
	if state == regime.StateNeutral {
		lev--
	}
	if lev < m.minLeverage() {
		lev = m.minLeverage()
	}
	if max := m.maxLeverage(); lev > max {
		lev = max
	}
	return lev
}

// MarginSize 计算投入保证金（quote 计价）。
func (m *Manager) MarginSize(equity, confidence, atrRatio float64, maxPositions int) decimal.Decimal {
	eq := decimal.NewFromFloat(equity)
	pct := decimal.NewFromFloat(m.basePct())

	var mult float64
	switch {
	case confidence > 0.8:
		mult = 1.3
	case confidence > 0.7:
		mult = 1.15
	case confidence > 0.6:
		mult = 1.0
	default:
		mult = 0.85
	}
	pct = pct.Mul(decimal.NewFromFloat(mult))

	min := decimal.NewFromFloat(m.minPct())
	max := decimal.NewFromFloat(m.maxPct())
	if pct.LessThan(min) {
		pct = min
	}
	if pct.GreaterThan(max) {
		pct = max
	}

	// 波动异常时缩量，异常平静时小幅放大
	var damp float64 = 1.0
	switch {
	case atrRatio > 2.0:
		damp = 0.3
	case atrRatio > 1.5:
		damp = 0.5
	case atrRatio > 1.2:
		damp = 0.7
	case atrRatio > 0 && atrRatio < 0.7:
		damp = 1.2
	}
	pct = pct.Mul(decimal.NewFromFloat(damp))

	if maxPositions < 1 {
		maxPositions = 1
	}
	divisor := decimal.NewFromFloat(math.Sqrt(float64(maxPositions)))
	return eq.Mul(pct).Div(decimal.NewFromInt(100)).Div(divisor).Round(2)
}

// bracketPcts 返回止损/止盈的价格距离（百分比）。
func (m *Manager) bracketPcts(tier Tier, fearGreed int) (slPct, tpPct float64) {
	slPct = tier.SLPct
	if fearGreed < m.fearWidenBelow() {
		// 极端恐慌下插针频繁，给止损留出空间
		slPct *= m.fearWidenMultiple()
	}
	tpPct = tier.TPPct
	if capPct := tier.TPCapPct; capPct > 0 && tpPct > capPct {
		tpPct = capPct
	}
	if floor := slPct * m.tpFloorRatio(); tpPct < floor {
		tpPct = floor // 盈亏比下限，期望值不能为负
	}
	return slPct, tpPct
}

// ATRStats 返回最新 ATR 占价比（百分数）与相对基准窗口均值的比值。
func ATRStats(candles []market.Candle) (atrPct, atrRatio float64) {
	if len(candles) <= atrPeriod+1 {
		return 0, 1
	}
	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		high[i], low[i], closes[i] = c.High, c.Low, c.Close
	}
	atr := talib.Atr(high, low, closes, atrPeriod)
	last := atr[len(atr)-1]
	price := closes[len(closes)-1]
	if price > 0 {
		atrPct = last / price * 100
	}

	start := len(atr) - atrBaseline
	if start < atrPeriod {
		start = atrPeriod
	}
	var sum float64
	var n int
	for _, v := range atr[start:] {
		if v > 0 {
			sum += v
			n++
		}
	}
	atrRatio = 1
	if n > 0 && sum > 0 {
		atrRatio = last / (sum / float64(n))
	}
	return atrPct, atrRatio
}

func (m *Manager) basePct() float64 {
	if m.cfg.BasePositionPct > 0 {
		return m.cfg.BasePositionPct
	}
	return 15
}

func (m *Manager) minPct() float64 {
	if m.cfg.MinPositionPct > 0 {
		return m.cfg.MinPositionPct
	}
	return 10
}

func (m *Manager) maxPct() float64 {
	if m.cfg.MaxPositionPct > 0 {
		return m.cfg.MaxPositionPct
	}
	return 20
}

func (m *Manager) minLeverage() int {
	if m.cfg.MinLeverage > 0 {
		return m.cfg.MinLeverage
	}
	return 5
}

func (m *Manager) maxLeverage() int {
	if m.cfg.MaxLeverage > 0 {
		return m.cfg.MaxLeverage
	}
	return 8
}

func (m *Manager) tpFloorRatio() float64 {
	if m.cfg.TPFloorRatio > 0 {
		return m.cfg.TPFloorRatio
	}
	return 1.2
}

func (m *Manager) fearWidenBelow() int {
	if m.cfg.FearWidenBelow > 0 {
		return m.cfg.FearWidenBelow
	}
	return 15
}

func (m *Manager) fearWidenMultiple() float64 {
	if m.cfg.FearWidenMultiple > 0 {
		return m.cfg.FearWidenMultiple
	}
	return 1.5
}
