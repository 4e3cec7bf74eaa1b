// Package monitor 周期巡检在持仓位，执行止盈止损之外的退出规则。
// 规则有严格的先后顺序，先触发者先平，平仓原因原样落账本。
package monitor

import (
	"context"
	"fmt"
	"time"

	"quorum/internal/config"
	"quorum/internal/gateway/exchange"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/regime"
	"quorum/internal/risk"
	"quorum/internal/tracker"
)

// 层级利润保护：峰值达标后回吐过多直接了结
var tierGuards = map[int]struct{ trigger, floor float64 }{
	1: {3.0, 1.5},
	2: {2.5, 1.0},
	3: {2.0, 0.5},
}

const winnerGraceHours = 12 // 盈利仓在最长持仓之上的宽限

// 峰值到过这条线之后又跌回成本价以下，开仓逻辑视为被证伪
const peakReversalFloor = 0.8

// CloseEvent 在仓位被平掉后回调给上层（记录 outcome、冷却）。
type CloseEvent struct {
	Trade     tracker.Trade
	ExitPrice float64
	PnLUSD    float64
	PnLPct    float64
	Reason    string
}

type Monitor struct {
	gateway   exchange.Gateway
	tracker   *tracker.Tracker
	detector  *regime.Detector
	fearGreed *market.FearGreedService
	cfg       config.RiskConfig
	table     *risk.Table
	onClose   func(CloseEvent)
	nowFn     func() time.Time
}

func New(gw exchange.Gateway, tr *tracker.Tracker, det *regime.Detector,
	fg *market.FearGreedService, cfg config.RiskConfig, table *risk.Table,
	onClose func(CloseEvent)) *Monitor {
	return &Monitor{
		gateway:   gw,
		tracker:   tr,
		detector:  det,
		fearGreed: fg,
		cfg:       cfg,
		table:     table,
		onClose:   onClose,
		nowFn:     time.Now,
	}
}

// Tick 巡检一轮全部在持仓位。
func (m *Monitor) Tick(ctx context.Context) {
	trades, err := m.tracker.OpenTrades()
	if err != nil {
		logger.Errorf("巡检读取账本失败: %v", err)
		return
	}
	if len(trades) == 0 {
		return
	}
	snap := m.detector.Current(ctx)
	// 恐慌盾用最新指数，巡检周期远短于 regime 快照 TTL
	fearGreed := snap.FearGreed
	if m.fearGreed != nil {
		m.fearGreed.RefreshIfStale(ctx)
		fearGreed = m.fearGreed.Value()
	}

	// 预读所有仓位盈亏，判断对侧是否整体盈利
	type state struct {
		trade  tracker.Trade
		price  float64
		pnlPct float64
		pnlUSD float64
	}
	states := make([]state, 0, len(trades))
	var longPnL, shortPnL float64
	for _, tr := range trades {
		price, err := m.gateway.GetPrice(ctx, tr.Symbol)
		if err != nil || price <= 0 {
			logger.Warnf("巡检取价失败 %s: %v", tr.Symbol, err)
			continue
		}
		pnlPct := moveFor(tr, price)
		pnlUSD := pnlUSDFor(tr, price)
		if tr.Side == "LONG" {
			longPnL += pnlUSD
		} else {
			shortPnL += pnlUSD
		}
		states = append(states, state{trade: tr, price: price, pnlPct: pnlPct, pnlUSD: pnlUSD})
	}

	now := m.nowFn()
	for _, st := range states {
		peak := st.trade.PeakPnLPct
		if st.pnlPct > peak {
			peak = st.pnlPct
			if err := m.tracker.RaisePeak(st.trade.ID, peak); err != nil {
				logger.Warnf("峰值更新失败 %s: %v", st.trade.Symbol, err)
			}
		}
		oppositeWinning := shortPnL > 0
		if st.trade.Side == "SHORT" {
			oppositeWinning = longPnL > 0
		}
		in := ruleInput{
			trade:           st.trade,
			price:           st.price,
			pnlPct:          st.pnlPct,
			peakPct:         peak,
			pnlUSD:          st.pnlUSD,
			heldHours:       now.Sub(st.trade.OpenedAt).Hours(),
			regime:          snap.State,
			fearGreed:       fearGreed,
			oppositeWinning: oppositeWinning,
		}
		if reason, shouldClose := m.evaluate(in); shouldClose {
			m.closeTrade(ctx, st.trade, st.price, st.pnlUSD, st.pnlPct, reason)
		}
	}
}

type ruleInput struct {
	trade           tracker.Trade
	price           float64
	pnlPct          float64
	peakPct         float64
	pnlUSD          float64
	heldHours       float64
	regime          regime.State
	fearGreed       int
	oppositeWinning bool
}

// evaluate 按固定顺序过一遍退出规则。
func (m *Monitor) evaluate(in ruleInput) (string, bool) {
	tr := in.trade

	// 1. 护栏价触发（护栏单失效时的软备份）
	if tr.Side == "LONG" {
		if tr.StopLoss > 0 && in.price <= tr.StopLoss {
			return "stop_loss", true
		}
		if tr.TakeProfit > 0 && in.price >= tr.TakeProfit {
			return "take_profit", true
		}
	} else {
		if tr.StopLoss > 0 && in.price >= tr.StopLoss {
			return "stop_loss", true
		}
		if tr.TakeProfit > 0 && in.price <= tr.TakeProfit {
			return "take_profit", true
		}
	}

	// 2. 利润锁：冲高回落超过保留线就走
	trigger := m.peakLockTrigger()
	keep := m.peakLockKeepRatio()
	if in.peakPct >= trigger && in.pnlPct > 0 && in.pnlPct < in.peakPct*keep {
		return fmt.Sprintf("peak_fade(%.2f<-%.2f)", in.pnlPct, in.peakPct), true
	}

	tier, tierErr := m.table.TierFor(tr.Symbol)

	// 3. 层级利润保护
	if tierErr == nil {
		if guard, ok := tierGuards[tier.Tier]; ok {
			if in.peakPct >= guard.trigger && in.pnlPct < guard.floor {
				return fmt.Sprintf("tier_guard(peak=%.2f pnl=%.2f)", in.peakPct, in.pnlPct), true
			}
		}
	}

	// 4. 冲高回吐到成本价以下：论据已破，不等早退窗口
	if in.peakPct >= peakReversalFloor && in.pnlPct <= 0 {
		return fmt.Sprintf("peak_reversal(%.2f->%.2f)", in.peakPct, in.pnlPct), true
	}

	if tierErr == nil {
		// 5. 最长持仓：亏损仓到点即走，盈利仓有宽限
		maxHold := tier.MaxHoldHours
		if maxHold > 0 {
			limit := maxHold
			if in.pnlPct > 0 {
				limit += winnerGraceHours
			}
			if in.heldHours >= limit {
				return fmt.Sprintf("max_hold(%.1fh)", in.heldHours), true
			}
		}
		// 6. 早退：拖了几小时还在亏就认错
		if tier.EarlyExitHours > 0 && in.heldHours >= tier.EarlyExitHours &&
			in.pnlPct <= m.earlyExitLossPct() {
			return fmt.Sprintf("early_exit(%.2f%%)", in.pnlPct), true
		}
	}

	// 7. 兜底强平
	if in.pnlPct <= m.forceStopLossPct() {
		return fmt.Sprintf("force_stop(%.2f%%)", in.pnlPct), true
	}

	// 8. regime 退出：方向与大环境相悖且已亏损
	if reason, ok := m.regimeExit(in); ok {
		return reason, true
	}
	return "", false
}

// regimeExit 只处理持仓超过最短时长、方向逆着大环境的仓位。
func (m *Monitor) regimeExit(in ruleInput) (string, bool) {
	if in.heldHours < m.regimeExitMinHours() {
		return "", false
	}
	adverse := (in.trade.Side == "LONG" && in.regime.IsBearish()) ||
		(in.trade.Side == "SHORT" && in.regime.IsBullish())
	if !adverse {
		return "", false
	}
	// 恐慌盾：极端恐慌常是反弹前夜，盈利仓不因 regime 被赶下车
	if in.fearGreed < m.fearShieldBelow() && in.pnlUSD > 0 {
		return "", false
	}
	switch {
	case in.pnlUSD < -30:
		return fmt.Sprintf("regime_exit_hard(%s $%.2f)", in.regime, in.pnlUSD), true
	case in.pnlUSD < -15:
		return fmt.Sprintf("regime_exit(%s $%.2f)", in.regime, in.pnlUSD), true
	case in.oppositeWinning && in.pnlUSD < -12:
		return fmt.Sprintf("regime_exit_rotate(%s $%.2f)", in.regime, in.pnlUSD), true
	}
	return "", false
}

func (m *Monitor) closeTrade(ctx context.Context, tr tracker.Trade, price, pnlUSD, pnlPct float64, reason string) {
	logger.Infof("巡检平仓 %s %s @%.4f pnl=%.2f%% ($%.2f) 原因=%s",
		tr.Symbol, tr.Side, price, pnlPct, pnlUSD, reason)
	if err := m.gateway.ClosePosition(ctx, exchange.CloseRequest{
		Symbol: tr.Symbol, Side: tr.Side, Reason: reason,
	}); err != nil {
		logger.Errorf("平仓失败 %s，本轮跳过: %v", tr.Symbol, err)
		return
	}
	if err := m.tracker.RecordClose(tr.ID, price, pnlUSD, pnlPct, reason, m.nowFn()); err != nil {
		logger.Errorf("账本写平仓失败 %s: %v", tr.Symbol, err)
	}
	if m.onClose != nil {
		m.onClose(CloseEvent{Trade: tr, ExitPrice: price, PnLUSD: pnlUSD, PnLPct: pnlPct, Reason: reason})
	}
}

// moveFor 返回价格相对开仓价的带方向涨跌幅（百分数，不含杠杆）。
func moveFor(tr tracker.Trade, price float64) float64 {
	if tr.EntryPrice <= 0 {
		return 0
	}
	move := (price - tr.EntryPrice) / tr.EntryPrice * 100
	if tr.Side == "SHORT" {
		move = -move
	}
	return move
}

func pnlUSDFor(tr tracker.Trade, price float64) float64 {
	diff := price - tr.EntryPrice
	if tr.Side == "SHORT" {
		diff = -diff
	}
	return diff * tr.Quantity
}

func (m *Monitor) peakLockTrigger() float64 {
	if m.cfg.PeakLockTrigger > 0 {
		return m.cfg.PeakLockTrigger
	}
	return 1.0
}

func (m *Monitor) peakLockKeepRatio() float64 {
	if m.cfg.PeakLockKeepRatio > 0 {
		return m.cfg.PeakLockKeepRatio
	}
	return 0.6
}

func (m *Monitor) earlyExitLossPct() float64 {
	if m.cfg.EarlyExitLossPct < 0 {
		return m.cfg.EarlyExitLossPct
	}
	return -1.5
}

func (m *Monitor) forceStopLossPct() float64 {
	if m.cfg.ForceStopLossPct < 0 {
		return m.cfg.ForceStopLossPct
	}
	return -4.0
}

func (m *Monitor) regimeExitMinHours() float64 {
	if m.cfg.RegimeExitMinHours > 0 {
		return m.cfg.RegimeExitMinHours
	}
	return 4
}

func (m *Monitor) fearShieldBelow() int {
	if m.cfg.FearShieldBelow > 0 {
		return m.cfg.FearShieldBelow
	}
	return 20
}
