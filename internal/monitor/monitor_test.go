package monitor

import (
	"testing"
	"time"

	"quorum/internal/config"
	"quorum/internal/regime"
	"quorum/internal/risk"
	"quorum/internal/tracker"

	"github.com/stretchr/testify/assert"
)

func testMonitor() *Monitor {
	table := risk.NewTable([]config.TierConfig{
		{Tier: 1, Symbols: []string{"BTCUSDT"}, TPPct: 5, SLPct: 2, MaxHoldHours: 72, EarlyExitHours: 12, Leverage: 8},
		{Tier: 3, Symbols: []string{"DOGEUSDT"}, TPPct: 4, SLPct: 2, MaxHoldHours: 24, EarlyExitHours: 6, Leverage: 5},
	})
	return New(nil, nil, nil, nil, config.RiskConfig{}, table, nil)
}

func longTrade() tracker.Trade {
	return tracker.Trade{
		ID: 1, Symbol: "BTCUSDT", Side: "LONG",
		EntryPrice: 100, Quantity: 10,
		StopLoss: 98, TakeProfit: 105,
		OpenedAt: time.Now(),
	}
}

func TestBracketBackstop(t *testing.T) {
	m := testMonitor()

	t.Run("long stop loss", func(t *testing.T) {
		reason, closed := m.evaluate(ruleInput{trade: longTrade(), price: 97.5, pnlPct: -2.5, regime: regime.StateNeutral, fearGreed: 50})
		assert.True(t, closed)
		assert.Equal(t, "stop_loss", reason)
	})
	t.Run("long take profit", func(t *testing.T) {
		reason, closed := m.evaluate(ruleInput{trade: longTrade(), price: 105.5, pnlPct: 5.5, peakPct: 5.5, regime: regime.StateNeutral, fearGreed: 50})
		assert.True(t, closed)
		assert.Equal(t, "take_profit", reason)
	})
	t.Run("short mirrored", func(t *testing.T) {
		tr := longTrade()
		tr.Side = "SHORT"
		tr.StopLoss, tr.TakeProfit = 102, 95
		reason, closed := m.evaluate(ruleInput{trade: tr, price: 102.5, pnlPct: -2.5, regime: regime.StateNeutral, fearGreed: 50})
		assert.True(t, closed)
		assert.Equal(t, "stop_loss", reason)
	})
}

func TestPeakFadeLock(t *testing.T) {
	m := testMonitor()
	tr := longTrade()

	// 峰值序列 [0, +1.5, +0.5]：第三次触发利润锁
	_, closed := m.evaluate(ruleInput{trade: tr, price: 100, pnlPct: 0, peakPct: 0, regime: regime.StateNeutral, fearGreed: 50})
	assert.False(t, closed)

	_, closed = m.evaluate(ruleInput{trade: tr, price: 101.5, pnlPct: 1.5, peakPct: 1.5, regime: regime.StateNeutral, fearGreed: 50})
	assert.False(t, closed)

	reason, closed := m.evaluate(ruleInput{trade: tr, price: 100.5, pnlPct: 0.5, peakPct: 1.5, regime: regime.StateNeutral, fearGreed: 50})
	assert.True(t, closed)
	assert.Contains(t, reason, "peak_fade")
}

func TestPeakReversal(t *testing.T) {
	m := testMonitor()
	tr := longTrade()
	tr.StopLoss = 0 // 让回撤穿过成本价也不碰护栏

	t.Run("faded to loss force closes", func(t *testing.T) {
		// 冲过 0.8% 再跌破成本价：论据已破，立即了结
		reason, closed := m.evaluate(ruleInput{trade: tr, price: 99.9, pnlPct: -0.1, peakPct: 1.5, regime: regime.StateNeutral, fearGreed: 50})
		assert.True(t, closed)
		assert.Contains(t, reason, "peak_reversal")

		reason, closed = m.evaluate(ruleInput{trade: tr, price: 99.8, pnlPct: -0.2, peakPct: 1.2, regime: regime.StateNeutral, fearGreed: 50})
		assert.True(t, closed)
		assert.Contains(t, reason, "peak_reversal")
	})

	t.Run("small peak rides the dip", func(t *testing.T) {
		_, closed := m.evaluate(ruleInput{trade: tr, price: 99.9, pnlPct: -0.1, peakPct: 0.5, regime: regime.StateNeutral, fearGreed: 50})
		assert.False(t, closed)
	})

	t.Run("still in profit is the profit lock's business", func(t *testing.T) {
		reason, closed := m.evaluate(ruleInput{trade: tr, price: 100.5, pnlPct: 0.5, peakPct: 1.5, regime: regime.StateNeutral, fearGreed: 50})
		assert.True(t, closed)
		assert.Contains(t, reason, "peak_fade")
	})
}

func TestTierGuard(t *testing.T) {
	m := testMonitor()
	tr := longTrade()
	tr.Symbol = "DOGEUSDT"
	tr.StopLoss, tr.TakeProfit = 0, 0

	// 冲高 2.2% 后打回成本线以下：利润锁管不到亏损仓，由层级保护接手
	reason, closed := m.evaluate(ruleInput{trade: tr, price: 99.8, pnlPct: -0.2, peakPct: 2.2, regime: regime.StateNeutral, fearGreed: 50})
	assert.True(t, closed)
	assert.Contains(t, reason, "tier_guard")
}

func TestMaxHold(t *testing.T) {
	m := testMonitor()

	t.Run("loser closes at tier limit", func(t *testing.T) {
		reason, closed := m.evaluate(ruleInput{trade: longTrade(), price: 99.5, pnlPct: -0.5, heldHours: 73, regime: regime.StateNeutral, fearGreed: 50})
		assert.True(t, closed)
		assert.Contains(t, reason, "max_hold")
	})
	t.Run("winner gets grace", func(t *testing.T) {
		_, closed := m.evaluate(ruleInput{trade: longTrade(), price: 100.5, pnlPct: 0.5, peakPct: 0.5, heldHours: 73, regime: regime.StateNeutral, fearGreed: 50})
		assert.False(t, closed)

		reason, closed := m.evaluate(ruleInput{trade: longTrade(), price: 100.5, pnlPct: 0.5, peakPct: 0.5, heldHours: 85, regime: regime.StateNeutral, fearGreed: 50})
		assert.True(t, closed)
		assert.Contains(t, reason, "max_hold")
	})
}

func TestEarlyExit(t *testing.T) {
	m := testMonitor()
	tr := longTrade()
	tr.StopLoss = 0

	t.Run("persistent loser past early window", func(t *testing.T) {
		reason, closed := m.evaluate(ruleInput{trade: tr, price: 98.3, pnlPct: -1.7, heldHours: 13, regime: regime.StateNeutral, fearGreed: 50})
		assert.True(t, closed)
		assert.Contains(t, reason, "early_exit")
	})
	t.Run("small loss rides on", func(t *testing.T) {
		_, closed := m.evaluate(ruleInput{trade: tr, price: 99, pnlPct: -1.0, heldHours: 13, regime: regime.StateNeutral, fearGreed: 50})
		assert.False(t, closed)
	})
}

func TestForceStop(t *testing.T) {
	m := testMonitor()
	tr := longTrade()
	tr.StopLoss = 0

	reason, closed := m.evaluate(ruleInput{trade: tr, price: 95.5, pnlPct: -4.5, heldHours: 1, regime: regime.StateNeutral, fearGreed: 50})
	assert.True(t, closed)
	assert.Contains(t, reason, "force_stop")
}

func TestRegimeExit(t *testing.T) {
	m := testMonitor()
	tr := longTrade()
	tr.StopLoss = 0

	t.Run("adverse regime loss after minimum hold", func(t *testing.T) {
		reason, closed := m.evaluate(ruleInput{
			trade: tr, price: 99.8, pnlPct: -0.2, pnlUSD: -16,
			heldHours: 5, regime: regime.StateBearish, fearGreed: 50,
		})
		assert.True(t, closed)
		assert.Contains(t, reason, "regime_exit")
	})
	t.Run("too fresh to judge", func(t *testing.T) {
		_, closed := m.evaluate(ruleInput{
			trade: tr, price: 99.8, pnlPct: -0.2, pnlUSD: -16,
			heldHours: 3, regime: regime.StateBearish, fearGreed: 50,
		})
		assert.False(t, closed)
	})
	t.Run("with trend stays", func(t *testing.T) {
		_, closed := m.evaluate(ruleInput{
			trade: tr, price: 99.8, pnlPct: -0.2, pnlUSD: -16,
			heldHours: 5, regime: regime.StateBullish, fearGreed: 50,
		})
		assert.False(t, closed)
	})
	t.Run("rotation exit when the other side is paying", func(t *testing.T) {
		reason, closed := m.evaluate(ruleInput{
			trade: tr, price: 99.9, pnlPct: -0.1, pnlUSD: -13,
			heldHours: 5, regime: regime.StateBearish, fearGreed: 50, oppositeWinning: true,
		})
		assert.True(t, closed)
		assert.Contains(t, reason, "rotate")

		_, closed = m.evaluate(ruleInput{
			trade: tr, price: 99.9, pnlPct: -0.1, pnlUSD: -13,
			heldHours: 5, regime: regime.StateBearish, fearGreed: 50, oppositeWinning: false,
		})
		assert.False(t, closed)
	})
}
