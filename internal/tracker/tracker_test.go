package tracker

import (
	"path/filepath"
	"testing"
	"time"

	"quorum/internal/gateway/exchange"
	"quorum/internal/persona"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestTradeLifecycle(t *testing.T) {
	tr := newTestTracker(t)

	id, err := tr.RecordOpen(Trade{
		Symbol:     "BTCUSDT",
		Side:       "LONG",
		EntryPrice: 60000,
		Quantity:   0.05,
		MarginUSD:  500,
		Leverage:   8,
		StopLoss:   58800,
		TakeProfit: 63000,
		Tier:       "T1",
		Votes: []persona.Vote{
			persona.NewVote("whale", persona.SignalLong, 0.8, "inflow"),
		},
	})
	require.NoError(t, err)

	open, found, err := tr.OpenTrade("btcusdt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, open.ID)
	assert.Len(t, open.Votes, 1)
	assert.Equal(t, "whale", open.Votes[0].Persona)

	require.NoError(t, tr.RecordClose(id, 61000, 50, 1.67, "take_profit", time.Now()))

	_, found, err = tr.OpenTrade("BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found)

	closed, err := tr.RecentClosed(5)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "take_profit", closed[0].ExitReason)
	assert.True(t, closed[0].Closed)
}

func TestRaisePeakIsMonotone(t *testing.T) {
	tr := newTestTracker(t)
	id, err := tr.RecordOpen(Trade{Symbol: "SOLUSDT", Side: "SHORT", EntryPrice: 150})
	require.NoError(t, err)

	require.NoError(t, tr.RaisePeak(id, 1.5))
	require.NoError(t, tr.RaisePeak(id, 0.5)) // 不允许回落
	require.NoError(t, tr.RaisePeak(id, 2.0))

	open, _, err := tr.OpenTrade("SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2.0, open.PeakPnLPct)
}

func TestCooldown(t *testing.T) {
	tr := newTestTracker(t)

	_, active := tr.CooldownUntil("DOGEUSDT")
	assert.False(t, active)

	until := time.Now().Add(6 * time.Hour)
	require.NoError(t, tr.SetCooldown("DOGEUSDT", until, "loss"))
	got, active := tr.CooldownUntil("DOGEUSDT")
	assert.True(t, active)
	assert.WithinDuration(t, until, got, time.Second)

	// 只能延长不能缩短
	require.NoError(t, tr.SetCooldown("DOGEUSDT", time.Now().Add(time.Hour), "loss again"))
	got, _ = tr.CooldownUntil("DOGEUSDT")
	assert.WithinDuration(t, until, got, time.Second)

	longer := time.Now().Add(12 * time.Hour)
	require.NoError(t, tr.SetCooldown("DOGEUSDT", longer, "bigger loss"))
	got, _ = tr.CooldownUntil("DOGEUSDT")
	assert.WithinDuration(t, longer, got, time.Second)
}

func TestReconcile(t *testing.T) {
	tr := newTestTracker(t)

	// 账本里有 BTC，但交易所只有 ETH
	_, err := tr.RecordOpen(Trade{Symbol: "BTCUSDT", Side: "LONG", EntryPrice: 60000})
	require.NoError(t, err)

	live := []exchange.Position{
		{Symbol: "ETHUSDT", Side: "SHORT", Size: 1.2, EntryPrice: 3000, Leverage: 8},
	}
	require.NoError(t, tr.Reconcile(live))

	// BTC 孤儿被关闭
	_, found, err := tr.OpenTrade("BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found)

	// ETH 被补登
	eth, found, err := tr.OpenTrade("ETHUSDT")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "SHORT", eth.Side)
	assert.Equal(t, "reconciled", eth.OrderID)

	closed, err := tr.RecentClosed(5)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "reconcile_orphan", closed[0].ExitReason)
}

func TestReconcileSideFlip(t *testing.T) {
	tr := newTestTracker(t)

	// 账本记的是多单，交易所上已经被反手成空单
	_, err := tr.RecordOpen(Trade{Symbol: "BTCUSDT", Side: "LONG", EntryPrice: 60000})
	require.NoError(t, err)

	live := []exchange.Position{
		{Symbol: "BTCUSDT", Side: "SHORT", Size: 0.1, EntryPrice: 61000, Leverage: 8},
	}
	require.NoError(t, tr.Reconcile(live))

	// 旧多单按孤儿关闭，空单按交易所补登
	open, found, err := tr.OpenTrade("BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "SHORT", open.Side)
	assert.Equal(t, "reconciled", open.OrderID)

	closed, err := tr.RecentClosed(5)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "LONG", closed[0].Side)
	assert.Equal(t, "reconcile_orphan", closed[0].ExitReason)
}
