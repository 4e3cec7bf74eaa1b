package persona

import (
	"context"
	"errors"
	"testing"

	"quorum/internal/market"

	"github.com/stretchr/testify/assert"
)

func TestNewVote(t *testing.T) {
	t.Run("clamps confidence", func(t *testing.T) {
		v := NewVote("flow", SignalLong, 1.4, "x")
		assert.Equal(t, 1.0, v.Confidence)
		v = NewVote("flow", SignalShort, -0.2, "x")
		assert.Equal(t, 0.0, v.Confidence)
	})
	t.Run("neutral never reaches the trading floor", func(t *testing.T) {
		v := NewVote("whale", SignalNeutral, 0.95, "balanced")
		assert.Less(t, v.Confidence, 0.80)
	})
	t.Run("invalid signal degrades to neutral", func(t *testing.T) {
		v := NewVote("whale", Signal("SIDEWAYS"), 0.9, "???")
		assert.Equal(t, SignalNeutral, v.Signal)
		assert.Contains(t, v.Reasoning, "invalid signal")
	})
}

type panicPersona struct{}

func (panicPersona) Name() string { return "panicky" }
func (panicPersona) Analyze(context.Context, market.PairSnapshot) (Vote, error) {
	panic("boom")
}

type failingPersona struct{}

func (failingPersona) Name() string { return "failing" }
func (failingPersona) Analyze(context.Context, market.PairSnapshot) (Vote, error) {
	return Vote{}, errors.New("upstream down")
}

func TestSafeAnalyze(t *testing.T) {
	snap := market.PairSnapshot{Symbol: "BTCUSDT"}

	t.Run("panic becomes neutral fallback", func(t *testing.T) {
		v := SafeAnalyze(context.Background(), panicPersona{}, snap)
		assert.Equal(t, SignalNeutral, v.Signal)
		assert.Equal(t, 0.0, v.Confidence)
		assert.Contains(t, v.Reasoning, "panic")
	})
	t.Run("error becomes neutral fallback with cause", func(t *testing.T) {
		v := SafeAnalyze(context.Background(), failingPersona{}, snap)
		assert.Equal(t, SignalNeutral, v.Signal)
		assert.Contains(t, v.Reasoning, "upstream down")
	})
}

func TestFlowPersona(t *testing.T) {
	flow := NewFlow()
	analyze := func(snap market.PairSnapshot) Vote {
		v, err := flow.Analyze(context.Background(), snap)
		assert.NoError(t, err)
		return v
	}

	t.Run("extreme sell pressure", func(t *testing.T) {
		v := analyze(market.PairSnapshot{Symbol: "BTCUSDT", TakerRatio: 0.25, DepthRatio: 1.5})
		assert.Equal(t, SignalShort, v.Signal)
		assert.Equal(t, 0.85, v.Confidence)
	})
	t.Run("extreme buy pressure", func(t *testing.T) {
		v := analyze(market.PairSnapshot{Symbol: "BTCUSDT", TakerRatio: 3.4})
		assert.Equal(t, SignalLong, v.Signal)
		assert.Equal(t, 0.85, v.Confidence)
	})
	t.Run("moderate sell with thin bids", func(t *testing.T) {
		v := analyze(market.PairSnapshot{Symbol: "BTCUSDT", TakerRatio: 0.45, DepthRatio: 0.6})
		assert.Equal(t, SignalShort, v.Signal)
		assert.InDelta(t, 0.85, v.Confidence, 1e-9) // 0.70+0.30=1.00 封顶 0.85
	})
	t.Run("mild buy plus deep bids", func(t *testing.T) {
		v := analyze(market.PairSnapshot{Symbol: "BTCUSDT", TakerRatio: 1.3, DepthRatio: 1.5})
		assert.Equal(t, SignalLong, v.Signal)
		assert.InDelta(t, 0.85, v.Confidence, 1e-9) // 0.50+0.40 封顶 0.85
	})
	t.Run("balanced flow stays neutral", func(t *testing.T) {
		v := analyze(market.PairSnapshot{Symbol: "BTCUSDT", TakerRatio: 1.0, DepthRatio: 1.0})
		assert.Equal(t, SignalNeutral, v.Signal)
	})
	t.Run("crowded longs punished by funding", func(t *testing.T) {
		v := analyze(market.PairSnapshot{Symbol: "BTCUSDT", TakerRatio: 0.7, FundingRate: 0.0008})
		assert.Equal(t, SignalShort, v.Signal)
		assert.InDelta(t, 0.80, v.Confidence, 1e-9)
	})
}

func TestTechnicalPersona(t *testing.T) {
	tech := NewTechnical()

	t.Run("too few candles errors", func(t *testing.T) {
		_, err := tech.Analyze(context.Background(), market.PairSnapshot{
			Symbol:    "BTCUSDT",
			Candles1h: make([]market.Candle, 10),
		})
		assert.Error(t, err)
	})

	t.Run("steady uptrend votes long", func(t *testing.T) {
		candles := make([]market.Candle, 60)
		price := 100.0
		for i := range candles {
			price *= 1.01
			candles[i] = market.Candle{Close: price}
		}
		v, err := tech.Analyze(context.Background(), market.PairSnapshot{
			Symbol:    "BTCUSDT",
			Candles1h: candles,
		})
		assert.NoError(t, err)
		assert.Equal(t, SignalLong, v.Signal)
		assert.LessOrEqual(t, v.Confidence, 0.80)
	})
}
