package persona

import (
	"context"
	"fmt"
	"math"
	"strings"

	"quorum/internal/market"

	"github.com/markcheno/go-talib"
)

const technicalMinCandles = 50

// Technical 基于 1h K 线做经典指标分析：RSI14、SMA20/50、5 根动量。
type Technical struct{}

func NewTechnical() *Technical { return &Technical{} }

func (t *Technical) Name() string { return "technical" }

func (t *Technical) Analyze(_ context.Context, snap market.PairSnapshot) (Vote, error) {
	candles := snap.Candles1h
	if len(candles) < technicalMinCandles {
		return Vote{}, fmt.Errorf("need %d candles for %s, got %d", technicalMinCandles, snap.Symbol, len(candles))
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	rsiSeries := talib.Rsi(closes, 14)
	rsi := rsiSeries[len(rsiSeries)-1]
	sma20 := talib.Sma(closes, 20)
	sma50 := talib.Sma(closes, 50)
	trendUp := sma20[len(sma20)-1] > sma50[len(sma50)-1]
	momentum := market.ChangePct(candles, 5)

	var long, short float64
	var reasons []string
	switch {
	case rsi < 30:
		long += 0.70
		reasons = append(reasons, fmt.Sprintf("RSI %.1f 超卖", rsi))
	case rsi > 70:
		short += 0.70
		reasons = append(reasons, fmt.Sprintf("RSI %.1f 超买", rsi))
	}
	if trendUp {
		long += 0.50
		reasons = append(reasons, "SMA20 上穿 SMA50")
	} else {
		short += 0.50
		reasons = append(reasons, "SMA20 位于 SMA50 下方")
	}
	if momentum > 2 {
		long += 0.40
		reasons = append(reasons, fmt.Sprintf("5 根动量 +%.2f%%", momentum))
	} else if momentum < -2 {
		short += 0.40
		reasons = append(reasons, fmt.Sprintf("5 根动量 %.2f%%", momentum))
	}

	signal := SignalNeutral
	score := 0.0
	switch {
	case long > short && long > 0.4:
		signal = SignalLong
		score = long
	case short > long && short > 0.4:
		signal = SignalShort
		score = short
	}
	if signal == SignalNeutral {
		return NewVote(t.Name(), SignalNeutral, 0.30, "指标互相抵消"), nil
	}
	return NewVote(t.Name(), signal, math.Min(0.80, score), strings.Join(reasons, "；")), nil
}
