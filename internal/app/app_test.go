package app

import (
	"context"
	"path/filepath"
	"testing"

	"quorum/internal/config"
	"quorum/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	candles := make([]market.Candle, limit)
	for i := range candles {
		candles[i] = market.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, TakerBuyVol: 5}
	}
	return candles, nil
}

func (stubSource) FundingRate(ctx context.Context, symbol string) (float64, error) { return 0, nil }

func (stubSource) OpenInterestHistory(ctx context.Context, symbol, period string, limit int) ([]market.OpenInterestPoint, error) {
	return nil, nil
}

func (stubSource) Depth(ctx context.Context, symbol string, limit int) (market.DepthStats, error) {
	return market.DepthStats{BidVolume: 1, AskVolume: 1}, nil
}

func (stubSource) LastPrice(ctx context.Context, symbol string) (float64, error) { return 100, nil }

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		App:      config.AppConfig{LogLevel: "error", HTTPAddr: ":0"},
		Exchange: config.ExchangeConfig{Mode: "paper", PaperEquity: 10000},
		Market:   config.MarketConfig{ReferenceSymbol: "BTCUSDT", AltBasket: []string{"SOLUSDT"}},
		Engine: config.EngineConfig{
			CycleMinutes: 30, MonitorSeconds: 120,
			Pairs: []string{"BTCUSDT"}, MaxPositions: 3, ConcentrationCap: 2,
		},
		Tiers: []config.TierConfig{
			{Tier: 1, Symbols: []string{"BTCUSDT"}, TPPct: 5, SLPct: 2, MaxHoldHours: 72, EarlyExitHours: 12, CooldownHours: 6, Leverage: 8},
		},
		Store: config.StoreConfig{
			DecisionLogPath: filepath.Join(dir, "decisions.db"),
			TradeDBPath:     filepath.Join(dir, "trades.db"),
		},
	}
}

func TestBuildPaperApp(t *testing.T) {
	cfg := testConfig(t)
	b := NewAppBuilder(cfg, WithSource(stubSource{}))
	app, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	assert.NotNil(t, app.engine)
	assert.NotNil(t, app.monitor)
	assert.NotNil(t, app.server)
	assert.NotNil(t, app.tracker)
	assert.NotNil(t, app.declog)
}

func TestBuildLiveModeRequiresCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exchange.Mode = "live"
	cfg.Exchange.APIKey, cfg.Exchange.APISecret = "", ""
	t.Setenv("QUORUM_EXCHANGE_KEY", "")
	t.Setenv("QUORUM_EXCHANGE_SECRET", "")

	_, err := NewAppBuilder(cfg, WithSource(stubSource{})).Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestBuildUnknownExchangeMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exchange.Mode = "sandbox"
	_, err := NewAppBuilder(cfg, WithSource(stubSource{})).Build(context.Background())
	require.Error(t, err)
}
