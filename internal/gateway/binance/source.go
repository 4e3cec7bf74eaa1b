// Package binance 基于 go-binance SDK 实现 market.Source。
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"quorum/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

type Source struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{cfg: final, client: client}, nil
}

func (s *Source) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("binance source not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = cleanSymbol(symbol)
	interval = strings.ToLower(strings.TrimSpace(interval))
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol and interval are required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:    kl.OpenTime,
			CloseTime:   kl.CloseTime,
			Open:        parseFloat(kl.Open),
			High:        parseFloat(kl.High),
			Low:         parseFloat(kl.Low),
			Close:       parseFloat(kl.Close),
			Volume:      parseFloat(kl.Volume),
			TakerBuyVol: parseFloat(kl.TakerBuyBaseAssetVolume),
			Trades:      kl.TradeNum,
		})
	}
	return out, nil
}

// FundingRate 获取最新资金费率（例如 0.0001 即 0.01%）。
func (s *Source) FundingRate(ctx context.Context, sym string) (float64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("binance source not initialized")
	}
	sym = cleanSymbol(sym)
	if sym == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	res, err := s.client.NewPremiumIndexService().Symbol(sym).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range res {
		if entry != nil && strings.EqualFold(entry.Symbol, sym) {
			return parseFloat(entry.LastFundingRate), nil
		}
	}
	if len(res) > 0 && res[0] != nil {
		return parseFloat(res[0].LastFundingRate), nil
	}
	return 0, fmt.Errorf("funding rate not available for %s", sym)
}

// OpenInterestHistory 获取 OI 历史数据。
func (s *Source) OpenInterestHistory(ctx context.Context, sym, period string, limit int) ([]market.OpenInterestPoint, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("binance source not initialized")
	}
	sym = cleanSymbol(sym)
	period = strings.ToLower(strings.TrimSpace(period))
	if sym == "" || period == "" {
		return nil, fmt.Errorf("symbol and period are required")
	}
	if limit <= 0 {
		limit = 30
	}
	if limit > 500 {
		limit = 500
	}
	stats, err := s.client.NewOpenInterestStatisticsService().Symbol(sym).Period(period).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	points := make([]market.OpenInterestPoint, 0, len(stats))
	for _, item := range stats {
		if item == nil {
			continue
		}
		points = append(points, market.OpenInterestPoint{
			Symbol:    item.Symbol,
			Sum:       parseFloat(item.SumOpenInterest),
			SumValue:  parseFloat(item.SumOpenInterestValue),
			Timestamp: item.Timestamp,
		})
	}
	return points, nil
}

// Depth 汇总盘口前 N 档两侧挂单量。
func (s *Source) Depth(ctx context.Context, sym string, limit int) (market.DepthStats, error) {
	if s == nil || s.client == nil {
		return market.DepthStats{}, fmt.Errorf("binance source not initialized")
	}
	sym = cleanSymbol(sym)
	if sym == "" {
		return market.DepthStats{}, fmt.Errorf("symbol is required")
	}
	if limit <= 0 {
		limit = 20
	}
	res, err := s.client.NewDepthService().Symbol(sym).Limit(limit).Do(ctx)
	if err != nil {
		return market.DepthStats{}, err
	}
	var stats market.DepthStats
	for _, bid := range res.Bids {
		stats.BidVolume += parseFloat(bid.Quantity)
	}
	for _, ask := range res.Asks {
		stats.AskVolume += parseFloat(ask.Quantity)
	}
	return stats, nil
}

func (s *Source) LastPrice(ctx context.Context, sym string) (float64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("binance source not initialized")
	}
	sym = cleanSymbol(sym)
	if sym == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	prices, err := s.client.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, sym) {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("price not available for %s", sym)
}

// cleanSymbol 去掉斜杠：ETH/USDT -> ETHUSDT。
func cleanSymbol(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	return strings.ReplaceAll(sym, "/", "")
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
