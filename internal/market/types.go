package market

import "context"

type Candle struct {
	OpenTime     int64   `json:"open_time"`
	CloseTime    int64   `json:"close_time"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
	TakerBuyVol  float64 `json:"taker_buy_vol"`
	Trades       int64   `json:"trades"`
}

type OpenInterestPoint struct {
	Symbol    string  `json:"symbol"`
	Sum       float64 `json:"sumOpenInterest"`
	SumValue  float64 `json:"sumOpenInterestValue"`
	Timestamp int64   `json:"timestamp"`
}

// DepthStats 汇总盘口两侧的挂单量。
type DepthStats struct {
	BidVolume float64
	AskVolume float64
}

// Ratio 返回买/卖盘深度比，卖盘为零时返回 0。
func (d DepthStats) Ratio() float64 {
	if d.AskVolume <= 0 {
		return 0
	}
	return d.BidVolume / d.AskVolume
}

// Source 是行情数据源的抽象，实盘由 gateway/binance 实现。
type Source interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	FundingRate(ctx context.Context, symbol string) (float64, error)
	OpenInterestHistory(ctx context.Context, symbol, period string, limit int) ([]OpenInterestPoint, error)
	Depth(ctx context.Context, symbol string, limit int) (DepthStats, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// PairSnapshot 是单个交易对在一个决策周期内采集到的全部市场数据。
// 人格只读取快照，不自己发请求，保证一轮内的数据一致性。
type PairSnapshot struct {
	Symbol      string
	Price       float64
	Candles1h   []Candle
	TakerRatio  float64 // taker 买量 / taker 卖量
	DepthRatio  float64 // 买盘深度 / 卖盘深度
	FundingRate float64
}

// ChangePct 计算最近 n 根收盘价的涨跌幅（百分数）。
func ChangePct(candles []Candle, n int) float64 {
	if n <= 0 || len(candles) <= n {
		return 0
	}
	last := candles[len(candles)-1].Close
	prev := candles[len(candles)-1-n].Close
	if prev == 0 {
		return 0
	}
	return (last - prev) / prev * 100
}

// TakerRatioFrom 从 K 线的 taker 买量字段推导买卖比。
func TakerRatioFrom(candles []Candle) float64 {
	var buy, total float64
	for _, c := range candles {
		buy += c.TakerBuyVol
		total += c.Volume
	}
	sell := total - buy
	if sell <= 0 {
		return 0
	}
	return buy / sell
}
