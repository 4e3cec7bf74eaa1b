package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"
	"quorum/internal/pkg/circuit"

	"github.com/tidwall/gjson"
)

// WhaleFeed 查询被跟踪头部钱包最近 24h 的链上转账净流向。
// 上游是 etherscan 风格的账户接口，限速严格，结果按交易对缓存。
type WhaleFeed struct {
	endpoint string
	apiKey   string
	wallets  []string
	ttl      time.Duration
	client   *http.Client
	breaker  *circuit.Breaker

	mu    sync.RWMutex
	cache map[string]whaleFlowEntry
}

type whaleFlowEntry struct {
	netFlow   float64
	fetchedAt time.Time
}

func NewWhaleFeed(endpoint, apiKey string, wallets []string, ttl, timeout time.Duration) *WhaleFeed {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cleaned := make([]string, 0, len(wallets))
	for _, w := range wallets {
		if w = strings.TrimSpace(w); w != "" {
			cleaned = append(cleaned, w)
		}
	}
	return &WhaleFeed{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiKey:   apiKey,
		wallets:  cleaned,
		ttl:      ttl,
		client:   &http.Client{Timeout: timeout},
		breaker:  circuit.NewBreaker("whale-feed", 3, 2*time.Minute),
	}
}

// NetFlow 返回 base 资产的净流入量（正=流入交易所外钱包，偏多）。
func (f *WhaleFeed) NetFlow(ctx context.Context, symbol string) (float64, error) {
	if f == nil {
		return 0, fmt.Errorf("whale feed not initialized")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	f.mu.RLock()
	entry, ok := f.cache[symbol]
	f.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < f.ttl {
		return entry.netFlow, nil
	}
	if !f.breaker.Allow() {
		if ok {
			return entry.netFlow, nil
		}
		return 0, fmt.Errorf("whale feed circuit open")
	}
	flow, err := f.fetchNetFlow(ctx, baseAsset(symbol))
	if err != nil {
		f.breaker.RecordFailure()
		if ok {
			logger.Warnf("whale feed 失败，沿用缓存 (%s): %v", symbol, err)
			return entry.netFlow, nil
		}
		return 0, err
	}
	f.breaker.RecordSuccess()
	f.mu.Lock()
	if f.cache == nil {
		f.cache = make(map[string]whaleFlowEntry)
	}
	f.cache[symbol] = whaleFlowEntry{netFlow: flow, fetchedAt: time.Now()}
	f.mu.Unlock()
	return flow, nil
}

func (f *WhaleFeed) fetchNetFlow(ctx context.Context, asset string) (float64, error) {
	if len(f.wallets) == 0 {
		return 0, fmt.Errorf("no wallets configured")
	}
	since := time.Now().Add(-24 * time.Hour).Unix()
	var net float64
	for _, wallet := range f.wallets {
		body, err := f.fetchTransfers(ctx, wallet)
		if err != nil {
			return 0, fmt.Errorf("wallet %s: %w", shortAddr(wallet), err)
		}
		if status := gjson.GetBytes(body, "status").String(); status != "" && status != "1" {
			msg := gjson.GetBytes(body, "message").String()
			// "No transactions found" 不算错误
			if !strings.Contains(strings.ToLower(msg), "no transactions") {
				return 0, fmt.Errorf("wallet %s: api status %s (%s)", shortAddr(wallet), status, msg)
			}
			continue
		}
		walletLower := strings.ToLower(wallet)
		for _, tx := range gjson.GetBytes(body, "result").Array() {
			if tx.Get("timeStamp").Int() < since {
				continue
			}
			if !strings.EqualFold(tx.Get("tokenSymbol").String(), asset) {
				continue
			}
			decimals := tx.Get("tokenDecimal").Int()
			if decimals <= 0 || decimals > 30 {
				continue
			}
			value := tx.Get("value").Float()
			for i := int64(0); i < decimals; i++ {
				value /= 10
			}
			if strings.ToLower(tx.Get("to").String()) == walletLower {
				net += value
			} else {
				net -= value
			}
		}
	}
	return net, nil
}

func (f *WhaleFeed) fetchTransfers(ctx context.Context, wallet string) ([]byte, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("address", wallet)
	q.Set("sort", "desc")
	if f.apiKey != "" {
		q.Set("apikey", f.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

func baseAsset(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "BUSD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
