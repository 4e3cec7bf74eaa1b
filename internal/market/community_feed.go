package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// CrowdSignal 是社区情报源给出的方向判断，用于与链上大户信号互验。
type CrowdSignal struct {
	Direction  string  // "LONG" | "SHORT" | "NEUTRAL"
	Confidence float64 // 0..1
}

// CommunityFeed 查询社区情报服务的聚合情绪。
type CommunityFeed struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewCommunityFeed(endpoint, apiKey string, timeout time.Duration) *CommunityFeed {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommunityFeed{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled 未配置上游时返回 false，调用方跳过互验。
func (f *CommunityFeed) Enabled() bool {
	return f != nil && f.endpoint != ""
}

func (f *CommunityFeed) Fetch(ctx context.Context, symbol string) (CrowdSignal, error) {
	if !f.Enabled() {
		return CrowdSignal{}, fmt.Errorf("community feed not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	q := url.Values{}
	q.Set("symbol", symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return CrowdSignal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return CrowdSignal{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CrowdSignal{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CrowdSignal{}, err
	}
	direction := strings.ToUpper(strings.TrimSpace(gjson.GetBytes(body, "signal").String()))
	switch direction {
	case "LONG", "SHORT", "NEUTRAL":
	case "BULLISH":
		direction = "LONG"
	case "BEARISH":
		direction = "SHORT"
	default:
		return CrowdSignal{}, fmt.Errorf("unrecognized signal %q", direction)
	}
	conf := gjson.GetBytes(body, "confidence").Float()
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return CrowdSignal{Direction: direction, Confidence: conf}, nil
}
