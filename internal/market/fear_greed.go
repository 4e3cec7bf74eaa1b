package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"

	"github.com/tidwall/gjson"
)

const (
	fearGreedEndpoint       = "https://api.alternative.me/fng/?limit=5"
	fearGreedErrorBackoff   = 2 * time.Minute
	fearGreedFallbackUpdate = 12 * time.Hour
	// 指数缺席时按中性 50 处理，避免把“取不到数”当成极端情绪。
	fearGreedNeutral = 50
)

type FearGreedPoint struct {
	Value          int
	Classification string
	Timestamp      time.Time
}

type FearGreedData struct {
	Value          int
	Classification string
	History        []FearGreedPoint
	LastUpdate     time.Time
	Error          string
}

// FearGreedService 轮询恐慌贪婪指数，带 TTL 与失败退避。
type FearGreedService struct {
	endpoint string
	client   *http.Client

	mu         sync.RWMutex
	data       FearGreedData
	nextUpdate time.Time
	refreshMu  sync.Mutex
}

func NewFearGreedService() *FearGreedService {
	return &FearGreedService{
		endpoint: fearGreedEndpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Get 返回最近一次成功数据，未初始化时 ok=false。
func (s *FearGreedService) Get() (FearGreedData, bool) {
	if s == nil {
		return FearGreedData{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, !s.data.LastUpdate.IsZero() && s.data.Error == ""
}

// Value 返回当前指数值，取不到时返回中性 50。
func (s *FearGreedService) Value() int {
	data, ok := s.Get()
	if !ok {
		return fearGreedNeutral
	}
	return data.Value
}

// RefreshIfStale 双重检查后刷新，多个调用方并发进入只打一次上游。
func (s *FearGreedService) RefreshIfStale(ctx context.Context) {
	if s == nil {
		return
	}
	if s.fresh() {
		return
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.fresh() {
		return
	}
	if err := s.refresh(ctx); err != nil {
		logger.Warnf("Fear & Greed 刷新失败: %v", err)
	}
}

func (s *FearGreedService) fresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.data.LastUpdate.IsZero() && !s.nextUpdate.IsZero() && time.Now().Before(s.nextUpdate)
}

func (s *FearGreedService) refresh(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("fear & greed service not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		s.setError(err)
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.setError(err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		s.setError(err)
		return err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		s.setError(err)
		return err
	}
	if apiErr := gjson.GetBytes(body, "metadata.error"); apiErr.Exists() && apiErr.Type != gjson.Null {
		err := fmt.Errorf("api error: %s", apiErr.String())
		s.setError(err)
		return err
	}
	items := gjson.GetBytes(body, "data").Array()
	points := make([]FearGreedPoint, 0, len(items))
	for _, item := range items {
		value, convErr := strconv.Atoi(strings.TrimSpace(item.Get("value").String()))
		if convErr != nil {
			continue
		}
		var ts time.Time
		if sec := item.Get("timestamp").Int(); sec > 0 {
			ts = time.Unix(sec, 0).UTC()
		}
		points = append(points, FearGreedPoint{
			Value:          value,
			Classification: strings.TrimSpace(item.Get("value_classification").String()),
			Timestamp:      ts,
		})
	}
	if len(points) == 0 {
		err := fmt.Errorf("api data empty")
		s.setError(err)
		return err
	}

	now := time.Now()
	next := now.Add(fearGreedFallbackUpdate)
	if secs := gjson.GetBytes(body, "data.0.time_until_update").Int(); secs > 0 {
		next = now.Add(time.Duration(secs) * time.Second)
	}
	latest := points[0]
	s.setData(FearGreedData{
		Value:          latest.Value,
		Classification: latest.Classification,
		History:        points,
		LastUpdate:     now,
	}, next)
	return nil
}

func (s *FearGreedService) setError(err error) {
	if s == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	now := time.Now()
	s.setData(FearGreedData{LastUpdate: now, Error: msg}, now.Add(fearGreedErrorBackoff))
}

func (s *FearGreedService) setData(data FearGreedData, next time.Time) {
	s.mu.Lock()
	s.data = data
	s.nextUpdate = next
	s.mu.Unlock()
}
