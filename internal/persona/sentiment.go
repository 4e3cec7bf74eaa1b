package persona

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"quorum/internal/gateway/provider"
	"quorum/internal/logger"
	"quorum/internal/market"
)

const (
	sentimentCacheTTL   = 10 * time.Minute
	sentimentRetryDelay = 3 * time.Second
)

const sentimentSystemPrompt = `你是加密货币永续合约的情绪分析员。
根据给出的行情摘要判断短线情绪方向。
只输出 JSON：{"stance":"BULLISH|BEARISH|NEUTRAL","confidence":0到1,"rationale":"一句话理由"}`

// Sentiment 调用市场评论服务解读盘面情绪。
// 上游未配置时退化为恐慌贪婪指数的逆向读数。
type Sentiment struct {
	client     *provider.CommentaryClient
	fearGreed  *market.FearGreedService
	cacheTTL   time.Duration
	retryDelay time.Duration

	mu    sync.Mutex
	cache map[string]cachedVote
}

func NewSentiment(client *provider.CommentaryClient, fearGreed *market.FearGreedService,
	cacheTTL, retryDelay time.Duration) *Sentiment {
	if cacheTTL <= 0 {
		cacheTTL = sentimentCacheTTL
	}
	if retryDelay <= 0 {
		retryDelay = sentimentRetryDelay
	}
	return &Sentiment{
		client:     client,
		fearGreed:  fearGreed,
		cacheTTL:   cacheTTL,
		retryDelay: retryDelay,
		cache:      make(map[string]cachedVote),
	}
}

func (s *Sentiment) Name() string { return "sentiment" }

func (s *Sentiment) Analyze(ctx context.Context, snap market.PairSnapshot) (Vote, error) {
	s.mu.Lock()
	if entry, ok := s.cache[snap.Symbol]; ok && time.Since(entry.at) < s.cacheTTL {
		s.mu.Unlock()
		return entry.vote, nil
	}
	s.mu.Unlock()

	vote := s.evaluate(ctx, snap)
	s.mu.Lock()
	s.cache[snap.Symbol] = cachedVote{vote: vote, at: time.Now()}
	s.mu.Unlock()
	return vote, nil
}

func (s *Sentiment) evaluate(ctx context.Context, snap market.PairSnapshot) Vote {
	if !s.client.Enabled() {
		return s.indexOnly()
	}
	reply, err := s.query(ctx, snap)
	if err != nil {
		logger.Warnf("情绪评论失败 (%s)，降级中性: %v", snap.Symbol, err)
		return NewVote(s.Name(), SignalNeutral, 0.30, "commentary unavailable: "+err.Error())
	}
	signal := SignalNeutral
	switch reply.Stance {
	case "BULLISH":
		signal = SignalLong
	case "BEARISH":
		signal = SignalShort
	}
	reasoning := reply.Rationale
	if reasoning == "" {
		reasoning = "commentary stance " + reply.Stance
	}
	return NewVote(s.Name(), signal, reply.Confidence, reasoning)
}

// query 失败后固定延迟重试一次，两次都失败才降级。
func (s *Sentiment) query(ctx context.Context, snap market.PairSnapshot) (provider.CommentaryReply, error) {
	prompt := s.buildPrompt(snap)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return provider.CommentaryReply{}, ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
		raw, err := s.client.Call(ctx, sentimentSystemPrompt, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		reply, err := provider.ParseReply(snap.Symbol, raw)
		if err != nil {
			lastErr = err
			continue
		}
		return reply, nil
	}
	return provider.CommentaryReply{}, lastErr
}

func (s *Sentiment) buildPrompt(snap market.PairSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "交易对: %s\n", snap.Symbol)
	fmt.Fprintf(&b, "最新价: %.4f\n", snap.Price)
	fmt.Fprintf(&b, "1h 涨跌: %.2f%%\n", market.ChangePct(snap.Candles1h, 1))
	fmt.Fprintf(&b, "24h 涨跌: %.2f%%\n", market.ChangePct(snap.Candles1h, 24))
	fmt.Fprintf(&b, "taker 买卖比: %.2f\n", snap.TakerRatio)
	fmt.Fprintf(&b, "资金费率: %.5f\n", snap.FundingRate)
	if s.fearGreed != nil {
		fmt.Fprintf(&b, "恐慌贪婪指数: %d\n", s.fearGreed.Value())
	}
	return b.String()
}

// indexOnly 只用恐慌贪婪指数做逆向判断。
func (s *Sentiment) indexOnly() Vote {
	value := 50
	if s.fearGreed != nil {
		value = s.fearGreed.Value()
	}
	switch {
	case value <= 20:
		return NewVote(s.Name(), SignalLong, 0.50, fmt.Sprintf("极度恐慌 %d，逆向偏多", value))
	case value >= 80:
		return NewVote(s.Name(), SignalShort, 0.50, fmt.Sprintf("极度贪婪 %d，逆向偏空", value))
	default:
		return NewVote(s.Name(), SignalNeutral, 0.30, fmt.Sprintf("指数 %d，无明显情绪", value))
	}
}
