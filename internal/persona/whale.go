package persona

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"quorum/internal/logger"
	"quorum/internal/market"
)

const (
	whaleCacheTTL = 5 * time.Minute
	// 24h 净流向阈值，单位为 base 资产数量
	whaleStrongFlow = 500.0
	whaleMildFlow   = 100.0
)

// Whale 跟踪头部钱包的链上净流向，并用社区情绪做互验。
type Whale struct {
	feed      *market.WhaleFeed
	community *market.CommunityFeed

	mu    sync.Mutex
	cache map[string]cachedVote
}

type cachedVote struct {
	vote Vote
	at   time.Time
}

func NewWhale(feed *market.WhaleFeed, community *market.CommunityFeed) *Whale {
	return &Whale{
		feed:      feed,
		community: community,
		cache:     make(map[string]cachedVote),
	}
}

func (w *Whale) Name() string { return "whale" }

func (w *Whale) Analyze(ctx context.Context, snap market.PairSnapshot) (Vote, error) {
	w.mu.Lock()
	if entry, ok := w.cache[snap.Symbol]; ok && time.Since(entry.at) < whaleCacheTTL {
		w.mu.Unlock()
		return entry.vote, nil
	}
	w.mu.Unlock()

	net, err := w.feed.NetFlow(ctx, snap.Symbol)
	if err != nil {
		return Vote{}, fmt.Errorf("whale net flow: %w", err)
	}
	vote := w.classify(net)
	vote = w.reconcile(ctx, snap.Symbol, vote)

	w.mu.Lock()
	w.cache[snap.Symbol] = cachedVote{vote: vote, at: time.Now()}
	w.mu.Unlock()
	return vote, nil
}

func (w *Whale) classify(net float64) Vote {
	abs := math.Abs(net)
	signal := SignalLong
	if net < 0 {
		signal = SignalShort
	}
	switch {
	case abs > whaleStrongFlow:
		conf := math.Min(0.85, 0.5+abs/5000)
		return NewVote(w.Name(), signal, conf,
			fmt.Sprintf("强净流向 %.1f，大户筹码在移动", net))
	case abs > whaleMildFlow:
		return NewVote(w.Name(), signal, 0.55,
			fmt.Sprintf("温和净流向 %.1f", net))
	default:
		return NewVote(w.Name(), SignalNeutral, 0.40, "balanced flows")
	}
}

// reconcile 用社区情绪互验：同向小幅加成，反向小幅降权。
func (w *Whale) reconcile(ctx context.Context, symbol string, vote Vote) Vote {
	if !w.community.Enabled() || vote.Signal == SignalNeutral {
		return vote
	}
	crowd, err := w.community.Fetch(ctx, symbol)
	if err != nil {
		logger.Debugf("社区情绪获取失败 (%s)，跳过互验: %v", symbol, err)
		return vote
	}
	switch Signal(crowd.Direction) {
	case vote.Signal:
		boost := math.Min(0.10, (crowd.Confidence-0.5)*0.2)
		if boost > 0 {
			vote.Confidence = math.Min(0.85, vote.Confidence+boost)
			vote.Reasoning += fmt.Sprintf("；社区同向(%.2f)加成", crowd.Confidence)
		}
	case vote.Signal.Opposite():
		vote.Confidence = math.Max(0.40, vote.Confidence-0.05)
		vote.Reasoning += "；社区反向，降权"
	}
	return vote
}
