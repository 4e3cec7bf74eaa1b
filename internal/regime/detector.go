// Package regime 维护全局市场状态机，带迟滞避免在临界点来回翻转。
package regime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/market"
)

type State string

const (
	StateBullish   State = "BULLISH"
	StateBearish   State = "BEARISH"
	StateNeutral   State = "NEUTRAL"
	StateSpikeUp   State = "SPIKE_UP"
	StateSpikeDown State = "SPIKE_DOWN"
)

// IsBullish 把急涨也视作多头环境。
func (s State) IsBullish() bool { return s == StateBullish || s == StateSpikeUp }

// IsBearish 把急跌也视作空头环境。
func (s State) IsBearish() bool { return s == StateBearish || s == StateSpikeDown }

// 配置缺省值，config.RegimeConfig 零值时生效。
const (
	snapshotTTL       = 120 * time.Second
	lockDuration      = 600 * time.Second
	spikeMovePct      = 1.5 // 1h 涨跌幅超过该值直接进入 SPIKE 态
	fastScoreAbs      = 2   // 原始分绝对值达到该值跳过一致性确认
	consistencyCycles = 2   // 常规切换需要的连续一致评估轮数
	highScoreConf     = 0.85
	baseConf          = 0.65
)

// Observation 是一次评估用到的全部输入，方便直接构造做状态机测试。
type Observation struct {
	Change1h    float64
	Change4h    float64
	Change24h   float64
	FearGreed   int
	FundingRate float64
	AltMomentum float64 // 山寨币平均 24h 涨跌幅
}

type Snapshot struct {
	State       State     `json:"state"`
	Score       int       `json:"score"`
	Confidence  float64   `json:"confidence"`
	Change1h    float64   `json:"change_1h"`
	Change4h    float64   `json:"change_4h"`
	Change24h   float64   `json:"change_24h"`
	FearGreed   int       `json:"fear_greed"`
	FundingRate float64   `json:"funding_rate"`
	LockedUntil time.Time `json:"locked_until"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Detector 以参考资产（默认 BTCUSDT）为锚判定市场状态。
// 全部状态都在实例内，没有包级可变量。
type Detector struct {
	cfg        config.RegimeConfig
	source     market.Source
	fearGreed  *market.FearGreedService
	refSymbol  string
	altSymbols []string
	nowFn      func() time.Time

	mu          sync.Mutex
	current     Snapshot
	lastRaw     State // 上一次评估的原始标签
	rawStreak   int   // 原始标签连续一致的评估轮数
	lockedUntil time.Time
}

func NewDetector(cfg config.RegimeConfig, source market.Source, fearGreed *market.FearGreedService, refSymbol string, altSymbols []string) *Detector {
	if refSymbol == "" {
		refSymbol = "BTCUSDT"
	}
	return &Detector{
		cfg:        cfg,
		source:     source,
		fearGreed:  fearGreed,
		refSymbol:  refSymbol,
		altSymbols: altSymbols,
		nowFn:      time.Now,
		current: Snapshot{
			State:      StateNeutral,
			Confidence: baseConf,
		},
		lastRaw:   StateNeutral,
		rawStreak: 1,
	}
}

// Current 返回当前状态快照，过期时重新评估。评估失败沿用旧快照。
func (d *Detector) Current(ctx context.Context) Snapshot {
	d.mu.Lock()
	now := d.nowFn()
	if !d.current.EvaluatedAt.IsZero() && now.Sub(d.current.EvaluatedAt) < d.ttl() {
		snap := d.current
		d.mu.Unlock()
		return snap
	}
	d.mu.Unlock()

	obs, err := d.observe(ctx)
	if err != nil {
		logger.Warnf("市场状态评估失败，沿用 %s: %v", d.current.State, err)
		d.mu.Lock()
		snap := d.current
		d.mu.Unlock()
		return snap
	}
	return d.Apply(obs)
}

// observe 采集一次评估所需的行情输入。
func (d *Detector) observe(ctx context.Context) (Observation, error) {
	candles, err := d.source.FetchCandles(ctx, d.refSymbol, "1h", 30)
	if err != nil {
		return Observation{}, fmt.Errorf("fetch %s candles: %w", d.refSymbol, err)
	}
	if len(candles) < 25 {
		return Observation{}, fmt.Errorf("not enough %s candles: %d", d.refSymbol, len(candles))
	}
	funding, err := d.source.FundingRate(ctx, d.refSymbol)
	if err != nil {
		logger.Debugf("资金费率获取失败，按 0 处理: %v", err)
		funding = 0
	}
	if d.fearGreed != nil {
		d.fearGreed.RefreshIfStale(ctx)
	}
	obs := Observation{
		Change1h:    market.ChangePct(candles, 1),
		Change4h:    market.ChangePct(candles, 4),
		Change24h:   market.ChangePct(candles, 24),
		FearGreed:   d.fearGreed.Value(),
		FundingRate: funding,
		AltMomentum: d.altMomentum(ctx),
	}
	return obs, nil
}

func (d *Detector) altMomentum(ctx context.Context) float64 {
	if len(d.altSymbols) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, sym := range d.altSymbols {
		candles, err := d.source.FetchCandles(ctx, sym, "1h", 26)
		if err != nil || len(candles) < 25 {
			continue
		}
		sum += market.ChangePct(candles, 24)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Apply 用给定输入推进状态机并返回新快照。
func (d *Detector) Apply(obs Observation) Snapshot {
	score := scoreOf(obs)
	raw := rawLabel(score)

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.nowFn()
	if raw == d.lastRaw {
		d.rawStreak++
	} else {
		d.rawStreak = 1
	}

	spike := d.spikePct()
	fast := d.fastScore()
	next := d.current.State
	switch {
	case obs.Change1h >= spike:
		// 动量覆写：突破迟滞锁
		next = StateSpikeUp
		d.lockedUntil = now.Add(d.lockDuration())
	case obs.Change1h <= -spike:
		next = StateSpikeDown
		d.lockedUntil = now.Add(d.lockDuration())
	case raw != d.current.State:
		if score >= fast || score <= -fast {
			next = raw
			d.lockedUntil = now.Add(d.lockDuration())
		} else if now.After(d.lockedUntil) && d.rawStreak >= d.consistency() {
			// 锁已过期且连续多轮一致才允许常规切换
			next = raw
			d.lockedUntil = now.Add(d.lockDuration())
		}
	}
	if next != d.current.State {
		logger.Infof("市场状态切换 %s -> %s (score=%d 1h=%.2f%% 24h=%.2f%% F&G=%d)",
			d.current.State, next, score, obs.Change1h, obs.Change24h, obs.FearGreed)
	}
	d.lastRaw = raw

	conf := baseConf
	if score >= 3 || score <= -3 {
		conf = highScoreConf
	}
	d.current = Snapshot{
		State:       next,
		Score:       score,
		Confidence:  conf,
		Change1h:    obs.Change1h,
		Change4h:    obs.Change4h,
		Change24h:   obs.Change24h,
		FearGreed:   obs.FearGreed,
		FundingRate: obs.FundingRate,
		LockedUntil: d.lockedUntil,
		EvaluatedAt: now,
	}
	return d.current
}

// scoreOf 汇总多因子得分，正数偏多。
func scoreOf(obs Observation) int {
	score := 0
	switch {
	case obs.Change24h >= 2:
		score += 3
	case obs.Change24h >= 1:
		score += 2
	case obs.Change24h >= 0.5:
		score++
	case obs.Change24h <= -2:
		score -= 3
	case obs.Change24h <= -1:
		score -= 2
	case obs.Change24h <= -0.5:
		score--
	}
	if obs.Change4h >= 1 {
		score++
	} else if obs.Change4h <= -1 {
		score--
	}
	// 恐慌贪婪指数按逆向指标计分
	switch {
	case obs.FearGreed <= 20:
		score += 2
	case obs.FearGreed <= 35:
		score++
	case obs.FearGreed >= 80:
		score -= 2
	case obs.FearGreed >= 65:
		score--
	}
	// 资金费率过热说明多头拥挤
	switch {
	case obs.FundingRate > 0.0008:
		score -= 2
	case obs.FundingRate > 0.0004:
		score--
	case obs.FundingRate < -0.0004:
		score += 2
	case obs.FundingRate < -0.0001:
		score++
	}
	switch {
	case obs.AltMomentum < -4:
		score -= 3
	case obs.AltMomentum < -2:
		score -= 2
	case obs.AltMomentum > 3:
		score += 2
	}
	return score
}

func rawLabel(score int) State {
	switch {
	case score >= 1:
		return StateBullish
	case score <= -1:
		return StateBearish
	default:
		return StateNeutral
	}
}

func (d *Detector) ttl() time.Duration {
	if d.cfg.CacheTTLSeconds > 0 {
		return time.Duration(d.cfg.CacheTTLSeconds) * time.Second
	}
	return snapshotTTL
}

func (d *Detector) lockDuration() time.Duration {
	if d.cfg.LockSeconds > 0 {
		return time.Duration(d.cfg.LockSeconds) * time.Second
	}
	return lockDuration
}

func (d *Detector) spikePct() float64 {
	if d.cfg.SpikePct > 0 {
		return d.cfg.SpikePct
	}
	return spikeMovePct
}

func (d *Detector) fastScore() int {
	if d.cfg.FastScore > 0 {
		return d.cfg.FastScore
	}
	return fastScoreAbs
}

func (d *Detector) consistency() int {
	if d.cfg.ConsistencyCycles > 0 {
		return d.cfg.ConsistencyCycles
	}
	return consistencyCycles
}
