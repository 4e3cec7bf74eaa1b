package config

import "strings"

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9980"
	defaultAppLogPath  = "data/logs/quorum.log"
	defaultFeedLogPath = "data/logs/quorum-feed.log"

	defaultMarketREST      = "https://fapi.binance.com"
	defaultReferenceSymbol = "BTCUSDT"
	defaultMarketTimeout   = 10

	defaultExchangeMode = "paper"
	defaultPaperEquity  = 1000

	defaultCycleMinutes     = 30
	defaultMonitorSeconds   = 120
	defaultMaxPositions     = 3
	defaultConcentrationCap = 5
	defaultRunRetryAttempts = 3
	defaultRunRetryDelaySec = 30

	defaultRegimeLockSeconds  = 600
	defaultRegimeCacheTTLSec  = 120
	defaultRegimeSpikePct     = 1.5
	defaultRegimeConsistency  = 2
	defaultRegimeFastScore    = 2
	defaultConfidenceFloor    = 0.80
	defaultOverrideConfidence = 0.70
	defaultHedgeConfidence    = 0.90
	defaultScoreShare         = 0.38
	defaultScoreRatio         = 1.15
	defaultCooldownOverride   = 0.85
	defaultProfilesPath       = "configs/personas.yaml"

	defaultBasePositionPct    = 15.0
	defaultMinPositionPct     = 10.0
	defaultMaxPositionPct     = 20.0
	defaultMinLeverage        = 5
	defaultMaxLeverage        = 8
	defaultTPFloorRatio       = 1.2
	defaultFearWidenBelow     = 15
	defaultFearWidenMultiple  = 1.5
	defaultFearShieldBelow    = 20
	defaultForceStopLossPct   = -4.0
	defaultEarlyExitLossPct   = -1.5
	defaultPeakLockTrigger    = 1.0
	defaultPeakLockKeepRatio  = 0.60
	defaultRegimeExitMinHours = 4

	defaultCommentaryTimeout    = 45
	defaultCommentaryCacheTTL   = 10
	defaultCommentaryRetryDelay = 5
	defaultWhaleCacheTTL        = 5
	defaultWhaleTimeout         = 10
	defaultCommunityTimeout     = 10

	defaultDecisionLogPath = "data/live/decisions.db"
	defaultTradeDBPath     = "data/live/trades.db"
)

// defaultTiers 是内置层级表，配置文件里的 tiers 节会整体覆盖它。
func defaultTiers() []TierConfig {
	return []TierConfig{
		{
			Tier:           1,
			Symbols:        []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "LTCUSDT"},
			TPPct:          5.0,
			SLPct:          2.0,
			MaxHoldHours:   72,
			EarlyExitHours: 12,
			CooldownHours:  6,
			Leverage:       8,
			TPCapPct:       5.0,
		},
		{
			Tier:           2,
			Symbols:        []string{"SOLUSDT"},
			TPPct:          4.0,
			SLPct:          1.75,
			MaxHoldHours:   48,
			EarlyExitHours: 6,
			CooldownHours:  8,
			Leverage:       7,
			TPCapPct:       6.0,
		},
		{
			Tier:           3,
			Symbols:        []string{"DOGEUSDT", "XRPUSDT", "ADAUSDT"},
			TPPct:          4.0,
			SLPct:          2.0,
			MaxHoldHours:   24,
			EarlyExitHours: 6,
			CooldownHours:  12,
			Leverage:       5,
			TPCapPct:       7.0,
		},
	}
}

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Regime.applyDefaults(keys)
	c.Judge.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Providers.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	if len(c.Tiers) == 0 {
		c.Tiers = defaultTiers()
	}
	for i := range c.Tiers {
		t := &c.Tiers[i]
		for j, sym := range t.Symbols {
			t.Symbols[j] = strings.ToUpper(strings.TrimSpace(sym))
		}
		if t.TPCapPct <= 0 {
			t.TPCapPct = t.TPPct
		}
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.feed_log_path", &a.FeedLog, defaultFeedLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.reference_symbol", &m.ReferenceSymbol, defaultReferenceSymbol),
		fieldDefault{
			key:   "market.http_timeout_seconds",
			need:  func() bool { return m.HTTPTimeoutSec <= 0 },
			apply: func() { m.HTTPTimeoutSec = defaultMarketTimeout },
		},
	)
	m.ReferenceSymbol = strings.ToUpper(strings.TrimSpace(m.ReferenceSymbol))
	if len(m.AltBasket) == 0 {
		m.AltBasket = []string{"SOLUSDT", "DOGEUSDT", "XRPUSDT", "ADAUSDT"}
	}
	for i, sym := range m.AltBasket {
		m.AltBasket[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.mode", &e.Mode, defaultExchangeMode),
		fieldDefault{
			key:   "exchange.paper_equity",
			need:  func() bool { return e.PaperEquity <= 0 },
			apply: func() { e.PaperEquity = defaultPaperEquity },
		},
	)
	e.Mode = strings.ToLower(strings.TrimSpace(e.Mode))
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("engine.cycle_minutes", &e.CycleMinutes, defaultCycleMinutes),
		intFieldDefault("engine.monitor_seconds", &e.MonitorSeconds, defaultMonitorSeconds),
		intFieldDefault("engine.max_positions", &e.MaxPositions, defaultMaxPositions),
		intFieldDefault("engine.concentration_cap", &e.ConcentrationCap, defaultConcentrationCap),
		intFieldDefault("engine.run_retry_attempts", &e.RunRetryAttempts, defaultRunRetryAttempts),
		intFieldDefault("engine.run_retry_delay_seconds", &e.RunRetryDelaySec, defaultRunRetryDelaySec),
	)
	if len(e.Pairs) == 0 {
		e.Pairs = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOGEUSDT"}
	}
	for i, p := range e.Pairs {
		e.Pairs[i] = strings.ToUpper(strings.TrimSpace(p))
	}
}

func (r *RegimeConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("regime.lock_seconds", &r.LockSeconds, defaultRegimeLockSeconds),
		intFieldDefault("regime.cache_ttl_seconds", &r.CacheTTLSeconds, defaultRegimeCacheTTLSec),
		intFieldDefault("regime.consistency_cycles", &r.ConsistencyCycles, defaultRegimeConsistency),
		intFieldDefault("regime.fast_score", &r.FastScore, defaultRegimeFastScore),
		floatFieldDefault("regime.spike_pct", &r.SpikePct, defaultRegimeSpikePct),
	)
}

func (j *JudgeConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("judge.confidence_floor", &j.ConfidenceFloor, defaultConfidenceFloor),
		floatFieldDefault("judge.override_confidence", &j.OverrideConfidence, defaultOverrideConfidence),
		floatFieldDefault("judge.hedge_confidence", &j.HedgeConfidence, defaultHedgeConfidence),
		floatFieldDefault("judge.score_share", &j.ScoreShare, defaultScoreShare),
		floatFieldDefault("judge.score_ratio", &j.ScoreRatio, defaultScoreRatio),
		floatFieldDefault("judge.cooldown_override", &j.CooldownOverride, defaultCooldownOverride),
		stringFieldDefault("judge.profiles_path", &j.ProfilesPath, defaultProfilesPath),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("risk.base_position_pct", &r.BasePositionPct, defaultBasePositionPct),
		floatFieldDefault("risk.min_position_pct", &r.MinPositionPct, defaultMinPositionPct),
		floatFieldDefault("risk.max_position_pct", &r.MaxPositionPct, defaultMaxPositionPct),
		intFieldDefault("risk.min_leverage", &r.MinLeverage, defaultMinLeverage),
		intFieldDefault("risk.max_leverage", &r.MaxLeverage, defaultMaxLeverage),
		floatFieldDefault("risk.tp_floor_ratio", &r.TPFloorRatio, defaultTPFloorRatio),
		intFieldDefault("risk.fear_widen_below", &r.FearWidenBelow, defaultFearWidenBelow),
		floatFieldDefault("risk.fear_widen_multiple", &r.FearWidenMultiple, defaultFearWidenMultiple),
		intFieldDefault("risk.fear_shield_below", &r.FearShieldBelow, defaultFearShieldBelow),
		floatFieldDefault("risk.peak_lock_trigger", &r.PeakLockTrigger, defaultPeakLockTrigger),
		floatFieldDefault("risk.peak_lock_keep_ratio", &r.PeakLockKeepRatio, defaultPeakLockKeepRatio),
		floatFieldDefault("risk.regime_exit_min_hours", &r.RegimeExitMinHours, defaultRegimeExitMinHours),
	)
	// 亏损线是负值，零值视为未设置。
	if r.ForceStopLossPct >= 0 {
		r.ForceStopLossPct = defaultForceStopLossPct
	}
	if r.EarlyExitLossPct >= 0 {
		r.EarlyExitLossPct = defaultEarlyExitLossPct
	}
}

func (p *ProvidersConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("providers.commentary.timeout_seconds", &p.Commentary.TimeoutSeconds, defaultCommentaryTimeout),
		intFieldDefault("providers.commentary.cache_ttl_minutes", &p.Commentary.CacheTTLMin, defaultCommentaryCacheTTL),
		intFieldDefault("providers.commentary.retry_delay_seconds", &p.Commentary.RetryDelaySec, defaultCommentaryRetryDelay),
		intFieldDefault("providers.whale.cache_ttl_minutes", &p.Whale.CacheTTLMin, defaultWhaleCacheTTL),
		intFieldDefault("providers.whale.timeout_seconds", &p.Whale.TimeoutSec, defaultWhaleTimeout),
		intFieldDefault("providers.community.timeout_seconds", &p.Community.TimeoutSec, defaultCommunityTimeout),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.decision_log_path", &s.DecisionLogPath, defaultDecisionLogPath),
		stringFieldDefault("store.trade_db_path", &s.TradeDBPath, defaultTradeDBPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
