package config

import (
	"fmt"
	"strings"
)

// validate 对配置做启动期校验，缺凭证/阈值荒谬一律快速失败，
// 绝不降级成“静默不交易”的空转进程。
func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Regime.validate(); err != nil {
		return err
	}
	if err := c.Judge.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := validateTiers(c.Tiers, c.Engine.Pairs); err != nil {
		return err
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	switch e.Mode {
	case "paper":
		return nil
	case "live":
		key, secret := e.ResolveCredentials()
		if key == "" || secret == "" {
			return fmt.Errorf("exchange.mode=live 需要 api_key/api_secret（或 QUORUM_EXCHANGE_KEY/SECRET 环境变量）")
		}
		return nil
	default:
		return fmt.Errorf("exchange.mode 仅支持 paper/live，got %s", e.Mode)
	}
}

func (e *EngineConfig) validate() error {
	if e.CycleMinutes <= 0 {
		return fmt.Errorf("engine.cycle_minutes must be > 0")
	}
	if e.MonitorSeconds <= 0 {
		return fmt.Errorf("engine.monitor_seconds must be > 0")
	}
	if len(e.Pairs) == 0 {
		return fmt.Errorf("engine.pairs requires at least one pair")
	}
	if e.MaxPositions <= 0 {
		return fmt.Errorf("engine.max_positions must be > 0")
	}
	if e.ConcentrationCap <= 0 {
		return fmt.Errorf("engine.concentration_cap must be > 0")
	}
	return nil
}

func (r *RegimeConfig) validate() error {
	if r.LockSeconds <= 0 {
		return fmt.Errorf("regime.lock_seconds must be > 0")
	}
	if r.SpikePct <= 0 {
		return fmt.Errorf("regime.spike_pct must be > 0")
	}
	if r.ConsistencyCycles < 1 || r.ConsistencyCycles > 3 {
		return fmt.Errorf("regime.consistency_cycles must be in [1,3]")
	}
	return nil
}

func (j *JudgeConfig) validate() error {
	if j.ConfidenceFloor <= 0 || j.ConfidenceFloor >= 1 {
		return fmt.Errorf("judge.confidence_floor must be in (0,1)")
	}
	if j.OverrideConfidence <= 0 || j.OverrideConfidence > j.ConfidenceFloor {
		return fmt.Errorf("judge.override_confidence must be in (0, confidence_floor]")
	}
	if j.HedgeConfidence < j.ConfidenceFloor {
		return fmt.Errorf("judge.hedge_confidence must be >= confidence_floor")
	}
	if j.ScoreRatio < 1 {
		return fmt.Errorf("judge.score_ratio must be >= 1")
	}
	if j.ScoreShare <= 0 || j.ScoreShare >= 1 {
		return fmt.Errorf("judge.score_share must be in (0,1)")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MinPositionPct <= 0 || r.MaxPositionPct > 100 || r.MinPositionPct > r.MaxPositionPct {
		return fmt.Errorf("risk position pct bounds invalid: min=%.2f max=%.2f", r.MinPositionPct, r.MaxPositionPct)
	}
	if r.BasePositionPct < r.MinPositionPct || r.BasePositionPct > r.MaxPositionPct {
		return fmt.Errorf("risk.base_position_pct must be within [min,max]")
	}
	if r.MinLeverage < 1 || r.MaxLeverage < r.MinLeverage {
		return fmt.Errorf("risk leverage bounds invalid: min=%d max=%d", r.MinLeverage, r.MaxLeverage)
	}
	if r.TPFloorRatio < 1 {
		return fmt.Errorf("risk.tp_floor_ratio must be >= 1")
	}
	if r.PeakLockKeepRatio <= 0 || r.PeakLockKeepRatio >= 1 {
		return fmt.Errorf("risk.peak_lock_keep_ratio must be in (0,1)")
	}
	if r.ForceStopLossPct >= 0 || r.EarlyExitLossPct >= 0 {
		return fmt.Errorf("risk loss thresholds must be negative")
	}
	return nil
}

// validateTiers 要求每个可交易对恰好落在一个层级里。
func validateTiers(tiers []TierConfig, pairs []string) error {
	if len(tiers) == 0 {
		return fmt.Errorf("tiers requires at least one tier")
	}
	owner := make(map[string]int)
	for _, t := range tiers {
		if t.Tier <= 0 {
			return fmt.Errorf("tier number must be > 0")
		}
		if t.TPPct <= 0 || t.SLPct <= 0 {
			return fmt.Errorf("tier %d: tp_pct/sl_pct must be > 0", t.Tier)
		}
		if t.MaxHoldHours <= 0 {
			return fmt.Errorf("tier %d: max_hold_hours must be > 0", t.Tier)
		}
		for _, sym := range t.Symbols {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			if prev, ok := owner[sym]; ok && prev != t.Tier {
				return fmt.Errorf("symbol %s mapped to both tier %d and tier %d", sym, prev, t.Tier)
			}
			owner[sym] = t.Tier
		}
	}
	for _, pair := range pairs {
		if _, ok := owner[pair]; !ok {
			return fmt.Errorf("pair %s has no tier mapping", pair)
		}
	}
	return nil
}
