package judge

import (
	"testing"
	"time"

	"quorum/internal/config"
	"quorum/internal/persona"
	"quorum/internal/regime"

	"github.com/stretchr/testify/assert"
)

func vote(name string, signal persona.Signal, conf float64) persona.Vote {
	return persona.NewVote(name, signal, conf, "test")
}

func neutralRegime() regime.Snapshot {
	return regime.Snapshot{State: regime.StateNeutral, FearGreed: 50}
}

func TestDecideConsensus(t *testing.T) {
	j := New(config.JudgeConfig{}, nil)

	t.Run("strong agreement opens long", func(t *testing.T) {
		dec := j.Decide(Input{
			Symbol: "BTCUSDT",
			Votes: []persona.Vote{
				vote("whale", persona.SignalLong, 0.85),
				vote("flow", persona.SignalLong, 0.80),
				vote("sentiment", persona.SignalLong, 0.85),
				vote("technical", persona.SignalNeutral, 0.30),
			},
			Regime: neutralRegime(),
		})
		assert.Equal(t, ActionLong, dec.Action)
		assert.GreaterOrEqual(t, dec.Confidence, 0.80)
	})

	t.Run("lukewarm agreement waits", func(t *testing.T) {
		dec := j.Decide(Input{
			Symbol: "BTCUSDT",
			Votes: []persona.Vote{
				vote("whale", persona.SignalLong, 0.60),
				vote("flow", persona.SignalLong, 0.60),
				vote("sentiment", persona.SignalLong, 0.60),
			},
			Regime: neutralRegime(),
		})
		assert.Equal(t, ActionWait, dec.Action)
	})

	t.Run("split primaries wait", func(t *testing.T) {
		dec := j.Decide(Input{
			Symbol: "ETHUSDT",
			Votes: []persona.Vote{
				vote("whale", persona.SignalLong, 0.85),
				vote("flow", persona.SignalShort, 0.80),
			},
			Regime: neutralRegime(),
		})
		assert.Equal(t, ActionWait, dec.Action)
	})

	t.Run("whale plus flow clear the floor together", func(t *testing.T) {
		dec := j.Decide(Input{
			Symbol: "BTCUSDT",
			Votes: []persona.Vote{
				vote("whale", persona.SignalLong, 0.70),
				vote("flow", persona.SignalLong, 0.70),
				vote("sentiment", persona.SignalNeutral, 0.30),
				vote("technical", persona.SignalNeutral, 0.30),
			},
			Regime: neutralRegime(),
		})
		assert.Equal(t, ActionLong, dec.Action)
		// 豁免放行的决策按门槛水平计
		assert.InDelta(t, 0.80, dec.Confidence, 0.01)
	})

	t.Run("co-primary with lukewarm dissent", func(t *testing.T) {
		dec := j.Decide(Input{
			Symbol: "BTCUSDT",
			Votes: []persona.Vote{
				vote("whale", persona.SignalLong, 0.80),
				vote("flow", persona.SignalLong, 0.75),
				vote("sentiment", persona.SignalNeutral, 0.30),
				vote("technical", persona.SignalShort, 0.50),
			},
			Regime: neutralRegime(),
		})
		assert.Equal(t, ActionLong, dec.Action)
		assert.GreaterOrEqual(t, dec.Confidence, 0.80)
	})

	t.Run("counter trend weights drag score below share", func(t *testing.T) {
		// 空头环境下做多是逆势，份额与比值都会被压低
		dec := j.Decide(Input{
			Symbol: "BTCUSDT",
			Votes: []persona.Vote{
				vote("sentiment", persona.SignalLong, 0.75),
				vote("technical", persona.SignalLong, 0.75),
				vote("flow", persona.SignalShort, 0.70),
			},
			Regime: regime.Snapshot{State: regime.StateBearish, FearGreed: 50},
		})
		assert.Equal(t, ActionWait, dec.Action)
	})
}

func TestAntiIndecision(t *testing.T) {
	j := New(config.JudgeConfig{}, nil)

	t.Run("two confident voters flip a wait", func(t *testing.T) {
		dec := j.Decide(Input{
			Symbol: "SOLUSDT",
			Votes: []persona.Vote{
				vote("sentiment", persona.SignalLong, 0.75),
				vote("technical", persona.SignalLong, 0.72),
				vote("whale", persona.SignalNeutral, 0.40),
				vote("flow", persona.SignalShort, 0.50),
			},
			Regime: neutralRegime(),
		})
		assert.Equal(t, ActionLong, dec.Action)
		assert.InDelta(t, 0.735, dec.Confidence, 0.01)
		assert.Contains(t, dec.Reasoning, "反优柔寡断")
	})

	t.Run("confident opposition blocks the override", func(t *testing.T) {
		dec := j.Decide(Input{
			Symbol: "SOLUSDT",
			Votes: []persona.Vote{
				vote("sentiment", persona.SignalLong, 0.75),
				vote("technical", persona.SignalLong, 0.72),
				vote("flow", persona.SignalShort, 0.80),
			},
			Regime: neutralRegime(),
		})
		assert.Equal(t, ActionWait, dec.Action)
	})
}

func TestPositionFilters(t *testing.T) {
	j := New(config.JudgeConfig{}, nil)
	strongLong := []persona.Vote{
		vote("whale", persona.SignalLong, 0.85),
		vote("flow", persona.SignalLong, 0.85),
		vote("sentiment", persona.SignalLong, 0.85),
	}
	hedgeLong := []persona.Vote{
		vote("whale", persona.SignalLong, 0.95),
		vote("flow", persona.SignalLong, 0.95),
		vote("sentiment", persona.SignalLong, 0.95),
	}
	now := time.Unix(1700000000, 0)

	t.Run("same direction already held", func(t *testing.T) {
		dec := j.Decide(Input{
			Symbol: "BTCUSDT", Votes: strongLong, Regime: neutralRegime(),
			HeldSide: persona.SignalLong, Now: now,
		})
		assert.Equal(t, ActionWait, dec.Action)
		assert.Contains(t, dec.Reasoning, "已有持仓")
	})

	t.Run("hedge needs extreme confidence", func(t *testing.T) {
		dec := j.Decide(Input{
			Symbol: "BTCUSDT", Votes: strongLong, Regime: neutralRegime(),
			HeldSide: persona.SignalShort, Now: now,
		})
		assert.Equal(t, ActionWait, dec.Action)

		dec = j.Decide(Input{
			Symbol: "BTCUSDT", Votes: hedgeLong, Regime: neutralRegime(),
			HeldSide: persona.SignalShort, Now: now,
		})
		assert.Equal(t, ActionLong, dec.Action)
	})

	t.Run("concentration cap with fear slack", func(t *testing.T) {
		dec := j.Decide(Input{
			Symbol: "BTCUSDT", Votes: strongLong, Regime: neutralRegime(),
			OpenLongs: 5, MaxSameSide: 5, Now: now,
		})
		assert.Equal(t, ActionWait, dec.Action)

		dec = j.Decide(Input{
			Symbol: "BTCUSDT", Votes: strongLong,
			Regime:    regime.Snapshot{State: regime.StateNeutral, FearGreed: 15},
			OpenLongs: 5, MaxSameSide: 5, Now: now,
		})
		assert.Equal(t, ActionLong, dec.Action)
	})

	t.Run("cap counts the candidate direction only", func(t *testing.T) {
		// 满手空单不挡新多单
		dec := j.Decide(Input{
			Symbol: "BTCUSDT", Votes: strongLong, Regime: neutralRegime(),
			OpenShorts: 5, MaxSameSide: 5, Now: now,
		})
		assert.Equal(t, ActionLong, dec.Action)
	})

	t.Run("loss cooldown with override", func(t *testing.T) {
		modestLong := []persona.Vote{
			vote("whale", persona.SignalLong, 0.82),
			vote("flow", persona.SignalLong, 0.82),
			vote("sentiment", persona.SignalLong, 0.82),
		}
		dec := j.Decide(Input{
			Symbol: "DOGEUSDT", Votes: modestLong, Regime: neutralRegime(),
			CooldownUntil: now.Add(time.Hour), Now: now,
		})
		assert.Equal(t, ActionWait, dec.Action)
		assert.Contains(t, dec.Reasoning, "冷却")

		dec = j.Decide(Input{
			Symbol: "DOGEUSDT", Votes: hedgeLong, Regime: neutralRegime(),
			CooldownUntil: now.Add(time.Hour), Now: now,
		})
		assert.Equal(t, ActionLong, dec.Action)
	})
}
