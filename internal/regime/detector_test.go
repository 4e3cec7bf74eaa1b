package regime

import (
	"testing"
	"time"

	"quorum/internal/config"

	"github.com/stretchr/testify/assert"
)

func newTestDetector(start time.Time) (*Detector, *time.Time) {
	now := start
	d := NewDetector(config.RegimeConfig{}, nil, nil, "BTCUSDT", nil)
	d.nowFn = func() time.Time { return now }
	return d, &now
}

func TestDetectorStartsNeutral(t *testing.T) {
	d, _ := newTestDetector(time.Unix(1700000000, 0))
	snap := d.Apply(Observation{FearGreed: 50})
	assert.Equal(t, StateNeutral, snap.State)
	assert.Equal(t, 0, snap.Score)
}

func TestDetectorHysteresis(t *testing.T) {
	start := time.Unix(1700000000, 0)

	t.Run("single weak reading does not switch", func(t *testing.T) {
		d, now := newTestDetector(start)
		// 24h +0.6% -> score +1 -> raw BULLISH, 但只有一轮
		snap := d.Apply(Observation{Change24h: 0.6, FearGreed: 50})
		assert.Equal(t, StateNeutral, snap.State)

		// 下一轮回到中性，之前的单轮倾向被丢弃
		*now = now.Add(11 * time.Minute)
		snap = d.Apply(Observation{FearGreed: 50})
		assert.Equal(t, StateNeutral, snap.State)
	})

	t.Run("two consistent readings switch after lock expiry", func(t *testing.T) {
		d, now := newTestDetector(start)
		d.Apply(Observation{Change24h: 0.6, FearGreed: 50})
		*now = now.Add(11 * time.Minute)
		snap := d.Apply(Observation{Change24h: 0.6, FearGreed: 50})
		assert.Equal(t, StateBullish, snap.State)
		assert.True(t, snap.LockedUntil.After(*now))
	})

	t.Run("lock blocks weak flip-flop", func(t *testing.T) {
		d, now := newTestDetector(start)
		d.Apply(Observation{Change24h: 0.6, FearGreed: 50})
		*now = now.Add(11 * time.Minute)
		d.Apply(Observation{Change24h: 0.6, FearGreed: 50})

		// 锁定期内连续两轮弱空头也不许翻转
		*now = now.Add(2 * time.Minute)
		d.Apply(Observation{Change24h: -0.6, FearGreed: 50})
		*now = now.Add(2 * time.Minute)
		snap := d.Apply(Observation{Change24h: -0.6, FearGreed: 50})
		assert.Equal(t, StateBullish, snap.State)
	})

	t.Run("strong score bypasses lock", func(t *testing.T) {
		d, now := newTestDetector(start)
		d.Apply(Observation{Change24h: 0.6, FearGreed: 50})
		*now = now.Add(11 * time.Minute)
		d.Apply(Observation{Change24h: 0.6, FearGreed: 50})

		*now = now.Add(1 * time.Minute)
		// 24h -2.5% (-3) + alt -5% (-3) = -6
		snap := d.Apply(Observation{Change24h: -2.5, AltMomentum: -5, FearGreed: 50})
		assert.Equal(t, StateBearish, snap.State)
		assert.Equal(t, highScoreConf, snap.Confidence)
	})
}

func TestDetectorSpikeOverride(t *testing.T) {
	start := time.Unix(1700000000, 0)

	t.Run("1h surge enters spike up immediately", func(t *testing.T) {
		d, _ := newTestDetector(start)
		snap := d.Apply(Observation{Change1h: 1.8, FearGreed: 50})
		assert.Equal(t, StateSpikeUp, snap.State)
		assert.True(t, snap.State.IsBullish())
	})

	t.Run("1h crash overrides fresh lock", func(t *testing.T) {
		d, now := newTestDetector(start)
		d.Apply(Observation{Change24h: 0.6, FearGreed: 50})
		*now = now.Add(11 * time.Minute)
		d.Apply(Observation{Change24h: 0.6, FearGreed: 50})

		*now = now.Add(1 * time.Minute)
		snap := d.Apply(Observation{Change1h: -2.0, FearGreed: 50})
		assert.Equal(t, StateSpikeDown, snap.State)
		assert.True(t, snap.State.IsBearish())
	})
}

func TestScoreFactors(t *testing.T) {
	cases := []struct {
		name string
		obs  Observation
		want int
	}{
		{"flat", Observation{FearGreed: 50}, 0},
		{"strong 24h up", Observation{Change24h: 2.2, FearGreed: 50}, 3},
		{"extreme fear is contrarian bullish", Observation{FearGreed: 15}, 2},
		{"extreme greed is contrarian bearish", Observation{FearGreed: 85}, -2},
		{"hot funding penalized", Observation{FearGreed: 50, FundingRate: 0.001}, -2},
		{"negative funding rewarded", Observation{FearGreed: 50, FundingRate: -0.0005}, 2},
		{"alt capitulation", Observation{FearGreed: 50, AltMomentum: -4.5}, -3},
		{"stacked", Observation{Change24h: 1.2, Change4h: 1.5, FearGreed: 30, AltMomentum: 3.5}, 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, scoreOf(tc.obs))
		})
	}
}
