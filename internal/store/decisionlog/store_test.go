package decisionlog

import (
	"context"
	"path/filepath"
	"testing"

	"quorum/internal/persona"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDecisionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertDecision(ctx, DecisionRecord{
		Symbol:     "BTCUSDT",
		Action:     "LONG",
		Confidence: 0.83,
		Reasoning:  "whale+flow agree",
		Regime:     "BULLISH",
		LongScore:  3.2,
		ShortScore: 0.4,
		Executed:   true,
		Votes: []persona.Vote{
			persona.NewVote("whale", persona.SignalLong, 0.85, "inflow"),
			persona.NewVote("flow", persona.SignalLong, 0.80, "taker buy"),
		},
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	recs, err := s.RecentDecisions(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "LONG", recs[0].Action)
	assert.True(t, recs[0].Executed)
	require.Len(t, recs[0].Votes, 2)
	assert.Equal(t, "whale", recs[0].Votes[0].Persona)
}

func TestOutcomeLinksToDecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertDecision(ctx, DecisionRecord{Symbol: "SOLUSDT", Action: "SHORT", Confidence: 0.9})
	require.NoError(t, err)

	require.NoError(t, s.InsertOutcome(ctx, OutcomeRecord{
		DecisionID: id,
		Symbol:     "SOLUSDT",
		ExitReason: "peak_fade",
		PnLUSD:     42.5,
		PnLPct:     0.9,
		HeldHours:  5.5,
	}))

	outcomes, err := s.OutcomesFor(ctx, id)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "peak_fade", outcomes[0].ExitReason)
	assert.InDelta(t, 42.5, outcomes[0].PnLUSD, 1e-9)
}

func TestRecentDecisionsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		_, err := s.InsertDecision(ctx, DecisionRecord{
			Timestamp: int64(1700000000 + i),
			Symbol:    sym,
			Action:    "WAIT",
		})
		require.NoError(t, err)
	}

	all, err := s.RecentDecisions(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.GreaterOrEqual(t, all[0].Timestamp, all[1].Timestamp)

	btc, err := s.RecentDecisions(ctx, "btcusdt", 10)
	require.NoError(t, err)
	assert.Len(t, btc, 2)
}
