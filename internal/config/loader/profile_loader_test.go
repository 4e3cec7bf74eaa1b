package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeProfiles(t *testing.T, profiles map[string]any) string {
	t.Helper()
	raw, err := yaml.Marshal(map[string]any{"profiles": profiles})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func fullTables(extra map[string]any) map[string]any {
	def := map[string]any{
		"with_trend":    map[string]float64{"whale": 2.0, "flow": 2.0},
		"counter_trend": map[string]float64{"whale": 1.2, "flow": 1.2},
		"neutral":       map[string]float64{"whale": 1.5, "flow": 1.5},
	}
	for k, v := range extra {
		def[k] = v
	}
	return def
}

func TestLoadAndPickDefault(t *testing.T) {
	path := writeProfiles(t, map[string]any{
		"baseline":  fullTables(nil),
		"defensive": fullTables(map[string]any{"default": true}),
	})

	l, err := NewProfileLoader(path)
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Len(t, snap.Profiles, 2)

	active, ok := snap.Active()
	require.True(t, ok)
	assert.Equal(t, "defensive", active.Name)
}

func TestActiveFallsBackToFirst(t *testing.T) {
	path := writeProfiles(t, map[string]any{"only": fullTables(nil)})
	l, err := NewProfileLoader(path)
	require.NoError(t, err)

	active, ok := l.Snapshot().Active()
	require.True(t, ok)
	assert.Equal(t, "only", active.Name)
}

func TestWeightNormalization(t *testing.T) {
	path := writeProfiles(t, map[string]any{
		"mixed": map[string]any{
			"with_trend":    map[string]float64{" Whale ": 2.0, "flow": -1.0},
			"counter_trend": map[string]float64{"whale": 1.2},
			"neutral":       map[string]float64{"whale": 1.5},
		},
	})
	l, err := NewProfileLoader(path)
	require.NoError(t, err)

	def := l.Snapshot().Profiles["mixed"]
	assert.Equal(t, 2.0, def.WithTrend["whale"])
	_, hasNegative := def.WithTrend["flow"]
	assert.False(t, hasNegative, "负权重应被丢弃")
}

func TestMissingTableRejected(t *testing.T) {
	path := writeProfiles(t, map[string]any{
		"broken": map[string]any{
			"with_trend": map[string]float64{"whale": 2.0},
		},
	})
	_, err := NewProfileLoader(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights missing")
}

func TestSnapshotIsolation(t *testing.T) {
	path := writeProfiles(t, map[string]any{"baseline": fullTables(nil)})
	l, err := NewProfileLoader(path)
	require.NoError(t, err)

	first := l.Snapshot()
	first.Profiles["baseline"].WithTrend["whale"] = 99

	assert.Equal(t, 2.0, l.Snapshot().Profiles["baseline"].WithTrend["whale"])
}
