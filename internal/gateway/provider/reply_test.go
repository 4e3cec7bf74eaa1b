package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	t.Run("fenced json", func(t *testing.T) {
		raw := "```json\n{\"stance\":\"BULLISH\",\"confidence\":0.82,\"rationale\":\"funding flipped\"}\n```"
		reply, err := ParseReply("BTCUSDT", raw)
		require.NoError(t, err)
		assert.Equal(t, "BULLISH", reply.Stance)
		assert.InDelta(t, 0.82, reply.Confidence, 1e-9)
		assert.Equal(t, "funding flipped", reply.Rationale)
	})

	t.Run("prose around the object", func(t *testing.T) {
		raw := "Here is my take: {\"stance\":\"NEUTRAL\",\"confidence\":0.4} hope it helps"
		reply, err := ParseReply("ETHUSDT", raw)
		require.NoError(t, err)
		assert.Equal(t, "NEUTRAL", reply.Stance)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParseReply("BTCUSDT", "I think the market looks bullish today")
		assert.Error(t, err)
	})

	t.Run("unknown stance rejected", func(t *testing.T) {
		_, err := ParseReply("BTCUSDT", `{"stance":"MOON","confidence":0.9}`)
		assert.Error(t, err)
	})

	t.Run("confidence out of range rejected", func(t *testing.T) {
		_, err := ParseReply("BTCUSDT", `{"stance":"BEARISH","confidence":1.4}`)
		assert.Error(t, err)
	})

	t.Run("missing confidence rejected", func(t *testing.T) {
		_, err := ParseReply("BTCUSDT", `{"stance":"BEARISH"}`)
		assert.Error(t, err)
	})
}
