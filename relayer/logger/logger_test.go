package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("json output carries service and component", func(t *testing.T) {
		var buf bytes.Buffer
		base := NewWithWriter(&buf, int(zerolog.InfoLevel), "json", false)
		log := base.With().Str("component", "executor").Logger()
		log.Info().Str("buyer", "0xaa").Msg("payout confirmed")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "payout-relay", line["service"])
		assert.Equal(t, "executor", line["component"])
		assert.Equal(t, "payout confirmed", line["message"])
		assert.Equal(t, "0xaa", line["buyer"])
	})

	t.Run("level filters lower severities", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(&buf, int(zerolog.WarnLevel), "json", false)
		log.Info().Msg("hidden")
		assert.Empty(t, buf.String())

		log.Warn().Msg("shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("console format is not json", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(&buf, int(zerolog.DebugLevel), "console", false)
		log.Debug().Msg("hello")
		assert.Contains(t, buf.String(), "hello")
		assert.False(t, json.Valid(buf.Bytes()))
	})
}
