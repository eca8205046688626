package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"ShadowSwap/internal/event"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		"WARN":     zerolog.WarnLevel,
		" error ":  zerolog.ErrorLevel,
		"trace":    zerolog.TraceLevel,
		"disabled": zerolog.InfoLevel,
		"fatal":    zerolog.InfoLevel,
		"verbose":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLogLevel(in), "%q", in)
	}
}

func TestCommandLogger_ScopesToCommand(t *testing.T) {
	var buf bytes.Buffer
	book := uuid.New()
	cmd := &event.CancelOrder{RequestID: uuid.New(), OrderBookID: book, OrderID: uuid.New(), Owner: uuid.New()}

	log := CommandLogger(newLogger(&buf, "shadowledger", "debug"), cmd)
	log.Info().Msg("command rejected")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shadowledger", line["component"])
	assert.Equal(t, cmd.EventType().String(), line["event_type"])
	assert.Equal(t, cmd.IdempotencyKey(), line["idempotency_key"])
	assert.Equal(t, book.String(), line["order_book"])
}

func TestNewLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "keeper", "warn")
	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}
