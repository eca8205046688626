package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"ShadowSwap/internal/event"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogLevelEnv selects the level for every ShadowSwap binary.
const LogLevelEnv = "SHADOW_LOG_LEVEL"

func init() {
	// Ledger stamps are microseconds; log lines keep the same precision.
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns the JSON logger for one ShadowSwap process, written to
// stdout at the level named by SHADOW_LOG_LEVEL (info when unset).
func NewLogger(process string) zerolog.Logger {
	return newLogger(os.Stdout, process, os.Getenv(LogLevelEnv))
}

func newLogger(w io.Writer, process, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Str("component", process).
		Logger()
}

// parseLogLevel accepts zerolog level names in any case. Unknown names and
// levels that would silence rejections ("disabled", "panic", "fatal") fall
// back to info.
func parseLogLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" || lvl > zerolog.ErrorLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// KeeperLogger scopes l to one keeper settling one order book.
func KeeperLogger(l zerolog.Logger, keeper, book uuid.UUID) zerolog.Logger {
	return l.With().
		Str("keeper", keeper.String()).
		Str("order_book", book.String()).
		Logger()
}

// CommandLogger scopes l to one ledger command by type and dedup key.
func CommandLogger(l zerolog.Logger, evt event.Event) zerolog.Logger {
	ctx := l.With().
		Str("event_type", evt.EventType().String()).
		Str("idempotency_key", evt.IdempotencyKey())
	if book := evt.OrderBook(); book != nil {
		ctx = ctx.Str("order_book", book.String())
	}
	return ctx.Logger()
}
