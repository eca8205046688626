package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"ShadowSwap/internal/core"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	eventStream  = "SHADOW_LEDGER_EVENTS"
	eventSubject = "shadow.ledger.events"
)

// OutboundPublisher publishes applied commands to NATS for downstream
// consumers. It is fed by the persistence worker, so only durable events
// are published. Subjects follow shadow.ledger.events.{event_type}.{book}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// PublishableEvent is a processed command ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	OrderBookID    *uuid.UUID      `json:"order_book_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, msg := range OutboundMessages(out) {
				if _, err := op.js.Publish(ctx, msg.Subject, msg.Data, jetstream.WithMsgID(msg.MsgID)); err != nil {
					// Non-fatal: consumers can read the event log directly.
					op.logger.Warn().Err(err).
						Int64("sequence", out.Envelope.Sequence).
						Str("subject", msg.Subject).
						Msg("outbound publish failed")
				}
			}
		}
	}
}

// OutboundMessage is one NATS publish. MsgID lets JetStream drop
// republished duplicates.
type OutboundMessage struct {
	Subject string
	MsgID   string
	Data    []byte
}

// OutboundMessages builds the messages for one applied command: the command
// itself and, for settlements, the TradeSettled record.
func OutboundMessages(out core.CoreOutput) []OutboundMessage {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		OrderBookID:    env.OrderBookID,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		// Payload is the core's own JSON encoding.
		panic(fmt.Sprintf("marshal outbound event %d: %v", env.Sequence, err))
	}

	msgs := []OutboundMessage{{
		Subject: subjectFor(evt.EventType, env.OrderBookID),
		MsgID:   fmt.Sprintf("%d", env.Sequence),
		Data:    data,
	}}

	if t := out.Trade; t != nil {
		tradeData, err := json.Marshal(t)
		if err != nil {
			panic(fmt.Sprintf("marshal trade %s: %v", t.SettlementID, err))
		}
		msgs = append(msgs, OutboundMessage{
			Subject: subjectFor("TradeSettled", &t.OrderBookID),
			MsgID:   t.SettlementID.String(),
			Data:    tradeData,
		})
	}
	return msgs
}

func subjectFor(eventType string, book *uuid.UUID) string {
	if book == nil {
		return fmt.Sprintf("%s.%s.global", eventSubject, eventType)
	}
	return fmt.Sprintf("%s.%s.%s", eventSubject, eventType, book)
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       eventStream,
		Subjects:   []string{eventSubject + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Replicas:   1,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", eventStream).Msg("ensured outbound stream")
	return nil
}
