package ingestion_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ingestion"

	"github.com/google/uuid"
)

func TestOutboundMessages_Command(t *testing.T) {
	book := uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
	out := core.CoreOutput{Envelope: &event.EventEnvelope{
		Sequence:       12,
		IdempotencyKey: "k",
		EventType:      event.EventTypeOrderPlaced,
		OrderBookID:    &book,
		Timestamp:      time.Unix(1700000000, 0).UTC(),
		Payload:        []byte(`{"Amount":10}`),
	}}

	msgs := ingestion.OutboundMessages(out)
	if len(msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(msgs))
	}
	if want := "shadow.ledger.events.OrderPlaced." + book.String(); msgs[0].Subject != want {
		t.Errorf("subject: got %s, want %s", msgs[0].Subject, want)
	}
	if msgs[0].MsgID != "12" {
		t.Errorf("msg id: got %s, want 12", msgs[0].MsgID)
	}

	var got ingestion.PublishableEvent
	if err := json.Unmarshal(msgs[0].Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Sequence != 12 || got.EventType != "OrderPlaced" {
		t.Errorf("event: got %d %s", got.Sequence, got.EventType)
	}
	if string(got.Payload) != `{"Amount":10}` {
		t.Errorf("payload: got %s", got.Payload)
	}
	if len(got.StateHash) != 64 {
		t.Errorf("state hash: got %q, want 64 hex chars", got.StateHash)
	}
}

func TestOutboundMessages_GlobalCommand(t *testing.T) {
	out := core.CoreOutput{Envelope: &event.EventEnvelope{
		Sequence:  3,
		EventType: event.EventTypeFundsDeposited,
		Payload:   []byte(`{}`),
	}}

	msgs := ingestion.OutboundMessages(out)
	if !strings.HasSuffix(msgs[0].Subject, ".FundsDeposited.global") {
		t.Errorf("subject: got %s", msgs[0].Subject)
	}
}

func TestOutboundMessages_SettlementAddsTrade(t *testing.T) {
	book := uuid.New()
	trade := &event.TradeSettled{
		SettlementID:   uuid.New(),
		OrderBookID:    book,
		BaseAmount:     4,
		QuoteAmount:    420,
		ExecutionPrice: 105,
		Sequence:       9,
	}
	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:    9,
			EventType:   event.EventTypeMatchSettled,
			OrderBookID: &book,
			Payload:     []byte(`{}`),
		},
		Trade: trade,
	}

	msgs := ingestion.OutboundMessages(out)
	if len(msgs) != 2 {
		t.Fatalf("messages: got %d, want 2", len(msgs))
	}
	if want := "shadow.ledger.events.TradeSettled." + book.String(); msgs[1].Subject != want {
		t.Errorf("subject: got %s, want %s", msgs[1].Subject, want)
	}
	if msgs[1].MsgID != trade.SettlementID.String() {
		t.Errorf("msg id: got %s", msgs[1].MsgID)
	}

	var got event.TradeSettled
	if err := json.Unmarshal(msgs[1].Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.QuoteAmount != 420 || got.ExecutionPrice != 105 {
		t.Errorf("trade: got quote=%d price=%d", got.QuoteAmount, got.ExecutionPrice)
	}
}
