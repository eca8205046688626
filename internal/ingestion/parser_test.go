package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ingestion"
	"ShadowSwap/internal/ledgererr"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.UnixMicro(1700000000000000).UTC(),
		AckFunc:   func() {},
		NakFunc:   func() {},
		TermFunc:  func() {},
	}
}

// ===================================================================
// Order commands
// ===================================================================

func TestParsePlaceOrder(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":       "550e8400-e29b-41d4-a716-446655440000",
		"order_book_id":    "660e8400-e29b-41d4-a716-446655440001",
		"owner":            "770e8400-e29b-41d4-a716-446655440002",
		"cipher_payload":   []byte{0xde, 0xad, 0xbe, 0xef},
		"encrypted_amount": []byte{0x01, 0x02},
		"amount":           int64(10),
		"deposit_asset":    "USDC",
		"deposit_amount":   int64(1_050),
		"timestamp_us":     int64(1600000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PlaceOrder")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	po, ok := evt.(*event.PlaceOrder)
	if !ok {
		t.Fatalf("expected *event.PlaceOrder, got %T", evt)
	}

	if string(po.CipherPayload) != "\xde\xad\xbe\xef" {
		t.Errorf("cipher_payload: got %x", po.CipherPayload)
	}
	if po.Amount != 10 {
		t.Errorf("amount: got %d, want 10", po.Amount)
	}
	if po.DepositAsset != "USDC" || po.DepositAmount != 1_050 {
		t.Errorf("deposit: got %d %s, want 1050 USDC", po.DepositAmount, po.DepositAsset)
	}
	// A producer timestamp is ignored; the command carries receipt time.
	if !po.Timestamp.Equal(raw.Timestamp) {
		t.Errorf("timestamp: got %v, want receipt time %v", po.Timestamp, raw.Timestamp)
	}
	if po.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", po.IdempotencyKey())
	}
	if po.EventType() != event.EventTypeOrderPlaced {
		t.Errorf("event type: got %v, want OrderPlaced", po.EventType())
	}
}

func TestParseCancelOrder_UsesReceiptTime(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"order_book_id": "660e8400-e29b-41d4-a716-446655440001",
		"order_id":      "880e8400-e29b-41d4-a716-446655440003",
		"owner":         "770e8400-e29b-41d4-a716-446655440002",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "CancelOrder")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	co := evt.(*event.CancelOrder)
	if !co.Timestamp.Equal(raw.Timestamp) {
		t.Errorf("timestamp: got %v, want receipt time %v", co.Timestamp, raw.Timestamp)
	}
	if co.OrderID.String() != "880e8400-e29b-41d4-a716-446655440003" {
		t.Errorf("order_id: got %s", co.OrderID)
	}
}

func TestParseCloseOrder(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"order_book_id": "660e8400-e29b-41d4-a716-446655440001",
		"order_id":      "880e8400-e29b-41d4-a716-446655440003",
		"owner":         "770e8400-e29b-41d4-a716-446655440002",
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "CloseOrder")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if evt.EventType() != event.EventTypeOrderClosed {
		t.Errorf("event type: got %v, want OrderClosed", evt.EventType())
	}
}

// ===================================================================
// Order book and custody commands
// ===================================================================

func TestParseInitializeOrderBook(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":          "550e8400-e29b-41d4-a716-446655440000",
		"authority":           "660e8400-e29b-41d4-a716-446655440001",
		"base_asset":          "SOL",
		"quote_asset":         "USDC",
		"fee_bps":             30,
		"fee_recipient":       "770e8400-e29b-41d4-a716-446655440002",
		"min_base_order_size": int64(1),
		"base_unit":           int64(1_000_000_000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "InitializeOrderBook")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ib := evt.(*event.InitializeOrderBook)
	if ib.BaseAsset != "SOL" || ib.QuoteAsset != "USDC" {
		t.Errorf("pair: got %s/%s, want SOL/USDC", ib.BaseAsset, ib.QuoteAsset)
	}
	if ib.FeeBps != 30 {
		t.Errorf("fee_bps: got %d, want 30", ib.FeeBps)
	}
	if ib.BaseUnit != 1_000_000_000 {
		t.Errorf("base_unit: got %d", ib.BaseUnit)
	}
}

func TestParseSetOrderBookActive(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"authority":     "660e8400-e29b-41d4-a716-446655440001",
		"order_book_id": "770e8400-e29b-41d4-a716-446655440002",
		"active":        false,
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "SetOrderBookActive")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if evt.(*event.SetOrderBookActive).Active {
		t.Error("active: got true, want false")
	}
}

func TestParseDepositAndWithdraw(t *testing.T) {
	payload := map[string]interface{}{
		"id":     "550e8400-e29b-41d4-a716-446655440000",
		"owner":  "660e8400-e29b-41d4-a716-446655440001",
		"asset":  "USDC",
		"amount": int64(2_000_000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Deposit")
	if err != nil {
		t.Fatalf("parse deposit failed: %v", err)
	}
	d := evt.(*event.Deposit)
	if d.Amount != 2_000_000 || d.Asset != "USDC" {
		t.Errorf("deposit: got %d %s", d.Amount, d.Asset)
	}
	if d.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("deposit key: got %s", d.IdempotencyKey())
	}

	evt, err = ingestion.ParseRawEvent(rawFromJSON(t, payload), "Withdraw")
	if err != nil {
		t.Fatalf("parse withdraw failed: %v", err)
	}
	if evt.EventType() != event.EventTypeFundsWithdrawn {
		t.Errorf("event type: got %v, want FundsWithdrawn", evt.EventType())
	}
}

// ===================================================================
// Callback authorization commands
// ===================================================================

func TestParseCreateCallbackAuth(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"authority":     "660e8400-e29b-41d4-a716-446655440001",
		"order_book_id": "770e8400-e29b-41d4-a716-446655440002",
		"keeper":        "880e8400-e29b-41d4-a716-446655440003",
		"expires_at_us": int64(1700003600000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "CreateCallbackAuth")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ca := evt.(*event.CreateCallbackAuth)
	if ca.ExpiresAt.UnixMicro() != 1700003600000000 {
		t.Errorf("expires_at: got %d", ca.ExpiresAt.UnixMicro())
	}
}

func TestParseCreateCallbackAuth_RequiresExpiry(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"authority":     "660e8400-e29b-41d4-a716-446655440001",
		"order_book_id": "770e8400-e29b-41d4-a716-446655440002",
		"keeper":        "880e8400-e29b-41d4-a716-446655440003",
	}

	_, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "CreateCallbackAuth")
	if code, _ := ledgererr.CodeOf(err); code != ledgererr.InvalidArgument {
		t.Errorf("code: got %q, want InvalidArgument (err=%v)", code, err)
	}
}

func TestParseRevokeCallbackAuth(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"authority":     "660e8400-e29b-41d4-a716-446655440001",
		"order_book_id": "770e8400-e29b-41d4-a716-446655440002",
		"keeper":        "880e8400-e29b-41d4-a716-446655440003",
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "RevokeCallbackAuth")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if evt.EventType() != event.EventTypeCallbackAuthRevoked {
		t.Errorf("event type: got %v, want CallbackAuthRevoked", evt.EventType())
	}
}

// ===================================================================
// Error cases
// ===================================================================

func TestParseUnknownEventType(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "SettleMatch")
	if err == nil {
		t.Fatal("expected error for command not accepted over NATS")
	}
	if ledgererr.ClassOf(err) != ledgererr.ClassValidation {
		t.Errorf("class: got %v, want validation", ledgererr.ClassOf(err))
	}
}

func TestParseInvalidJSON(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "Deposit")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID(t *testing.T) {
	payload := map[string]interface{}{
		"id":     "not-a-uuid",
		"owner":  "660e8400-e29b-41d4-a716-446655440001",
		"asset":  "USDC",
		"amount": int64(1),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Deposit")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
	if evt != nil {
		t.Errorf("expected nil event on error, got %T", evt)
	}
}
