package ingestion

import (
	"encoding/json"
	"time"

	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ledgererr"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + command name) into a typed
// event.Event. Settlement commands are not accepted here: keepers submit
// them over the authenticated gRPC surface.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	var (
		evt event.Event
		err error
	)
	switch eventType {
	case "InitializeOrderBook":
		evt, err = parseInitializeOrderBook(raw)
	case "SetOrderBookActive":
		evt, err = parseSetOrderBookActive(raw)
	case "Deposit":
		evt, err = parseDeposit(raw)
	case "Withdraw":
		evt, err = parseWithdraw(raw)
	case "PlaceOrder":
		evt, err = parsePlaceOrder(raw)
	case "CancelOrder":
		evt, err = parseCancelOrder(raw)
	case "CloseOrder":
		evt, err = parseCloseOrder(raw)
	case "CreateCallbackAuth":
		evt, err = parseCreateCallbackAuth(raw)
	case "RevokeCallbackAuth":
		evt, err = parseRevokeCallbackAuth(raw)
	default:
		return nil, ledgererr.New(ledgererr.InvalidArgument, "unknown command type: %s", eventType)
	}
	// The parsers return typed pointers; keep a failed parse a nil interface.
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Byte fields are
// base64 as encoding/json writes them.

type initializeOrderBookJSON struct {
	RequestID        string `json:"request_id"`
	Authority        string `json:"authority"`
	BaseAsset        string `json:"base_asset"`
	QuoteAsset       string `json:"quote_asset"`
	FeeBps           uint16 `json:"fee_bps"`
	FeeRecipient     string `json:"fee_recipient"`
	MinBaseOrderSize int64  `json:"min_base_order_size"`
	BaseUnit         int64  `json:"base_unit"`
}

func parseInitializeOrderBook(raw RawEvent) (*event.InitializeOrderBook, error) {
	var j initializeOrderBookJSON
	if err := unmarshal(raw, "InitializeOrderBook", &j); err != nil {
		return nil, err
	}
	var p uuidParser
	e := &event.InitializeOrderBook{
		RequestID:        p.parse("request_id", j.RequestID),
		Authority:        p.parse("authority", j.Authority),
		BaseAsset:        j.BaseAsset,
		QuoteAsset:       j.QuoteAsset,
		FeeBps:           j.FeeBps,
		FeeRecipient:     p.parse("fee_recipient", j.FeeRecipient),
		MinBaseOrderSize: j.MinBaseOrderSize,
		BaseUnit:         j.BaseUnit,
		Timestamp:        raw.Timestamp.UTC(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

type setOrderBookActiveJSON struct {
	RequestID   string `json:"request_id"`
	Authority   string `json:"authority"`
	OrderBookID string `json:"order_book_id"`
	Active      bool   `json:"active"`
}

func parseSetOrderBookActive(raw RawEvent) (*event.SetOrderBookActive, error) {
	var j setOrderBookActiveJSON
	if err := unmarshal(raw, "SetOrderBookActive", &j); err != nil {
		return nil, err
	}
	var p uuidParser
	e := &event.SetOrderBookActive{
		RequestID:   p.parse("request_id", j.RequestID),
		Authority:   p.parse("authority", j.Authority),
		OrderBookID: p.parse("order_book_id", j.OrderBookID),
		Active:      j.Active,
		Timestamp:   raw.Timestamp.UTC(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

type custodyJSON struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
}

func parseDeposit(raw RawEvent) (*event.Deposit, error) {
	var j custodyJSON
	if err := unmarshal(raw, "Deposit", &j); err != nil {
		return nil, err
	}
	var p uuidParser
	e := &event.Deposit{
		DepositID: p.parse("id", j.ID),
		Owner:     p.parse("owner", j.Owner),
		Asset:     j.Asset,
		Amount:    j.Amount,
		Timestamp: raw.Timestamp.UTC(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

func parseWithdraw(raw RawEvent) (*event.Withdraw, error) {
	var j custodyJSON
	if err := unmarshal(raw, "Withdraw", &j); err != nil {
		return nil, err
	}
	var p uuidParser
	e := &event.Withdraw{
		WithdrawalID: p.parse("id", j.ID),
		Owner:        p.parse("owner", j.Owner),
		Asset:        j.Asset,
		Amount:       j.Amount,
		Timestamp:    raw.Timestamp.UTC(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

type placeOrderJSON struct {
	RequestID       string `json:"request_id"`
	OrderBookID     string `json:"order_book_id"`
	Owner           string `json:"owner"`
	CipherPayload   []byte `json:"cipher_payload"`
	EncryptedAmount []byte `json:"encrypted_amount"`
	Amount          int64  `json:"amount"`
	DepositAsset    string `json:"deposit_asset"`
	DepositAmount   int64  `json:"deposit_amount"`
}

func parsePlaceOrder(raw RawEvent) (*event.PlaceOrder, error) {
	var j placeOrderJSON
	if err := unmarshal(raw, "PlaceOrder", &j); err != nil {
		return nil, err
	}
	var p uuidParser
	e := &event.PlaceOrder{
		RequestID:       p.parse("request_id", j.RequestID),
		OrderBookID:     p.parse("order_book_id", j.OrderBookID),
		Owner:           p.parse("owner", j.Owner),
		CipherPayload:   j.CipherPayload,
		EncryptedAmount: j.EncryptedAmount,
		Amount:          j.Amount,
		DepositAsset:    j.DepositAsset,
		DepositAmount:   j.DepositAmount,
		Timestamp:       raw.Timestamp.UTC(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

type orderRefJSON struct {
	RequestID   string `json:"request_id"`
	OrderBookID string `json:"order_book_id"`
	OrderID     string `json:"order_id"`
	Owner       string `json:"owner"`
}

func parseCancelOrder(raw RawEvent) (*event.CancelOrder, error) {
	var j orderRefJSON
	if err := unmarshal(raw, "CancelOrder", &j); err != nil {
		return nil, err
	}
	var p uuidParser
	e := &event.CancelOrder{
		RequestID:   p.parse("request_id", j.RequestID),
		OrderBookID: p.parse("order_book_id", j.OrderBookID),
		OrderID:     p.parse("order_id", j.OrderID),
		Owner:       p.parse("owner", j.Owner),
		Timestamp:   raw.Timestamp.UTC(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

func parseCloseOrder(raw RawEvent) (*event.CloseOrder, error) {
	var j orderRefJSON
	if err := unmarshal(raw, "CloseOrder", &j); err != nil {
		return nil, err
	}
	var p uuidParser
	e := &event.CloseOrder{
		RequestID:   p.parse("request_id", j.RequestID),
		OrderBookID: p.parse("order_book_id", j.OrderBookID),
		OrderID:     p.parse("order_id", j.OrderID),
		Owner:       p.parse("owner", j.Owner),
		Timestamp:   raw.Timestamp.UTC(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

type callbackAuthJSON struct {
	RequestID   string `json:"request_id"`
	Authority   string `json:"authority"`
	OrderBookID string `json:"order_book_id"`
	Keeper      string `json:"keeper"`
	ExpiresAtUs int64  `json:"expires_at_us"`
}

func parseCreateCallbackAuth(raw RawEvent) (*event.CreateCallbackAuth, error) {
	var j callbackAuthJSON
	if err := unmarshal(raw, "CreateCallbackAuth", &j); err != nil {
		return nil, err
	}
	if j.ExpiresAtUs <= 0 {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "parse CreateCallbackAuth: expires_at_us is required")
	}
	var p uuidParser
	e := &event.CreateCallbackAuth{
		RequestID:   p.parse("request_id", j.RequestID),
		Authority:   p.parse("authority", j.Authority),
		OrderBookID: p.parse("order_book_id", j.OrderBookID),
		Keeper:      p.parse("keeper", j.Keeper),
		ExpiresAt:   time.UnixMicro(j.ExpiresAtUs).UTC(),
		Timestamp:   raw.Timestamp.UTC(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

func parseRevokeCallbackAuth(raw RawEvent) (*event.RevokeCallbackAuth, error) {
	var j callbackAuthJSON
	if err := unmarshal(raw, "RevokeCallbackAuth", &j); err != nil {
		return nil, err
	}
	var p uuidParser
	e := &event.RevokeCallbackAuth{
		RequestID:   p.parse("request_id", j.RequestID),
		Authority:   p.parse("authority", j.Authority),
		OrderBookID: p.parse("order_book_id", j.OrderBookID),
		Keeper:      p.parse("keeper", j.Keeper),
		Timestamp:   raw.Timestamp.UTC(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

// --- helpers ---

func unmarshal(raw RawEvent, name string, v interface{}) error {
	if err := json.Unmarshal(raw.Data, v); err != nil {
		return ledgererr.Wrap(ledgererr.InvalidArgument, err, "parse "+name)
	}
	return nil
}

// uuidParser keeps the first parse failure so a command's ids can be parsed
// inline.
type uuidParser struct {
	err error
}

func (p *uuidParser) parse(field, s string) uuid.UUID {
	if p.err != nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		p.err = ledgererr.Wrap(ledgererr.InvalidArgument, err, "parse "+field)
	}
	return id
}
