package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Encode serializes a command for the event log payload.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode rebuilds a command from its logged type and payload. Replay uses it
// to feed the core the exact commands it applied before.
func Decode(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeOrderBookInitialized:
		evt = &InitializeOrderBook{}
	case EventTypeOrderBookStatusChanged:
		evt = &SetOrderBookActive{}
	case EventTypeFundsDeposited:
		evt = &Deposit{}
	case EventTypeFundsWithdrawn:
		evt = &Withdraw{}
	case EventTypeOrderPlaced:
		evt = &PlaceOrder{}
	case EventTypeOrderCancelled:
		evt = &CancelOrder{}
	case EventTypeOrderClosed:
		evt = &CloseOrder{}
	case EventTypeCallbackAuthCreated:
		evt = &CreateCallbackAuth{}
	case EventTypeCallbackAuthRevoked:
		evt = &RevokeCallbackAuth{}
	case EventTypeMatchQueued:
		evt = &QueueMatch{}
	case EventTypeMatchReleased:
		evt = &ReleaseMatch{}
	case EventTypeMatchSettled:
		evt = &SettleMatch{}
	default:
		return nil, fmt.Errorf("cannot decode event type %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}

// Stamp overwrites the command's timestamp with the ledger's time of
// acceptance. Whatever time a client put on the command is discarded.
func Stamp(evt Event, now time.Time) {
	if ts := timestampField(evt); ts != nil {
		*ts = now.UTC()
	}
}

func timestampField(evt Event) *time.Time {
	switch e := evt.(type) {
	case *InitializeOrderBook:
		return &e.Timestamp
	case *SetOrderBookActive:
		return &e.Timestamp
	case *Deposit:
		return &e.Timestamp
	case *Withdraw:
		return &e.Timestamp
	case *PlaceOrder:
		return &e.Timestamp
	case *CancelOrder:
		return &e.Timestamp
	case *CloseOrder:
		return &e.Timestamp
	case *CreateCallbackAuth:
		return &e.Timestamp
	case *RevokeCallbackAuth:
		return &e.Timestamp
	case *QueueMatch:
		return &e.Timestamp
	case *ReleaseMatch:
		return &e.Timestamp
	case *SettleMatch:
		return &e.Timestamp
	}
	return nil
}
