// Package decrypt turns encrypted order payloads into plaintext orders for
// the keeper. Backends implement Decryptor; Gateway fans a batch out to one
// with bounded concurrency.
package decrypt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/matching"

	"github.com/google/uuid"
)

// Plaintext is a decrypted order payload.
type Plaintext struct {
	Side      matching.Side
	Amount    int64
	Price     int64
	Timestamp uint32
	Owner     uuid.UUID // uuid.Nil when the payload carries no owner
}

// Decryptor is the capability every decryption backend provides.
type Decryptor interface {
	Decrypt(ctx context.Context, ciphertext []byte) (Plaintext, error)
}

// DecryptError is the per-order failure reported by Gateway.DecryptBatch.
type DecryptError struct {
	OrderID uuid.UUID
	Err     error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decrypt order %s: %v", e.OrderID, e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

// Code is the taxonomy code of the underlying failure.
func (e *DecryptError) Code() ledgererr.Code {
	if code, ok := ledgererr.CodeOf(e.Err); ok {
		return code
	}
	return ledgererr.Internal
}

// wirePlaintext is the JSON document the MPC service returns; amounts are
// decimal strings so they survive JavaScript number precision.
type wirePlaintext struct {
	Side      uint32 `json:"side"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	Timestamp uint32 `json:"timestamp"`
	Owner     string `json:"owner,omitempty"`
}

func parsePlaintext(doc []byte) (Plaintext, error) {
	var w wirePlaintext
	if err := json.Unmarshal(doc, &w); err != nil {
		return Plaintext{}, ledgererr.Wrap(ledgererr.InvalidCipherPayload, err, "plaintext is not an order document")
	}
	amount, err := strconv.ParseInt(w.Amount, 10, 64)
	if err != nil {
		return Plaintext{}, ledgererr.Wrap(ledgererr.InvalidCipherPayload, err, "plaintext amount")
	}
	price, err := strconv.ParseInt(w.Price, 10, 64)
	if err != nil {
		return Plaintext{}, ledgererr.Wrap(ledgererr.InvalidCipherPayload, err, "plaintext price")
	}
	if w.Side > uint32(matching.SideSell) {
		return Plaintext{}, ledgererr.New(ledgererr.InvalidCipherPayload, "invalid side %d", w.Side)
	}
	p := Plaintext{
		Side:      matching.Side(w.Side),
		Amount:    amount,
		Price:     price,
		Timestamp: w.Timestamp,
	}
	if w.Owner != "" {
		if p.Owner, err = uuid.Parse(w.Owner); err != nil {
			return Plaintext{}, ledgererr.Wrap(ledgererr.InvalidCipherPayload, err, "plaintext owner")
		}
	}
	return p, nil
}

// Validate checks a plaintext against what the ledger recorded for the order.
func (p Plaintext) Validate(owner uuid.UUID, amount int64) error {
	switch {
	case p.Side != matching.SideBuy && p.Side != matching.SideSell:
		return ledgererr.New(ledgererr.InvalidCipherPayload, "invalid side %d", p.Side)
	case p.Price <= 0:
		return ledgererr.New(ledgererr.InvalidCipherPayload, "price %d must be positive", p.Price)
	case p.Amount <= 0:
		return ledgererr.New(ledgererr.InvalidCipherPayload, "amount %d must be positive", p.Amount)
	case p.Owner != uuid.Nil && p.Owner != owner:
		return ledgererr.New(ledgererr.InvalidCipherPayload, "payload owner %s does not match order owner %s", p.Owner, owner)
	case p.Amount != amount:
		return ledgererr.New(ledgererr.InvalidCipherPayload, "payload amount %d does not match order amount %d", p.Amount, amount)
	}
	return nil
}
