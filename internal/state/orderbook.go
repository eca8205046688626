package state

import (
	"ShadowSwap/internal/ledger"

	"github.com/google/uuid"
)

const (
	// MaxCipherPayloadSize bounds the encrypted order payload.
	MaxCipherPayloadSize = 512
	// MaxEncryptedAmountSize bounds encrypted amount and volume blobs.
	MaxEncryptedAmountSize = 64
	// MaxFeeBps is 100%.
	MaxFeeBps = 10_000
	// MatchReservationTTL is how long (microseconds) a queued match holds
	// its orders before either owner may release it.
	MatchReservationTTL int64 = 5 * 60 * 1_000_000
)

// OrderBook is one trading pair. OrderCount is the next sequence number and
// only ever grows; ActiveOrderCount tracks orders in Active, Partial or
// MatchedPending.
type OrderBook struct {
	ID               uuid.UUID
	Authority        uuid.UUID
	BaseAsset        ledger.AssetID
	QuoteAsset       ledger.AssetID
	OrderCount       int64
	ActiveOrderCount int64
	FeeBps           uint16
	FeeRecipient     uuid.UUID
	MinBaseOrderSize int64
	BaseUnit         int64 // price denominator in base units
	IsActive         bool
	CreatedAt        int64 // epoch microseconds
	LastTradeAt      int64

	// Opaque accumulators owned by the MPC side; carried, never read.
	EncryptedBaseVolume  []byte
	EncryptedQuoteVolume []byte
}

// CanonicalBytes for deterministic hashing
func (b *OrderBook) CanonicalBytes() []byte {
	buf := make([]byte, 0, 160)
	buf = append(buf, b.ID[:]...)
	buf = append(buf, b.Authority[:]...)
	buf = appendString(buf, string(b.BaseAsset))
	buf = appendString(buf, string(b.QuoteAsset))
	buf = appendInt64LE(buf, b.OrderCount)
	buf = appendInt64LE(buf, b.ActiveOrderCount)
	buf = appendInt64LE(buf, int64(b.FeeBps))
	buf = append(buf, b.FeeRecipient[:]...)
	buf = appendInt64LE(buf, b.MinBaseOrderSize)
	buf = appendInt64LE(buf, b.BaseUnit)
	buf = appendBool(buf, b.IsActive)
	buf = appendInt64LE(buf, b.CreatedAt)
	buf = appendInt64LE(buf, b.LastTradeAt)
	buf = appendString(buf, string(b.EncryptedBaseVolume))
	buf = appendString(buf, string(b.EncryptedQuoteVolume))
	return buf
}

// SideOfEscrow infers which side an order is on from the asset it escrowed:
// buy orders lock quote, sell orders lock base.
func (b *OrderBook) SideOfEscrow(asset ledger.AssetID) (isBuy bool, ok bool) {
	switch asset {
	case b.QuoteAsset:
		return true, true
	case b.BaseAsset:
		return false, true
	}
	return false, false
}

func appendInt64LE(buf []byte, v int64) []byte {
	u := uint64(v)
	return append(buf,
		byte(u), byte(u>>8), byte(u>>16), byte(u>>24),
		byte(u>>32), byte(u>>40), byte(u>>48), byte(u>>56),
	)
}

func appendString(buf []byte, s string) []byte {
	buf = appendInt64LE(buf, int64(len(s)))
	return append(buf, s...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}
