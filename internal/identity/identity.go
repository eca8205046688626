// Package identity derives stable entity identifiers from seed tuples.
// The same seeds always produce the same id, so any process can recompute
// the id of an order book, order, escrow or callback authorization without
// asking the ledger.
package identity

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Namespace is the root UUIDv5 namespace for every derived id.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("shadowswap:ids:v1"))

const (
	SeedOrderBook    = "order_book"
	SeedOrder        = "order"
	SeedEscrow       = "escrow"
	SeedCallbackAuth = "callback_auth"
	SeedSettlement   = "settlement"
	SeedBatch        = "batch"
	SeedJournal      = "journal"
)

// Derive hashes the seed tuple into a UUIDv5. Each part is length prefixed
// so ("ab","c") and ("a","bc") never collide.
func Derive(seeds ...[]byte) uuid.UUID {
	size := 0
	for _, s := range seeds {
		size += 4 + len(s)
	}
	buf := make([]byte, 0, size)
	for _, s := range seeds {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return uuid.NewSHA1(Namespace, buf)
}

func u64(v int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(v))
}

// OrderBookID is derived from the traded pair.
func OrderBookID(baseAsset, quoteAsset string) uuid.UUID {
	return Derive([]byte(SeedOrderBook), []byte(baseAsset), []byte(quoteAsset))
}

// OrderID is derived from the book and the order's sequence number.
func OrderID(orderBookID uuid.UUID, sequence int64) uuid.UUID {
	return Derive([]byte(SeedOrder), orderBookID[:], u64(sequence))
}

// EscrowID is derived from the order it belongs to.
func EscrowID(orderID uuid.UUID) uuid.UUID {
	return Derive([]byte(SeedEscrow), orderID[:])
}

// CallbackAuthID is derived from the (order book, keeper) pair.
func CallbackAuthID(orderBookID, keeperID uuid.UUID) uuid.UUID {
	return Derive([]byte(SeedCallbackAuth), orderBookID[:], keeperID[:])
}

// SettlementID identifies one keeper's settlement of a buy/sell pair at a
// given authorization nonce.
func SettlementID(keeperID, buyOrderID, sellOrderID uuid.UUID, nonce int64) uuid.UUID {
	return Derive([]byte(SeedSettlement), keeperID[:], buyOrderID[:], sellOrderID[:], u64(nonce))
}

// BatchID gives journal batches stable ids across replays.
func BatchID(eventRef string, sequence int64) uuid.UUID {
	return Derive([]byte(SeedBatch), []byte(eventRef), u64(sequence))
}

// JournalID identifies the n-th leg of a batch.
func JournalID(batchID uuid.UUID, leg int) uuid.UUID {
	return Derive([]byte(SeedJournal), batchID[:], u64(int64(leg)))
}
