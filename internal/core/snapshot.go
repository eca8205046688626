package core

import (
	"ShadowSwap/internal/auth"
	"ShadowSwap/internal/ledger"
	"ShadowSwap/internal/state"
)

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	OrderBooks      []*state.OrderBook
	Orders          []*state.Order
	Escrows         []*state.Escrow
	Auths           []*auth.CallbackAuthorization
	Applied         []AppliedCommand
	LastTimestamp   int64 // epoch microseconds of the last applied command
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// The caller replays events after snap.Sequence afterwards.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}
	for _, b := range snap.OrderBooks {
		book := *b
		c.orders.RestoreOrderBook(&book)
	}
	for _, o := range snap.Orders {
		order := *o
		c.orders.RestoreOrder(&order)
	}
	for _, e := range snap.Escrows {
		escrow := *e
		c.orders.RestoreEscrow(&escrow)
	}
	// Nonce partitions are derived from the grants; nothing else owns them.
	for _, a := range snap.Auths {
		grant := *a
		c.auths.Put(&grant)
		c.sequenceValidator.RestorePartition(CallbackPartition(grant.OrderBookID, grant.Keeper), grant.Nonce)
	}

	c.lastTimestamp = snap.LastTimestamp
	c.WarmLRU(snap.Applied)
}

// WarmLRU loads recently applied commands into the LRU cache so a restart
// does not hit the database for them.
func (c *DeterministicCore) WarmLRU(applied []AppliedCommand) {
	c.idempotency.lru.Warm(applied)
}

// GetSequence returns the next sequence number to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
// Entities are copied so the snapshot can be encoded off the core goroutine.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Applied:         c.idempotency.lru.Applied(),
		LastTimestamp:   c.lastTimestamp,
	}
	for _, b := range c.orders.OrderBooks() {
		book := *b
		snap.OrderBooks = append(snap.OrderBooks, &book)
	}
	for _, o := range c.orders.Orders() {
		order := *o
		snap.Orders = append(snap.Orders, &order)
	}
	for _, e := range c.orders.Escrows() {
		escrow := *e
		snap.Escrows = append(snap.Escrows, &escrow)
	}
	for _, a := range c.auths.All() {
		grant := *a
		snap.Auths = append(snap.Auths, &grant)
	}
	return snap
}
