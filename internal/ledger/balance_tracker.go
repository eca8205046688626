package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch. The batch is checked as a whole
// first: if any user or escrow account would go negative nothing is applied.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	deltas := make(map[AccountKey]int64, len(batch.Journals)*2)
	for _, j := range batch.Journals {
		deltas[j.DebitAccount] += j.Amount
		deltas[j.CreditAccount] -= j.Amount
	}
	for key, delta := range deltas {
		if key.Scope == AccountScopeExternal {
			continue
		}
		if bt.balances[key]+delta < 0 {
			return fmt.Errorf("batch %s would overdraw %s: have=%d, delta=%d",
				batch.BatchID, key.AccountPath(), bt.balances[key], delta)
		}
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// GetUserAvailableBalance returns what a user can lock into orders or withdraw
func (bt *BalanceTracker) GetUserAvailableBalance(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, assetID))
}

// GetEscrowBalance returns the funds currently held for an order
func (bt *BalanceTracker) GetEscrowBalance(escrowID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewEscrowAccountKey(escrowID, assetID))
}

// === Invariant Checks ===

// ValidateSufficientAvailable checks if user has enough available balance
func (bt *BalanceTracker) ValidateSufficientAvailable(userID uuid.UUID, assetID AssetID, required int64) error {
	available := bt.GetUserAvailableBalance(userID, assetID)
	if available < required {
		return fmt.Errorf("insufficient available balance: have=%d, need=%d", available, required)
	}
	return nil
}

// ValidateSufficientEscrow checks if an escrow can release the required amount
func (bt *BalanceTracker) ValidateSufficientEscrow(escrowID uuid.UUID, assetID AssetID, required int64) error {
	held := bt.GetEscrowBalance(escrowID, assetID)
	if held < required {
		return fmt.Errorf("insufficient escrow balance: have=%d, need=%d", held, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SetBalance overwrites a balance. Used only when restoring from a snapshot.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	if balance == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = balance
}
