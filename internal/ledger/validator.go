package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateEscrowNonNegative checks that no escrow holds a negative balance
func (v *InvariantValidator) ValidateEscrowNonNegative() error {
	for key, balance := range v.tracker.balances {
		if key.Scope == AccountScopeEscrow && balance < 0 {
			return fmt.Errorf("escrow %s has negative balance: %d", key.AccountPath(), balance)
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the system is zero-sum per asset: every unit
// held by users or escrows is matched by the external deposit boundary.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	assets := make([]string, 0, len(totals))
	for assetID := range totals {
		assets = append(assets, string(assetID))
	}
	sort.Strings(assets)

	for _, a := range assets {
		if total := totals[AssetID(a)]; total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", a, total)
		}
	}

	return nil
}
