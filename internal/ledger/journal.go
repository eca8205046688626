package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeEscrowLock
	JournalTypeEscrowRefund
	JournalTypeSettlementQuote
	JournalTypeSettlementBase
	JournalTypeSettlementFee
	JournalTypeResidualRefund
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeEscrowLock:
		return "escrow_lock"
	case JournalTypeEscrowRefund:
		return "escrow_refund"
	case JournalTypeSettlementQuote:
		return "settlement_quote"
	case JournalTypeSettlementBase:
		return "settlement_base"
	case JournalTypeSettlementFee:
		return "settlement_fee"
	case JournalTypeResidualRefund:
		return "residual_refund"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Amount in the asset's smallest unit (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Command timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries that is applied
// atomically: either every leg lands or none does.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal entry moves a single positive amount from the credit account to the
// debit account of the same asset, so Σ debits == Σ credits holds per entry.
// Multi-leg batches (settlement with fee) use several entries under one batch_id.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s moves %s between accounts of another asset", j.JournalID, j.AssetID)
		}
	}

	return nil
}
