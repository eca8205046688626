package ledger

import (
	"fmt"

	"ShadowSwap/internal/identity"

	"github.com/google/uuid"
)

// Ref ties a batch to the command that produced it.
type Ref struct {
	EventRef  string // idempotency key of the command
	Sequence  int64  // core sequence the command is applied at
	Timestamp int64  // epoch microseconds
}

// JournalGenerator creates balanced journal batches for custody movements.
// Batch and journal ids are derived from the Ref so a replay rebuilds the
// exact same journals.
type JournalGenerator struct {
	balanceTracker *BalanceTracker // for pre-checks
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

func newBatch(ref Ref, legs int) *Batch {
	return &Batch{
		BatchID:   identity.BatchID(ref.EventRef, ref.Sequence),
		EventRef:  ref.EventRef,
		Sequence:  ref.Sequence,
		Timestamp: ref.Timestamp,
		Journals:  make([]Journal, 0, legs),
	}
}

// addLeg appends a transfer credit -> debit. Zero amounts are skipped.
func (b *Batch) addLeg(debit, credit AccountKey, assetID AssetID, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     identity.JournalID(b.BatchID, len(b.Journals)),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateDeposit credits a user's available balance.
// Moves funds: external:deposits → user:available
func (jg *JournalGenerator) GenerateDeposit(ref Ref, userID uuid.UUID, assetID AssetID, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %d", amount)
	}
	batch := newBatch(ref, 1)
	batch.addLeg(
		NewUserAccountKey(userID, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		assetID, amount, JournalTypeDeposit,
	)
	return batch, nil
}

// GenerateWithdrawal debits a user's available balance.
// Pre-check: user must have sufficient available balance.
func (jg *JournalGenerator) GenerateWithdrawal(ref Ref, userID uuid.UUID, assetID AssetID, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive: %d", amount)
	}
	if err := jg.balanceTracker.ValidateSufficientAvailable(userID, assetID, amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}
	batch := newBatch(ref, 1)
	batch.addLeg(
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		NewUserAccountKey(userID, assetID),
		assetID, amount, JournalTypeWithdrawal,
	)
	return batch, nil
}

// GenerateEscrowLock moves an order's deposit into its escrow.
// Moves funds: user:available → escrow:held
func (jg *JournalGenerator) GenerateEscrowLock(ref Ref, owner, escrowID uuid.UUID, assetID AssetID, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("escrow amount must be positive: %d", amount)
	}
	if err := jg.balanceTracker.ValidateSufficientAvailable(owner, assetID, amount); err != nil {
		return nil, fmt.Errorf("escrow lock pre-check failed: %w", err)
	}
	batch := newBatch(ref, 1)
	batch.addLeg(
		NewEscrowAccountKey(escrowID, assetID),
		NewUserAccountKey(owner, assetID),
		assetID, amount, JournalTypeEscrowLock,
	)
	return batch, nil
}

// GenerateEscrowRefund returns the whole escrow balance to its owner.
// Returns nil when the escrow is already empty.
func (jg *JournalGenerator) GenerateEscrowRefund(ref Ref, owner, escrowID uuid.UUID, assetID AssetID) *Batch {
	held := jg.balanceTracker.GetEscrowBalance(escrowID, assetID)
	if held <= 0 {
		return nil
	}
	batch := newBatch(ref, 1)
	batch.addLeg(
		NewUserAccountKey(owner, assetID),
		NewEscrowAccountKey(escrowID, assetID),
		assetID, held, JournalTypeEscrowRefund,
	)
	return batch
}

// SettlementLegs describes one matched trade in custody terms.
type SettlementLegs struct {
	BaseAsset  AssetID
	QuoteAsset AssetID

	Buyer        uuid.UUID
	BuyerEscrow  uuid.UUID // holds quote
	Seller       uuid.UUID
	SellerEscrow uuid.UUID // holds base
	FeeRecipient uuid.UUID

	BaseAmount  int64
	QuoteAmount int64 // gross, fee included
	Fee         int64

	// Set when the settlement completes an order; the remaining escrow
	// balance is refunded to its owner in the same batch.
	RefundBuyerResidual  bool
	RefundSellerResidual bool
}

// GenerateSettlement creates the journals for one settlement:
//
//	buyer escrow  → seller available  (quote - fee)
//	buyer escrow  → fee recipient     (fee)
//	seller escrow → buyer available   (base)
//	residual escrow balances → owners for orders that are now filled
//
// Pre-check: both escrows must cover their legs.
func (jg *JournalGenerator) GenerateSettlement(ref Ref, s SettlementLegs) (*Batch, error) {
	if s.BaseAmount <= 0 || s.QuoteAmount <= 0 {
		return nil, fmt.Errorf("settlement amounts must be positive: base=%d quote=%d", s.BaseAmount, s.QuoteAmount)
	}
	if s.Fee < 0 || s.Fee > s.QuoteAmount {
		return nil, fmt.Errorf("fee %d outside [0, %d]", s.Fee, s.QuoteAmount)
	}
	if err := jg.balanceTracker.ValidateSufficientEscrow(s.BuyerEscrow, s.QuoteAsset, s.QuoteAmount); err != nil {
		return nil, fmt.Errorf("buyer escrow pre-check failed: %w", err)
	}
	if err := jg.balanceTracker.ValidateSufficientEscrow(s.SellerEscrow, s.BaseAsset, s.BaseAmount); err != nil {
		return nil, fmt.Errorf("seller escrow pre-check failed: %w", err)
	}

	batch := newBatch(ref, 5)
	buyerEscrow := NewEscrowAccountKey(s.BuyerEscrow, s.QuoteAsset)
	sellerEscrow := NewEscrowAccountKey(s.SellerEscrow, s.BaseAsset)

	batch.addLeg(NewUserAccountKey(s.Seller, s.QuoteAsset), buyerEscrow, s.QuoteAsset,
		s.QuoteAmount-s.Fee, JournalTypeSettlementQuote)
	batch.addLeg(NewUserAccountKey(s.FeeRecipient, s.QuoteAsset), buyerEscrow, s.QuoteAsset,
		s.Fee, JournalTypeSettlementFee)
	batch.addLeg(NewUserAccountKey(s.Buyer, s.BaseAsset), sellerEscrow, s.BaseAsset,
		s.BaseAmount, JournalTypeSettlementBase)

	if s.RefundBuyerResidual {
		residual := jg.balanceTracker.GetBalance(buyerEscrow) - s.QuoteAmount
		batch.addLeg(NewUserAccountKey(s.Buyer, s.QuoteAsset), buyerEscrow, s.QuoteAsset,
			residual, JournalTypeResidualRefund)
	}
	if s.RefundSellerResidual {
		residual := jg.balanceTracker.GetBalance(sellerEscrow) - s.BaseAmount
		batch.addLeg(NewUserAccountKey(s.Seller, s.BaseAsset), sellerEscrow, s.BaseAsset,
			residual, JournalTypeResidualRefund)
	}

	return batch, nil
}
