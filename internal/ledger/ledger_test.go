package ledger_test

import (
	"ShadowSwap/internal/ledger"
	"testing"

	"github.com/google/uuid"
)

const (
	base  ledger.AssetID = "SOL"
	quote ledger.AssetID = "USDC"
)

func ref(key string, seq int64) ledger.Ref {
	return ledger.Ref{EventRef: key, Sequence: seq, Timestamp: 1_700_000_000_000_000}
}

func mustApply(t *testing.T, bt *ledger.BalanceTracker, batch *ledger.Batch, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
}

func assertZeroSum(t *testing.T, bt *ledger.BalanceTracker) {
	t.Helper()
	if err := ledger.NewInvariantValidator(bt).ValidateGlobalBalance(); err != nil {
		t.Errorf("conservation violated: %v", err)
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewUserAccountKey(userID, quote)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:available:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_EscrowPath(t *testing.T) {
	escrowID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	key := ledger.NewEscrowAccountKey(escrowID, base)

	path := key.AccountPath()
	if path != "escrow:6ba7b810-9dad-11d1-80b4-00c04fd430c8:held:SOL" {
		t.Errorf("got %q", path)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, quote)

	path := key.AccountPath()
	if path != "external:deposits:USDC" {
		t.Errorf("got %q, want %q", path, "external:deposits:USDC")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewUserAccountKey(uuid.New(), quote),
		ledger.NewEscrowAccountKey(uuid.New(), base),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, base),
	}
	for _, k := range keys {
		got, err := ledger.ParseAccountPath(k.AccountPath())
		if err != nil {
			t.Fatalf("ParseAccountPath(%q): %v", k.AccountPath(), err)
		}
		if got != k {
			t.Errorf("round trip of %q changed the key", k.AccountPath())
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, p := range []string{"", "user:not-a-uuid:available:USDC", "system:fees:USDC", "external:nope:USDC"} {
		if _, err := ledger.ParseAccountPath(p); err == nil {
			t.Errorf("expected error for %q", p)
		}
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	if balance := bt.GetUserAvailableBalance(uuid.New(), quote); balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
}

func TestBalanceTracker_ApplyBatch_RejectsOverdraftAtomically(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)
	user := uuid.New()
	escrow := uuid.New()

	batch, err := gen.GenerateDeposit(ref("dep-1", 1), user, quote, 100)
	mustApply(t, bt, batch, err)

	// Hand-built batch: the first leg is fine, the second overdraws.
	batchID := uuid.New()
	bad := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewEscrowAccountKey(escrow, quote),
				CreditAccount: ledger.NewUserAccountKey(user, quote),
				AssetID:       quote,
				Amount:        60,
			},
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewEscrowAccountKey(escrow, quote),
				CreditAccount: ledger.NewUserAccountKey(user, quote),
				AssetID:       quote,
				Amount:        60,
			},
		},
	}
	if err := bt.ApplyBatch(bad); err == nil {
		t.Fatal("expected overdraft to be rejected")
	}
	if got := bt.GetUserAvailableBalance(user, quote); got != 100 {
		t.Errorf("no leg may apply on rejection: got %d, want 100", got)
	}
	if got := bt.GetEscrowBalance(escrow, quote); got != 0 {
		t.Errorf("escrow: got %d, want 0", got)
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)
	userID := uuid.New()

	batch, err := gen.GenerateDeposit(ref("dep-1", 1), userID, quote, 999)
	mustApply(t, bt, batch, err)

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.GetUserAvailableBalance(userID, quote) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_CrossAsset_Fails(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey(uuid.New(), base),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, quote),
				AssetID:       quote,
				Amount:        10,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("journal between different assets should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewUserAccountKey(uuid.New(), quote)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{JournalID: uuid.New(), BatchID: batchID, DebitAccount: key, CreditAccount: key, AssetID: quote, Amount: 1},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self transfer should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerator_DeterministicIDs(t *testing.T) {
	user := uuid.New()
	a, _ := ledger.NewJournalGenerator(ledger.NewBalanceTracker()).GenerateDeposit(ref("dep-1", 4), user, quote, 5)
	b, _ := ledger.NewJournalGenerator(ledger.NewBalanceTracker()).GenerateDeposit(ref("dep-1", 4), user, quote, 5)

	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("same ref must produce the same batch and journal ids")
	}
}

func TestGenerator_WithdrawalPreCheck(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)
	user := uuid.New()

	if _, err := gen.GenerateWithdrawal(ref("wd-1", 1), user, quote, 1); err == nil {
		t.Fatal("withdrawal without balance should fail")
	}

	batch, err := gen.GenerateDeposit(ref("dep-1", 2), user, quote, 50)
	mustApply(t, bt, batch, err)

	batch, err = gen.GenerateWithdrawal(ref("wd-2", 3), user, quote, 50)
	mustApply(t, bt, batch, err)

	if got := bt.GetUserAvailableBalance(user, quote); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	assertZeroSum(t, bt)
}

func TestGenerator_EscrowLockAndRefund(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)
	user, escrow := uuid.New(), uuid.New()

	batch, err := gen.GenerateDeposit(ref("dep-1", 1), user, quote, 1_000)
	mustApply(t, bt, batch, err)

	batch, err = gen.GenerateEscrowLock(ref("place-1", 2), user, escrow, quote, 1_000)
	mustApply(t, bt, batch, err)

	if got := bt.GetUserAvailableBalance(user, quote); got != 0 {
		t.Errorf("available after lock: got %d, want 0", got)
	}
	if got := bt.GetEscrowBalance(escrow, quote); got != 1_000 {
		t.Errorf("escrow after lock: got %d, want 1000", got)
	}

	refund := gen.GenerateEscrowRefund(ref("cancel-1", 3), user, escrow, quote)
	mustApply(t, bt, refund, nil)

	if got := bt.GetUserAvailableBalance(user, quote); got != 1_000 {
		t.Errorf("available after refund: got %d, want 1000", got)
	}
	if gen.GenerateEscrowRefund(ref("cancel-2", 4), user, escrow, quote) != nil {
		t.Error("refund of an empty escrow should produce no batch")
	}
	assertZeroSum(t, bt)
}

func TestGenerator_Settlement(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)
	buyer, seller, feeTo := uuid.New(), uuid.New(), uuid.New()
	buyEscrow, sellEscrow := uuid.New(), uuid.New()

	b, err := gen.GenerateDeposit(ref("d1", 1), buyer, quote, 1_000)
	mustApply(t, bt, b, err)
	b, err = gen.GenerateDeposit(ref("d2", 2), seller, base, 6)
	mustApply(t, bt, b, err)
	b, err = gen.GenerateEscrowLock(ref("p1", 3), buyer, buyEscrow, quote, 1_000)
	mustApply(t, bt, b, err)
	b, err = gen.GenerateEscrowLock(ref("p2", 4), seller, sellEscrow, base, 6)
	mustApply(t, bt, b, err)

	b, err = gen.GenerateSettlement(ref("s1", 5), ledger.SettlementLegs{
		BaseAsset: base, QuoteAsset: quote,
		Buyer: buyer, BuyerEscrow: buyEscrow,
		Seller: seller, SellerEscrow: sellEscrow,
		FeeRecipient:         feeTo,
		BaseAmount:           6,
		QuoteAmount:          600,
		Fee:                  6,
		RefundSellerResidual: true,
	})
	mustApply(t, bt, b, err)

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"buyer escrow", bt.GetEscrowBalance(buyEscrow, quote), 400},
		{"seller escrow", bt.GetEscrowBalance(sellEscrow, base), 0},
		{"seller quote", bt.GetUserAvailableBalance(seller, quote), 594},
		{"fee recipient", bt.GetUserAvailableBalance(feeTo, quote), 6},
		{"buyer base", bt.GetUserAvailableBalance(buyer, base), 6},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %d, want %d", c.name, c.got, c.want)
		}
	}
	assertZeroSum(t, bt)
}

func TestGenerator_SettlementResidualRefund(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)
	buyer, seller := uuid.New(), uuid.New()
	buyEscrow, sellEscrow := uuid.New(), uuid.New()

	b, err := gen.GenerateDeposit(ref("d1", 1), buyer, quote, 1_000)
	mustApply(t, bt, b, err)
	b, err = gen.GenerateDeposit(ref("d2", 2), seller, base, 10)
	mustApply(t, bt, b, err)
	b, err = gen.GenerateEscrowLock(ref("p1", 3), buyer, buyEscrow, quote, 1_000)
	mustApply(t, bt, b, err)
	b, err = gen.GenerateEscrowLock(ref("p2", 4), seller, sellEscrow, base, 10)
	mustApply(t, bt, b, err)

	// Buyer was priced at 100 but fills at the seller's 95.
	b, err = gen.GenerateSettlement(ref("s1", 5), ledger.SettlementLegs{
		BaseAsset: base, QuoteAsset: quote,
		Buyer: buyer, BuyerEscrow: buyEscrow,
		Seller: seller, SellerEscrow: sellEscrow,
		FeeRecipient:        seller,
		BaseAmount:          10,
		QuoteAmount:         950,
		RefundBuyerResidual: true,
	})
	mustApply(t, bt, b, err)

	if got := bt.GetEscrowBalance(buyEscrow, quote); got != 0 {
		t.Errorf("buyer escrow should be empty, got %d", got)
	}
	if got := bt.GetUserAvailableBalance(buyer, quote); got != 50 {
		t.Errorf("buyer residual: got %d, want 50", got)
	}
	assertZeroSum(t, bt)
}

func TestGenerator_SettlementEscrowPreCheck(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)

	_, err := gen.GenerateSettlement(ref("s1", 1), ledger.SettlementLegs{
		BaseAsset: base, QuoteAsset: quote,
		Buyer: uuid.New(), BuyerEscrow: uuid.New(),
		Seller: uuid.New(), SellerEscrow: uuid.New(),
		BaseAmount:  1,
		QuoteAmount: 1,
	})
	if err == nil {
		t.Error("settlement against empty escrows should fail")
	}
}
