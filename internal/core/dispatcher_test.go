package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ledger"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fakeClock is a settable ledger clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func startDispatcher(t *testing.T, opts ...core.DispatcherOption) (*core.Dispatcher, context.CancelFunc, chan error) {
	t.Helper()
	c, _, _ := newTestCore()
	d := core.NewDispatcher(c, 16, nil, zerolog.Nop(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return d, cancel, done
}

func TestDispatcher_SerializesConcurrentSubmits(t *testing.T) {
	d, cancel, done := startDispatcher(t)
	defer func() { cancel(); <-done }()

	owner := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Submit(context.Background(), &event.Deposit{
				DepositID: uuid.New(),
				Owner:     owner,
				Asset:     "USDC",
				Amount:    10,
				Timestamp: t0.Add(time.Duration(i) * time.Millisecond),
			})
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	var balance, seq int64
	err := d.Read(context.Background(), func(v core.View) {
		balance = v.AvailableBalance(owner, ledger.AssetID("USDC"))
		seq = v.GetSequence()
	})
	if err != nil {
		t.Fatal(err)
	}
	if balance != 500 || seq != 50 {
		t.Errorf("balance=%d seq=%d, want 500/50", balance, seq)
	}
}

func TestDispatcher_SnapshotBetweenCommands(t *testing.T) {
	d, cancel, done := startDispatcher(t)
	defer func() { cancel(); <-done }()

	_, err := d.Submit(context.Background(), &event.Deposit{
		DepositID: uuid.New(),
		Owner:     uuid.New(),
		Asset:     "SOL",
		Amount:    7,
		Timestamp: t0,
	})
	if err != nil {
		t.Fatal(err)
	}

	snap, err := d.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Sequence != 0 || len(snap.Applied) != 1 {
		t.Errorf("snapshot seq=%d applied=%d, want 0/1", snap.Sequence, len(snap.Applied))
	}
}

func TestDispatcher_StoppedRejectsSubmit(t *testing.T) {
	d, cancel, done := startDispatcher(t)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}

	_, err := d.Submit(context.Background(), &event.Deposit{
		DepositID: uuid.New(),
		Owner:     uuid.New(),
		Asset:     "SOL",
		Amount:    1,
		Timestamp: t0,
	})
	if !errors.Is(err, core.ErrDispatcherStopped) {
		t.Errorf("expected ErrDispatcherStopped, got %v", err)
	}
}

// ledgerBook sets up a SOL/USDC book through d with a keeper grant expiring
// an hour after t0, a resting sell and a buy, all at ledger time t0.
type ledgerBook struct {
	bookID, authority, keeper uuid.UUID
	buy, sell                 state.Order
}

func setupLedgerBook(t *testing.T, d *core.Dispatcher) ledgerBook {
	t.Helper()
	ctx := context.Background()
	lb := ledgerBook{authority: uuid.New(), keeper: uuid.New()}
	alice, bob := uuid.New(), uuid.New()

	submit := func(evt event.Event) *core.Result {
		t.Helper()
		res, err := d.Submit(ctx, evt)
		if err != nil {
			t.Fatalf("%s: %v", evt.EventType(), err)
		}
		return res
	}
	res := submit(&event.InitializeOrderBook{
		RequestID: uuid.New(), Authority: lb.authority,
		BaseAsset: "SOL", QuoteAsset: "USDC", MinBaseOrderSize: 1, BaseUnit: 1,
	})
	lb.bookID = res.OrderBook.ID
	submit(&event.Deposit{DepositID: uuid.New(), Owner: alice, Asset: "USDC", Amount: 10_000})
	submit(&event.Deposit{DepositID: uuid.New(), Owner: bob, Asset: "SOL", Amount: 100})
	submit(&event.CreateCallbackAuth{
		RequestID: uuid.New(), Authority: lb.authority, OrderBookID: lb.bookID,
		Keeper: lb.keeper, ExpiresAt: t0.Add(time.Hour),
	})
	lb.buy = *submit(&event.PlaceOrder{
		RequestID: uuid.New(), OrderBookID: lb.bookID, Owner: alice,
		CipherPayload: []byte{1}, EncryptedAmount: []byte{2},
		Amount: 10, DepositAsset: "USDC", DepositAmount: 1_000,
	}).Order
	lb.sell = *submit(&event.PlaceOrder{
		RequestID: uuid.New(), OrderBookID: lb.bookID, Owner: bob,
		CipherPayload: []byte{1}, EncryptedAmount: []byte{2},
		Amount: 10, DepositAsset: "SOL", DepositAmount: 10,
	}).Order
	return lb
}

func TestDispatcher_BackdatedSettleCannotOutliveGrant(t *testing.T) {
	clock := &fakeClock{now: t0}
	d, cancel, done := startDispatcher(t, core.WithClock(clock.Now))
	defer func() { cancel(); <-done }()
	lb := setupLedgerBook(t, d)

	clock.Set(t0.Add(2 * time.Hour))
	_, err := d.Submit(context.Background(), &event.SettleMatch{
		OrderBookID:    lb.bookID,
		Keeper:         lb.keeper,
		BuyOrderID:     lb.buy.ID,
		SellOrderID:    lb.sell.ID,
		MatchedAmount:  10,
		ExecutionPrice: 100,
		Timestamp:      t0.Add(time.Minute), // inside the grant window
	})
	if !ledgererr.Is(err, ledgererr.CallbackAuthExpired) {
		t.Fatalf("got %v, want CallbackAuthExpired", err)
	}
}

func TestDispatcher_BackdatedOrderGetsLedgerTime(t *testing.T) {
	clock := &fakeClock{now: t0}
	d, cancel, done := startDispatcher(t, core.WithClock(clock.Now))
	defer func() { cancel(); <-done }()
	lb := setupLedgerBook(t, d)

	clock.Set(t0.Add(time.Minute))
	res, err := d.Submit(context.Background(), &event.PlaceOrder{
		RequestID:       uuid.New(),
		OrderBookID:     lb.bookID,
		Owner:           lb.sell.Owner,
		CipherPayload:   []byte{1},
		EncryptedAmount: []byte{2},
		Amount:          5,
		DepositAsset:    "SOL",
		DepositAmount:   5,
		Timestamp:       t0.Add(-time.Hour), // claims to predate the book
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Order.CreatedAt, t0.Add(time.Minute).UnixMicro(); got != want {
		t.Errorf("created_at = %d, want ledger time %d", got, want)
	}
	if res.Order.CreatedAt <= lb.sell.CreatedAt {
		t.Error("a later order must not sort ahead of an earlier one on time")
	}
}

func TestDispatcher_GrantExpiryCheckedAgainstLedgerClock(t *testing.T) {
	clock := &fakeClock{now: t0}
	d, cancel, done := startDispatcher(t, core.WithClock(clock.Now))
	defer func() { cancel(); <-done }()
	lb := setupLedgerBook(t, d)

	clock.Set(t0.Add(3 * time.Hour))
	_, err := d.Submit(context.Background(), &event.CreateCallbackAuth{
		RequestID:   uuid.New(),
		Authority:   lb.authority,
		OrderBookID: lb.bookID,
		Keeper:      uuid.New(),
		ExpiresAt:   t0.Add(2 * time.Hour),
		Timestamp:   t0, // would make the expiry look in the future
	})
	if !ledgererr.Is(err, ledgererr.CallbackAuthExpired) {
		t.Fatalf("got %v, want CallbackAuthExpired", err)
	}
}

func TestDispatcher_StampsNeverGoBackwards(t *testing.T) {
	clock := &fakeClock{now: t0.Add(time.Hour)}
	d, cancel, done := startDispatcher(t, core.WithClock(clock.Now))
	defer func() { cancel(); <-done }()

	owner := uuid.New()
	first := &event.Deposit{DepositID: uuid.New(), Owner: owner, Asset: "SOL", Amount: 1}
	if _, err := d.Submit(context.Background(), first); err != nil {
		t.Fatal(err)
	}

	clock.Set(t0) // wall clock steps back an hour
	second := &event.Deposit{DepositID: uuid.New(), Owner: owner, Asset: "SOL", Amount: 1}
	if _, err := d.Submit(context.Background(), second); err != nil {
		t.Fatal(err)
	}
	if second.Timestamp.Before(first.Timestamp) {
		t.Errorf("second stamp %v precedes first %v", second.Timestamp, first.Timestamp)
	}
}
