package core

import (
	"fmt"
	"sort"
	"time"

	"ShadowSwap/internal/auth"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ledger"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/observability"
	"ShadowSwap/internal/state"

	"github.com/google/uuid"
)

// DeterministicCore is the single-threaded command processor. Every ledger
// mutation passes through ProcessEvent; given the same command sequence it
// always produces the same balances, entities and hash chain.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	orders            *state.OrderManager
	auths             *auth.Registry
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	lastTimestamp     int64 // of the last applied command, epoch microseconds

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one applied command.
// Entity values are copies taken after the command applied.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch // nil for state-only commands
	Books      []state.OrderBook
	Orders     []state.Order
	Auth       *auth.CallbackAuthorization
	Trade      *event.TradeSettled
	StateDelta []byte
}

// Result is returned to the caller of ProcessEvent. A duplicate carries the
// outcome of the original command.
type Result struct {
	Sequence  int64
	Duplicate bool
	OrderBook *state.OrderBook
	Order     *state.Order
	Auth      *auth.CallbackAuthorization
	Trade     *event.TradeSettled
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(balanceTracker),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		orders:            state.NewOrderManager(balanceTracker),
		auths:             auth.NewRegistry(),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// transition is what a handler hands back to the pipeline: an optional
// journal batch and a commit that mutates entity state once the batch has
// been applied. A handler must not mutate state itself.
type transition struct {
	batch  *ledger.Batch
	commit func() *CoreOutput
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*Result, error) {
	start := time.Now()
	key := KeyOf(evt)
	eventType := key.Type.String()
	idempotencyKey := key.Key

	// Step 1: Idempotency check (two-tier)
	if dup := c.idempotency.Lookup(key); dup != nil {
		c.reject(eventType, "duplicate")
		return dup, nil
	}

	// Step 2: Encode the payload first so nothing after dispatch can fail
	payload, err := event.Encode(evt)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidArgument, err, "encode command")
	}

	// Step 3: Dispatch - validate and plan
	ts := evt.OccurredAt().UnixMicro()
	ref := ledger.Ref{EventRef: idempotencyKey, Sequence: c.sequence, Timestamp: ts}

	tr, err := c.dispatchEvent(evt, ref)
	if err != nil {
		if code, ok := ledgererr.CodeOf(err); ok {
			c.reject(eventType, string(code))
		} else {
			c.reject(eventType, "error")
		}
		return nil, err
	}

	// Step 4: Validate and apply the batch
	if tr.batch != nil {
		if err := c.validator.ValidateBatchBalance(tr.batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(tr.batch); err != nil {
			// Handlers pre-check balances; reaching this is a planning bug.
			c.reject(eventType, "apply")
			return nil, ledgererr.Wrap(ledgererr.Internal, err, "apply batch")
		}
	}

	// Step 5: Commit entity state
	output := tr.commit()

	// Step 6: Post-checks
	if err := c.postCheckInvariants(tr.batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Hash and envelope
	stateDigest := c.computeStateDigest(tr.batch, output)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	output.Envelope = &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		OrderBookID:    evt.OrderBook(),
		Timestamp:      evt.OccurredAt(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output.Batch = tr.batch
	output.StateDelta = stateDigest
	if output.Trade != nil {
		output.Trade.Sequence = c.sequence
	}

	result := c.resultOf(output)
	c.sequence++
	c.lastTimestamp = ts

	// Step 8: Emit outputs.
	// Persistence is a blocking send: the core stalls until the persistence
	// worker drains, so no applied command is lost.
	if c.persistChan != nil {
		c.persistChan <- *output
	}
	// Projections drop on a full channel and are rebuilt from the event log.
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("main").Inc()
			}
		}
	}

	// Step 9: Remember the outcome (add to LRU)
	c.idempotency.Record(key, result)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		if output.Trade != nil {
			c.metrics.SettlementsApplied.Inc()
			c.metrics.SettledBaseVolume.WithLabelValues(output.Trade.OrderBookID.String()).Add(float64(output.Trade.BaseAmount))
		}
	}

	return result, nil
}

// LastTimestamp returns the timestamp of the last applied command in epoch
// microseconds, or zero before the first one.
func (c *DeterministicCore) LastTimestamp() int64 {
	return c.lastTimestamp
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) resultOf(out *CoreOutput) *Result {
	r := &Result{Sequence: c.sequence, Trade: out.Trade}
	if len(out.Books) > 0 {
		b := out.Books[0]
		r.OrderBook = &b
	}
	if len(out.Orders) > 0 {
		o := out.Orders[0]
		r.Order = &o
	}
	if out.Auth != nil {
		a := *out.Auth
		r.Auth = &a
	}
	return r
}

func (c *DeterministicCore) dispatchEvent(evt event.Event, ref ledger.Ref) (*transition, error) {
	switch e := evt.(type) {
	case *event.InitializeOrderBook:
		return c.handleInitializeOrderBook(e, ref)
	case *event.SetOrderBookActive:
		return c.handleSetOrderBookActive(e, ref)
	case *event.Deposit:
		return c.handleDeposit(e, ref)
	case *event.Withdraw:
		return c.handleWithdraw(e, ref)
	case *event.PlaceOrder:
		return c.handlePlaceOrder(e, ref)
	case *event.CancelOrder:
		return c.handleCancelOrder(e, ref)
	case *event.CloseOrder:
		return c.handleCloseOrder(e, ref)
	case *event.CreateCallbackAuth:
		return c.handleCreateCallbackAuth(e, ref)
	case *event.RevokeCallbackAuth:
		return c.handleRevokeCallbackAuth(e, ref)
	case *event.QueueMatch:
		return c.handleQueueMatch(e, ref)
	case *event.ReleaseMatch:
		return c.handleReleaseMatch(e, ref)
	case *event.SettleMatch:
		return c.handleSettleMatch(e, ref)
	default:
		return nil, ledgererr.New(ledgererr.InvalidArgument, "unknown event type: %T", evt)
	}
}

// --- Handlers ---

func (c *DeterministicCore) handleInitializeOrderBook(e *event.InitializeOrderBook, ref ledger.Ref) (*transition, error) {
	book, err := c.orders.PlanInitializeBook(state.InitBookParams{
		Authority:        e.Authority,
		BaseAsset:        ledger.AssetID(e.BaseAsset),
		QuoteAsset:       ledger.AssetID(e.QuoteAsset),
		FeeBps:           e.FeeBps,
		FeeRecipient:     e.FeeRecipient,
		MinBaseOrderSize: e.MinBaseOrderSize,
		BaseUnit:         e.BaseUnit,
		Timestamp:        ref.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	return &transition{commit: func() *CoreOutput {
		c.orders.ApplyInitializeBook(book)
		return &CoreOutput{Books: []state.OrderBook{*book}}
	}}, nil
}

func (c *DeterministicCore) handleSetOrderBookActive(e *event.SetOrderBookActive, ref ledger.Ref) (*transition, error) {
	book := c.orders.GetOrderBook(e.OrderBookID)
	if book == nil {
		return nil, ledgererr.New(ledgererr.OrderBookNotFound, "order book %s", e.OrderBookID)
	}
	if book.Authority != e.Authority {
		return nil, ledgererr.New(ledgererr.Unauthorized, "caller is not the order book authority")
	}
	return &transition{commit: func() *CoreOutput {
		book, _ := c.orders.SetBookActive(e.Authority, e.OrderBookID, e.Active)
		return &CoreOutput{Books: []state.OrderBook{*book}}
	}}, nil
}

func (c *DeterministicCore) handleDeposit(e *event.Deposit, ref ledger.Ref) (*transition, error) {
	if e.Amount <= 0 || e.Asset == "" || e.Owner == uuid.Nil {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "deposit needs owner, asset and a positive amount")
	}
	batch, err := c.journalGen.GenerateDeposit(ref, e.Owner, ledger.AssetID(e.Asset), e.Amount)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidArgument, err, "deposit")
	}
	return &transition{batch: batch, commit: func() *CoreOutput { return &CoreOutput{} }}, nil
}

func (c *DeterministicCore) handleWithdraw(e *event.Withdraw, ref ledger.Ref) (*transition, error) {
	if e.Amount <= 0 || e.Asset == "" {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "withdrawal needs an asset and a positive amount")
	}
	batch, err := c.journalGen.GenerateWithdrawal(ref, e.Owner, ledger.AssetID(e.Asset), e.Amount)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InsufficientFunds, err, "withdraw")
	}
	return &transition{batch: batch, commit: func() *CoreOutput { return &CoreOutput{} }}, nil
}

func (c *DeterministicCore) handlePlaceOrder(e *event.PlaceOrder, ref ledger.Ref) (*transition, error) {
	plan, err := c.orders.PlanPlace(state.PlaceParams{
		OrderBookID:     e.OrderBookID,
		Owner:           e.Owner,
		CipherPayload:   e.CipherPayload,
		EncryptedAmount: e.EncryptedAmount,
		Amount:          e.Amount,
		DepositAsset:    ledger.AssetID(e.DepositAsset),
		DepositAmount:   e.DepositAmount,
		Timestamp:       ref.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	batch, err := c.journalGen.GenerateEscrowLock(ref, e.Owner, plan.Escrow.ID, plan.Escrow.Asset, plan.Escrow.Deposited)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InsufficientFunds, err, "lock escrow")
	}
	return &transition{batch: batch, commit: func() *CoreOutput {
		c.orders.ApplyPlace(plan)
		return &CoreOutput{
			Orders: []state.Order{*plan.Order},
			Books:  []state.OrderBook{*plan.Book},
		}
	}}, nil
}

func (c *DeterministicCore) handleCancelOrder(e *event.CancelOrder, ref ledger.Ref) (*transition, error) {
	plan, err := c.orders.PlanCancel(e.OrderID, e.Owner)
	if err != nil {
		return nil, err
	}
	if e.OrderBookID != uuid.Nil && plan.Order.OrderBookID != e.OrderBookID {
		return nil, ledgererr.New(ledgererr.InvalidOrderBook, "order %s is not on book %s", e.OrderID, e.OrderBookID)
	}
	batch := c.journalGen.GenerateEscrowRefund(ref, plan.Order.Owner, plan.Escrow.ID, plan.Escrow.Asset)
	return &transition{batch: batch, commit: func() *CoreOutput {
		c.orders.ApplyCancel(plan, ref.Timestamp)
		return &CoreOutput{
			Orders: []state.Order{*plan.Order},
			Books:  []state.OrderBook{*plan.Book},
		}
	}}, nil
}

func (c *DeterministicCore) handleCloseOrder(e *event.CloseOrder, ref ledger.Ref) (*transition, error) {
	order := c.orders.GetOrder(e.OrderID)
	if order == nil {
		return nil, ledgererr.New(ledgererr.OrderNotFound, "order %s", e.OrderID)
	}
	if order.Owner != e.Owner {
		return nil, ledgererr.New(ledgererr.Unauthorized, "caller is not the order owner")
	}
	if !order.Status.IsTerminal() || order.Closed {
		return nil, ledgererr.New(ledgererr.InvalidOrderStatus, "order %s is %s (closed=%v)", order.ID, order.Status, order.Closed)
	}
	return &transition{commit: func() *CoreOutput {
		closed, _ := c.orders.CloseOrder(e.OrderID, e.Owner, ref.Timestamp)
		return &CoreOutput{Orders: []state.Order{*closed}}
	}}, nil
}

func (c *DeterministicCore) handleCreateCallbackAuth(e *event.CreateCallbackAuth, ref ledger.Ref) (*transition, error) {
	book := c.orders.GetOrderBook(e.OrderBookID)
	if book == nil {
		return nil, ledgererr.New(ledgererr.OrderBookNotFound, "order book %s", e.OrderBookID)
	}
	grant, err := c.auths.PlanCreate(auth.CreateParams{
		Caller:        e.Authority,
		BookAuthority: book.Authority,
		OrderBookID:   book.ID,
		Keeper:        e.Keeper,
		ExpiresAt:     e.ExpiresAt.UnixMicro(),
		Now:           ref.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	return &transition{commit: func() *CoreOutput {
		c.auths.Put(grant)
		c.sequenceValidator.RestorePartition(CallbackPartition(grant.OrderBookID, grant.Keeper), grant.Nonce)
		a := *grant
		return &CoreOutput{Auth: &a}
	}}, nil
}

func (c *DeterministicCore) handleRevokeCallbackAuth(e *event.RevokeCallbackAuth, ref ledger.Ref) (*transition, error) {
	book := c.orders.GetOrderBook(e.OrderBookID)
	if book == nil {
		return nil, ledgererr.New(ledgererr.OrderBookNotFound, "order book %s", e.OrderBookID)
	}
	if e.Authority != book.Authority {
		return nil, ledgererr.New(ledgererr.Unauthorized, "only the order book authority can revoke keepers")
	}
	if c.auths.Get(book.ID, e.Keeper) == nil {
		return nil, ledgererr.New(ledgererr.CallbackAuthNotFound, "no grant for keeper %s", e.Keeper)
	}
	return &transition{commit: func() *CoreOutput {
		grant, _ := c.auths.Revoke(e.Authority, book.Authority, book.ID, e.Keeper)
		a := *grant
		return &CoreOutput{Auth: &a}
	}}, nil
}

func (c *DeterministicCore) handleQueueMatch(e *event.QueueMatch, ref ledger.Ref) (*transition, error) {
	if _, err := c.auths.Authorize(e.OrderBookID, e.Keeper, ref.Timestamp); err != nil {
		return nil, err
	}
	plan, err := c.orders.PlanQueueMatch(state.SettleParams{
		OrderBookID:    e.OrderBookID,
		Keeper:         e.Keeper,
		BuyOrderID:     e.BuyOrderID,
		SellOrderID:    e.SellOrderID,
		MatchedAmount:  e.MatchedAmount,
		ExecutionPrice: e.ExecutionPrice,
		Timestamp:      ref.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	return &transition{commit: func() *CoreOutput {
		c.orders.ApplyQueueMatch(plan, ref.Timestamp)
		s := plan.Settle
		return &CoreOutput{
			Orders: []state.Order{*s.Buy, *s.Sell},
			Books:  []state.OrderBook{*s.Book},
		}
	}}, nil
}

// handleReleaseMatch undoes a reservation. The book authority and any
// keeper with a valid grant may release at any time; order owners only
// once the reservation expired.
func (c *DeterministicCore) handleReleaseMatch(e *event.ReleaseMatch, ref ledger.Ref) (*transition, error) {
	book := c.orders.GetOrderBook(e.OrderBookID)
	if book == nil {
		return nil, ledgererr.New(ledgererr.OrderBookNotFound, "order book %s", e.OrderBookID)
	}
	privileged := e.Caller == book.Authority
	if !privileged {
		_, err := c.auths.Authorize(book.ID, e.Caller, ref.Timestamp)
		privileged = err == nil
	}
	plan, err := c.orders.PlanRelease(state.ReleaseParams{
		OrderBookID: book.ID,
		BuyOrderID:  e.BuyOrderID,
		SellOrderID: e.SellOrderID,
		Caller:      e.Caller,
		Privileged:  privileged,
		Now:         ref.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	return &transition{commit: func() *CoreOutput {
		c.orders.ApplyRelease(plan, ref.Timestamp)
		return &CoreOutput{
			Orders: []state.Order{*plan.Buy, *plan.Sell},
			Books:  []state.OrderBook{*plan.Book},
		}
	}}, nil
}

// handleSettleMatch applies one keeper settlement. Authorization is checked
// first against the ledger-assigned command time, then the nonce, then the
// order-level guards.
func (c *DeterministicCore) handleSettleMatch(e *event.SettleMatch, ref ledger.Ref) (*transition, error) {
	grant, err := c.auths.Authorize(e.OrderBookID, e.Keeper, ref.Timestamp)
	if err != nil {
		return nil, err
	}
	partition := CallbackPartition(e.OrderBookID, e.Keeper)
	if err := c.sequenceValidator.CheckSequence(partition, e.Nonce, false); err != nil {
		return nil, err
	}

	plan, err := c.orders.PlanSettle(state.SettleParams{
		OrderBookID:    e.OrderBookID,
		Keeper:         e.Keeper,
		BuyOrderID:     e.BuyOrderID,
		SellOrderID:    e.SellOrderID,
		MatchedAmount:  e.MatchedAmount,
		ExecutionPrice: e.ExecutionPrice,
		Timestamp:      ref.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	batch, err := c.journalGen.GenerateSettlement(ref, plan.Legs())
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InsufficientEscrowFunds, err, "settlement legs")
	}

	return &transition{batch: batch, commit: func() *CoreOutput {
		c.orders.ApplySettle(plan, ref.Timestamp)
		grant.Nonce = c.sequenceValidator.Advance(partition)
		a := *grant
		return &CoreOutput{
			Orders: []state.Order{*plan.Buy, *plan.Sell},
			Books:  []state.OrderBook{*plan.Book},
			Auth:   &a,
			Trade: &event.TradeSettled{
				SettlementID:    e.SettlementID(),
				OrderBookID:     plan.Book.ID,
				Buyer:           plan.Buy.Owner,
				Seller:          plan.Sell.Owner,
				BuyOrderID:      plan.Buy.ID,
				SellOrderID:     plan.Sell.ID,
				BuySequence:     plan.Buy.Sequence,
				SellSequence:    plan.Sell.Sequence,
				BaseAmount:      plan.MatchedAmount,
				QuoteAmount:     plan.QuoteAmount,
				Fee:             plan.Fee,
				ExecutionPrice:  plan.ExecutionPrice,
				BuyOrderStatus:  plan.Buy.Status.String(),
				SellOrderStatus: plan.Sell.Status.String(),
				Timestamp:       time.UnixMicro(ref.Timestamp).UTC(),
			},
		}
	}}, nil
}

// --- Digest & invariants ---

// computeStateDigest creates canonical bytes for the state hash: every
// account the batch touched with its new balance, then every entity the
// command touched.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, out *CoreOutput) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = appendInt64LE(digest, int64(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	for i := range out.Books {
		digest = append(digest, out.Books[i].CanonicalBytes()...)
	}
	for i := range out.Orders {
		digest = append(digest, out.Orders[i].CanonicalBytes()...)
	}
	if out.Auth != nil {
		digest = append(digest, out.Auth.CanonicalBytes()...)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants verifies that no user or escrow account touched by the
// batch went negative.
func (c *DeterministicCore) postCheckInvariants(batch *ledger.Batch) error {
	if batch == nil {
		return nil
	}
	for _, j := range batch.Journals {
		for _, key := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.Scope == ledger.AccountScopeExternal {
				continue
			}
			if err := c.balanceTracker.ValidateNonNegative(key); err != nil {
				return err
			}
		}
	}
	return nil
}
