// Package keeper runs the settlement loop: fetch open orders from the
// ledger, decrypt them, match them, and submit each match for settlement
// under the keeper's callback authorization.
package keeper

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"ShadowSwap/internal/audit"
	"ShadowSwap/internal/auth"
	"ShadowSwap/internal/decrypt"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/identity"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/matching"
	"ShadowSwap/internal/observability"
	"ShadowSwap/internal/outbox"
	"ShadowSwap/internal/state"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

type Config struct {
	KeeperID     uuid.UUID
	OrderBookID  uuid.UUID
	PollInterval time.Duration
	CallTimeout  time.Duration
	ErrorBackoff time.Duration // wait after a failed cycle
	Retry        Backoff
	TwoPhase     bool // reserve each pair with QueueMatch before settling
	Prioritize   bool
	// MaxImmediateRefetch bounds back-to-back refetches after aborted
	// cycles before the keeper falls back to ErrorBackoff.
	MaxImmediateRefetch int
	// Quarantine is how long an order the ledger refused to fill is left
	// out of matching.
	Quarantine time.Duration
}

// Outbox records submissions before they are sent. *outbox.Store implements it.
type Outbox interface {
	Record(sub outbox.Submission) error
	Resolve(id uuid.UUID, state outbox.State, reason string) error
	Pending() ([]outbox.Submission, error)
}

// AuditSink receives one record per cycle with matches. *audit.KafkaSink implements it.
type AuditSink interface {
	Publish(ctx context.Context, rec audit.Record) error
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	CycleID       string
	Fetched       int
	Decrypted     int
	DecryptFailed int
	Matched       int
	Invalid       int
	Submitted     int
	Duplicates    int
	Skipped       int
	// Rounds counts matching passes. A pass ends early when the ledger
	// refuses one side of a match; that order is quarantined and the rest
	// are matched again.
	Rounds      int
	Quarantined int
	Released    int
	// Stats covers the matches that settled.
	Stats matching.Stats
	// Aborted is set when a semantic rejection stopped submission; the
	// ledger view is stale and the next cycle should start at once.
	Aborted  bool
	AbortErr error
}

type Orchestrator struct {
	cfg     Config
	ledger  LedgerClient
	gateway *decrypt.Gateway
	outbox  Outbox
	audit   AuditSink
	metrics *observability.KeeperMetrics
	logger  zerolog.Logger

	phase atomic.Int32
	sleep sleepFunc
	now   func() time.Time

	// quarantine maps order ids to the time they may be matched again.
	// Only RunCycle touches it.
	quarantine map[uuid.UUID]time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithOutbox(ob Outbox) Option { return func(o *Orchestrator) { o.outbox = ob } }

func WithAuditSink(s AuditSink) Option { return func(o *Orchestrator) { o.audit = s } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithMetrics enables keeper metrics.
func WithMetrics(m *observability.KeeperMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func withSleep(s sleepFunc) Option { return func(o *Orchestrator) { o.sleep = s } }

// NewOrchestrator builds a keeper. logger is expected to be scoped with
// observability.KeeperLogger.
func NewOrchestrator(cfg Config, ledger LedgerClient, gateway *decrypt.Gateway, logger zerolog.Logger, opts ...Option) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.Base <= 0 {
		cfg.Retry.Base = time.Second
	}
	if cfg.Retry.Max <= 0 {
		cfg.Retry.Max = 30 * time.Second
	}
	if cfg.MaxImmediateRefetch <= 0 {
		cfg.MaxImmediateRefetch = 3
	}
	if cfg.Quarantine <= 0 {
		cfg.Quarantine = 5 * time.Minute
	}

	o := &Orchestrator{
		cfg:     cfg,
		ledger:  ledger,
		gateway: gateway,
		logger:  logger,
		sleep:   sleepCtx,
		now:     time.Now,

		quarantine: make(map[uuid.UUID]time.Time),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	return Phase(o.phase.Load())
}

func (o *Orchestrator) enter(p Phase) {
	cur := o.Phase()
	if cur == p {
		return
	}
	if !cur.CanTransitionTo(p) {
		o.logger.Error().Str("from", cur.String()).Str("to", p.String()).Msg("illegal keeper phase transition")
	}
	o.phase.Store(int32(p))
	if o.metrics != nil {
		o.metrics.Phase.WithLabelValues(cur.String()).Set(0)
		o.metrics.Phase.WithLabelValues(p.String()).Set(1)
	}
}

// Run loops until ctx is cancelled or a fatal error occurs. Cancellation
// is a clean stop and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info().
		Dur("poll_interval", o.cfg.PollInterval).
		Bool("two_phase", o.cfg.TwoPhase).
		Msg("keeper started")
	defer o.enter(PhaseStopped)

	refetches := 0
	for {
		if ctx.Err() != nil {
			o.logger.Info().Msg("keeper stopping")
			return nil
		}

		report, err := o.RunCycle(ctx)
		wait := o.cfg.PollInterval

		switch ledgererr.ClassOf(err) {
		case 0:
			if report.Aborted {
				refetches++
				if refetches <= o.cfg.MaxImmediateRefetch {
					wait = 0
				} else {
					wait = o.cfg.ErrorBackoff
				}
			} else {
				refetches = 0
			}
		case ledgererr.ClassAuthorization:
			// Alert: the keeper cannot settle until an authority renews its grant.
			o.logger.Error().Err(err).Str("alert", "keeper_unauthorized").Msg("callback authorization unusable")
			o.countCycle("unauthorized")
		case ledgererr.ClassTransient:
			if ctx.Err() != nil {
				return nil
			}
			o.logger.Warn().Err(err).Msg("cycle failed, backing off")
			o.countCycle("transient_error")
			wait = o.cfg.ErrorBackoff
		case ledgererr.ClassValidation:
			o.logger.Warn().Err(err).Msg("cycle rejected")
			o.countCycle("rejected")
			wait = o.cfg.ErrorBackoff
		default:
			o.logger.Error().Err(err).Msg("fatal keeper error")
			o.countCycle("fatal")
			return err
		}

		o.enter(PhaseSleeping)
		if err := o.sleep(ctx, wait); err != nil {
			o.logger.Info().Msg("keeper stopping")
			return nil
		}
	}
}

func (o *Orchestrator) countCycle(outcome string) {
	if o.metrics != nil {
		o.metrics.Cycles.WithLabelValues(outcome).Inc()
	}
}

// call runs fn with a per-call timeout under a context that ignores the
// parent's cancellation, retrying transient failures.
func (o *Orchestrator) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	detached := context.WithoutCancel(ctx)
	return retry(ctx, o.cfg.Retry, o.sleep, func() error {
		callCtx, cancel := context.WithTimeout(detached, o.cfg.CallTimeout)
		defer cancel()
		return fn(callCtx)
	}, func(attempt int, err error) {
		o.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("retrying ledger call")
		if o.metrics != nil {
			o.metrics.SubmitRetries.Inc()
		}
	})
}

// RunCycle runs one fetch-decrypt-match-submit pass.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{CycleID: ulid.Make().String()}
	defer o.enter(PhaseSleeping)
	log := o.logger.With().Str("cycle", report.CycleID).Logger()

	// --- Fetching ---
	o.enter(PhaseFetching)
	var grant auth.CallbackAuthorization
	if err := o.call(ctx, "get_callback_auth", func(c context.Context) (err error) {
		grant, err = o.ledger.GetCallbackAuth(c, o.cfg.OrderBookID, o.cfg.KeeperID)
		return err
	}); err != nil {
		return report, err
	}
	if !grant.IsActive {
		return report, ledgererr.New(ledgererr.Unauthorized, "callback authorization %s is revoked", grant.ID)
	}
	if !grant.Valid(o.now().UnixMicro()) {
		return report, ledgererr.New(ledgererr.CallbackAuthExpired, "callback authorization expired at %s", time.UnixMicro(grant.ExpiresAt).UTC())
	}
	o.reconcileOutbox(log, grant)

	var book state.OrderBook
	if err := o.call(ctx, "get_order_book", func(c context.Context) (err error) {
		book, err = o.ledger.GetOrderBook(c, o.cfg.OrderBookID)
		return err
	}); err != nil {
		return report, err
	}

	var orders []state.Order
	if err := o.call(ctx, "list_open_orders", func(c context.Context) (err error) {
		orders, err = o.ledger.ListOpenOrders(c, o.cfg.OrderBookID)
		return err
	}); err != nil {
		return report, err
	}
	report.Fetched = len(orders)
	if o.metrics != nil {
		o.metrics.OrdersFetched.Set(float64(len(orders)))
	}

	orders = o.releaseStale(ctx, log, orders, &report)

	// --- Decrypting ---
	o.enter(PhaseDecrypting)
	plain, byID := o.decrypt(ctx, log, orders, &report)

	cs := &cycleState{
		id:        report.CycleID,
		nonce:     grant.Nonce,
		byID:      byID,
		remaining: make(map[uuid.UUID]int64, len(byID)),
		excluded:  o.quarantined(byID),
	}
	for id, ord := range byID {
		cs.remaining[id] = ord.Remaining()
	}

	// Each round either finishes or excludes one more order, so the loop
	// ends after at most len(plain)+1 rounds.
	var err error
	for {
		report.Rounds++
		culprit, rerr := o.runRound(ctx, log, book, orders, plain, cs, &report)
		if rerr != nil || culprit == uuid.Nil {
			err = rerr
			break
		}
		cs.excluded[culprit] = struct{}{}
		o.quarantine[culprit] = o.now().Add(o.cfg.Quarantine)
		report.Quarantined++
		if o.metrics != nil {
			o.metrics.Quarantined.Inc()
		}
	}

	stats, serr := matching.ComputeStats(cs.settled, book.FeeBps, book.BaseUnit)
	if serr != nil {
		log.Warn().Err(serr).Msg("match stats overflow")
	}
	report.Stats = stats

	o.finishCycle(log, start, report, err)
	return report, err
}

// cycleState is what one cycle learns as it submits.
type cycleState struct {
	id        string
	nonce     int64
	byID      map[uuid.UUID]state.Order
	remaining map[uuid.UUID]int64
	excluded  map[uuid.UUID]struct{}
	settled   []matching.MatchedPair
}

// candidates returns the orders still eligible for matching, with their
// remaining size as of the last settlement.
func (cs *cycleState) candidates(plain []matching.PlainOrder) []matching.PlainOrder {
	out := make([]matching.PlainOrder, 0, len(plain))
	for _, p := range plain {
		if _, ok := cs.excluded[p.OrderID]; ok {
			continue
		}
		p.Remaining = cs.remaining[p.OrderID]
		if p.Remaining <= 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// quarantined returns the fetched orders still serving a quarantine and
// forgets entries that lapsed or whose order left the book.
func (o *Orchestrator) quarantined(byID map[uuid.UUID]state.Order) map[uuid.UUID]struct{} {
	now := o.now()
	out := make(map[uuid.UUID]struct{})
	for id, until := range o.quarantine {
		if _, ok := byID[id]; !ok || !now.Before(until) {
			delete(o.quarantine, id)
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

// runRound matches the eligible orders and submits the result. It returns
// the order to quarantine when the ledger refused one side of a match.
func (o *Orchestrator) runRound(ctx context.Context, log zerolog.Logger, book state.OrderBook, orders []state.Order, plain []matching.PlainOrder, cs *cycleState, report *CycleReport) (uuid.UUID, error) {
	// --- Matching ---
	o.enter(PhaseMatching)
	pairs := matching.Match(cs.candidates(plain))
	report.Matched += len(pairs)
	if o.metrics != nil {
		o.metrics.MatchesFound.Add(float64(len(pairs)))
	}

	// --- Validating ---
	o.enter(PhaseValidating)
	valid := pairs[:0:0]
	for _, p := range pairs {
		if err := matching.ValidateMatch(p); err != nil {
			report.Invalid++
			log.Warn().Err(err).
				Str("buy_order", p.Buy.OrderID.String()).
				Str("sell_order", p.Sell.OrderID.String()).
				Msg("dropping invalid match")
			continue
		}
		valid = append(valid, p)
	}
	if o.cfg.Prioritize {
		valid = matching.Prioritize(valid)
	}
	if len(valid) == 0 {
		return uuid.Nil, nil
	}
	if stats, err := matching.ComputeStats(valid, book.FeeBps, book.BaseUnit); err == nil {
		o.publishAudit(ctx, log, cs.id, orders, valid, stats)
	} else {
		log.Warn().Err(err).Msg("match stats overflow")
	}

	// --- Submitting ---
	o.enter(PhaseSubmitting)
	return o.submitAll(ctx, log, cs, valid, report)
}

func (o *Orchestrator) decrypt(ctx context.Context, log zerolog.Logger, orders []state.Order, report *CycleReport) ([]matching.PlainOrder, map[uuid.UUID]state.Order) {
	items := make([]decrypt.Ciphertext, len(orders))
	byID := make(map[uuid.UUID]state.Order, len(orders))
	for i, ord := range orders {
		items[i] = decrypt.Ciphertext{
			OrderID: ord.ID,
			Owner:   ord.Owner,
			Amount:  ord.Amount,
			Payload: ord.CipherPayload,
		}
		byID[ord.ID] = ord
	}

	results := o.gateway.DecryptBatch(ctx, items)
	plain := make([]matching.PlainOrder, 0, len(results))
	for i, r := range results {
		if r.Err != nil {
			report.DecryptFailed++
			var de *decrypt.DecryptError
			code := ledgererr.Internal
			if errors.As(r.Err, &de) {
				code = de.Code()
			}
			log.Warn().Str("order", r.OrderID.String()).Str("code", string(code)).Err(r.Err).Msg("decryption failed")
			continue
		}
		ord := orders[i]
		plain = append(plain, matching.PlainOrder{
			OrderID:     ord.ID,
			OrderBookID: ord.OrderBookID,
			Owner:       ord.Owner,
			Sequence:    ord.Sequence,
			Side:        r.Plaintext.Side,
			Price:       r.Plaintext.Price,
			Amount:      ord.Amount,
			Remaining:   ord.Remaining(),
			CreatedAt:   ord.CreatedAt,
		})
	}
	report.Decrypted = len(plain)
	return plain, byID
}

// releaseStale returns pairs this keeper queued in an earlier cycle but
// never settled to the book, so they are matched afresh. Orders reserved
// by another keeper, or whose release failed, sit this cycle out.
func (o *Orchestrator) releaseStale(ctx context.Context, log zerolog.Logger, orders []state.Order, report *CycleReport) []state.Order {
	seen := make(map[uuid.UUID]bool)
	released := make(map[uuid.UUID]bool)
	for _, ord := range orders {
		r := ord.Reservation
		if r == nil || r.Keeper != o.cfg.KeeperID || seen[ord.ID] {
			continue
		}
		seen[ord.ID], seen[r.Counterparty] = true, true
		// The ledger does not know sides; either order of the pair may go first.
		release := &event.ReleaseMatch{
			RequestID:   identity.Derive([]byte("release_match"), ord.ID[:], r.Counterparty[:], []byte(report.CycleID)),
			OrderBookID: o.cfg.OrderBookID,
			Caller:      o.cfg.KeeperID,
			BuyOrderID:  ord.ID,
			SellOrderID: r.Counterparty,
		}
		if err := o.call(ctx, "release_match", func(c context.Context) error {
			return o.ledger.ReleaseMatch(c, release)
		}); err != nil {
			log.Warn().Err(err).Str("order", ord.ID.String()).Msg("release of stale reservation failed")
			continue
		}
		released[ord.ID], released[r.Counterparty] = true, true
		report.Released++
		log.Info().Str("order", ord.ID.String()).Str("counterparty", r.Counterparty.String()).Msg("released stale reservation")
	}

	kept := make([]state.Order, 0, len(orders))
	for _, ord := range orders {
		if ord.Status == state.StatusMatchedPending {
			if ord.Reservation == nil || !released[ord.ID] {
				continue
			}
			ord.Status, ord.Reservation = ord.Reservation.PriorStatus, nil
		}
		kept = append(kept, ord)
	}
	return kept
}

// orderSpecific reports the codes that name one side of a match as at
// fault. The rest of the book is still worth matching.
func orderSpecific(code ledgererr.Code) bool {
	switch code {
	case ledgererr.InsufficientEscrowFunds, ledgererr.InvalidEscrow, ledgererr.MatchExceedsRemaining:
		return true
	}
	return false
}

func (o *Orchestrator) submitAll(ctx context.Context, log zerolog.Logger, cs *cycleState, pairs []matching.MatchedPair, report *CycleReport) (uuid.UUID, error) {
	for i, p := range pairs {
		if ctx.Err() != nil {
			report.Skipped += len(pairs) - i
			log.Info().Int("remaining", len(pairs)-i).Msg("shutdown requested, leaving matches for the next run")
			return uuid.Nil, nil
		}
		if !cs.byID[p.Buy.OrderID].Status.IsOpen() || !cs.byID[p.Sell.OrderID].Status.IsOpen() ||
			cs.remaining[p.Buy.OrderID] < p.MatchedAmount || cs.remaining[p.Sell.OrderID] < p.MatchedAmount {
			report.Skipped++
			log.Debug().
				Str("buy_order", p.Buy.OrderID.String()).
				Str("sell_order", p.Sell.OrderID.String()).
				Msg("skipping match, orders changed this cycle")
			continue
		}

		cmd := &event.SettleMatch{
			OrderBookID:    o.cfg.OrderBookID,
			Keeper:         o.cfg.KeeperID,
			BuyOrderID:     p.Buy.OrderID,
			SellOrderID:    p.Sell.OrderID,
			MatchedAmount:  p.MatchedAmount,
			ExecutionPrice: p.ExecutionPrice,
			Nonce:          cs.nonce,
			Timestamp:      o.now(),
		}
		outcome, err := o.submit(ctx, log, cs.id, cmd)
		o.recordSubmission(outcome, err)

		switch ledgererr.ClassOf(err) {
		case 0:
			cs.nonce++
			cs.remaining[p.Buy.OrderID] -= p.MatchedAmount
			cs.remaining[p.Sell.OrderID] -= p.MatchedAmount
			cs.settled = append(cs.settled, p)
			if outcome.Duplicate {
				report.Duplicates++
			} else {
				report.Submitted++
			}
			log.Info().
				Str("settlement", cmd.SettlementID().String()).
				Int64("amount", p.MatchedAmount).
				Int64("price", p.ExecutionPrice).
				Bool("duplicate", outcome.Duplicate).
				Msg("match settled")
		case ledgererr.ClassValidation:
			code, _ := ledgererr.CodeOf(err)
			if culprit, ok := ledgererr.OrderOf(err); ok && orderSpecific(code) &&
				(culprit == p.Buy.OrderID || culprit == p.Sell.OrderID) {
				log.Warn().Err(err).
					Str("order", culprit.String()).
					Dur("for", o.cfg.Quarantine).
					Msg("ledger refused order, quarantining it and matching the rest again")
				return culprit, nil
			}
			report.Aborted, report.AbortErr = true, err
			report.Skipped += len(pairs) - i - 1
			log.Warn().Err(err).
				Str("buy_order", p.Buy.OrderID.String()).
				Str("sell_order", p.Sell.OrderID.String()).
				Msg("settlement rejected, aborting cycle and refetching")
			return uuid.Nil, nil
		default:
			return uuid.Nil, err
		}
	}
	return uuid.Nil, nil
}

// submit records the settlement in the outbox, reserves the pair when
// running two-phase, and settles it. A reservation whose settlement is
// refused is released at once.
func (o *Orchestrator) submit(ctx context.Context, log zerolog.Logger, cycleID string, cmd *event.SettleMatch) (SettleOutcome, error) {
	id := cmd.SettlementID()
	if o.outbox != nil {
		err := o.outbox.Record(outbox.Submission{
			SettlementID:   id,
			OrderBookID:    cmd.OrderBookID,
			Keeper:         cmd.Keeper,
			BuyOrderID:     cmd.BuyOrderID,
			SellOrderID:    cmd.SellOrderID,
			MatchedAmount:  cmd.MatchedAmount,
			ExecutionPrice: cmd.ExecutionPrice,
			Nonce:          cmd.Nonce,
			CycleID:        cycleID,
		})
		if err != nil {
			return SettleOutcome{}, ledgererr.Wrap(ledgererr.Internal, err, "record submission")
		}
	}

	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.SubmitDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if o.cfg.TwoPhase {
		queue := &event.QueueMatch{
			RequestID:      identity.Derive([]byte("queue_match"), id[:], []byte(cycleID)),
			OrderBookID:    cmd.OrderBookID,
			Keeper:         cmd.Keeper,
			BuyOrderID:     cmd.BuyOrderID,
			SellOrderID:    cmd.SellOrderID,
			MatchedAmount:  cmd.MatchedAmount,
			ExecutionPrice: cmd.ExecutionPrice,
			Timestamp:      cmd.Timestamp,
		}
		if err := o.call(ctx, "queue_match", func(c context.Context) error {
			return o.ledger.QueueMatch(c, queue)
		}); err != nil {
			o.resolve(id, err)
			return SettleOutcome{}, err
		}
	}

	var outcome SettleOutcome
	err := o.call(ctx, "settle_match", func(c context.Context) (err error) {
		outcome, err = o.ledger.SettleMatch(c, cmd)
		return err
	})
	o.resolve(id, err)
	if o.cfg.TwoPhase && err != nil && !ledgererr.IsRetryable(err) {
		o.releasePair(ctx, log, cycleID, cmd)
	}
	return outcome, err
}

// releasePair undoes a reservation whose settlement was refused. A
// failure here is left to the next cycle's stale reservation sweep.
func (o *Orchestrator) releasePair(ctx context.Context, log zerolog.Logger, cycleID string, cmd *event.SettleMatch) {
	id := cmd.SettlementID()
	release := &event.ReleaseMatch{
		RequestID:   identity.Derive([]byte("release_match"), id[:], []byte(cycleID)),
		OrderBookID: cmd.OrderBookID,
		Caller:      cmd.Keeper,
		BuyOrderID:  cmd.BuyOrderID,
		SellOrderID: cmd.SellOrderID,
		Timestamp:   cmd.Timestamp,
	}
	if err := o.call(ctx, "release_match", func(c context.Context) error {
		return o.ledger.ReleaseMatch(c, release)
	}); err != nil {
		log.Warn().Err(err).Str("settlement", id.String()).Msg("release after refused settlement failed")
	}
}

// resolve finalizes the outbox record. Transient failures stay pending;
// the next cycle reconciles them against the grant nonce.
func (o *Orchestrator) resolve(id uuid.UUID, err error) {
	if o.outbox == nil {
		return
	}
	var rerr error
	switch ledgererr.ClassOf(err) {
	case 0:
		rerr = o.outbox.Resolve(id, outbox.StateSettled, "")
	case ledgererr.ClassTransient:
		return
	default:
		code, _ := ledgererr.CodeOf(err)
		rerr = o.outbox.Resolve(id, outbox.StateRejected, string(code))
	}
	if rerr != nil {
		o.logger.Error().Err(rerr).Str("settlement", id.String()).Msg("outbox resolve failed")
	}
}

// reconcileOutbox settles the fate of submissions whose outcome was never
// observed. The grant nonce only advances on applied settlements, so a
// pending submission below it landed and one at or above it did not.
func (o *Orchestrator) reconcileOutbox(log zerolog.Logger, grant auth.CallbackAuthorization) {
	if o.outbox == nil {
		return
	}
	pending, err := o.outbox.Pending()
	if err != nil {
		log.Error().Err(err).Msg("outbox scan failed")
		return
	}
	for _, sub := range pending {
		if sub.OrderBookID != grant.OrderBookID || sub.Keeper != grant.Keeper {
			continue
		}
		st, reason := outbox.StateAbandoned, "nonce not consumed"
		if sub.Nonce < grant.Nonce {
			st, reason = outbox.StateSettled, "reconciled"
		}
		if err := o.outbox.Resolve(sub.SettlementID, st, reason); err != nil {
			log.Error().Err(err).Str("settlement", sub.SettlementID.String()).Msg("outbox resolve failed")
			continue
		}
		log.Info().Str("settlement", sub.SettlementID.String()).Str("state", st.String()).Msg("reconciled pending submission")
	}
	if o.metrics != nil {
		o.metrics.OutboxPending.Set(0)
	}
}

func (o *Orchestrator) recordSubmission(outcome SettleOutcome, err error) {
	if o.metrics == nil {
		return
	}
	result := "settled"
	switch {
	case err != nil:
		code, _ := ledgererr.CodeOf(err)
		result = string(code)
		if result == "" {
			result = "error"
		}
	case outcome.Duplicate:
		result = "duplicate"
	}
	o.metrics.Submissions.WithLabelValues(result).Inc()
}

func (o *Orchestrator) publishAudit(ctx context.Context, log zerolog.Logger, cycleID string, orders []state.Order, pairs []matching.MatchedPair, stats matching.Stats) {
	if o.audit == nil {
		return
	}
	refs := make([]audit.OrderRef, len(orders))
	for i, ord := range orders {
		refs[i] = audit.OrderRef{OrderID: ord.ID, Remaining: ord.Remaining(), Payload: ord.CipherPayload}
	}
	rec := audit.NewRecord(cycleID, o.cfg.OrderBookID, o.cfg.KeeperID, refs, pairs, stats, o.now())

	auditCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	if err := o.audit.Publish(auditCtx, rec); err != nil {
		log.Warn().Err(err).Msg("audit publish failed")
		if o.metrics != nil {
			o.metrics.AuditErrors.Inc()
		}
		return
	}
	if o.metrics != nil {
		o.metrics.AuditPublished.Inc()
	}
}

func (o *Orchestrator) finishCycle(log zerolog.Logger, start time.Time, report CycleReport, err error) {
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Int("fetched", report.Fetched).
		Int("decrypt_failed", report.DecryptFailed).
		Int("matched", report.Matched).
		Int("submitted", report.Submitted).
		Int("duplicates", report.Duplicates).
		Int("skipped", report.Skipped).
		Bool("aborted", report.Aborted).
		Int64("base_volume", report.Stats.BaseVolume).
		Int64("quote_volume", report.Stats.QuoteVolume).
		Int64("fees", report.Stats.Fees).
		Int64("avg_price", report.Stats.AvgPrice).
		Dur("took", time.Since(start)).
		Msg("cycle complete")

	if o.metrics != nil {
		o.metrics.CycleDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			outcome := "ok"
			if report.Aborted {
				outcome = "aborted"
			}
			o.metrics.Cycles.WithLabelValues(outcome).Inc()
		}
	}
}
