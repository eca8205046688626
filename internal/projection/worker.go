package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/ledger"
	"ShadowSwap/internal/observability"
	"ShadowSwap/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionWorker updates the read-model tables from processed commands.
// The projection channel is non-blocking with drop, so the tables may fall
// behind; RebuildProjections restores them from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// Run starts the projection worker loop. Outputs at or below the stored
// watermark are skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	last, err := Watermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = last

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}

			start := time.Now()
			if err := Apply(ctx, pw.db, output); err != nil {
				// Eventually consistent: a later rebuild repairs the gap.
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			pw.lastSeq = seq
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(workerID).Observe(time.Since(start).Seconds())
			}
		}
	}
}

// Apply writes one core output to the projection tables in a single
// transaction and advances the watermark.
func Apply(ctx context.Context, db *sql.DB, output core.CoreOutput) error {
	seq := output.Envelope.Sequence

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Batch != nil {
		for _, d := range balanceDeltas(output.Batch) {
			if err := upsertBalance(ctx, tx, d, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}
	for i := range output.Books {
		if err := upsertOrderBook(ctx, tx, &output.Books[i], seq); err != nil {
			return fmt.Errorf("order book projection: %w", err)
		}
	}
	for i := range output.Orders {
		if err := upsertOrder(ctx, tx, &output.Orders[i], seq); err != nil {
			return fmt.Errorf("order projection: %w", err)
		}
	}
	if t := output.Trade; t != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.trades
				(settlement_id, order_book_id, buyer, seller, buy_order_id, sell_order_id,
				 base_amount, quote_amount, fee, execution_price, sequence, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (settlement_id) DO NOTHING
		`, t.SettlementID, t.OrderBookID, t.Buyer, t.Seller, t.BuyOrderID, t.SellOrderID,
			t.BaseAmount, t.QuoteAmount, t.Fee, t.ExecutionPrice, seq, t.Timestamp); err != nil {
			return fmt.Errorf("trade projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// Watermark returns the last projected sequence, or -1 if nothing has been
// projected yet.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = $1
	`, workerID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// balanceDelta is the net change of one account within a batch.
type balanceDelta struct {
	Account ledger.AccountKey
	Delta   int64
}

// balanceDeltas nets the batch per account. The debit side gains and the
// credit side loses, matching ledger.BalanceTracker.
func balanceDeltas(b *ledger.Batch) []balanceDelta {
	index := make(map[ledger.AccountKey]int)
	var out []balanceDelta
	add := func(k ledger.AccountKey, v int64) {
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, balanceDelta{Account: k})
		}
		out[i].Delta += v
	}
	for _, j := range b.Journals {
		add(j.DebitAccount, j.Amount)
		add(j.CreditAccount, -j.Amount)
	}
	return out
}

// upsertBalance applies a delta once per sequence, so re-projecting an
// output never double counts.
func upsertBalance(ctx context.Context, tx *sql.Tx, d balanceDelta, seq int64) error {
	var owner uuid.NullUUID
	if d.Account.Scope == ledger.AccountScopeUser {
		owner = uuid.NullUUID{UUID: d.Account.EntityID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, owner_id, asset, balance, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = EXCLUDED.last_sequence
			WHERE projections.balances.last_sequence < EXCLUDED.last_sequence
	`, d.Account.AccountPath(), owner, string(d.Account.AssetID), d.Delta, seq)
	return err
}

func upsertOrderBook(ctx context.Context, tx *sql.Tx, b *state.OrderBook, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.order_books
			(order_book_id, authority, base_asset, quote_asset, fee_bps, fee_recipient,
			 min_base_order_size, base_unit, order_count, active_order_count, is_active,
			 last_trade_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (order_book_id) DO UPDATE SET
			order_count = EXCLUDED.order_count,
			active_order_count = EXCLUDED.active_order_count,
			is_active = EXCLUDED.is_active,
			last_trade_at = EXCLUDED.last_trade_at,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.order_books.last_sequence < EXCLUDED.last_sequence
	`, b.ID, b.Authority, string(b.BaseAsset), string(b.QuoteAsset), int16(b.FeeBps), b.FeeRecipient,
		b.MinBaseOrderSize, b.BaseUnit, b.OrderCount, b.ActiveOrderCount, b.IsActive,
		b.LastTradeAt, seq)
	return err
}

func upsertOrder(ctx context.Context, tx *sql.Tx, o *state.Order, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.orders
			(order_id, order_book_id, owner_id, order_seq, status, amount, filled,
			 escrow_id, closed, created_at, updated_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id) DO UPDATE SET
			status = EXCLUDED.status,
			filled = EXCLUDED.filled,
			closed = EXCLUDED.closed,
			updated_at = EXCLUDED.updated_at,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.orders.last_sequence < EXCLUDED.last_sequence
	`, o.ID, o.OrderBookID, o.Owner, o.Sequence, int16(o.Status), o.Amount, o.Filled,
		o.EscrowID, o.Closed, o.CreatedAt, o.UpdatedAt, seq)
	return err
}
