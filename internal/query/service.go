package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ShadowSwap/internal/ledger"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/observability"
	"ShadowSwap/internal/state"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables. Every
// response carries as_of_sequence, the last command the projections have
// caught up to.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// observe records latency and errors under the query name.
func (qs *QueryService) observe(name string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(name).Inc()
	qs.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		code, ok := ledgererr.CodeOf(err)
		if !ok {
			code = ledgererr.Internal
		}
		qs.metrics.QueryErrors.WithLabelValues(name, string(code)).Inc()
	}
}

// GetBalances returns the owner's available and escrowed funds per asset.
func (qs *QueryService) GetBalances(ctx context.Context, owner uuid.UUID) (out []BalanceResponse, err error) {
	defer func(start time.Time) { qs.observe("get_balances", start, err) }(time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(available) AS available, SUM(in_escrow) AS in_escrow
		FROM (
			SELECT asset, balance AS available, 0 AS in_escrow
			FROM projections.balances
			WHERE owner_id = $1
			UNION ALL
			SELECT b.asset, 0, b.balance
			FROM projections.balances b
			JOIN projections.orders o
			  ON b.account_path LIKE 'escrow:' || o.escrow_id::text || ':%'
			WHERE o.owner_id = $1 AND NOT o.closed
		) t
		GROUP BY asset
		ORDER BY asset
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		b := BalanceResponse{Owner: owner, AsOfSequence: asOfSeq}
		if err := rows.Scan(&b.Asset, &b.Available, &b.InEscrow); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetOrderBook returns one order book.
func (qs *QueryService) GetOrderBook(ctx context.Context, id uuid.UUID) (b *OrderBookResponse, err error) {
	defer func(start time.Time) { qs.observe("get_order_book", start, err) }(time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	b = &OrderBookResponse{AsOfSequence: asOfSeq}
	var feeBps int16
	err = qs.db.QueryRowContext(ctx, `
		SELECT order_book_id, authority, base_asset, quote_asset, fee_bps, fee_recipient,
		       min_base_order_size, base_unit, order_count, active_order_count, is_active,
		       last_trade_at
		FROM projections.order_books
		WHERE order_book_id = $1
	`, id).Scan(
		&b.ID, &b.Authority, &b.BaseAsset, &b.QuoteAsset, &feeBps, &b.FeeRecipient,
		&b.MinBaseOrderSize, &b.BaseUnit, &b.OrderCount, &b.ActiveOrderCount, &b.IsActive,
		&b.LastTradeAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgererr.New(ledgererr.OrderBookNotFound, "order book %s", id)
	}
	if err != nil {
		return nil, err
	}
	b.FeeBps = uint16(feeBps)
	return b, nil
}

// GetOrder returns one order.
func (qs *QueryService) GetOrder(ctx context.Context, id uuid.UUID) (o *OrderResponse, err error) {
	defer func(start time.Time) { qs.observe("get_order", start, err) }(time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := qs.db.QueryContext(ctx, orderColumns+` WHERE order_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders, err := scanOrders(rows, asOfSeq)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ledgererr.New(ledgererr.OrderNotFound, "order %s", id)
	}
	return &orders[0], nil
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	Owner       *uuid.UUID
	OrderBookID *uuid.UUID
	Status      *state.OrderStatus
}

// ListOrders returns orders newest first, paginated by order sequence.
func (qs *QueryService) ListOrders(ctx context.Context, f OrderFilter, page Page) (out []OrderResponse, err error) {
	defer func(start time.Time) { qs.observe("list_orders", start, err) }(time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := orderColumns + ` WHERE TRUE`
	var args []interface{}
	argIdx := 1

	if f.Owner != nil {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, *f.Owner)
		argIdx++
	}
	if f.OrderBookID != nil {
		query += fmt.Sprintf(" AND order_book_id = $%d", argIdx)
		args = append(args, *f.OrderBookID)
		argIdx++
	}
	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, int16(*f.Status))
		argIdx++
	}
	if page.Before != nil {
		query += fmt.Sprintf(" AND order_seq < $%d", argIdx)
		args = append(args, *page.Before)
		argIdx++
	}

	query += " ORDER BY order_seq DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, page.limit())

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows, asOfSeq)
}

const orderColumns = `
		SELECT order_id, order_book_id, owner_id, order_seq, status, amount, filled,
		       escrow_id, closed, created_at, updated_at
		FROM projections.orders`

func scanOrders(rows *sql.Rows, asOfSeq int64) ([]OrderResponse, error) {
	var out []OrderResponse
	for rows.Next() {
		o := OrderResponse{AsOfSequence: asOfSeq}
		var status int16
		if err := rows.Scan(
			&o.ID, &o.OrderBookID, &o.Owner, &o.Sequence, &status, &o.Amount, &o.Filled,
			&o.EscrowID, &o.Closed, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		o.Status = state.OrderStatus(status).String()
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListTrades returns settled trades newest first. Owner matches either side.
func (qs *QueryService) ListTrades(ctx context.Context, bookID, owner *uuid.UUID, page Page) (out []TradeResponse, err error) {
	defer func(start time.Time) { qs.observe("list_trades", start, err) }(time.Now())

	query := `
		SELECT settlement_id, order_book_id, buyer, seller, buy_order_id, sell_order_id,
		       base_amount, quote_amount, fee, execution_price, sequence, timestamp
		FROM projections.trades
		WHERE TRUE
	`
	var args []interface{}
	argIdx := 1

	if bookID != nil {
		query += fmt.Sprintf(" AND order_book_id = $%d", argIdx)
		args = append(args, *bookID)
		argIdx++
	}
	if owner != nil {
		query += fmt.Sprintf(" AND (buyer = $%d OR seller = $%d)", argIdx, argIdx)
		args = append(args, *owner)
		argIdx++
	}
	if page.Before != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *page.Before)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, page.limit())

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t TradeResponse
		if err := rows.Scan(
			&t.SettlementID, &t.OrderBookID, &t.Buyer, &t.Seller, &t.BuyOrderID, &t.SellOrderID,
			&t.BaseAmount, &t.QuoteAmount, &t.Fee, &t.ExecutionPrice, &t.Sequence, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetJournalHistory returns journal entries touching the owner's available
// accounts.
func (qs *QueryService) GetJournalHistory(ctx context.Context, owner uuid.UUID, page Page) (out []JournalHistoryEntry, err error) {
	defer func(start time.Time) { qs.observe("journal_history", start, err) }(time.Now())

	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if page.Before != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *page.Before)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, page.limit())

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e  JournalHistoryEntry
			jt int16
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&jt, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(jt).String()
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity, that every asset's projected
// balances sum to zero, and that no user or escrow account is negative.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer func(start time.Time) { qs.observe("verify_integrity", start, err) }(time.Now())

	report = &IntegrityReport{}

	if report.HashChainBreaks, err = qs.hashChainBreaks(ctx); err != nil {
		return nil, err
	}
	if report.UnbalancedAssets, err = qs.unbalancedAssets(ctx); err != nil {
		return nil, err
	}
	if report.NegativeAccounts, err = qs.negativeAccounts(ctx); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0 &&
		len(report.NegativeAccounts) == 0
	return report, nil
}

func (qs *QueryService) hashChainBreaks(ctx context.Context) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breaks []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		breaks = append(breaks, seq)
	}
	return breaks, rows.Err()
}

func (qs *QueryService) unbalancedAssets(ctx context.Context) ([]UnbalancedAsset, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnbalancedAsset
	for rows.Next() {
		var u UnbalancedAsset
		if err := rows.Scan(&u.Asset, &u.Imbalance); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (qs *QueryService) negativeAccounts(ctx context.Context) ([]string, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path
		FROM projections.balances
		WHERE balance < 0 AND account_path NOT LIKE 'external:%'
		ORDER BY account_path
		LIMIT 100
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, rows.Err()
}

// Watermark returns the last projected sequence, or -1 before the first.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	return qs.getWatermark(ctx)
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
