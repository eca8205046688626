package state

import (
	"sort"

	"ShadowSwap/internal/identity"
	"ShadowSwap/internal/ledger"
	"ShadowSwap/internal/ledgererr"
	fpmath "ShadowSwap/internal/math"

	"github.com/google/uuid"
)

// OrderManager owns order books, orders and escrows. Mutations come in two
// steps: Plan* validates and computes the outcome without touching state,
// Apply* commits it. The core applies the journal batch in between, so a
// rejected batch leaves no partial state behind.
type OrderManager struct {
	books        map[uuid.UUID]*OrderBook
	orders       map[uuid.UUID]*Order
	escrows      map[uuid.UUID]*Escrow
	ordersByBook map[uuid.UUID][]uuid.UUID // sequence order
	balances     *ledger.BalanceTracker
}

func NewOrderManager(balances *ledger.BalanceTracker) *OrderManager {
	return &OrderManager{
		books:        make(map[uuid.UUID]*OrderBook),
		orders:       make(map[uuid.UUID]*Order),
		escrows:      make(map[uuid.UUID]*Escrow),
		ordersByBook: make(map[uuid.UUID][]uuid.UUID),
		balances:     balances,
	}
}

// === Order books ===

type InitBookParams struct {
	Authority        uuid.UUID
	BaseAsset        ledger.AssetID
	QuoteAsset       ledger.AssetID
	FeeBps           uint16
	FeeRecipient     uuid.UUID
	MinBaseOrderSize int64
	BaseUnit         int64
	Timestamp        int64
}

func (m *OrderManager) PlanInitializeBook(p InitBookParams) (*OrderBook, error) {
	if p.BaseAsset == "" || p.QuoteAsset == "" || p.BaseAsset == p.QuoteAsset {
		return nil, ledgererr.New(ledgererr.InvalidTokenMint, "base %q and quote %q must be distinct assets", p.BaseAsset, p.QuoteAsset)
	}
	if p.FeeBps > MaxFeeBps {
		return nil, ledgererr.New(ledgererr.InvalidFeeConfiguration, "fee_bps %d exceeds %d", p.FeeBps, MaxFeeBps)
	}
	if p.MinBaseOrderSize < 0 {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "negative min_base_order_size")
	}
	if p.Authority == uuid.Nil {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "authority is required")
	}
	id := identity.OrderBookID(string(p.BaseAsset), string(p.QuoteAsset))
	if _, exists := m.books[id]; exists {
		return nil, ledgererr.New(ledgererr.OrderBookExists, "order book %s/%s already exists", p.BaseAsset, p.QuoteAsset)
	}
	baseUnit := p.BaseUnit
	if baseUnit <= 0 {
		baseUnit = fpmath.DefaultBaseUnit
	}
	feeRecipient := p.FeeRecipient
	if feeRecipient == uuid.Nil {
		feeRecipient = p.Authority
	}
	return &OrderBook{
		ID:               id,
		Authority:        p.Authority,
		BaseAsset:        p.BaseAsset,
		QuoteAsset:       p.QuoteAsset,
		FeeBps:           p.FeeBps,
		FeeRecipient:     feeRecipient,
		MinBaseOrderSize: p.MinBaseOrderSize,
		BaseUnit:         baseUnit,
		IsActive:         true,
		CreatedAt:        p.Timestamp,
	}, nil
}

func (m *OrderManager) ApplyInitializeBook(b *OrderBook) {
	m.books[b.ID] = b
}

// SetBookActive pauses or resumes an order book. Only the authority may call it.
func (m *OrderManager) SetBookActive(authority, bookID uuid.UUID, active bool) (*OrderBook, error) {
	book, err := m.requireBook(bookID)
	if err != nil {
		return nil, err
	}
	if book.Authority != authority {
		return nil, ledgererr.New(ledgererr.Unauthorized, "caller is not the order book authority")
	}
	book.IsActive = active
	return book, nil
}

// === place_order ===

type PlaceParams struct {
	OrderBookID     uuid.UUID
	Owner           uuid.UUID
	CipherPayload   []byte
	EncryptedAmount []byte
	Amount          int64
	DepositAsset    ledger.AssetID
	DepositAmount   int64
	Timestamp       int64
}

type PlacePlan struct {
	Book   *OrderBook
	Order  *Order
	Escrow *Escrow
}

func (m *OrderManager) PlanPlace(p PlaceParams) (*PlacePlan, error) {
	book, err := m.requireBook(p.OrderBookID)
	if err != nil {
		return nil, err
	}
	if !book.IsActive {
		return nil, ledgererr.New(ledgererr.OrderBookNotActive, "order book %s is paused", book.ID)
	}
	if len(p.CipherPayload) == 0 || len(p.CipherPayload) > MaxCipherPayloadSize {
		return nil, ledgererr.New(ledgererr.InvalidCipherPayload, "cipher payload is %d bytes, want 1..%d", len(p.CipherPayload), MaxCipherPayloadSize)
	}
	if len(p.EncryptedAmount) == 0 || len(p.EncryptedAmount) > MaxEncryptedAmountSize {
		return nil, ledgererr.New(ledgererr.InvalidCipherPayload, "encrypted amount is %d bytes, want 1..%d", len(p.EncryptedAmount), MaxEncryptedAmountSize)
	}
	if p.Amount <= 0 || p.Amount < book.MinBaseOrderSize {
		return nil, ledgererr.New(ledgererr.OrderTooSmall, "amount %d below minimum %d", p.Amount, book.MinBaseOrderSize)
	}
	isBuy, ok := book.SideOfEscrow(p.DepositAsset)
	if !ok {
		return nil, ledgererr.New(ledgererr.InvalidTokenMint, "asset %q is not traded on this book", p.DepositAsset)
	}
	if p.DepositAmount <= 0 {
		return nil, ledgererr.New(ledgererr.InsufficientFunds, "deposit must be positive")
	}
	if !isBuy && p.DepositAmount < p.Amount {
		return nil, ledgererr.New(ledgererr.InsufficientFunds, "sell deposit %d does not cover amount %d", p.DepositAmount, p.Amount)
	}
	if have := m.balances.GetUserAvailableBalance(p.Owner, p.DepositAsset); have < p.DepositAmount {
		return nil, ledgererr.New(ledgererr.InsufficientFunds, "available %s balance %d, need %d", p.DepositAsset, have, p.DepositAmount)
	}

	seq := book.OrderCount
	orderID := identity.OrderID(book.ID, seq)
	escrowID := identity.EscrowID(orderID)
	return &PlacePlan{
		Book: book,
		Order: &Order{
			ID:              orderID,
			OrderBookID:     book.ID,
			Sequence:        seq,
			Owner:           p.Owner,
			Status:          StatusActive,
			CipherPayload:   append([]byte(nil), p.CipherPayload...),
			EncryptedAmount: append([]byte(nil), p.EncryptedAmount...),
			EscrowID:        escrowID,
			Amount:          p.Amount,
			CreatedAt:       p.Timestamp,
			UpdatedAt:       p.Timestamp,
		},
		Escrow: &Escrow{
			ID:          escrowID,
			OrderID:     orderID,
			OrderBookID: book.ID,
			Owner:       p.Owner,
			Asset:       p.DepositAsset,
			Deposited:   p.DepositAmount,
			CreatedAt:   p.Timestamp,
		},
	}, nil
}

// ApplyPlace allocates the sequence number and stores the order and escrow.
func (m *OrderManager) ApplyPlace(plan *PlacePlan) {
	plan.Book.OrderCount++
	plan.Book.ActiveOrderCount++
	m.orders[plan.Order.ID] = plan.Order
	m.escrows[plan.Escrow.ID] = plan.Escrow
	m.ordersByBook[plan.Book.ID] = append(m.ordersByBook[plan.Book.ID], plan.Order.ID)
}

// === cancel_order ===

type CancelPlan struct {
	Book   *OrderBook
	Order  *Order
	Escrow *Escrow
}

func (m *OrderManager) PlanCancel(orderID, caller uuid.UUID) (*CancelPlan, error) {
	order, err := m.requireOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Owner != caller {
		return nil, ledgererr.New(ledgererr.Unauthorized, "caller is not the order owner")
	}
	if !order.Status.IsOpen() {
		return nil, ledgererr.New(ledgererr.InvalidOrderStatus, "cannot cancel order in status %s", order.Status)
	}
	return &CancelPlan{
		Book:   m.books[order.OrderBookID],
		Order:  order,
		Escrow: m.escrows[order.EscrowID],
	}, nil
}

func (m *OrderManager) ApplyCancel(plan *CancelPlan, ts int64) {
	m.transition(plan.Order, StatusCancelled, ts)
	plan.Escrow.Closed = true
	plan.Book.ActiveOrderCount--
}

// === queue_match ===

// QueuePlan is a settlement that validated in full and whose two orders are
// about to be reserved for it.
type QueuePlan struct {
	Keeper uuid.UUID
	Settle *SettlePlan
}

// PlanQueueMatch runs the settlement checks for the pair and fill, and
// requires both orders to be open. A reservation is only taken for a fill
// that would settle at the time it is queued.
func (m *OrderManager) PlanQueueMatch(p SettleParams) (*QueuePlan, error) {
	if p.Keeper == uuid.Nil {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "keeper is required")
	}
	plan, err := m.PlanSettle(p)
	if err != nil {
		return nil, err
	}
	for _, o := range []*Order{plan.Buy, plan.Sell} {
		if !o.Status.IsOpen() {
			return nil, ledgererr.New(ledgererr.InvalidOrderStatus, "order %s is %s", o.ID, o.Status)
		}
	}
	return &QueuePlan{Keeper: p.Keeper, Settle: plan}, nil
}

func (m *OrderManager) ApplyQueueMatch(plan *QueuePlan, ts int64) {
	s := plan.Settle
	for _, side := range []struct{ order, other *Order }{{s.Buy, s.Sell}, {s.Sell, s.Buy}} {
		side.order.Reservation = &Reservation{
			Counterparty:   side.other.ID,
			Keeper:         plan.Keeper,
			MatchedAmount:  s.MatchedAmount,
			ExecutionPrice: s.ExecutionPrice,
			PriorStatus:    side.order.Status,
			ReservedAt:     ts,
		}
		m.transition(side.order, StatusMatchedPending, ts)
	}
}

// === release_match ===

type ReleaseParams struct {
	OrderBookID uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Caller      uuid.UUID
	// Privileged callers (the book authority or a keeper with a valid grant)
	// may release at any time. Owners of either order may release once the
	// reservation has expired.
	Privileged bool
	Now        int64
}

type ReleasePlan struct {
	Book *OrderBook
	Buy  *Order
	Sell *Order
}

func (m *OrderManager) PlanRelease(p ReleaseParams) (*ReleasePlan, error) {
	book, buy, sell, _, _, err := m.loadPair(p.OrderBookID, p.BuyOrderID, p.SellOrderID)
	if err != nil {
		return nil, err
	}
	for _, side := range []struct{ order, other *Order }{{buy, sell}, {sell, buy}} {
		r := side.order.Reservation
		if side.order.Status != StatusMatchedPending || r == nil || r.Counterparty != side.other.ID {
			return nil, ledgererr.New(ledgererr.InvalidOrderStatus, "order %s holds no reservation for this pair", side.order.ID)
		}
	}
	if !p.Privileged {
		if p.Caller != buy.Owner && p.Caller != sell.Owner {
			return nil, ledgererr.New(ledgererr.Unauthorized, "caller may not release this match")
		}
		if !buy.Reservation.Expired(p.Now) {
			return nil, ledgererr.New(ledgererr.Unauthorized, "reservation is held until %d", buy.Reservation.ReservedAt+MatchReservationTTL)
		}
	}
	return &ReleasePlan{Book: book, Buy: buy, Sell: sell}, nil
}

// ApplyRelease returns both orders to the status they had when queued.
func (m *OrderManager) ApplyRelease(plan *ReleasePlan, ts int64) {
	for _, o := range []*Order{plan.Buy, plan.Sell} {
		prior := o.Reservation.PriorStatus
		o.Reservation = nil
		m.transition(o, prior, ts)
	}
}

// === settle ===

type SettleParams struct {
	OrderBookID    uuid.UUID
	Keeper         uuid.UUID
	BuyOrderID     uuid.UUID
	SellOrderID    uuid.UUID
	MatchedAmount  int64
	ExecutionPrice int64
	Timestamp      int64
}

type SettlePlan struct {
	Book       *OrderBook
	Buy        *Order
	Sell       *Order
	BuyEscrow  *Escrow
	SellEscrow *Escrow

	MatchedAmount  int64
	ExecutionPrice int64
	QuoteAmount    int64
	Fee            int64
	BuyStatus      OrderStatus
	SellStatus     OrderStatus
}

func (p *SettlePlan) BuyFilled() bool  { return p.BuyStatus == StatusFilled }
func (p *SettlePlan) SellFilled() bool { return p.SellStatus == StatusFilled }

// Legs converts the plan into ledger transfers.
func (p *SettlePlan) Legs() ledger.SettlementLegs {
	return ledger.SettlementLegs{
		BaseAsset:            p.Book.BaseAsset,
		QuoteAsset:           p.Book.QuoteAsset,
		Buyer:                p.Buy.Owner,
		BuyerEscrow:          p.BuyEscrow.ID,
		Seller:               p.Sell.Owner,
		SellerEscrow:         p.SellEscrow.ID,
		FeeRecipient:         p.Book.FeeRecipient,
		BaseAmount:           p.MatchedAmount,
		QuoteAmount:          p.QuoteAmount,
		Fee:                  p.Fee,
		RefundBuyerResidual:  p.BuyFilled(),
		RefundSellerResidual: p.SellFilled(),
	}
}

func (m *OrderManager) PlanSettle(p SettleParams) (*SettlePlan, error) {
	book, buy, sell, buyEscrow, sellEscrow, err := m.loadPair(p.OrderBookID, p.BuyOrderID, p.SellOrderID)
	if err != nil {
		return nil, err
	}
	if buyEscrow.Asset != book.QuoteAsset {
		return nil, ledgererr.New(ledgererr.InvalidEscrow, "buy order %s does not escrow %s", buy.ID, book.QuoteAsset).ForOrder(buy.ID)
	}
	if sellEscrow.Asset != book.BaseAsset {
		return nil, ledgererr.New(ledgererr.InvalidEscrow, "sell order %s does not escrow %s", sell.ID, book.BaseAsset).ForOrder(sell.ID)
	}
	for _, side := range []struct{ order, other *Order }{{buy, sell}, {sell, buy}} {
		o := side.order
		switch o.Status {
		case StatusActive, StatusPartial:
		case StatusMatchedPending:
			if r := o.Reservation; r == nil || r.Counterparty != side.other.ID || r.Keeper != p.Keeper ||
				r.MatchedAmount != p.MatchedAmount || r.ExecutionPrice != p.ExecutionPrice {
				return nil, ledgererr.New(ledgererr.InvalidOrderStatus, "order %s is reserved for another match", o.ID)
			}
		case StatusFilled, StatusCancelled:
			return nil, ledgererr.New(ledgererr.InvalidOrderStatus, "order %s is %s", o.ID, o.Status)
		default:
			return nil, ledgererr.New(ledgererr.InvalidOrderStatus, "order %s has unknown status %d", o.ID, o.Status)
		}
	}
	if p.MatchedAmount <= 0 || p.ExecutionPrice <= 0 {
		return nil, ledgererr.New(ledgererr.InvalidMatch, "matched amount %d and price %d must be positive", p.MatchedAmount, p.ExecutionPrice)
	}
	if p.MatchedAmount > buy.Remaining() || p.MatchedAmount > sell.Remaining() {
		short := buy.ID
		if p.MatchedAmount <= buy.Remaining() {
			short = sell.ID
		}
		return nil, ledgererr.New(ledgererr.MatchExceedsRemaining,
			"matched %d exceeds remaining (buy=%d, sell=%d)", p.MatchedAmount, buy.Remaining(), sell.Remaining()).ForOrder(short)
	}

	quote, err := fpmath.QuoteAmount(p.MatchedAmount, p.ExecutionPrice, book.BaseUnit)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.NumericalOverflow, err, "quote amount")
	}
	if quote <= 0 {
		return nil, ledgererr.New(ledgererr.InvalidMatch, "quote amount rounds to zero")
	}
	fee, err := fpmath.FeeAmount(quote, book.FeeBps)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.NumericalOverflow, err, "fee amount")
	}

	if have := m.balances.GetBalance(buyEscrow.AccountKey()); have < quote {
		return nil, ledgererr.New(ledgererr.InsufficientEscrowFunds, "buy escrow holds %d, need %d", have, quote).ForOrder(buy.ID)
	}
	if have := m.balances.GetBalance(sellEscrow.AccountKey()); have < p.MatchedAmount {
		return nil, ledgererr.New(ledgererr.InsufficientEscrowFunds, "sell escrow holds %d, need %d", have, p.MatchedAmount).ForOrder(sell.ID)
	}

	plan := &SettlePlan{
		Book:           book,
		Buy:            buy,
		Sell:           sell,
		BuyEscrow:      buyEscrow,
		SellEscrow:     sellEscrow,
		MatchedAmount:  p.MatchedAmount,
		ExecutionPrice: p.ExecutionPrice,
		QuoteAmount:    quote,
		Fee:            fee,
		BuyStatus:      nextFillStatus(buy, p.MatchedAmount),
		SellStatus:     nextFillStatus(sell, p.MatchedAmount),
	}
	return plan, nil
}

func nextFillStatus(o *Order, matched int64) OrderStatus {
	if o.Remaining()-matched == 0 {
		return StatusFilled
	}
	return StatusPartial
}

func (m *OrderManager) ApplySettle(plan *SettlePlan, ts int64) {
	for _, side := range []struct {
		order  *Order
		escrow *Escrow
		next   OrderStatus
	}{
		{plan.Buy, plan.BuyEscrow, plan.BuyStatus},
		{plan.Sell, plan.SellEscrow, plan.SellStatus},
	} {
		side.order.Filled += plan.MatchedAmount
		side.order.Reservation = nil
		m.transition(side.order, side.next, ts)
		if side.next == StatusFilled {
			side.escrow.Closed = true
			plan.Book.ActiveOrderCount--
		}
	}
	plan.Book.LastTradeAt = ts
}

// === close_order ===

// CloseOrder marks a terminal order closed. Its sequence number stays
// allocated, so the id can never be derived for another order.
func (m *OrderManager) CloseOrder(orderID, caller uuid.UUID, ts int64) (*Order, error) {
	order, err := m.requireOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Owner != caller {
		return nil, ledgererr.New(ledgererr.Unauthorized, "caller is not the order owner")
	}
	if !order.Status.IsTerminal() {
		return nil, ledgererr.New(ledgererr.InvalidOrderStatus, "cannot close order in status %s", order.Status)
	}
	if order.Closed {
		return nil, ledgererr.New(ledgererr.InvalidOrderStatus, "order %s is already closed", order.ID)
	}
	order.Closed = true
	order.UpdatedAt = ts
	return order, nil
}

// transition is the only place an order's status changes. Callers have
// validated the move; an illegal one here is a programming error.
func (m *OrderManager) transition(o *Order, next OrderStatus, ts int64) {
	if !o.Status.CanTransitionTo(next) {
		panic("illegal order transition " + o.Status.String() + " -> " + next.String())
	}
	o.Status = next
	o.UpdatedAt = ts
}

func (m *OrderManager) loadPair(bookID, buyID, sellID uuid.UUID) (*OrderBook, *Order, *Order, *Escrow, *Escrow, error) {
	book, err := m.requireBook(bookID)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if buyID == sellID {
		return nil, nil, nil, nil, nil, ledgererr.New(ledgererr.InvalidMatch, "buy and sell order are the same")
	}
	buy, err := m.requireOrder(buyID)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	sell, err := m.requireOrder(sellID)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if buy.OrderBookID != book.ID || sell.OrderBookID != book.ID {
		return nil, nil, nil, nil, nil, ledgererr.New(ledgererr.InvalidOrderBook, "orders do not belong to order book %s", book.ID)
	}
	buyEscrow, sellEscrow := m.escrows[buy.EscrowID], m.escrows[sell.EscrowID]
	if buyEscrow == nil {
		return nil, nil, nil, nil, nil, ledgererr.New(ledgererr.InvalidEscrow, "escrow missing for order %s", buy.ID).ForOrder(buy.ID)
	}
	if sellEscrow == nil {
		return nil, nil, nil, nil, nil, ledgererr.New(ledgererr.InvalidEscrow, "escrow missing for order %s", sell.ID).ForOrder(sell.ID)
	}
	return book, buy, sell, buyEscrow, sellEscrow, nil
}

// === Queries ===

func (m *OrderManager) requireBook(id uuid.UUID) (*OrderBook, error) {
	book := m.books[id]
	if book == nil {
		return nil, ledgererr.New(ledgererr.OrderBookNotFound, "order book %s", id)
	}
	return book, nil
}

func (m *OrderManager) requireOrder(id uuid.UUID) (*Order, error) {
	order := m.orders[id]
	if order == nil {
		return nil, ledgererr.New(ledgererr.OrderNotFound, "order %s", id)
	}
	return order, nil
}

func (m *OrderManager) GetOrderBook(id uuid.UUID) *OrderBook { return m.books[id] }
func (m *OrderManager) GetOrder(id uuid.UUID) *Order         { return m.orders[id] }
func (m *OrderManager) GetEscrow(id uuid.UUID) *Escrow       { return m.escrows[id] }

// ListOrders returns the book's orders in sequence order, filtered to the
// given statuses (all when none given).
func (m *OrderManager) ListOrders(bookID uuid.UUID, statuses ...OrderStatus) []*Order {
	ids := m.ordersByBook[bookID]
	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		o := m.orders[id]
		if len(statuses) == 0 || containsStatus(statuses, o.Status) {
			out = append(out, o)
		}
	}
	return out
}

func containsStatus(list []OrderStatus, s OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// OrderBooks returns every book sorted by id.
func (m *OrderManager) OrderBooks() []*OrderBook {
	out := make([]*OrderBook, 0, len(m.books))
	for _, b := range m.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return lessUUID(out[i].ID, out[j].ID) })
	return out
}

// Orders returns every order sorted by (book, sequence).
func (m *OrderManager) Orders() []*Order {
	out := make([]*Order, 0, len(m.orders))
	for _, b := range m.OrderBooks() {
		out = append(out, m.ListOrders(b.ID)...)
	}
	return out
}

// Escrows returns every escrow in the order of Orders.
func (m *OrderManager) Escrows() []*Escrow {
	orders := m.Orders()
	out := make([]*Escrow, 0, len(orders))
	for _, o := range orders {
		if e := m.escrows[o.EscrowID]; e != nil {
			out = append(out, e)
		}
	}
	return out
}

// === Restore ===

func (m *OrderManager) RestoreOrderBook(b *OrderBook) { m.books[b.ID] = b }

// RestoreOrder expects orders of a book in sequence order.
func (m *OrderManager) RestoreOrder(o *Order) {
	m.orders[o.ID] = o
	m.ordersByBook[o.OrderBookID] = append(m.ordersByBook[o.OrderBookID], o.ID)
}

func (m *OrderManager) RestoreEscrow(e *Escrow) { m.escrows[e.ID] = e }

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
