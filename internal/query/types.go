package query

import (
	"time"

	"github.com/google/uuid"
)

// BalanceResponse is one owner's funds in one asset.
type BalanceResponse struct {
	Owner uuid.UUID `json:"owner"`
	Asset string    `json:"asset"`

	Available int64 `json:"available"` // spendable balance
	InEscrow  int64 `json:"in_escrow"` // locked behind the owner's open orders

	AsOfSequence int64 `json:"as_of_sequence"` // last projected command
}

// OrderBookResponse is the public state of one order book.
type OrderBookResponse struct {
	ID               uuid.UUID `json:"id"`
	Authority        uuid.UUID `json:"authority"`
	BaseAsset        string    `json:"base_asset"`
	QuoteAsset       string    `json:"quote_asset"`
	FeeBps           uint16    `json:"fee_bps"`
	FeeRecipient     uuid.UUID `json:"fee_recipient"`
	MinBaseOrderSize int64     `json:"min_base_order_size"`
	BaseUnit         int64     `json:"base_unit"`
	OrderCount       int64     `json:"order_count"`
	ActiveOrderCount int64     `json:"active_order_count"`
	IsActive         bool      `json:"is_active"`
	LastTradeAt      int64     `json:"last_trade_at"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// OrderResponse is an order without its cipher payload.
type OrderResponse struct {
	ID           uuid.UUID `json:"id"`
	OrderBookID  uuid.UUID `json:"order_book_id"`
	Owner        uuid.UUID `json:"owner"`
	Sequence     int64     `json:"sequence"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	Filled       int64     `json:"filled"`
	EscrowID     uuid.UUID `json:"escrow_id"`
	Closed       bool      `json:"closed"`
	CreatedAt    int64     `json:"created_at"`
	UpdatedAt    int64     `json:"updated_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// TradeResponse is one settled match.
type TradeResponse struct {
	SettlementID   uuid.UUID `json:"settlement_id"`
	OrderBookID    uuid.UUID `json:"order_book_id"`
	Buyer          uuid.UUID `json:"buyer"`
	Seller         uuid.UUID `json:"seller"`
	BuyOrderID     uuid.UUID `json:"buy_order_id"`
	SellOrderID    uuid.UUID `json:"sell_order_id"`
	BaseAmount     int64     `json:"base_amount"`
	QuoteAmount    int64     `json:"quote_amount"`
	Fee            int64     `json:"fee"`
	ExecutionPrice int64     `json:"execution_price"`
	Sequence       int64     `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	NegativeAccounts []string          `json:"negative_accounts,omitempty"`
}

// UnbalancedAsset represents an asset whose projected balances do not sum
// to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance int64  `json:"imbalance"`
}

// Page bounds a history query. Before is an exclusive sequence cursor.
type Page struct {
	Limit  int
	Before *int64
}

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return defaultPageLimit
	case p.Limit > maxPageLimit:
		return maxPageLimit
	}
	return p.Limit
}
