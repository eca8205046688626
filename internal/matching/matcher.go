// Package matching pairs decrypted orders by price-time priority. It is pure:
// nothing here talks to the ledger or mutates its input.
package matching

import (
	"bytes"
	"sort"

	"ShadowSwap/internal/ledgererr"

	"github.com/google/uuid"
)

// Side is the decrypted order side. Values follow the cipher payload layout.
type Side uint8

const (
	SideBuy  Side = 0
	SideSell Side = 1
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// PlainOrder is a decrypted order as the keeper sees it. It never leaves the
// keeper process.
type PlainOrder struct {
	OrderID     uuid.UUID
	OrderBookID uuid.UUID
	Owner       uuid.UUID
	Sequence    int64
	Side        Side
	Price       int64
	Amount      int64
	Remaining   int64
	CreatedAt   int64 // epoch microseconds
}

// MatchedPair is one fill between a buy and a sell. Buy and Sell carry the
// remaining amounts before this fill.
type MatchedPair struct {
	Buy            PlainOrder
	Sell           PlainOrder
	MatchedAmount  int64
	ExecutionPrice int64
}

// Maker returns the earlier order of the pair; its price is the execution price.
func (p MatchedPair) Maker() PlainOrder {
	if placedBefore(p.Sell, p.Buy) {
		return p.Sell
	}
	return p.Buy
}

// placedBefore orders by created_at, then by sequence number.
func placedBefore(a, b PlainOrder) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.Sequence < b.Sequence
}

// Match crosses buys against sells. Buys are served highest price first and
// sells lowest price first; equal prices go to the earlier order, then the
// lower sequence number, then the lower order id. Each fill executes at the
// maker's price. Empty or one-sided input yields no pairs.
func Match(orders []PlainOrder) []MatchedPair {
	var buys, sells []PlainOrder
	for _, o := range orders {
		if o.Remaining <= 0 {
			continue
		}
		switch o.Side {
		case SideBuy:
			buys = append(buys, o)
		case SideSell:
			sells = append(sells, o)
		}
	}
	if len(buys) == 0 || len(sells) == 0 {
		return nil
	}

	sort.Slice(buys, func(i, j int) bool {
		if buys[i].Price != buys[j].Price {
			return buys[i].Price > buys[j].Price
		}
		return timePriority(buys[i], buys[j])
	})
	sort.Slice(sells, func(i, j int) bool {
		if sells[i].Price != sells[j].Price {
			return sells[i].Price < sells[j].Price
		}
		return timePriority(sells[i], sells[j])
	})

	var pairs []MatchedPair
	bi, si := 0, 0
	for bi < len(buys) && si < len(sells) {
		buy, sell := &buys[bi], &sells[si]
		if buy.Price < sell.Price {
			break
		}

		qty := min(buy.Remaining, sell.Remaining)
		pair := MatchedPair{Buy: *buy, Sell: *sell, MatchedAmount: qty}
		pair.ExecutionPrice = pair.Maker().Price
		pairs = append(pairs, pair)

		buy.Remaining -= qty
		sell.Remaining -= qty
		if buy.Remaining == 0 {
			bi++
		}
		if sell.Remaining == 0 {
			si++
		}
	}
	return pairs
}

func timePriority(a, b PlainOrder) bool {
	if a.CreatedAt != b.CreatedAt || a.Sequence != b.Sequence {
		return placedBefore(a, b)
	}
	return bytes.Compare(a.OrderID[:], b.OrderID[:]) < 0
}

// ValidateMatch re-checks a pair before it is submitted.
func ValidateMatch(p MatchedPair) error {
	switch {
	case p.MatchedAmount <= 0:
		return ledgererr.New(ledgererr.InvalidMatch, "matched amount %d must be positive", p.MatchedAmount)
	case p.ExecutionPrice <= 0:
		return ledgererr.New(ledgererr.InvalidMatch, "execution price %d must be positive", p.ExecutionPrice)
	case p.Buy.Side != SideBuy || p.Sell.Side != SideSell:
		return ledgererr.New(ledgererr.InvalidMatch, "incorrect order sides: buy=%s sell=%s", p.Buy.Side, p.Sell.Side)
	case p.Buy.OrderID == p.Sell.OrderID:
		return ledgererr.New(ledgererr.InvalidMatch, "order %s matched with itself", p.Buy.OrderID)
	case p.Buy.OrderBookID != p.Sell.OrderBookID:
		return ledgererr.New(ledgererr.InvalidMatch, "orders from different order books")
	case p.Buy.Price < p.Sell.Price:
		return ledgererr.New(ledgererr.InvalidMatch, "buy price %d below sell price %d", p.Buy.Price, p.Sell.Price)
	case p.ExecutionPrice != p.Maker().Price:
		return ledgererr.New(ledgererr.InvalidMatch, "execution price %d is not the maker price %d", p.ExecutionPrice, p.Maker().Price)
	case p.MatchedAmount > p.Buy.Remaining || p.MatchedAmount > p.Sell.Remaining:
		return ledgererr.New(ledgererr.MatchExceedsRemaining, "matched %d exceeds remaining (buy=%d, sell=%d)",
			p.MatchedAmount, p.Buy.Remaining, p.Sell.Remaining)
	}
	return nil
}
