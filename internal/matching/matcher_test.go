package matching_test

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/matching"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var book = uuid.MustParse("6f0c1f9e-7d0a-4b6c-9a44-1f2d3c4b5a69")

func order(seq int64, side matching.Side, price, amount, createdAt int64) matching.PlainOrder {
	return matching.PlainOrder{
		OrderID:     uuid.NewSHA1(book, []byte{byte(seq)}),
		OrderBookID: book,
		Owner:       uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(seq)}),
		Sequence:    seq,
		Side:        side,
		Price:       price,
		Amount:      amount,
		Remaining:   amount,
		CreatedAt:   createdAt,
	}
}

func TestMatch_MakerPriceAndPartialFill(t *testing.T) {
	buyA := order(0, matching.SideBuy, 100, 10, 1)
	sellB := order(1, matching.SideSell, 95, 6, 2)

	pairs := matching.Match([]matching.PlainOrder{buyA, sellB})

	require.Len(t, pairs, 1)
	assert.Equal(t, int64(6), pairs[0].MatchedAmount)
	assert.Equal(t, int64(100), pairs[0].ExecutionPrice, "buy is older, so its price applies")
	assert.Equal(t, buyA.OrderID, pairs[0].Buy.OrderID)
	assert.Equal(t, int64(10), pairs[0].Buy.Remaining, "pair carries pre-fill remaining")
	require.NoError(t, matching.ValidateMatch(pairs[0]))
}

func TestMatch_SellerMakerPrice(t *testing.T) {
	sell := order(0, matching.SideSell, 95, 5, 1)
	buy := order(1, matching.SideBuy, 100, 5, 2)

	pairs := matching.Match([]matching.PlainOrder{buy, sell})

	require.Len(t, pairs, 1)
	assert.Equal(t, int64(95), pairs[0].ExecutionPrice)
}

func TestMatch_PriceTimePriority(t *testing.T) {
	orders := []matching.PlainOrder{
		order(0, matching.SideBuy, 100, 5, 10),
		order(1, matching.SideBuy, 101, 5, 20), // best price wins despite being later
		order(2, matching.SideBuy, 100, 5, 5),  // older of the two at 100
		order(3, matching.SideSell, 99, 12, 1),
	}

	pairs := matching.Match(orders)

	require.Len(t, pairs, 3)
	assert.Equal(t, orders[1].OrderID, pairs[0].Buy.OrderID)
	assert.Equal(t, orders[2].OrderID, pairs[1].Buy.OrderID)
	assert.Equal(t, orders[0].OrderID, pairs[2].Buy.OrderID)
	assert.Equal(t, int64(2), pairs[2].MatchedAmount)
	for _, p := range pairs {
		assert.Equal(t, int64(99), p.ExecutionPrice, "the sell is older than every buy")
	}
}

func TestMatch_EqualTimestampBrokenBySequence(t *testing.T) {
	buyLate := order(7, matching.SideBuy, 100, 5, 50)
	buyEarly := order(3, matching.SideBuy, 100, 5, 50)
	sell := order(9, matching.SideSell, 100, 5, 50)

	pairs := matching.Match([]matching.PlainOrder{buyLate, sell, buyEarly})

	require.Len(t, pairs, 1)
	assert.Equal(t, buyEarly.OrderID, pairs[0].Buy.OrderID)
	assert.Equal(t, buyEarly.OrderID, pairs[0].Maker().OrderID)
}

func TestMatch_NoCrossNoPairs(t *testing.T) {
	pairs := matching.Match([]matching.PlainOrder{
		order(0, matching.SideBuy, 90, 5, 1),
		order(1, matching.SideSell, 95, 5, 2),
	})
	assert.Empty(t, pairs)
}

func TestMatch_EmptyAndOneSided(t *testing.T) {
	assert.Empty(t, matching.Match(nil))
	assert.Empty(t, matching.Match([]matching.PlainOrder{
		order(0, matching.SideBuy, 100, 5, 1),
		order(1, matching.SideBuy, 101, 5, 2),
	}))
}

func TestMatch_SkipsExhaustedOrders(t *testing.T) {
	done := order(0, matching.SideSell, 90, 5, 1)
	done.Remaining = 0
	live := order(1, matching.SideSell, 95, 5, 2)
	buy := order(2, matching.SideBuy, 100, 5, 3)

	pairs := matching.Match([]matching.PlainOrder{done, live, buy})

	require.Len(t, pairs, 1)
	assert.Equal(t, live.OrderID, pairs[0].Sell.OrderID)
}

func TestMatch_DoesNotMutateInput(t *testing.T) {
	input := []matching.PlainOrder{
		order(0, matching.SideSell, 95, 5, 2),
		order(1, matching.SideBuy, 100, 10, 1),
	}
	before := append([]matching.PlainOrder(nil), input...)

	matching.Match(input)

	assert.Equal(t, before, input)
}

func TestValidateMatch_Rejections(t *testing.T) {
	good := matching.Match([]matching.PlainOrder{
		order(0, matching.SideBuy, 100, 10, 1),
		order(1, matching.SideSell, 95, 6, 2),
	})[0]

	cases := []struct {
		name   string
		mutate func(p *matching.MatchedPair)
		code   ledgererr.Code
	}{
		{"zero amount", func(p *matching.MatchedPair) { p.MatchedAmount = 0 }, ledgererr.InvalidMatch},
		{"zero price", func(p *matching.MatchedPair) { p.ExecutionPrice = 0 }, ledgererr.InvalidMatch},
		{"wrong side", func(p *matching.MatchedPair) { p.Buy.Side = matching.SideSell }, ledgererr.InvalidMatch},
		{"other book", func(p *matching.MatchedPair) { p.Sell.OrderBookID = uuid.New() }, ledgererr.InvalidMatch},
		{"not crossing", func(p *matching.MatchedPair) { p.Buy.Price = 90 }, ledgererr.InvalidMatch},
		{"taker price", func(p *matching.MatchedPair) { p.ExecutionPrice = 95 }, ledgererr.InvalidMatch},
		{"over remaining", func(p *matching.MatchedPair) { p.MatchedAmount = 7 }, ledgererr.MatchExceedsRemaining},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := good
			tc.mutate(&p)
			err := matching.ValidateMatch(p)
			require.Error(t, err)
			assert.True(t, ledgererr.Is(err, tc.code), "got %v", err)
		})
	}
}

func TestComputeStats(t *testing.T) {
	pairs := []matching.MatchedPair{
		{MatchedAmount: 6, ExecutionPrice: 100},
		{MatchedAmount: 4, ExecutionPrice: 95},
	}

	stats, err := matching.ComputeStats(pairs, 30, 1)

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Matches)
	assert.Equal(t, int64(10), stats.BaseVolume)
	assert.Equal(t, int64(980), stats.QuoteVolume)
	assert.Equal(t, int64(1+1), stats.Fees) // 1.8 and 1.14, each rounded down
	assert.Equal(t, int64(98), stats.AvgPrice)
}

func TestComputeStats_Empty(t *testing.T) {
	stats, err := matching.ComputeStats(nil, 30, 1)
	require.NoError(t, err)
	assert.Equal(t, matching.Stats{}, stats)
}

func TestPrioritize_VolumeThenAge(t *testing.T) {
	small := matching.MatchedPair{MatchedAmount: 1, ExecutionPrice: 100,
		Buy: matching.PlainOrder{CreatedAt: 1}, Sell: matching.PlainOrder{CreatedAt: 2}}
	bigNew := matching.MatchedPair{MatchedAmount: 10, ExecutionPrice: 100,
		Buy: matching.PlainOrder{CreatedAt: 30}, Sell: matching.PlainOrder{CreatedAt: 40}}
	bigOld := matching.MatchedPair{MatchedAmount: 20, ExecutionPrice: 50,
		Buy: matching.PlainOrder{CreatedAt: 20}, Sell: matching.PlainOrder{CreatedAt: 5}}
	input := []matching.MatchedPair{small, bigNew, bigOld}

	out := matching.Prioritize(input)

	require.Len(t, out, 3)
	assert.Equal(t, bigOld, out[0])
	assert.Equal(t, bigNew, out[1])
	assert.Equal(t, small, out[2])
	assert.Equal(t, small, input[0], "input order is preserved")
}

// randomBook draws n orders from a few price levels, timestamps and
// sequence numbers so that ties are common. Some orders are partly filled.
func randomBook(r *rand.Rand, n int) []matching.PlainOrder {
	orders := make([]matching.PlainOrder, n)
	for i := range orders {
		side := matching.SideBuy
		if r.Intn(2) == 1 {
			side = matching.SideSell
		}
		amount := int64(1 + r.Intn(20))
		o := order(int64(i), side, int64(98+r.Intn(5)), amount, int64(r.Intn(3)))
		o.Sequence = int64(r.Intn(3))
		if r.Intn(4) == 0 {
			o.Remaining = int64(r.Intn(int(amount) + 1))
		}
		orders[i] = o
	}
	return orders
}

func TestMatch_Properties(t *testing.T) {
	for seed := int64(1); seed <= 300; seed++ {
		r := rand.New(rand.NewSource(seed))
		orders := randomBook(r, 2+r.Intn(40))
		pairs := matching.Match(orders)

		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			// Input order does not matter, even among exact price and time ties.
			shuffled := append([]matching.PlainOrder(nil), orders...)
			r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			require.Equal(t, pairs, matching.Match(shuffled))

			initial := make(map[uuid.UUID]matching.PlainOrder, len(orders))
			for _, o := range orders {
				initial[o.OrderID] = o
			}
			filled := make(map[uuid.UUID]int64)
			for i, p := range pairs {
				require.NoError(t, matching.ValidateMatch(p), "pair %d", i)
				assert.GreaterOrEqual(t, p.Buy.Price, p.Sell.Price, "pair %d crosses", i)
				assert.Equal(t, p.Maker().Price, p.ExecutionPrice, "pair %d executes at the maker price", i)

				// Each pair carries what was left of its orders before the fill.
				assert.Equal(t, initial[p.Buy.OrderID].Remaining-filled[p.Buy.OrderID], p.Buy.Remaining, "pair %d buy", i)
				assert.Equal(t, initial[p.Sell.OrderID].Remaining-filled[p.Sell.OrderID], p.Sell.Remaining, "pair %d sell", i)
				filled[p.Buy.OrderID] += p.MatchedAmount
				filled[p.Sell.OrderID] += p.MatchedAmount
			}

			var bestBid, bestAsk int64 = 0, -1
			for id, o := range initial {
				assert.LessOrEqual(t, filled[id], o.Remaining, "order %d overfilled", o.Sequence)
				assert.LessOrEqual(t, filled[id], o.Amount)
				if o.Remaining-filled[id] == 0 {
					continue
				}
				switch o.Side {
				case matching.SideBuy:
					bestBid = max(bestBid, o.Price)
				case matching.SideSell:
					if bestAsk < 0 || o.Price < bestAsk {
						bestAsk = o.Price
					}
				}
			}
			// Whatever is left over no longer crosses.
			if bestBid > 0 && bestAsk > 0 {
				assert.Less(t, bestBid, bestAsk)
			}
		})
	}
}

func TestMatch_TiesResolveByOrderIDRegardlessOfInputOrder(t *testing.T) {
	a := order(1, matching.SideSell, 100, 3, 7)
	b := order(2, matching.SideSell, 100, 3, 7)
	a.Sequence, b.Sequence = 0, 0
	buy := order(3, matching.SideBuy, 100, 3, 9)

	first := a
	if bytes.Compare(b.OrderID[:], a.OrderID[:]) < 0 {
		first = b
	}
	for _, in := range [][]matching.PlainOrder{{a, b, buy}, {b, a, buy}, {buy, b, a}} {
		pairs := matching.Match(in)
		require.Len(t, pairs, 1)
		assert.Equal(t, first.OrderID, pairs[0].Sell.OrderID)
	}
}
