package matching

import (
	"sort"

	fpmath "ShadowSwap/internal/math"
)

// Stats summarizes one cycle's matches.
type Stats struct {
	Matches     int
	BaseVolume  int64
	QuoteVolume int64
	Fees        int64
	AvgPrice    int64
}

// ComputeStats totals volumes and fees with the same rounding the ledger
// applies per settlement, so Fees equals what the fee recipient receives.
func ComputeStats(pairs []MatchedPair, feeBps uint16, baseUnit int64) (Stats, error) {
	stats := Stats{Matches: len(pairs)}
	qtys := make([]int64, 0, len(pairs))
	prices := make([]int64, 0, len(pairs))

	for _, p := range pairs {
		quote, err := fpmath.QuoteAmount(p.MatchedAmount, p.ExecutionPrice, baseUnit)
		if err != nil {
			return Stats{}, err
		}
		fee, err := fpmath.FeeAmount(quote, feeBps)
		if err != nil {
			return Stats{}, err
		}
		if stats.BaseVolume, err = fpmath.AddChecked(stats.BaseVolume, p.MatchedAmount); err != nil {
			return Stats{}, err
		}
		if stats.QuoteVolume, err = fpmath.AddChecked(stats.QuoteVolume, quote); err != nil {
			return Stats{}, err
		}
		if stats.Fees, err = fpmath.AddChecked(stats.Fees, fee); err != nil {
			return Stats{}, err
		}
		qtys = append(qtys, p.MatchedAmount)
		prices = append(prices, p.ExecutionPrice)
	}

	avg, err := fpmath.ComputeAvgPrice(qtys, prices)
	if err != nil {
		return Stats{}, err
	}
	stats.AvgPrice = avg
	return stats, nil
}

// Prioritize returns a copy of pairs ordered by notional (amount * price)
// descending, then by the age of the pair's oldest order.
func Prioritize(pairs []MatchedPair) []MatchedPair {
	out := make([]MatchedPair, len(pairs))
	copy(out, pairs)

	sort.SliceStable(out, func(i, j int) bool {
		vi := fpmath.MultiplyInt128(out[i].MatchedAmount, out[i].ExecutionPrice)
		vj := fpmath.MultiplyInt128(out[j].MatchedAmount, out[j].ExecutionPrice)
		cmp := vi.Cmp(vj)
		fpmath.Release(vi)
		fpmath.Release(vj)
		if cmp != 0 {
			return cmp > 0
		}
		return oldest(out[i]) < oldest(out[j])
	})
	return out
}

func oldest(p MatchedPair) int64 {
	return min(p.Buy.CreatedAt, p.Sell.CreatedAt)
}
