// Package pricing folds daily price series into tracked-stock extrema and
// computes trade cost basis and returns.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/stocksync/internal/models"
)

// UnknownLowest is stored as a stock's lowest price when no low has ever been
// observed. It is a sentinel, not a price.
const UnknownLowest = math.MaxInt32

// MergeResult is the outcome of folding a price series into a stock.
type MergeResult struct {
	CurrentPrice int
	HighestPrice int
	LowestPrice  int
}

// Merge folds points (newest first) into the existing extrema.
//
// The current price is the close of points[0], floored at zero. The highest
// price never decreases and the lowest never increases. Lows of zero are
// unparsed fields and are not folded into the minimum. With no points the
// current price is zero and the extrema are returned unchanged, seeded with
// 0 and UnknownLowest when unset.
func Merge(existingHighest, existingLowest *int, points []models.DailyPricePoint) MergeResult {
	res := MergeResult{HighestPrice: 0, LowestPrice: UnknownLowest}
	if existingHighest != nil {
		res.HighestPrice = *existingHighest
	}
	if existingLowest != nil {
		res.LowestPrice = *existingLowest
	}

	if len(points) == 0 {
		return res
	}

	res.CurrentPrice = max(points[0].Close, 0)

	for _, p := range points {
		if p.High > res.HighestPrice {
			res.HighestPrice = p.High
		}
		if p.Low > 0 && p.Low < res.LowestPrice {
			res.LowestPrice = p.Low
		}
	}

	return res
}

// IsKnownLowest reports whether a stored lowest price is a real observation.
func IsKnownLowest(lowest *int) bool {
	return lowest != nil && *lowest != UnknownLowest
}

// Accumulate adds a purchase of newCount units at newPrice to an existing
// cost basis and returns the new floor-rounded weighted average and total
// count. A missing or non-positive average, or a non-positive count, starts
// the basis afresh.
func Accumulate(existingAvg *int, existingCount, newPrice, newCount int) (avg int, total int) {
	if existingAvg == nil || *existingAvg <= 0 || existingCount <= 0 {
		return newPrice, newCount
	}

	total = existingCount + newCount
	if total <= 0 {
		return newPrice, newCount
	}

	cost := int64(*existingAvg)*int64(existingCount) + int64(newPrice)*int64(newCount)
	return int(cost / int64(total)), total
}

// TrancheSize is the number of units bought per rebalance for a trade.
func TrancheSize(trade *models.SimulatedTrade) int {
	if trade.TargetBuyCount != nil && *trade.TargetBuyCount > 0 {
		return *trade.TargetBuyCount
	}
	return 1
}

// ProfitRate returns (current - buy) / buy * 100. ok is false when buyPrice
// or currentPrice is not positive.
func ProfitRate(buyPrice, currentPrice int) (decimal.Decimal, bool) {
	if buyPrice <= 0 || currentPrice <= 0 {
		return decimal.Zero, false
	}
	buy := decimal.NewFromInt(int64(buyPrice))
	return decimal.NewFromInt(int64(currentPrice)).Sub(buy).Div(buy).Mul(decimal.NewFromInt(100)), true
}

// ReachesThreshold reports whether a profit rate meets or exceeds threshold percent.
func ReachesThreshold(rate decimal.Decimal, threshold float64) bool {
	return rate.GreaterThanOrEqual(decimal.NewFromFloat(threshold))
}

// ReturnRate is the final return of a trade in percent, rounded to two places.
// ok is false when either price is unset or the average is not positive.
func ReturnRate(averagePrice, currentPrice *int) (float64, bool) {
	if averagePrice == nil || currentPrice == nil || *averagePrice <= 0 {
		return 0, false
	}
	avg := decimal.NewFromInt(int64(*averagePrice))
	rate := decimal.NewFromInt(int64(*currentPrice)).Sub(avg).Div(avg).Mul(decimal.NewFromInt(100))
	return rate.Round(2).InexactFloat64(), true
}
