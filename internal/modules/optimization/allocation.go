package optimization

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Allocate converts weights into whole shares with a greedy floor policy.
// Assets are visited in ascending symbol order; each receives
// floor(budget·weight / price) shares, capped by the cash still available,
// and is recorded only when at least one share is bought. Assets without a
// positive price are skipped. Cash is tracked in decimal so spent never
// exceeds budget.
func Allocate(weights map[string]float64, prices map[string]float64, budget float64) Allocation {
	alloc := Allocation{Shares: map[string]int64{}}

	budgetD := decimal.NewFromFloat(budget)
	if !budgetD.IsPositive() {
		alloc.Leftover = budget
		return alloc
	}

	symbols := make([]string, 0, len(weights))
	for sym := range weights {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	spent := decimal.Zero
	for _, sym := range symbols {
		w := weights[sym]
		price, ok := prices[sym]
		if w <= 0 || !ok || price <= 0 {
			continue
		}
		priceD := decimal.NewFromFloat(price)

		shares := budgetD.Mul(decimal.NewFromFloat(w)).Div(priceD).Floor()
		affordable := budgetD.Sub(spent).Div(priceD).Floor()
		if shares.GreaterThan(affordable) {
			shares = affordable
		}
		// Div rounds at DivisionPrecision, so re-check the cash bound
		for shares.IsPositive() && spent.Add(shares.Mul(priceD)).GreaterThan(budgetD) {
			shares = shares.Sub(decimal.NewFromInt(1))
		}
		if shares.LessThan(decimal.NewFromInt(1)) {
			continue
		}

		alloc.Shares[sym] = shares.IntPart()
		spent = spent.Add(shares.Mul(priceD))
	}

	alloc.Spent = spent.InexactFloat64()
	alloc.Leftover = budgetD.Sub(spent).InexactFloat64()
	return alloc
}
