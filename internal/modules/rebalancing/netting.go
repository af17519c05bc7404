package rebalancing

import (
	"sort"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/shopspring/decimal"
)

// NetTrades sums the signed trade quantities of every optimal strategy per
// security. Securities that net to zero are omitted; the rest are ordered by
// identifier.
func NetTrades(results []domain.StrategyResult) []domain.NettedTrade {
	totals := make(map[string]decimal.Decimal)
	for _, r := range results {
		if r.Status != domain.StatusOptimal {
			continue
		}
		for _, t := range r.Trades {
			q := decimal.NewFromFloat(t.Quantity)
			if t.Side == domain.TradeSell {
				q = q.Neg()
			}
			totals[t.SecurityID] = totals[t.SecurityID].Add(q)
		}
	}

	out := make([]domain.NettedTrade, 0, len(totals))
	for sid, q := range totals {
		if q.IsZero() {
			continue
		}
		side := domain.TradeBuy
		if q.IsNegative() {
			side = domain.TradeSell
		}
		out = append(out, domain.NettedTrade{
			Identifier: sid,
			Quantity:   q.Abs().InexactFloat64(),
			TradeType:  side,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}
