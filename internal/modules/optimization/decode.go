package optimization

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/optimization/mip"
	"github.com/aristath/taxoracle/internal/modules/tax"
	"github.com/shopspring/decimal"
)

// quantityTolerance is the solver noise below which a variable counts as zero.
const quantityTolerance = 1e-7

// bandTolerance is how far a rounded weight may leave the band before it is reported.
const bandTolerance = 1e-6

type decodedTrades struct {
	trades    []domain.Trade
	cashAfter float64
	warnings  []string
}

type lotSale struct {
	lot domain.TaxLot
	qty decimal.Decimal
}

// tradeBook holds rounded quantities while decoding post-processes them.
type tradeBook struct {
	p        *portfolioState
	places   int32
	sells    map[string][]lotSale
	buys     map[string]decimal.Decimal
	warnings []string
}

// decode turns a solution into rounded trades: solver noise is dropped,
// quantities are rounded to trade_rounding places, trades below the minimum
// notional are removed and buys are trimmed until cash covers deminimus.
func decode(p *portfolioState, vars *decisionVars, sol mip.Solution) decodedTrades {
	b := &tradeBook{
		p:      p,
		places: int32(p.settings.TradeRounding),
		sells:  make(map[string][]lotSale),
		buys:   make(map[string]decimal.Decimal),
	}

	for _, sid := range p.securities {
		for _, lot := range p.lotsBySecurity[sid] {
			v, ok := vars.sells[lot.LotID]
			if !ok || sol.Value(v) <= quantityTolerance {
				continue
			}
			qty := b.round(sol.Value(v))
			qty = decimal.Min(qty, decimal.NewFromFloat(lot.Quantity))
			if qty.IsPositive() {
				b.sells[sid] = append(b.sells[sid], lotSale{lot: lot, qty: qty})
			}
		}
		if v, ok := vars.buys[sid]; ok && sol.Value(v) > quantityTolerance {
			if qty := b.round(sol.Value(v)); qty.IsPositive() {
				b.buys[sid] = qty
			}
		}
	}

	if p.settings.MinNotional > 0 {
		b.dropSmallSells()
		b.dropSmallBuys()
	}
	cash := b.repairCash()
	if p.settings.MinNotional > 0 {
		b.dropSmallBuys()
		cash = b.cashAfter()
	}

	trades := b.trades()
	if p.settings.BandEnabled() {
		b.checkBand(trades, cash.InexactFloat64())
	}

	return decodedTrades{
		trades:    trades,
		cashAfter: cash.InexactFloat64(),
		warnings:  b.warnings,
	}
}

func (b *tradeBook) round(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(b.places)
}

func (b *tradeBook) price(sid string) decimal.Decimal {
	return decimal.NewFromFloat(b.p.prices[sid])
}

func (b *tradeBook) warn(format string, args ...interface{}) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *tradeBook) dropSmallSells() {
	minNotional := decimal.NewFromFloat(b.p.settings.MinNotional)
	for sid, sales := range b.sells {
		total := decimal.Zero
		for _, s := range sales {
			total = total.Add(s.qty)
		}
		value := total.Mul(b.price(sid))
		if value.LessThan(minNotional) {
			delete(b.sells, sid)
			b.warn("dropped sell of %s worth %s below min notional %s", sid, value.StringFixed(2), minNotional.StringFixed(2))
		}
	}
}

func (b *tradeBook) dropSmallBuys() {
	minNotional := decimal.NewFromFloat(b.p.settings.MinNotional)
	for sid, qty := range b.buys {
		value := qty.Mul(b.price(sid))
		if value.LessThan(minNotional) {
			delete(b.buys, sid)
			b.warn("dropped buy of %s worth %s below min notional %s", sid, value.StringFixed(2), minNotional.StringFixed(2))
		}
	}
}

func (b *tradeBook) cashAfter() decimal.Decimal {
	cash := decimal.NewFromFloat(b.p.cashAvailable)
	for sid, sales := range b.sells {
		for _, s := range sales {
			cash = cash.Add(s.qty.Mul(b.price(sid)))
		}
	}
	for sid, qty := range b.buys {
		cash = cash.Sub(qty.Mul(b.price(sid)))
	}
	return cash
}

// repairCash trims buys, largest first, until post-trade cash is back at
// deminimus. Rounding and dropped sells are the only ways to fall short.
func (b *tradeBook) repairCash() decimal.Decimal {
	cash := b.cashAfter()
	floor := decimal.NewFromFloat(b.p.settings.DeminimusCashTarget)
	if !cash.LessThan(floor) {
		return cash
	}

	ids := make([]string, 0, len(b.buys))
	for sid := range b.buys {
		ids = append(ids, sid)
	}
	sort.Slice(ids, func(i, j int) bool {
		vi := b.buys[ids[i]].Mul(b.price(ids[i]))
		vj := b.buys[ids[j]].Mul(b.price(ids[j]))
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return ids[i] < ids[j]
	})

	shortfall := floor.Sub(cash)
	for _, sid := range ids {
		if !shortfall.IsPositive() {
			break
		}
		price := b.price(sid)
		cut := decimal.Min(shortfall.Div(price).RoundCeil(b.places), b.buys[sid])
		remaining := b.buys[sid].Sub(cut)
		if remaining.IsPositive() {
			b.buys[sid] = remaining
		} else {
			delete(b.buys, sid)
		}
		shortfall = shortfall.Sub(cut.Mul(price))
	}

	cash = b.cashAfter()
	if cash.LessThan(floor) {
		b.warn("cash after trades %s is below deminimus %s", cash.StringFixed(2), floor.StringFixed(2))
	} else {
		b.warn("reduced buys to keep cash at deminimus after rounding")
	}
	return cash
}

// trades lists sells by security and lot, then buys by security.
func (b *tradeBook) trades() []domain.Trade {
	var out []domain.Trade
	for _, sid := range b.p.securities {
		price := b.price(sid)
		for _, s := range b.sells[sid] {
			out = append(out, domain.Trade{
				SecurityID: sid,
				LotID:      s.lot.LotID,
				Side:       domain.TradeSell,
				Quantity:   s.qty.InexactFloat64(),
				Price:      b.p.prices[sid],
				Value:      s.qty.Mul(price).InexactFloat64(),
			})
		}
	}
	for _, sid := range b.p.securities {
		qty, ok := b.buys[sid]
		if !ok {
			continue
		}
		out = append(out, domain.Trade{
			SecurityID: sid,
			Side:       domain.TradeBuy,
			Quantity:   qty.InexactFloat64(),
			Price:      b.p.prices[sid],
			Value:      qty.Mul(b.price(sid)).InexactFloat64(),
		})
	}
	return out
}

func (b *tradeBook) checkBand(trades []domain.Trade, cash float64) {
	s := b.p.settings
	post := postTradeQuantities(b.p, trades)
	for _, c := range b.p.classes {
		if !c.targeted {
			continue
		}
		w := postClassValue(b.p, c, post, cash) / b.p.totalValue
		lower := c.target * s.RangeMinWeightMultiplier
		upper := c.target * s.RangeMaxWeightMultiplier
		if w < lower-bandTolerance || w > upper+bandTolerance {
			b.warn("class %s weight %.6f outside band [%.6f, %.6f] after rounding", c.id, w, lower, upper)
		}
	}
}

func postTradeQuantities(p *portfolioState, trades []domain.Trade) map[string]float64 {
	post := make(map[string]float64, len(p.held))
	for sid, q := range p.held {
		post[sid] = q
	}
	for _, t := range trades {
		post[t.SecurityID] += t.SignedQuantity()
	}
	return post
}

func postClassValue(p *portfolioState, c assetClass, post map[string]float64, cash float64) float64 {
	if c.cash {
		return cash
	}
	total := 0.0
	for _, sid := range c.members {
		total += post[sid] * p.prices[sid]
	}
	return total
}

// summarize evaluates each objective term at trades. The component fields are
// reported in natural units; Overall is the weighted, value-normalized sum the
// optimizer minimized.
func summarize(p *portfolioState, trades []domain.Trade) domain.TradeSummary {
	var (
		summary  domain.TradeSummary
		taxObj   float64
		rankObj  float64
		driftObj float64
		cashObj  float64
	)
	w := p.weights
	lots := make(map[string]domain.TaxLot)
	for _, sid := range p.securities {
		for _, lot := range p.lotsBySecurity[sid] {
			lots[lot.LotID] = lot
		}
	}

	cash := p.cashAvailable
	for _, t := range trades {
		cash -= t.SignedQuantity() * t.Price
		summary.SpreadCosts += t.Value * p.spreads[t.SecurityID]
		switch t.Side {
		case domain.TradeSell:
			lot := lots[t.LotID]
			summary.TaxCost += t.Quantity * p.taxes.TaxPerShare(lot, t.Price)
			taxObj += t.Quantity * p.taxes.ObjectiveCoefficient(lot, t.Price, p.harvest, p.settings.TLHMinLossThreshold)
		case domain.TradeBuy:
			rankObj += float64(p.rank[t.SecurityID]) * t.Value
		}
	}

	post := postTradeQuantities(p, trades)
	for _, c := range p.classes {
		dev := math.Abs(postClassValue(p, c, post, cash)/p.totalValue - c.target)
		summary.DriftCost += dev
		driftObj += math.Max(0, dev-p.settings.RebalanceThreshold)
	}

	if p.numFactors > 0 {
		targets := p.factorTargets()
		for k := 0; k < p.numFactors; k++ {
			exposure := 0.0
			for _, sid := range p.securities {
				if f := p.exposures[sid]; k < len(f) {
					exposure += post[sid] * p.prices[sid] / p.totalValue * f[k]
				}
			}
			summary.FactorCost += math.Abs(exposure - targets[k])
		}
	}

	idle := cash - p.settings.DeminimusCashTarget
	summary.CashDrag = math.Max(0, idle)
	cashObj = math.Max(0, idle/p.totalValue-p.settings.BuyThreshold)

	summary.Overall = w.tax*taxObj/p.totalValue +
		w.drift*driftObj +
		w.rank*rankObj/p.totalValue +
		w.transaction*summary.SpreadCosts/p.totalValue +
		w.factor*summary.FactorCost +
		w.cashDrag*cashObj
	return summary
}

// washSaleRecords protects every security sold at a loss from repurchase.
func washSaleRecords(p *portfolioState, trades []domain.Trade) []domain.WashSaleRecord {
	seen := make(map[string]bool)
	var out []domain.WashSaleRecord
	for _, t := range trades {
		if t.Side != domain.TradeSell || seen[t.SecurityID] {
			continue
		}
		for _, lot := range p.lotsBySecurity[t.SecurityID] {
			if lot.LotID == t.LotID && tax.IsLoss(lot, t.Price) {
				seen[t.SecurityID] = true
				out = append(out, p.washSales.RecordForLoss(t.SecurityID, p.asOf))
				break
			}
		}
	}
	return out
}
