package optimization

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/tax"
	"github.com/aristath/taxoracle/internal/modules/washsale"
)

// errNonPositiveValue marks a portfolio whose value after the withdrawal is
// not positive. No allocation exists, so the strategy is reported infeasible.
var errNonPositiveValue = errors.New("portfolio value after withdrawal is not positive")

// Environment is the run-wide context a strategy is solved in.
type Environment struct {
	AsOf         time.Time
	TaxRates     domain.TaxRates
	Restrictions []domain.StockRestriction // applied to every strategy
	WashSales    *washsale.Book
}

// assetClass is one drift group. Targeted classes come from the strategy's
// targets; holdings outside every target form implicit classes with a zero
// target so that the optimizer is pushed to liquidate them.
type assetClass struct {
	id       string
	target   float64
	members  []string
	cash     bool
	targeted bool
}

// objectiveWeights are the effective weights after the optimization type
// has switched terms on or off.
type objectiveWeights struct {
	tax         float64
	drift       float64
	transaction float64
	factor      float64
	cashDrag    float64
	rank        float64
}

// portfolioState is the prepared, read-only view of one strategy that the
// constraint builder, objective builder and decoder share.
type portfolioState struct {
	strategy domain.Strategy
	settings domain.Settings
	behavior domain.TypeBehavior
	weights  objectiveWeights
	asOf     time.Time
	harvest  bool

	taxes     *tax.Calculator
	washSales *washsale.Book

	securities     []string
	prices         map[string]float64
	spreads        map[string]float64
	exposures      map[string][]float64
	numFactors     int
	lotsBySecurity map[string][]domain.TaxLot
	held           map[string]float64

	classes []assetClass
	classOf map[string]int
	rank    map[string]int

	canBuy      map[string]bool
	canSell     map[string]bool
	blockedBuys map[string]domain.WashSaleRecord

	cashAvailable float64 // cash less the withdrawal
	totalValue    float64 // cashAvailable plus holdings value
}

func newPortfolioState(strategy domain.Strategy, settings domain.Settings, env Environment) (*portfolioState, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	book := env.WashSales
	if book == nil {
		book = washsale.NewBook(domain.WashSaleParams{}, env.AsOf)
	}

	p := &portfolioState{
		strategy:       strategy,
		settings:       settings,
		behavior:       strategy.OptimizationType.Behavior(),
		asOf:           env.AsOf,
		harvest:        strategy.OptimizationType.HarvestsLosses(settings),
		taxes:          tax.NewCalculator(env.TaxRates, env.AsOf),
		washSales:      book,
		prices:         make(map[string]float64, len(strategy.Prices)),
		spreads:        make(map[string]float64, len(strategy.Spreads)),
		exposures:      make(map[string][]float64, len(strategy.FactorExposures)),
		lotsBySecurity: make(map[string][]domain.TaxLot),
		held:           make(map[string]float64),
		classOf:        make(map[string]int),
		rank:           make(map[string]int),
		canBuy:         make(map[string]bool),
		canSell:        make(map[string]bool),
	}

	for _, pr := range strategy.Prices {
		p.prices[pr.SecurityID] = pr.Price
	}
	for _, s := range strategy.Spreads {
		p.spreads[s.SecurityID] = s.HalfSpreadFraction
	}
	for _, f := range strategy.FactorExposures {
		p.exposures[f.SecurityID] = f.Factors
		p.numFactors = len(f.Factors)
	}

	universe := make(map[string]struct{})
	for _, lot := range strategy.TaxLots {
		p.lotsBySecurity[lot.SecurityID] = append(p.lotsBySecurity[lot.SecurityID], lot)
		p.held[lot.SecurityID] += lot.Quantity
		universe[lot.SecurityID] = struct{}{}
	}
	for sid, lots := range p.lotsBySecurity {
		sort.Slice(lots, func(i, j int) bool { return lots[i].LotID < lots[j].LotID })
		p.lotsBySecurity[sid] = lots
	}

	for _, t := range strategy.Targets {
		idx := len(p.classes)
		class := assetClass{id: t.AssetClassID, target: t.TargetWeight, cash: t.IsCash(), targeted: true}
		if !class.cash {
			class.members = append(class.members, t.Identifiers...)
			for i, sid := range t.Identifiers {
				p.classOf[sid] = idx
				p.rank[sid] = i
				universe[sid] = struct{}{}
			}
		}
		p.classes = append(p.classes, class)
	}

	for sid := range universe {
		p.securities = append(p.securities, sid)
	}
	sort.Strings(p.securities)

	for _, sid := range p.securities {
		if _, ok := p.classOf[sid]; ok {
			continue
		}
		p.classOf[sid] = len(p.classes)
		p.classes = append(p.classes, assetClass{id: sid, members: []string{sid}})
	}

	p.applyRestrictions(env.Restrictions, strategy.Restrictions)

	if settings.EnforceWashSalePrevention {
		p.blockedBuys = book.BlockedBuys(strategy.Targets)
	}

	p.cashAvailable = strategy.Cash - settings.WithdrawalAmount
	p.totalValue = p.cashAvailable
	for _, sid := range p.securities {
		p.totalValue += p.held[sid] * p.prices[sid]
	}
	p.weights = p.effectiveWeights()

	if p.totalValue <= 0 {
		return p, fmt.Errorf("%w: %.2f", errNonPositiveValue, p.totalValue)
	}
	return p, nil
}

// applyRestrictions merges global and strategy restrictions. When both
// mention a security the most restrictive combination wins.
func (p *portfolioState) applyRestrictions(lists ...[]domain.StockRestriction) {
	for _, sid := range p.securities {
		p.canBuy[sid] = true
		p.canSell[sid] = true
	}
	for _, list := range lists {
		for _, r := range list {
			if _, ok := p.canBuy[r.SecurityID]; !ok {
				continue
			}
			p.canBuy[r.SecurityID] = p.canBuy[r.SecurityID] && r.CanBuy
			p.canSell[r.SecurityID] = p.canSell[r.SecurityID] && r.CanSell
		}
	}
}

func (p *portfolioState) effectiveWeights() objectiveWeights {
	s := p.settings
	w := objectiveWeights{
		drift:       s.WeightDrift,
		transaction: s.WeightTransaction,
		factor:      s.WeightFactorModel,
		cashDrag:    s.WeightCashDrag,
		rank:        s.RankPenaltyFactor,
	}
	if p.behavior.TaxAware {
		w.tax = s.WeightTax
	}
	if p.numFactors == 0 {
		w.factor = 0
	} else if p.behavior.UseFactorModel && w.factor == 0 {
		w.factor = 1
	}
	if s.WithdrawalAmount > 0 {
		w.cashDrag = 0
	}
	return w
}

// holdingValue is the current market value of a security position.
func (p *portfolioState) holdingValue(sid string) float64 {
	return p.held[sid] * p.prices[sid]
}

// classValue is the current market value of a class. The cash class is
// worth the cash left after the withdrawal.
func (p *portfolioState) classValue(c assetClass) float64 {
	if c.cash {
		return p.cashAvailable
	}
	total := 0.0
	for _, sid := range c.members {
		total += p.holdingValue(sid)
	}
	return total
}

// sellable reports whether lot may be sold at all, before structural LP
// direction is applied.
func (p *portfolioState) sellable(lot domain.TaxLot) bool {
	if !p.behavior.AllowSells || !p.canSell[lot.SecurityID] {
		return false
	}
	if p.settings.HoldingTimeDays > 0 && lot.AgeDays(p.asOf) < p.settings.HoldingTimeDays {
		return false
	}
	price := p.prices[lot.SecurityID]
	if p.settings.EnforceWashSalePrevention && tax.IsLoss(lot, price) &&
		p.washSales.ReplacementAcquired(lot, p.lotsBySecurity[lot.SecurityID]) {
		return false
	}
	return true
}

// buyable reports whether sid may be bought at all. Securities held outside
// every target are only ever sold down.
func (p *portfolioState) buyable(sid string) bool {
	if !p.canBuy[sid] {
		return false
	}
	if !p.classes[p.classOf[sid]].targeted {
		return false
	}
	if _, blocked := p.blockedBuys[sid]; blocked {
		return false
	}
	return true
}

// maxBuyShares bounds a buy by everything the strategy could spend and, with
// the band on, by the most its class may hold after trading.
func (p *portfolioState) maxBuyShares(sid string) float64 {
	budget := p.totalValue - p.settings.DeminimusCashTarget
	if class := p.classes[p.classOf[sid]]; class.targeted && p.settings.BandEnabled() {
		budget = math.Min(budget, class.target*p.settings.RangeMaxWeightMultiplier*p.totalValue)
	}
	if budget <= 0 {
		return 0
	}
	return budget / p.prices[sid]
}

// identicalAlternates lists the other securities a loss sale of sid would be
// washed by if bought in the same run. Empty unless wash sales are enforced.
func (p *portfolioState) identicalAlternates(sid string) []string {
	if !p.settings.EnforceWashSalePrevention {
		return nil
	}
	var out []string
	for _, other := range p.washSales.IdenticalTo(sid, p.strategy.Targets) {
		if other != sid {
			out = append(out, other)
		}
	}
	return out
}

// hasSubstitute reports whether the class of sid holds another security that
// can be bought to keep the class weight when sid is sold.
func (p *portfolioState) hasSubstitute(sid string) bool {
	washed := make(map[string]bool)
	for _, other := range p.identicalAlternates(sid) {
		washed[other] = true
	}
	for _, other := range p.classes[p.classOf[sid]].members {
		if other != sid && !washed[other] && p.buyable(other) {
			return true
		}
	}
	return false
}

// overTarget reports whether the class currently weighs more than its target.
func (p *portfolioState) overTarget(c assetClass) bool {
	return p.classValue(c)/p.totalValue > c.target
}

// harvestCandidate reports whether any lot of sid is an eligible loss.
func (p *portfolioState) harvestCandidate(sid string) bool {
	if !p.harvest {
		return false
	}
	for _, lot := range p.lotsBySecurity[sid] {
		if tax.HarvestEligible(lot, p.prices[sid], p.settings.TLHMinLossThreshold) {
			return true
		}
	}
	return false
}

type direction int

const (
	directionBoth direction = iota
	directionSell
	directionBuy
)

// lpDirection fixes a single trade direction per security for the pure LP
// formulation, which cannot express buy/sell exclusivity. A loss lot is only
// forced out when the class can absorb the sale; otherwise the class drift
// decides. Identifiers that are wash-identical share their class direction,
// so one is never sold at a loss while another is bought.
func (p *portfolioState) lpDirection(sid string) direction {
	class := p.classes[p.classOf[sid]]
	switch {
	case !class.targeted:
		return directionSell
	case len(p.identicalAlternates(sid)) > 0:
		if p.overTarget(class) {
			return directionSell
		}
		return directionBuy
	case p.harvestCandidate(sid) && (p.overTarget(class) || p.hasSubstitute(sid)):
		return directionSell
	case !p.buyable(sid) && p.held[sid] > 0:
		return directionSell
	case p.overTarget(class):
		return directionSell
	default:
		return directionBuy
	}
}

// factorTargets is the exposure of the target portfolio: each class
// contributes its primary security's loadings at its target weight.
func (p *portfolioState) factorTargets() []float64 {
	out := make([]float64, p.numFactors)
	for _, c := range p.classes {
		if !c.targeted || c.cash || len(c.members) == 0 {
			continue
		}
		f := p.exposures[c.members[0]]
		for k := 0; k < len(f) && k < len(out); k++ {
			out[k] += c.target * f[k]
		}
	}
	return out
}
