package optimization

import (
	"fmt"

	"github.com/aristath/taxoracle/internal/modules/optimization/mip"
	"github.com/rs/zerolog"
)

// ObjectiveBuilder assembles the weighted objective. Every currency term is
// divided by the post-withdrawal portfolio value so that the weights are
// comparable across portfolio sizes.
//
// Terms:
//   - tax: per-share tax coefficient of each sold lot
//   - drift: absolute class-weight deviation outside the rebalance threshold
//   - rank: rank_penalty_factor * rank * purchase value
//   - transaction: half spread * traded value
//   - factor: absolute deviation of post-trade factor exposure from the targets'
//   - cash drag: idle cash above deminimus beyond the buy threshold
type ObjectiveBuilder struct {
	log zerolog.Logger
}

// NewObjectiveBuilder creates a new objective builder.
func NewObjectiveBuilder(log zerolog.Logger) *ObjectiveBuilder {
	return &ObjectiveBuilder{
		log: log.With().Str("component", "objective").Logger(),
	}
}

// Build adds the auxiliary variables and rows the objective needs and sets
// it on m.
func (ob *ObjectiveBuilder) Build(m *mip.Model, p *portfolioState, vars *decisionVars) {
	var obj mip.Expr
	w := p.weights
	scale := 1 / p.totalValue

	if w.tax > 0 {
		ob.addTax(&obj, p, vars, w.tax*scale)
	}
	if w.drift > 0 {
		ob.addDrift(m, &obj, p, vars, w.drift)
	}
	if w.rank > 0 {
		for sid, v := range vars.buys {
			obj.Add(v, w.rank*float64(p.rank[sid])*p.prices[sid]*scale)
		}
	}
	if w.transaction > 0 {
		ob.addTransaction(&obj, p, vars, w.transaction*scale)
	}
	if w.factor > 0 {
		ob.addFactor(m, &obj, p, vars, w.factor)
	}
	if w.cashDrag > 0 {
		ob.addCashDrag(m, &obj, p, vars, w.cashDrag)
	}

	m.SetObjective(obj)

	ob.log.Debug().
		Str("strategy", p.strategy.Label).
		Int("terms", len(obj.Terms)).
		Str("model", m.Describe()).
		Msg("Built objective")
}

func (ob *ObjectiveBuilder) addTax(obj *mip.Expr, p *portfolioState, vars *decisionVars, weight float64) {
	for _, sid := range p.securities {
		price := p.prices[sid]
		for _, lot := range p.lotsBySecurity[sid] {
			v, ok := vars.sells[lot.LotID]
			if !ok {
				continue
			}
			coef := p.taxes.ObjectiveCoefficient(lot, price, p.harvest, p.settings.TLHMinLossThreshold)
			obj.Add(v, weight*coef)
		}
	}
}

// addDrift linearizes |w_c - t_c| with a dead zone of rebalance_threshold:
//
//	w_c - in - out+ + out- = t_c,  -threshold <= in <= threshold
//
// Only out± are charged.
func (ob *ObjectiveBuilder) addDrift(m *mip.Model, obj *mip.Expr, p *portfolioState, vars *decisionVars, weight float64) {
	threshold := p.settings.RebalanceThreshold
	for _, c := range p.classes {
		row := classValueExpr(p, vars, c).Scaled(1 / p.totalValue)

		over := m.AddContinuous("drift_over_"+c.id, 0, mip.Inf)
		under := m.AddContinuous("drift_under_"+c.id, 0, mip.Inf)
		row.Add(over, -1).Add(under, 1)
		if threshold > 0 {
			row.Add(m.AddContinuous("drift_band_"+c.id, -threshold, threshold), -1)
		}
		m.AddConstraint("drift_"+c.id, row, mip.Equal, c.target)

		obj.Add(over, weight).Add(under, weight)
	}
}

func (ob *ObjectiveBuilder) addTransaction(obj *mip.Expr, p *portfolioState, vars *decisionVars, weight float64) {
	for _, sid := range p.securities {
		cost := p.spreads[sid] * p.prices[sid] * weight
		if cost == 0 {
			continue
		}
		for _, lot := range p.lotsBySecurity[sid] {
			if v, ok := vars.sells[lot.LotID]; ok {
				obj.Add(v, cost)
			}
		}
		if v, ok := vars.buys[sid]; ok {
			obj.Add(v, cost)
		}
	}
}

// addFactor charges the absolute deviation of each post-trade factor
// exposure from the exposure of the target portfolio.
func (ob *ObjectiveBuilder) addFactor(m *mip.Model, obj *mip.Expr, p *portfolioState, vars *decisionVars, weight float64) {
	targets := p.factorTargets()
	for k := 0; k < p.numFactors; k++ {
		var row mip.Expr
		for _, sid := range p.securities {
			f := p.exposures[sid]
			if k >= len(f) || f[k] == 0 {
				continue
			}
			row.AddExpr(securityValueExpr(p, vars, sid), f[k]/p.totalValue)
		}
		over := m.AddContinuous(fmt.Sprintf("factor_over_%d", k), 0, mip.Inf)
		under := m.AddContinuous(fmt.Sprintf("factor_under_%d", k), 0, mip.Inf)
		row.Add(over, -1).Add(under, 1)
		m.AddConstraint(fmt.Sprintf("factor_%d", k), row, mip.Equal, targets[k])

		obj.Add(over, weight).Add(under, weight)
	}
}

// addCashDrag charges idle cash as a fraction of portfolio value once it
// exceeds deminimus by more than buy_threshold:
//
//	drag >= (cash_after - deminimus)/T - buy_threshold,  drag >= 0
func (ob *ObjectiveBuilder) addCashDrag(m *mip.Model, obj *mip.Expr, p *portfolioState, vars *decisionVars, weight float64) {
	drag := m.AddContinuous("cash_drag", 0, mip.Inf)
	row := cashAfterExpr(p, vars).Scaled(1 / p.totalValue)
	row.Add(drag, -1)
	rhs := p.settings.DeminimusCashTarget/p.totalValue + p.settings.BuyThreshold
	m.AddConstraint("cash_drag", row, mip.LessEqual, rhs)

	obj.Add(drag, weight)
}
