package optimization

import (
	"fmt"

	"github.com/aristath/taxoracle/internal/modules/optimization/mip"
	"github.com/aristath/taxoracle/internal/modules/tax"
	"github.com/rs/zerolog"
)

// decisionVars maps model variables back to trades. Quantities are in shares.
// A lot or security missing from the maps cannot trade at all.
type decisionVars struct {
	sells  map[string]mip.Var // lot id -> shares sold
	buys   map[string]mip.Var // security id -> shares bought
	buyOn  map[string]mip.Var
	sellOn map[string]mip.Var
	lossOn map[string]mip.Var // security id -> any loss lot sold
}

func newDecisionVars() *decisionVars {
	return &decisionVars{
		sells:  make(map[string]mip.Var),
		buys:   make(map[string]mip.Var),
		buyOn:  make(map[string]mip.Var),
		sellOn: make(map[string]mip.Var),
		lossOn: make(map[string]mip.Var),
	}
}

// ConstraintsManager turns a prepared strategy into decision variables and
// the feasibility rows every trade list must satisfy.
type ConstraintsManager struct {
	log zerolog.Logger
}

// NewConstraintsManager creates a new constraints manager.
func NewConstraintsManager(log zerolog.Logger) *ConstraintsManager {
	return &ConstraintsManager{
		log: log.With().Str("component", "constraints").Logger(),
	}
}

// Build adds the decision variables and constraints of p to m. With useMIP
// false each security gets a single structural direction instead of the
// exclusivity binaries, and minimum notional is left to decoding. exclusive
// limits buy/sell exclusivity binaries to the listed securities; nil means
// every security that can trade both ways.
func (cm *ConstraintsManager) Build(m *mip.Model, p *portfolioState, useMIP bool, exclusive map[string]bool) *decisionVars {
	vars := newDecisionVars()

	cm.addTradeVariables(m, p, vars, useMIP)
	cm.addCashConstraint(m, p, vars)
	if useMIP {
		cm.addExclusivity(m, p, vars, exclusive)
		cm.addGroupWashSales(m, p, vars)
	}
	if p.settings.BandEnabled() {
		cm.addBandConstraints(m, p, vars)
	}

	cm.log.Debug().
		Str("strategy", p.strategy.Label).
		Int("sell_vars", len(vars.sells)).
		Int("buy_vars", len(vars.buys)).
		Int("binaries", len(vars.buyOn)+len(vars.sellOn)).
		Bool("mip", useMIP).
		Msg("Built constraint set")

	return vars
}

func (cm *ConstraintsManager) addTradeVariables(m *mip.Model, p *portfolioState, vars *decisionVars, useMIP bool) {
	for _, sid := range p.securities {
		dir := directionBoth
		if !useMIP && p.behavior.AllowSells {
			dir = p.lpDirection(sid)
		}

		if dir != directionBuy {
			for _, lot := range p.lotsBySecurity[sid] {
				if !p.sellable(lot) {
					continue
				}
				vars.sells[lot.LotID] = m.AddContinuous("sell_"+lot.LotID, 0, lot.Quantity)
			}
		}

		if dir != directionSell && p.buyable(sid) {
			if limit := p.maxBuyShares(sid); limit > 0 {
				vars.buys[sid] = m.AddContinuous("buy_"+sid, 0, limit)
			}
		}
	}
}

// addCashConstraint keeps post-trade cash at or above the de minimis target:
// cash - withdrawal + proceeds - purchases >= deminimus.
func (cm *ConstraintsManager) addCashConstraint(m *mip.Model, p *portfolioState, vars *decisionVars) {
	m.AddConstraint("cash", cashAfterExpr(p, vars), mip.GreaterEqual, p.settings.DeminimusCashTarget)
}

// addExclusivity links each security's trades to indicator binaries so that
// it is never bought and sold in the same run, and so that a trade below the
// minimum notional is either raised to it or dropped.
func (cm *ConstraintsManager) addExclusivity(m *mip.Model, p *portfolioState, vars *decisionVars, exclusive map[string]bool) {
	minNotional := p.settings.MinNotional
	for _, sid := range p.securities {
		price := p.prices[sid]
		buy, hasBuy := vars.buys[sid]

		var sellExpr mip.Expr
		sellable := 0.0
		for _, lot := range p.lotsBySecurity[sid] {
			if v, ok := vars.sells[lot.LotID]; ok {
				sellExpr.Add(v, 1)
				sellable += lot.Quantity
			}
		}
		hasSell := len(sellExpr.Terms) > 0

		if !hasBuy && !hasSell {
			continue
		}
		needIndicators := (hasBuy && hasSell && (exclusive == nil || exclusive[sid])) || minNotional > 0

		if hasSell && needIndicators {
			on := m.AddBinary("sell_on_" + sid)
			vars.sellOn[sid] = on

			link := sellExpr.Scaled(1)
			link.Add(on, -sellable)
			m.AddConstraint("sell_link_"+sid, link, mip.LessEqual, 0)

			if minNotional > 0 {
				floor := sellExpr.Scaled(price)
				floor.Add(on, -minNotional)
				m.AddConstraint("sell_min_notional_"+sid, floor, mip.GreaterEqual, 0)
			}
		}

		if hasBuy && needIndicators {
			on := cm.buyIndicator(m, vars, sid)
			if minNotional > 0 {
				var floor mip.Expr
				floor.Add(buy, price).Add(on, -minNotional)
				m.AddConstraint("buy_min_notional_"+sid, floor, mip.GreaterEqual, 0)
			}
		}

		if hasBuy && hasSell && needIndicators {
			var excl mip.Expr
			excl.Add(vars.buyOn[sid], 1).Add(vars.sellOn[sid], 1)
			m.AddConstraint("exclusive_"+sid, excl, mip.LessEqual, 1)
		}
	}
}

// buyIndicator returns the binary that is 1 whenever sid is bought, adding it
// on first use.
func (cm *ConstraintsManager) buyIndicator(m *mip.Model, vars *decisionVars, sid string) mip.Var {
	if on, ok := vars.buyOn[sid]; ok {
		return on
	}
	buy := vars.buys[sid]
	on := m.AddBinary("buy_on_" + sid)
	vars.buyOn[sid] = on

	_, limit := m.Bounds(buy)
	var link mip.Expr
	link.Add(buy, 1).Add(on, -limit)
	m.AddConstraint("buy_link_"+sid, link, mip.LessEqual, 0)
	return on
}

// addGroupWashSales keeps a loss sale of one identifier and a purchase of a
// wash-identical alternate out of the same run:
//
//	loss_on_A + buy_on_B <= 1
func (cm *ConstraintsManager) addGroupWashSales(m *mip.Model, p *portfolioState, vars *decisionVars) {
	for _, sid := range p.securities {
		alternates := p.identicalAlternates(sid)
		if len(alternates) == 0 {
			continue
		}

		price := p.prices[sid]
		var losses mip.Expr
		lossQty := 0.0
		for _, lot := range p.lotsBySecurity[sid] {
			if v, ok := vars.sells[lot.LotID]; ok && tax.IsLoss(lot, price) {
				losses.Add(v, 1)
				lossQty += lot.Quantity
			}
		}
		if lossQty == 0 {
			continue
		}

		for _, alt := range alternates {
			if _, ok := vars.buys[alt]; !ok {
				continue
			}
			lossOn, ok := vars.lossOn[sid]
			if !ok {
				lossOn = m.AddBinary("loss_on_" + sid)
				vars.lossOn[sid] = lossOn
				link := losses.Scaled(1)
				link.Add(lossOn, -lossQty)
				m.AddConstraint("loss_link_"+sid, link, mip.LessEqual, 0)
			}
			var row mip.Expr
			row.Add(lossOn, 1).Add(cm.buyIndicator(m, vars, alt), 1)
			m.AddConstraint(fmt.Sprintf("group_wash_%s_%s", sid, alt), row, mip.LessEqual, 1)
		}
	}
}

// addBandConstraints keeps each targeted class within
// [target*min_multiplier, target*max_multiplier] of the post-withdrawal value.
func (cm *ConstraintsManager) addBandConstraints(m *mip.Model, p *portfolioState, vars *decisionVars) {
	s := p.settings
	for _, c := range p.classes {
		if !c.targeted {
			continue
		}
		value := classValueExpr(p, vars, c)
		lower := c.target * s.RangeMinWeightMultiplier * p.totalValue
		upper := c.target * s.RangeMaxWeightMultiplier * p.totalValue
		if lower > 0 {
			m.AddConstraint(fmt.Sprintf("band_min_%s", c.id), value, mip.GreaterEqual, lower)
		}
		m.AddConstraint(fmt.Sprintf("band_max_%s", c.id), value, mip.LessEqual, upper)
	}
}

// cashAfterExpr is post-trade cash in currency.
func cashAfterExpr(p *portfolioState, vars *decisionVars) mip.Expr {
	e := mip.Expr{Constant: p.cashAvailable}
	for _, sid := range p.securities {
		price := p.prices[sid]
		for _, lot := range p.lotsBySecurity[sid] {
			if v, ok := vars.sells[lot.LotID]; ok {
				e.Add(v, price)
			}
		}
		if v, ok := vars.buys[sid]; ok {
			e.Add(v, -price)
		}
	}
	return e
}

// securityValueExpr is the post-trade market value of one security.
func securityValueExpr(p *portfolioState, vars *decisionVars, sid string) mip.Expr {
	price := p.prices[sid]
	e := mip.Expr{Constant: p.holdingValue(sid)}
	for _, lot := range p.lotsBySecurity[sid] {
		if v, ok := vars.sells[lot.LotID]; ok {
			e.Add(v, -price)
		}
	}
	if v, ok := vars.buys[sid]; ok {
		e.Add(v, price)
	}
	return e
}

// classValueExpr is the post-trade market value of a class.
func classValueExpr(p *portfolioState, vars *decisionVars, c assetClass) mip.Expr {
	if c.cash {
		return cashAfterExpr(p, vars)
	}
	var e mip.Expr
	for _, sid := range c.members {
		e.AddExpr(securityValueExpr(p, vars, sid), 1)
	}
	return e
}
