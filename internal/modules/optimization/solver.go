// Package optimization builds and solves the per-strategy rebalancing model:
// one sell variable per tax lot, one buy variable per security, a weighted
// objective over tax, drift, transaction, factor and cash-drag costs, and the
// feasibility rows that keep trades inside cash, lot, band and wash-sale limits.
package optimization

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/optimization/mip"
	"github.com/aristath/taxoracle/internal/modules/tax"
	"github.com/rs/zerolog"
)

// StrategySolver solves one strategy at a time. It is safe for concurrent use.
type StrategySolver struct {
	backend     *mip.Solver
	useMIP      bool
	constraints *ConstraintsManager
	objective   *ObjectiveBuilder
	log         zerolog.Logger
}

// NewStrategySolver creates a solver over backend. With useMIP false the model
// is solved as a pure LP with structural trade directions.
func NewStrategySolver(backend *mip.Solver, useMIP bool, log zerolog.Logger) *StrategySolver {
	return &StrategySolver{
		backend:     backend,
		useMIP:      useMIP,
		constraints: NewConstraintsManager(log),
		objective:   NewObjectiveBuilder(log),
		log:         log.With().Str("component", "strategy_solver").Logger(),
	}
}

// UsesMIP reports whether exclusivity and minimum notional are modelled with binaries.
func (s *StrategySolver) UsesMIP() bool {
	return s.useMIP
}

// Solve computes the trades for one strategy. Failures local to the strategy
// are reported on the result rather than returned.
func (s *StrategySolver) Solve(ctx context.Context, strategy domain.Strategy, settings domain.Settings, env Environment) domain.StrategyResult {
	log := s.log.With().
		Str("strategy", strategy.Label).
		Str("optimization_type", string(strategy.OptimizationType)).
		Logger()

	result := domain.StrategyResult{
		Label:      strategy.Label,
		Status:     domain.StatusNotSolved,
		CashBefore: strategy.Cash,
		CashAfter:  strategy.Cash,
	}

	p, err := newPortfolioState(strategy, settings, env)
	if err != nil {
		if errors.Is(err, errNonPositiveValue) {
			result.Status = domain.StatusInfeasible
			result.Warnings = append(result.Warnings, err.Error())
			log.Warn().Err(err).Msg("Strategy has no value to allocate")
			return result
		}
		result.Error = err.Error()
		log.Error().Err(err).Msg("Strategy input rejected")
		return result
	}

	if !p.behavior.Trades {
		result.Status = domain.StatusOptimal
		result.CashAfter = p.cashAvailable
		result.Summary = summarize(p, nil)
		log.Debug().Msg("Hold strategy, no trades")
		return result
	}

	if limit := s.backend.Options().TimeLimit; limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	m, vars, sol, err := s.solveModel(ctx, p, log)
	if err != nil {
		result.Error = fmt.Sprintf("solver failure: %v", err)
		log.Error().Err(err).Str("model", m.Describe()).Msg("Solver failed")
		return result
	}
	result.Warnings = append(result.Warnings, sol.Warnings...)

	switch sol.Status {
	case mip.Optimal:
	case mip.Infeasible:
		result.Status = domain.StatusInfeasible
		log.Warn().Str("model", m.Describe()).Msg("No trade list satisfies the constraints")
		return result
	case mip.Unbounded:
		result.Status = domain.StatusUnbounded
		result.Error = "objective is unbounded; the model is missing a bound"
		log.Error().Str("model", m.Describe()).Msg("Unbounded model")
		return result
	default:
		log.Warn().Int("nodes", sol.Nodes).Msg("Solve stopped before optimality")
		return result
	}

	decoded := decode(p, vars, sol)
	result.Status = domain.StatusOptimal
	result.Trades = decoded.trades
	result.CashAfter = decoded.cashAfter
	result.Warnings = append(result.Warnings, decoded.warnings...)
	result.Summary = summarize(p, decoded.trades)
	result.WashSaleRecords = washSaleRecords(p, decoded.trades)
	result.ShouldTrade = len(result.Trades) > 0

	log.Info().
		Int("trades", len(result.Trades)).
		Int("nodes", sol.Nodes).
		Float64("objective", result.Summary.Overall).
		Float64("cash_after", result.CashAfter).
		Msg("Strategy solved")

	return result
}

// solveModel builds and solves the model of p. In MIP mode buy/sell
// exclusivity binaries are added lazily: the first model carries them only
// where minimum notional needs indicators anyway, and every further round adds
// them for the securities the previous solution both bought and sold. A round
// whose solution trades every security one way is optimal for the full model.
func (s *StrategySolver) solveModel(ctx context.Context, p *portfolioState, log zerolog.Logger) (*mip.Model, *decisionVars, mip.Solution, error) {
	if !s.useMIP {
		m, vars := s.buildModel(p, false, nil)
		sol, err := s.backend.Solve(ctx, m)
		return m, vars, sol, err
	}

	exclusive := make(map[string]bool)
	var seed *tradePlan
	seeded := false
	for round := 1; ; round++ {
		m, vars := s.buildModel(p, true, exclusive)
		if len(m.Binaries()) > 0 {
			if !seeded {
				seed = s.structuralPlan(ctx, p)
				seeded = true
			}
			addHints(m, p, vars, seed)
		}

		sol, err := s.backend.Solve(ctx, m)
		if err != nil || sol.Status != mip.Optimal {
			return m, vars, sol, err
		}

		var added []string
		plan := planFrom(p, vars, sol)
		for _, sid := range p.securities {
			if traded(p, plan.buys, sid) && traded(p, plan.sells, sid) && !exclusive[sid] {
				exclusive[sid] = true
				added = append(added, sid)
			}
		}
		if len(added) == 0 {
			return m, vars, sol, nil
		}
		log.Debug().
			Int("round", round).
			Strs("securities", added).
			Msg("Solution trades both ways, adding exclusivity")
	}
}

func (s *StrategySolver) buildModel(p *portfolioState, useMIP bool, exclusive map[string]bool) (*mip.Model, *decisionVars) {
	m := mip.NewModel()
	vars := s.constraints.Build(m, p, useMIP, exclusive)
	s.objective.Build(m, p, vars)
	return m, vars
}

// structuralPlan solves the single-direction LP and returns its trades, or
// nil when it has no optimal solution.
func (s *StrategySolver) structuralPlan(ctx context.Context, p *portfolioState) *tradePlan {
	m, vars := s.buildModel(p, false, nil)
	sol, err := s.backend.Solve(ctx, m)
	if err != nil || sol.Status != mip.Optimal {
		return nil
	}
	plan := planFrom(p, vars, sol)
	return &plan
}

// tradePlan is a solution summarized per security, in shares.
type tradePlan struct {
	buys   map[string]float64
	sells  map[string]float64
	losses map[string]float64
}

func planFrom(p *portfolioState, vars *decisionVars, sol mip.Solution) tradePlan {
	plan := tradePlan{
		buys:   make(map[string]float64),
		sells:  make(map[string]float64),
		losses: make(map[string]float64),
	}
	for sid, v := range vars.buys {
		plan.buys[sid] = sol.Value(v)
	}
	for _, sid := range p.securities {
		price := p.prices[sid]
		for _, lot := range p.lotsBySecurity[sid] {
			v, ok := vars.sells[lot.LotID]
			if !ok {
				continue
			}
			plan.sells[sid] += sol.Value(v)
			if tax.IsLoss(lot, price) {
				plan.losses[sid] += sol.Value(v)
			}
		}
	}
	return plan
}

// traded reports whether the shares of sid are worth more than a negligible
// fraction of the portfolio.
func traded(p *portfolioState, shares map[string]float64, sid string) bool {
	return shares[sid]*p.prices[sid] > 1e-7*p.totalValue
}

// addHints offers the structural LP trades as starting points for the
// indicator binaries. With a minimum notional, small trades are offered both
// raised to the minimum and dropped.
func addHints(m *mip.Model, p *portfolioState, vars *decisionVars, plan *tradePlan) {
	if plan == nil {
		return
	}
	minNotional := p.settings.MinNotional
	indicator := func(side map[string]float64, sid string, raise bool) float64 {
		if !traded(p, side, sid) {
			return 0
		}
		if !raise && side[sid]*p.prices[sid] < minNotional {
			return 0
		}
		return 1
	}

	for _, raise := range []bool{true, false} {
		hint := make(map[mip.Var]float64)
		for sid, on := range vars.buyOn {
			hint[on] = indicator(plan.buys, sid, raise)
		}
		for sid, on := range vars.sellOn {
			hint[on] = indicator(plan.sells, sid, raise)
		}
		for sid, on := range vars.lossOn {
			hint[on] = indicator(plan.losses, sid, true)
		}
		m.AddHint(hint)
		if minNotional <= 0 {
			return
		}
	}
}
