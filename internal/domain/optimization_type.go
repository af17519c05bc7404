package domain

import (
	"fmt"
	"strings"
)

// OptimizationType selects how a strategy is allowed to trade.
type OptimizationType string

const (
	// OptimizationHold never trades.
	OptimizationHold OptimizationType = "HOLD"
	// OptimizationBuyOnly deploys cash without selling.
	OptimizationBuyOnly OptimizationType = "BUY_ONLY"
	// OptimizationTaxUnaware rebalances ignoring tax consequences.
	OptimizationTaxUnaware OptimizationType = "TAX_UNAWARE"
	// OptimizationTaxAware rebalances while pricing realized gains.
	OptimizationTaxAware OptimizationType = "TAX_AWARE"
	// OptimizationPairsTLH harvests losses by swapping into identifier-group alternates.
	OptimizationPairsTLH OptimizationType = "PAIRS_TLH"
	// OptimizationDirectIndex tracks a factor model with per-security loss harvesting.
	OptimizationDirectIndex OptimizationType = "DIRECT_INDEX"
)

// TypeBehavior is the per-variant switch table consulted by the constraint
// and objective builders.
type TypeBehavior struct {
	Trades         bool // false short-circuits the solver
	AllowSells     bool
	TaxAware       bool // prices realized gains in the objective
	ForceTLH       bool // harvest losses regardless of Settings.ShouldTLH
	UseFactorModel bool // include factor tracking regardless of its weight being zero
}

var behaviors = map[OptimizationType]TypeBehavior{
	OptimizationHold:        {},
	OptimizationBuyOnly:     {Trades: true},
	OptimizationTaxUnaware:  {Trades: true, AllowSells: true},
	OptimizationTaxAware:    {Trades: true, AllowSells: true, TaxAware: true},
	OptimizationPairsTLH:    {Trades: true, AllowSells: true, TaxAware: true, ForceTLH: true},
	OptimizationDirectIndex: {Trades: true, AllowSells: true, TaxAware: true, ForceTLH: true, UseFactorModel: true},
}

// Behavior returns the behavior table entry for t. Unknown types behave like HOLD.
func (t OptimizationType) Behavior() TypeBehavior {
	return behaviors[t]
}

// Valid reports whether t is one of the known optimization types.
func (t OptimizationType) Valid() bool {
	_, ok := behaviors[t]
	return ok
}

// HarvestsLosses reports whether loss harvesting is active for t under settings.
func (t OptimizationType) HarvestsLosses(settings Settings) bool {
	b := t.Behavior()
	return b.TaxAware && (b.ForceTLH || settings.ShouldTLH)
}

// ParseOptimizationType parses a case-insensitive optimization type name.
func ParseOptimizationType(s string) (OptimizationType, error) {
	t := OptimizationType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown optimization type %q", s)
	}
	return t, nil
}
