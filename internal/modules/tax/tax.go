// Package tax prices realized gains of individual tax lots.
package tax

import (
	"time"

	"github.com/aristath/taxoracle/internal/domain"
)

// DefaultLongTermHoldingDays is used when the rate table leaves the threshold unset.
const DefaultLongTermHoldingDays = 365

// Term is the holding-period classification of a lot.
type Term string

const (
	ShortTerm Term = "short_term"
	LongTerm  Term = "long_term"
)

// Calculator classifies lots and applies the rate table.
type Calculator struct {
	rates domain.TaxRates
	asOf  time.Time
}

// NewCalculator creates a calculator for lots sold on asOf.
func NewCalculator(rates domain.TaxRates, asOf time.Time) *Calculator {
	if rates.LongTermHoldingDays <= 0 {
		rates.LongTermHoldingDays = DefaultLongTermHoldingDays
	}
	return &Calculator{rates: rates, asOf: asOf}
}

// Term classifies a lot as short or long term.
func (c *Calculator) Term(lot domain.TaxLot) Term {
	if lot.AgeDays(c.asOf) > c.rates.LongTermHoldingDays {
		return LongTerm
	}
	return ShortTerm
}

// Rate returns the rate applicable to gains realized on lot.
func (c *Calculator) Rate(lot domain.TaxLot) float64 {
	if c.Term(lot) == LongTerm {
		return c.rates.LongTermRate
	}
	return c.rates.ShortTermRate
}

// GainPerShare returns the realized gain per share of selling lot at price.
func GainPerShare(lot domain.TaxLot, price float64) float64 {
	return price - lot.CostBasis
}

// TaxPerShare returns the tax owed (negative for a loss offset) per share sold.
func (c *Calculator) TaxPerShare(lot domain.TaxLot, price float64) float64 {
	return GainPerShare(lot, price) * c.Rate(lot)
}

// LossFraction returns the unrealized loss of lot as a positive fraction of
// its cost basis, or 0 when the lot is not at a loss.
func LossFraction(lot domain.TaxLot, price float64) float64 {
	if lot.CostBasis <= 0 || price >= lot.CostBasis {
		return 0
	}
	return (lot.CostBasis - price) / lot.CostBasis
}

// IsLoss reports whether selling lot at price realizes a loss.
func IsLoss(lot domain.TaxLot, price float64) bool {
	return price < lot.CostBasis
}

// HarvestEligible reports whether a loss on lot is deep enough to harvest.
func HarvestEligible(lot domain.TaxLot, price, minLossThreshold float64) bool {
	return IsLoss(lot, price) && LossFraction(lot, price) >= minLossThreshold
}

// ObjectiveCoefficient is the per-share tax cost the optimizer sees for
// selling lot. Gains are always charged; losses only earn their offset when
// harvesting is on and the loss clears the threshold.
func (c *Calculator) ObjectiveCoefficient(lot domain.TaxLot, price float64, harvest bool, minLossThreshold float64) float64 {
	if !IsLoss(lot, price) {
		return c.TaxPerShare(lot, price)
	}
	if harvest && HarvestEligible(lot, price, minLossThreshold) {
		return c.TaxPerShare(lot, price)
	}
	return 0
}
