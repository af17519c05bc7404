// Package domain provides the typed tables, settings and results shared by the rebalancing engine.
package domain

import "time"

// CashIdentifier is the reserved identifier marking a cash asset class in a target.
const CashIdentifier = "CASH"

// TaxLot is a single purchase batch of a security.
// Lots are read-only inputs; a sale is reported as a Trade, never written back to the lot.
type TaxLot struct {
	AcquisitionDate time.Time `json:"acquisition_date"`
	LotID           string    `json:"lot_id"`
	SecurityID      string    `json:"security_id"`
	Quantity        float64   `json:"quantity"`
	CostBasis       float64   `json:"cost_basis"` // per share
}

// AgeDays returns the number of whole days the lot has been held at asOf.
func (l TaxLot) AgeDays(asOf time.Time) int {
	return DaysBetween(l.AcquisitionDate, asOf)
}

// Target is the desired weight of one asset class.
// Identifiers are ordered by preference: index 0 is the primary security and
// later entries are interchangeable alternates.
type Target struct {
	AssetClassID string   `json:"asset_class_id"`
	Identifiers  []string `json:"identifiers"`
	TargetWeight float64  `json:"target_weight"`
}

// IsCash reports whether the target represents the cash sleeve.
func (t Target) IsCash() bool {
	return len(t.Identifiers) == 1 && t.Identifiers[0] == CashIdentifier
}

// Rank returns the preference rank of securityID within the target, or -1.
func (t Target) Rank(securityID string) int {
	for i, id := range t.Identifiers {
		if id == securityID {
			return i
		}
	}
	return -1
}

// Price is the current price of a security.
type Price struct {
	SecurityID string  `json:"security_id"`
	Price      float64 `json:"price"`
}

// Spread is the estimated half bid/ask spread of a security as a fraction of price.
type Spread struct {
	SecurityID         string  `json:"security_id"`
	HalfSpreadFraction float64 `json:"half_spread_fraction"`
}

// FactorExposure is the factor-model loading vector of a security.
type FactorExposure struct {
	SecurityID string    `json:"security_id"`
	Factors    []float64 `json:"factors"`
}

// StockRestriction overrides whether a security may be bought or sold.
type StockRestriction struct {
	SecurityID string `json:"security_id"`
	CanBuy     bool   `json:"can_buy"`
	CanSell    bool   `json:"can_sell"`
}

// ClosedLot is a lot closed in a prior run. Closed lots that realized a loss
// carry wash-sale protection into the current run.
type ClosedLot struct {
	CloseDate  time.Time `json:"close_date"`
	LotID      string    `json:"lot_id"`
	SecurityID string    `json:"security_id"`
	Quantity   float64   `json:"quantity"`
	CostBasis  float64   `json:"cost_basis"` // per share
	SalePrice  float64   `json:"sale_price"`
}

// RealizedGain returns the total gain (negative for a loss) of the closed lot.
func (c ClosedLot) RealizedGain() float64 {
	return (c.SalePrice - c.CostBasis) * c.Quantity
}

// WashSaleRecord forbids repurchasing a security until ProtectedUntil.
type WashSaleRecord struct {
	LossRealizationDate time.Time `json:"loss_realization_date"`
	ProtectedUntil      time.Time `json:"protected_until_date"`
	SecurityID          string    `json:"security_id"`
}

// ActiveOn reports whether the protection window covers date.
func (r WashSaleRecord) ActiveOn(date time.Time) bool {
	day := truncateDay(date)
	return !day.Before(truncateDay(r.LossRealizationDate)) && !day.After(truncateDay(r.ProtectedUntil))
}

// TaxRates is the tax-rate table used to price realized gains.
type TaxRates struct {
	ShortTermRate       float64 `json:"short_term_rate"`
	LongTermRate        float64 `json:"long_term_rate"`
	LongTermHoldingDays int     `json:"long_term_holding_days"` // lots held longer are long-term
}

// WashSaleParams are shared by every strategy of one run.
type WashSaleParams struct {
	WindowDays            int  `json:"window_days"`
	TreatGroupAsIdentical bool `json:"treat_group_as_identical"`
}

// Strategy is the aggregate root of one optimization: a single sleeve with
// its own lots, targets, prices and cash. Built per run and discarded after solving.
type Strategy struct {
	Label            string             `json:"label"`
	OptimizationType OptimizationType   `json:"optimization_type"`
	TaxLots          []TaxLot           `json:"tax_lots"`
	Targets          []Target           `json:"targets"`
	Prices           []Price            `json:"prices"`
	Spreads          []Spread           `json:"spreads,omitempty"`
	FactorExposures  []FactorExposure   `json:"factor_exposures,omitempty"`
	Restrictions     []StockRestriction `json:"stock_restrictions,omitempty"`
	Cash             float64            `json:"cash"`
}

// Input is the complete bundle for one run of the Oracle.
type Input struct {
	CurrentDate        time.Time          `json:"current_date"`
	TaxRates           TaxRates           `json:"tax_rates"`
	WashSale           WashSaleParams     `json:"wash_sale"`
	Strategies         []Strategy         `json:"strategies"`
	Restrictions       []StockRestriction `json:"stock_restrictions,omitempty"`
	RecentlyClosedLots []ClosedLot        `json:"recently_closed_lots,omitempty"`
}

// DaysBetween returns the number of whole calendar days from start to end.
func DaysBetween(start, end time.Time) int {
	return int(truncateDay(end).Sub(truncateDay(start)).Hours() / 24)
}

// truncateDay returns midnight UTC of the calendar day t falls on in UTC.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
