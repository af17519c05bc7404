package tax

import (
	"testing"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/stretchr/testify/assert"
)

var asOf = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func lotAged(days int, basis float64) domain.TaxLot {
	return domain.TaxLot{
		LotID:           "L1",
		SecurityID:      "STOCK_A",
		Quantity:        10,
		CostBasis:       basis,
		AcquisitionDate: asOf.AddDate(0, 0, -days),
	}
}

func TestCalculator_Term(t *testing.T) {
	calc := NewCalculator(domain.TaxRates{ShortTermRate: 0.37, LongTermRate: 0.2}, asOf)

	testCases := []struct {
		name string
		days int
		want Term
	}{
		{"fresh lot", 0, ShortTerm},
		{"exactly one year", 365, ShortTerm},
		{"one year and a day", 366, LongTerm},
		{"old lot", 2000, LongTerm},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, calc.Term(lotAged(tc.days, 100)))
		})
	}
}

func TestCalculator_CustomThreshold(t *testing.T) {
	calc := NewCalculator(domain.TaxRates{ShortTermRate: 0.3, LongTermRate: 0.1, LongTermHoldingDays: 30}, asOf)

	assert.Equal(t, LongTerm, calc.Term(lotAged(31, 100)))
	assert.InDelta(t, 0.1, calc.Rate(lotAged(31, 100)), 1e-12)
	assert.InDelta(t, 0.3, calc.Rate(lotAged(10, 100)), 1e-12)
}

func TestCalculator_TaxPerShare(t *testing.T) {
	calc := NewCalculator(domain.TaxRates{ShortTermRate: 0.4, LongTermRate: 0.2}, asOf)

	// Long-term gain of 20 per share at 20%
	assert.InDelta(t, 4.0, calc.TaxPerShare(lotAged(400, 100), 120), 1e-9)
	// Short-term loss of 15 per share at 40%
	assert.InDelta(t, -6.0, calc.TaxPerShare(lotAged(10, 100), 85), 1e-9)
}

func TestLossFraction(t *testing.T) {
	assert.InDelta(t, 0.15, LossFraction(lotAged(10, 100), 85), 1e-12)
	assert.Zero(t, LossFraction(lotAged(10, 100), 120))
	assert.Zero(t, LossFraction(lotAged(10, 0), 5), "zero basis lots can never be at a loss")
}

func TestObjectiveCoefficient(t *testing.T) {
	calc := NewCalculator(domain.TaxRates{ShortTermRate: 0.4, LongTermRate: 0.2}, asOf)
	loss := lotAged(10, 100)
	gain := lotAged(10, 50)

	testCases := []struct {
		name      string
		lot       domain.TaxLot
		price     float64
		harvest   bool
		threshold float64
		want      float64
	}{
		{"gain always charged", gain, 60, false, 0, 4},
		{"gain charged while harvesting", gain, 60, true, 0.05, 4},
		{"loss ignored without harvesting", loss, 85, false, 0, 0},
		{"loss rewarded when deep enough", loss, 85, true, 0.1, -6},
		{"shallow loss not rewarded", loss, 95, true, 0.1, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := calc.ObjectiveCoefficient(tc.lot, tc.price, tc.harvest, tc.threshold)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}
