package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validStrategy() Strategy {
	return Strategy{
		Label:            "core",
		OptimizationType: OptimizationTaxAware,
		TaxLots: []TaxLot{
			{LotID: "l1", SecurityID: "VTI", Quantity: 10, CostBasis: 200, AcquisitionDate: time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)},
		},
		Targets: []Target{
			{AssetClassID: "us", Identifiers: []string{"VTI", "ITOT"}, TargetWeight: 0.6},
			{AssetClassID: "intl", Identifiers: []string{"VEA"}, TargetWeight: 0.4},
		},
		Prices: []Price{
			{SecurityID: "VTI", Price: 220},
			{SecurityID: "ITOT", Price: 100},
			{SecurityID: "VEA", Price: 45},
		},
	}
}

func TestStrategyValidate_Valid(t *testing.T) {
	require.NoError(t, validStrategy().Validate())
}

func TestStrategyValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Strategy)
		want   error
	}{
		{"duplicate lot", func(s *Strategy) { s.TaxLots = append(s.TaxLots, s.TaxLots[0]) }, ErrInvalidLot},
		{"zero quantity", func(s *Strategy) { s.TaxLots[0].Quantity = 0 }, ErrInvalidLot},
		{"negative basis", func(s *Strategy) { s.TaxLots[0].CostBasis = -1 }, ErrInvalidLot},
		{"lot without price", func(s *Strategy) { s.TaxLots[0].SecurityID = "XYZ" }, ErrMissingPrice},
		{"alternate without price", func(s *Strategy) { s.Prices = s.Prices[:1] }, ErrMissingPrice},
		{"no targets", func(s *Strategy) { s.Targets = nil }, ErrInvalidTargets},
		{"weights above one", func(s *Strategy) { s.Targets[0].TargetWeight = 0.7 }, ErrInvalidTargets},
		{"negative weight", func(s *Strategy) { s.Targets[1].TargetWeight = -0.1 }, ErrInvalidTargets},
		{"security in two classes", func(s *Strategy) { s.Targets[1].Identifiers = []string{"VEA", "VTI"} }, ErrInvalidTargets},
		{"cash mixed with securities", func(s *Strategy) { s.Targets[1].Identifiers = []string{"VEA", CashIdentifier} }, ErrInvalidTargets},
		{"cash target short of one", func(s *Strategy) {
			s.Targets[1] = Target{AssetClassID: "cash", Identifiers: []string{CashIdentifier}, TargetWeight: 0.2}
		}, ErrInvalidTargets},
		{"ragged factors", func(s *Strategy) {
			s.FactorExposures = []FactorExposure{
				{SecurityID: "VTI", Factors: []float64{1, 0.2}},
				{SecurityID: "VEA", Factors: []float64{0.9}},
			}
		}, ErrInvalidFactors},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validStrategy()
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), tt.want)
		})
	}
}

func TestStrategyValidate_PartialTargetsLeaveCash(t *testing.T) {
	s := validStrategy()
	s.Targets[1].TargetWeight = 0.3
	assert.NoError(t, s.Validate())

	s.Targets = append(s.Targets, Target{AssetClassID: "cash", Identifiers: []string{CashIdentifier}, TargetWeight: 0.1})
	assert.NoError(t, s.Validate())
}

func TestStrategyValidate_UnknownType(t *testing.T) {
	s := validStrategy()
	s.OptimizationType = "MOMENTUM"
	assert.Error(t, s.Validate())
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, Settings{TradeRounding: 4}.Validate())
	assert.ErrorIs(t, Settings{WeightTax: -1}.Validate(), ErrInvalidSettings)
	assert.ErrorIs(t, Settings{HoldingTimeDays: -3}.Validate(), ErrInvalidSettings)
	assert.ErrorIs(t, Settings{TradeRounding: 11}.Validate(), ErrInvalidSettings)
	assert.ErrorIs(t, Settings{RangeMinWeightMultiplier: 1.2, RangeMaxWeightMultiplier: 1.1}.Validate(), ErrInvalidSettings)

	// min above max is ignored while the band is disabled
	assert.NoError(t, Settings{RangeMinWeightMultiplier: 0.5}.Validate())
}

func TestTargetRankAndCash(t *testing.T) {
	target := Target{AssetClassID: "us", Identifiers: []string{"VTI", "ITOT", "SCHB"}}
	assert.Equal(t, 0, target.Rank("VTI"))
	assert.Equal(t, 2, target.Rank("SCHB"))
	assert.Equal(t, -1, target.Rank("VEA"))
	assert.False(t, target.IsCash())
	assert.True(t, Target{Identifiers: []string{CashIdentifier}}.IsCash())
}

func TestWashSaleRecordActiveOn(t *testing.T) {
	rec := WashSaleRecord{
		SecurityID:          "VTI",
		LossRealizationDate: time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC),
		ProtectedUntil:      time.Date(2024, 5, 31, 9, 0, 0, 0, time.UTC),
	}
	assert.True(t, rec.ActiveOn(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, rec.ActiveOn(time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC)))
	assert.False(t, rec.ActiveOn(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, rec.ActiveOn(time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)))
}

func TestDaysBetween(t *testing.T) {
	start := time.Date(2023, 6, 1, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, 366, DaysBetween(start, time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, DaysBetween(start, start))
}
