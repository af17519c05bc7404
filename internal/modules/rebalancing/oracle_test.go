package rebalancing

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/optimization"
	"github.com/aristath/taxoracle/internal/modules/optimization/mip"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runDate = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func newTestOracle(input domain.Input) *Oracle {
	solver := optimization.NewStrategySolver(mip.NewSolver(mip.DefaultOptions(), zerolog.Nop()), true, zerolog.Nop())
	return NewOracle(input, solver, 2, zerolog.Nop())
}

func harvestStrategy() domain.Strategy {
	return domain.Strategy{
		Label:            "harvest",
		OptimizationType: domain.OptimizationTaxAware,
		TaxLots: []domain.TaxLot{{
			AcquisitionDate: runDate.AddDate(-2, 0, 0),
			LotID:           "h-1",
			SecurityID:      "STOCK_A",
			Quantity:        100,
			CostBasis:       100,
		}},
		Targets: []domain.Target{
			{AssetClassID: "equity", Identifiers: []string{"STOCK_A", "STOCK_A2"}, TargetWeight: 1},
		},
		Prices: []domain.Price{
			{SecurityID: "STOCK_A", Price: 85},
			{SecurityID: "STOCK_A2", Price: 85},
		},
	}
}

func growthStrategy() domain.Strategy {
	return domain.Strategy{
		Label:            "growth",
		OptimizationType: domain.OptimizationBuyOnly,
		Targets: []domain.Target{
			{AssetClassID: "equity", Identifiers: []string{"STOCK_A", "STOCK_ALT"}, TargetWeight: 1},
		},
		Prices: []domain.Price{
			{SecurityID: "STOCK_A", Price: 85},
			{SecurityID: "STOCK_ALT", Price: 50},
		},
		Cash: 10000,
	}
}

func harvestSettings() domain.Settings {
	return domain.Settings{
		WeightTax:                 1,
		WeightDrift:               0.001,
		ShouldTLH:                 true,
		TradeRounding:             4,
		EnforceWashSalePrevention: true,
	}
}

func growthSettings() domain.Settings {
	return domain.Settings{
		WeightDrift:               1,
		RankPenaltyFactor:         0.5,
		TradeRounding:             4,
		EnforceWashSalePrevention: true,
	}
}

func testInput(strategies ...domain.Strategy) domain.Input {
	return domain.Input{
		CurrentDate: runDate,
		TaxRates:    domain.TaxRates{ShortTermRate: 0.35, LongTermRate: 0.2, LongTermHoldingDays: 365},
		WashSale:    domain.WashSaleParams{WindowDays: 30},
		Strategies:  strategies,
	}
}

func TestOracle_CrossStrategyWashSale(t *testing.T) {
	oracle := newTestOracle(testInput(harvestStrategy(), growthStrategy()))

	out, err := oracle.ComputeOptimalTradesForAllStrategies(context.Background(), map[string]domain.Settings{
		"harvest": harvestSettings(),
		"growth":  growthSettings(),
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.NotEmpty(t, out.RunID)

	harvest, growth := out.Results[0], out.Results[1]
	require.Equal(t, domain.StatusOptimal, harvest.Status, harvest.Error)
	require.Equal(t, domain.StatusOptimal, growth.Status, growth.Error)
	assert.Equal(t, "harvest", harvest.Label)
	assert.Equal(t, "growth", growth.Label)

	for _, tr := range growth.Trades {
		assert.NotEqual(t, "STOCK_A", tr.SecurityID, "growth must not repurchase the harvested security")
	}

	want := []domain.NettedTrade{
		{Identifier: "STOCK_A", Quantity: 100, TradeType: domain.TradeSell},
		{Identifier: "STOCK_A2", Quantity: 100, TradeType: domain.TradeBuy},
		{Identifier: "STOCK_ALT", Quantity: 200, TradeType: domain.TradeBuy},
	}
	if diff := cmp.Diff(want, out.NettedTrades, cmpopts.EquateApprox(0, 1e-3)); diff != "" {
		t.Errorf("netted trades mismatch (-want +got):\n%s", diff)
	}
}

func TestOracle_WithoutEnforcementBuysHarvestedSecurity(t *testing.T) {
	oracle := newTestOracle(testInput(harvestStrategy(), growthStrategy()))
	growth := growthSettings()
	growth.EnforceWashSalePrevention = false

	out, err := oracle.ComputeOptimalTradesForAllStrategies(context.Background(), map[string]domain.Settings{
		"harvest": harvestSettings(),
		"growth":  growth,
	})
	require.NoError(t, err)

	var boughtA bool
	for _, tr := range out.Results[1].Trades {
		if tr.SecurityID == "STOCK_A" && tr.Side == domain.TradeBuy {
			boughtA = true
		}
	}
	assert.True(t, boughtA)
}

func TestOracle_MissingSettingsFailsOnlyThatStrategy(t *testing.T) {
	oracle := newTestOracle(testInput(harvestStrategy(), growthStrategy()))

	out, err := oracle.ComputeOptimalTradesForAllStrategies(context.Background(), map[string]domain.Settings{
		"growth": growthSettings(),
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)

	assert.Equal(t, domain.StatusNotSolved, out.Results[0].Status)
	assert.Contains(t, out.Results[0].Error, "missing settings")
	assert.Empty(t, out.Results[0].Trades)

	assert.Equal(t, domain.StatusOptimal, out.Results[1].Status)
	assert.True(t, out.Results[1].ShouldTrade)
}

func TestOracle_RejectsDuplicateLabels(t *testing.T) {
	oracle := newTestOracle(testInput(growthStrategy(), growthStrategy()))

	_, err := oracle.ComputeOptimalTradesForAllStrategies(context.Background(), map[string]domain.Settings{
		"growth": growthSettings(),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOracle_RequiresCurrentDate(t *testing.T) {
	input := testInput(growthStrategy())
	input.CurrentDate = time.Time{}

	_, err := newTestOracle(input).ComputeOptimalTradesForAllStrategies(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOracle_EmptyInput(t *testing.T) {
	out, err := newTestOracle(testInput()).ComputeOptimalTradesForAllStrategies(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Empty(t, out.NettedTrades)
}

func TestOracle_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestOracle(testInput(growthStrategy())).ComputeOptimalTradesForAllStrategies(ctx, map[string]domain.Settings{
		"growth": growthSettings(),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNetTrades(t *testing.T) {
	results := []domain.StrategyResult{
		{
			Status: domain.StatusOptimal,
			Trades: []domain.Trade{
				{SecurityID: "VTI", LotID: "l1", Side: domain.TradeSell, Quantity: 10},
				{SecurityID: "VEA", Side: domain.TradeBuy, Quantity: 5},
				{SecurityID: "BND", Side: domain.TradeBuy, Quantity: 2.5},
			},
		},
		{
			Status: domain.StatusOptimal,
			Trades: []domain.Trade{
				{SecurityID: "VTI", Side: domain.TradeBuy, Quantity: 4},
				{SecurityID: "VEA", LotID: "l9", Side: domain.TradeSell, Quantity: 5},
				{SecurityID: "BND", Side: domain.TradeBuy, Quantity: 0.1},
			},
		},
		{
			Status: domain.StatusInfeasible,
			Trades: []domain.Trade{{SecurityID: "VTI", Side: domain.TradeBuy, Quantity: 100}},
		},
	}

	want := []domain.NettedTrade{
		{Identifier: "BND", Quantity: 2.6, TradeType: domain.TradeBuy},
		{Identifier: "VTI", Quantity: 6, TradeType: domain.TradeSell},
	}
	if diff := cmp.Diff(want, NetTrades(results)); diff != "" {
		t.Errorf("NetTrades mismatch (-want +got):\n%s", diff)
	}
}

func TestNetTrades_Empty(t *testing.T) {
	assert.Empty(t, NetTrades(nil))
}

func TestOracle_EmptyLabelFailsOnlyThatStrategy(t *testing.T) {
	unlabeled := growthStrategy()
	unlabeled.Label = ""
	oracle := newTestOracle(testInput(unlabeled, growthStrategy()))

	out, err := oracle.ComputeOptimalTradesForAllStrategies(context.Background(), map[string]domain.Settings{
		"growth": growthSettings(),
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)

	assert.Equal(t, domain.StatusNotSolved, out.Results[0].Status)
	assert.Contains(t, out.Results[0].Error, "label is required")
	assert.Empty(t, out.Results[0].Trades)
	assert.Equal(t, 10000.0, out.Results[0].CashAfter)

	assert.Equal(t, domain.StatusOptimal, out.Results[1].Status)
	assert.True(t, out.Results[1].ShouldTrade)
}

func TestOracle_GroupIdentityKeepsOwnAlternatesClean(t *testing.T) {
	input := testInput(harvestStrategy())
	input.WashSale.TreatGroupAsIdentical = true
	oracle := newTestOracle(input)

	out, err := oracle.ComputeOptimalTradesForAllStrategies(context.Background(), map[string]domain.Settings{
		"harvest": harvestSettings(),
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)

	result := out.Results[0]
	require.Equal(t, domain.StatusOptimal, result.Status, result.Error)
	var soldA, boughtAlt bool
	for _, tr := range result.Trades {
		soldA = soldA || (tr.SecurityID == "STOCK_A" && tr.Side == domain.TradeSell)
		boughtAlt = boughtAlt || (tr.SecurityID == "STOCK_A2" && tr.Side == domain.TradeBuy)
	}
	assert.False(t, soldA && boughtAlt, "loss sale of STOCK_A washed by STOCK_A2: %+v", result.Trades)
}
