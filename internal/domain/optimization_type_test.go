package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizationTypeBehavior(t *testing.T) {
	assert.False(t, OptimizationHold.Behavior().Trades)
	assert.False(t, OptimizationBuyOnly.Behavior().AllowSells)
	assert.True(t, OptimizationTaxUnaware.Behavior().AllowSells)
	assert.False(t, OptimizationTaxUnaware.Behavior().TaxAware)
	assert.True(t, OptimizationDirectIndex.Behavior().UseFactorModel)
	assert.Equal(t, TypeBehavior{}, OptimizationType("UNKNOWN").Behavior())
}

func TestHarvestsLosses(t *testing.T) {
	off := Settings{}
	on := Settings{ShouldTLH: true}

	assert.False(t, OptimizationTaxAware.HarvestsLosses(off))
	assert.True(t, OptimizationTaxAware.HarvestsLosses(on))
	assert.False(t, OptimizationTaxUnaware.HarvestsLosses(on))
	assert.True(t, OptimizationPairsTLH.HarvestsLosses(off))
	assert.True(t, OptimizationDirectIndex.HarvestsLosses(off))
}

func TestParseOptimizationType(t *testing.T) {
	got, err := ParseOptimizationType(" pairs_tlh ")
	require.NoError(t, err)
	assert.Equal(t, OptimizationPairsTLH, got)

	_, err = ParseOptimizationType("momentum")
	assert.Error(t, err)
}
