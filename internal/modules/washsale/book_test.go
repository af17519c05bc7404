package washsale

import (
	"testing"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runDate = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

func TestBook_ClosedLossProtectsSecurity(t *testing.T) {
	book := NewBook(domain.WashSaleParams{}, runDate)
	book.AddClosedLots([]domain.ClosedLot{
		{LotID: "c1", SecurityID: "STOCK_TLH", Quantity: 10, CostBasis: 100, SalePrice: 80, CloseDate: runDate.AddDate(0, 0, -5)},
		{LotID: "c2", SecurityID: "STOCK_GAIN", Quantity: 10, CostBasis: 100, SalePrice: 120, CloseDate: runDate.AddDate(0, 0, -5)},
	})

	blocked := book.BlockedBuys(nil)
	require.Contains(t, blocked, "STOCK_TLH")
	assert.NotContains(t, blocked, "STOCK_GAIN", "gains never create protection")
	assert.Equal(t, runDate.AddDate(0, 0, 25), blocked["STOCK_TLH"].ProtectedUntil)
}

func TestBook_ExpiredWindow(t *testing.T) {
	book := NewBook(domain.WashSaleParams{WindowDays: 30}, runDate)
	book.AddClosedLots([]domain.ClosedLot{
		{LotID: "c1", SecurityID: "STOCK_OLD", Quantity: 1, CostBasis: 10, SalePrice: 5, CloseDate: runDate.AddDate(0, 0, -31)},
		{LotID: "c2", SecurityID: "STOCK_EDGE", Quantity: 1, CostBasis: 10, SalePrice: 5, CloseDate: runDate.AddDate(0, 0, -30)},
	})

	blocked := book.BlockedBuys(nil)
	assert.NotContains(t, blocked, "STOCK_OLD")
	assert.Contains(t, blocked, "STOCK_EDGE", "the last day of the window is still protected")
}

func TestBook_GroupIdentity(t *testing.T) {
	targets := []domain.Target{
		{AssetClassID: "us_large", TargetWeight: 1, Identifiers: []string{"STOCK_TLH", "STOCK_ALT"}},
	}
	rec := domain.WashSaleRecord{SecurityID: "STOCK_TLH", LossRealizationDate: runDate, ProtectedUntil: runDate.AddDate(0, 0, 30)}

	strict := NewBook(domain.WashSaleParams{}, runDate)
	strict.Add(rec)
	assert.NotContains(t, strict.BlockedBuys(targets), "STOCK_ALT")

	grouped := NewBook(domain.WashSaleParams{TreatGroupAsIdentical: true}, runDate)
	grouped.Add(rec)
	blocked := grouped.BlockedBuys(targets)
	assert.Contains(t, blocked, "STOCK_TLH")
	assert.Contains(t, blocked, "STOCK_ALT")
}

func TestBook_AddKeepsLongestProtection(t *testing.T) {
	book := NewBook(domain.WashSaleParams{}, runDate)
	long := book.RecordForLoss("X", runDate)
	short := book.RecordForLoss("X", runDate.AddDate(0, 0, -10))

	book.Add(long)
	book.Add(short)

	records := book.Records()
	require.Len(t, records, 1)
	assert.Equal(t, long.ProtectedUntil, records[0].ProtectedUntil)
}

func TestBook_CloneIsIndependent(t *testing.T) {
	book := NewBook(domain.WashSaleParams{}, runDate)
	clone := book.Clone()
	clone.Add(clone.RecordForLoss("X", runDate))

	assert.Empty(t, book.Records())
	assert.Len(t, clone.Records(), 1)
}

func TestBook_ReplacementAcquired(t *testing.T) {
	book := NewBook(domain.WashSaleParams{}, runDate)
	old := domain.TaxLot{LotID: "old", SecurityID: "X", Quantity: 5, CostBasis: 100, AcquisitionDate: runDate.AddDate(-1, 0, 0)}
	recent := domain.TaxLot{LotID: "recent", SecurityID: "X", Quantity: 5, CostBasis: 90, AcquisitionDate: runDate.AddDate(0, 0, -3)}
	other := domain.TaxLot{LotID: "other", SecurityID: "Y", Quantity: 5, CostBasis: 90, AcquisitionDate: runDate.AddDate(0, 0, -3)}

	assert.True(t, book.ReplacementAcquired(old, []domain.TaxLot{old, recent}))
	assert.False(t, book.ReplacementAcquired(recent, []domain.TaxLot{old, recent}), "the old lot is outside the window")
	assert.False(t, book.ReplacementAcquired(old, []domain.TaxLot{old, other}))
}

func TestBook_IdenticalTo(t *testing.T) {
	targets := []domain.Target{
		{AssetClassID: "us_large", TargetWeight: 1, Identifiers: []string{"STOCK_A", "STOCK_B"}},
	}

	strict := NewBook(domain.WashSaleParams{}, runDate)
	assert.Equal(t, []string{"STOCK_A"}, strict.IdenticalTo("STOCK_A", targets))

	grouped := NewBook(domain.WashSaleParams{TreatGroupAsIdentical: true}, runDate)
	assert.Equal(t, []string{"STOCK_A", "STOCK_B"}, grouped.IdenticalTo("STOCK_B", targets))
	assert.Equal(t, []string{"STOCK_X"}, grouped.IdenticalTo("STOCK_X", targets), "untargeted securities stand alone")
}
