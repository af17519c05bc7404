// Package washsale tracks wash-sale protection windows. A security sold at a
// loss may not be repurchased (nor may a substantially identical one) until
// its window closes.
package washsale

import (
	"sort"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
)

// DefaultWindowDays is the protection window applied when none is configured.
const DefaultWindowDays = 30

// Book holds the protection records relevant to one run.
type Book struct {
	records               map[string]domain.WashSaleRecord
	asOf                  time.Time
	windowDays            int
	treatGroupAsIdentical bool
}

// NewBook creates an empty book for a run on asOf.
func NewBook(params domain.WashSaleParams, asOf time.Time) *Book {
	window := params.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}
	return &Book{
		records:               make(map[string]domain.WashSaleRecord),
		asOf:                  asOf,
		windowDays:            window,
		treatGroupAsIdentical: params.TreatGroupAsIdentical,
	}
}

// WindowDays returns the protection window length in days.
func (b *Book) WindowDays() int {
	return b.windowDays
}

// RecordForLoss builds the record protecting securityID after a loss realized on date.
func (b *Book) RecordForLoss(securityID string, date time.Time) domain.WashSaleRecord {
	return domain.WashSaleRecord{
		SecurityID:          securityID,
		LossRealizationDate: date,
		ProtectedUntil:      date.AddDate(0, 0, b.windowDays),
	}
}

// Add registers rec, keeping the longest protection per security.
func (b *Book) Add(rec domain.WashSaleRecord) {
	existing, ok := b.records[rec.SecurityID]
	if !ok || rec.ProtectedUntil.After(existing.ProtectedUntil) {
		b.records[rec.SecurityID] = rec
	}
}

// AddClosedLots registers every closed lot that realized a loss.
func (b *Book) AddClosedLots(lots []domain.ClosedLot) {
	for _, lot := range lots {
		if lot.RealizedGain() < 0 {
			b.Add(b.RecordForLoss(lot.SecurityID, lot.CloseDate))
		}
	}
}

// Clone returns an independent copy of the book.
func (b *Book) Clone() *Book {
	c := *b
	c.records = make(map[string]domain.WashSaleRecord, len(b.records))
	for k, v := range b.records {
		c.records[k] = v
	}
	return &c
}

// Records returns every registered record ordered by security.
func (b *Book) Records() []domain.WashSaleRecord {
	out := make([]domain.WashSaleRecord, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SecurityID < out[j].SecurityID })
	return out
}

// BlockedBuys returns the securities that may not be bought on the run date,
// keyed to the record that protects them. With group identity enabled, a
// protected security blocks every identifier of its target group.
func (b *Book) BlockedBuys(targets []domain.Target) map[string]domain.WashSaleRecord {
	blocked := make(map[string]domain.WashSaleRecord)
	for id, rec := range b.records {
		if !rec.ActiveOn(b.asOf) {
			continue
		}
		for _, sid := range b.IdenticalTo(id, targets) {
			if _, ok := blocked[sid]; !ok {
				blocked[sid] = rec
			}
		}
	}
	return blocked
}

// IdenticalTo lists the securities substantially identical to securityID,
// including securityID itself.
func (b *Book) IdenticalTo(securityID string, targets []domain.Target) []string {
	if !b.treatGroupAsIdentical {
		return []string{securityID}
	}
	for _, t := range targets {
		if t.Rank(securityID) >= 0 {
			return t.Identifiers
		}
	}
	return []string{securityID}
}

// ReplacementAcquired reports whether another lot of the same security was
// bought inside the window before asOf. Selling lot at a loss would then be
// a wash sale against that purchase.
func (b *Book) ReplacementAcquired(lot domain.TaxLot, lots []domain.TaxLot) bool {
	for _, other := range lots {
		if other.LotID == lot.LotID || other.SecurityID != lot.SecurityID {
			continue
		}
		age := other.AgeDays(b.asOf)
		if age >= 0 && age <= b.windowDays {
			return true
		}
	}
	return false
}
