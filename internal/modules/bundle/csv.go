package bundle

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/gocarina/gocsv"
)

// LotRow is one tax lot of a broker export.
type LotRow struct {
	LotID           string  `csv:"lot_id"`
	SecurityID      string  `csv:"security_id"`
	Quantity        float64 `csv:"quantity"`
	CostBasis       float64 `csv:"cost_basis"`
	AcquisitionDate string  `csv:"acquisition_date"`
}

// TargetRow is one asset class. Identifiers are separated by '|' or ';' in
// preference order.
type TargetRow struct {
	AssetClassID string  `csv:"asset_class_id"`
	Identifiers  string  `csv:"identifiers"`
	TargetWeight float64 `csv:"target_weight"`
}

// PriceRow is one security price.
type PriceRow struct {
	SecurityID string  `csv:"security_id"`
	Price      float64 `csv:"price"`
}

// ReadLots parses tax lots from CSV.
func ReadLots(r io.Reader) ([]domain.TaxLot, error) {
	var rows []LotRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse lots csv: %w", err)
	}

	lots := make([]domain.TaxLot, 0, len(rows))
	for i, row := range rows {
		date, err := parseDate(row.AcquisitionDate)
		if err != nil {
			return nil, fmt.Errorf("lots csv row %d: %w", i+1, err)
		}
		lots = append(lots, domain.TaxLot{
			AcquisitionDate: date,
			LotID:           strings.TrimSpace(row.LotID),
			SecurityID:      strings.TrimSpace(row.SecurityID),
			Quantity:        row.Quantity,
			CostBasis:       row.CostBasis,
		})
	}
	return lots, nil
}

// ReadTargets parses asset-class targets from CSV.
func ReadTargets(r io.Reader) ([]domain.Target, error) {
	var rows []TargetRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse targets csv: %w", err)
	}

	targets := make([]domain.Target, 0, len(rows))
	for _, row := range rows {
		ids := strings.FieldsFunc(row.Identifiers, func(r rune) bool {
			return r == '|' || r == ';' || r == ' '
		})
		targets = append(targets, domain.Target{
			AssetClassID: strings.TrimSpace(row.AssetClassID),
			Identifiers:  ids,
			TargetWeight: row.TargetWeight,
		})
	}
	return targets, nil
}

// ReadPrices parses security prices from CSV.
func ReadPrices(r io.Reader) ([]domain.Price, error) {
	var rows []PriceRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse prices csv: %w", err)
	}

	prices := make([]domain.Price, 0, len(rows))
	for _, row := range rows {
		prices = append(prices, domain.Price{SecurityID: strings.TrimSpace(row.SecurityID), Price: row.Price})
	}
	return prices, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}
