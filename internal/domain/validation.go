package domain

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidLot is returned for lots violating quantity > 0 or cost_basis >= 0.
	ErrInvalidLot = errors.New("invalid tax lot")
	// ErrMissingPrice is returned when a referenced security has no positive price.
	ErrMissingPrice = errors.New("missing price")
	// ErrInvalidTargets is returned for malformed target tables.
	ErrInvalidTargets = errors.New("invalid targets")
	// ErrInvalidFactors is returned for inconsistent factor exposure vectors.
	ErrInvalidFactors = errors.New("invalid factor exposures")
	// ErrInvalidSettings is returned for settings outside their domain.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrMissingSettings is returned when a strategy has no settings entry.
	ErrMissingSettings = errors.New("missing settings")
)

// WeightTolerance is the allowed deviation of summed target weights from 1.
const WeightTolerance = 1e-4

// Validate checks the strategy's typed tables. It never repairs data: a
// strategy with incomplete inputs is rejected as a whole.
func (s Strategy) Validate() error {
	if !s.OptimizationType.Valid() {
		return fmt.Errorf("strategy %q: unknown optimization type %q", s.Label, s.OptimizationType)
	}
	if s.Cash < 0 || math.IsNaN(s.Cash) {
		return fmt.Errorf("strategy %q: cash must be non-negative, got %f", s.Label, s.Cash)
	}

	prices := make(map[string]float64, len(s.Prices))
	for _, p := range s.Prices {
		prices[p.SecurityID] = p.Price
	}
	requirePrice := func(securityID string) error {
		p, ok := prices[securityID]
		if !ok || !(p > 0) {
			return fmt.Errorf("strategy %q: %w for %s", s.Label, ErrMissingPrice, securityID)
		}
		return nil
	}

	seenLots := make(map[string]bool, len(s.TaxLots))
	for _, lot := range s.TaxLots {
		if lot.LotID == "" || seenLots[lot.LotID] {
			return fmt.Errorf("strategy %q: %w: lot id %q is empty or duplicated", s.Label, ErrInvalidLot, lot.LotID)
		}
		seenLots[lot.LotID] = true
		if !(lot.Quantity > 0) {
			return fmt.Errorf("strategy %q: %w: lot %s quantity %f", s.Label, ErrInvalidLot, lot.LotID, lot.Quantity)
		}
		if lot.CostBasis < 0 || math.IsNaN(lot.CostBasis) {
			return fmt.Errorf("strategy %q: %w: lot %s cost basis %f", s.Label, ErrInvalidLot, lot.LotID, lot.CostBasis)
		}
		if err := requirePrice(lot.SecurityID); err != nil {
			return err
		}
	}

	if err := s.validateTargets(requirePrice); err != nil {
		return err
	}

	factorLen := -1
	for _, fe := range s.FactorExposures {
		if factorLen == -1 {
			factorLen = len(fe.Factors)
		}
		if len(fe.Factors) != factorLen || factorLen == 0 {
			return fmt.Errorf("strategy %q: %w: %s has %d factors, expected %d",
				s.Label, ErrInvalidFactors, fe.SecurityID, len(fe.Factors), factorLen)
		}
	}

	for _, sp := range s.Spreads {
		if sp.HalfSpreadFraction < 0 {
			return fmt.Errorf("strategy %q: negative spread for %s", s.Label, sp.SecurityID)
		}
	}
	return nil
}

func (s Strategy) validateTargets(requirePrice func(string) error) error {
	if len(s.Targets) == 0 {
		return fmt.Errorf("strategy %q: %w: no targets", s.Label, ErrInvalidTargets)
	}

	member := make(map[string]string)
	sum := 0.0
	hasCash := false
	for _, t := range s.Targets {
		if t.TargetWeight < 0 || t.TargetWeight > 1+WeightTolerance {
			return fmt.Errorf("strategy %q: %w: %s weight %f", s.Label, ErrInvalidTargets, t.AssetClassID, t.TargetWeight)
		}
		if len(t.Identifiers) == 0 {
			return fmt.Errorf("strategy %q: %w: %s has no identifiers", s.Label, ErrInvalidTargets, t.AssetClassID)
		}
		sum += t.TargetWeight
		if t.IsCash() {
			hasCash = true
			continue
		}
		for _, id := range t.Identifiers {
			if id == CashIdentifier {
				return fmt.Errorf("strategy %q: %w: %s mixes cash with securities", s.Label, ErrInvalidTargets, t.AssetClassID)
			}
			if other, dup := member[id]; dup {
				return fmt.Errorf("strategy %q: %w: %s belongs to both %s and %s",
					s.Label, ErrInvalidTargets, id, other, t.AssetClassID)
			}
			member[id] = t.AssetClassID
			if err := requirePrice(id); err != nil {
				return err
			}
		}
	}

	// Without an explicit cash target the remainder is held as cash.
	if sum > 1+WeightTolerance || (hasCash && sum < 1-WeightTolerance) {
		return fmt.Errorf("strategy %q: %w: weights sum to %f", s.Label, ErrInvalidTargets, sum)
	}
	return nil
}
