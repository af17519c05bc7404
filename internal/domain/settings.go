package domain

import "fmt"

// Settings is the per-strategy policy: objective weights and the thresholds
// that parameterize the constraint set. The Oracle holds no defaults, so
// every strategy must be given one explicitly.
type Settings struct {
	WeightTax         float64 `json:"weight_tax"`
	WeightDrift       float64 `json:"weight_drift"`
	WeightTransaction float64 `json:"weight_transaction"`
	WeightFactorModel float64 `json:"weight_factor_model"`
	WeightCashDrag    float64 `json:"weight_cash_drag"`

	// RebalanceThreshold is the half-width of the no-trade band around each
	// target weight; drift inside it costs nothing.
	RebalanceThreshold float64 `json:"rebalance_threshold"`
	// BuyThreshold is the fraction of portfolio value that may sit idle above
	// DeminimusCashTarget before cash drag is charged.
	BuyThreshold float64 `json:"buy_threshold"`

	HoldingTimeDays     int     `json:"holding_time_days"`
	ShouldTLH           bool    `json:"should_tlh"`
	TLHMinLossThreshold float64 `json:"tlh_min_loss_threshold"` // loss as a fraction of cost basis

	RangeMinWeightMultiplier float64 `json:"range_min_weight_multiplier"`
	RangeMaxWeightMultiplier float64 `json:"range_max_weight_multiplier"` // <= 0 disables the band

	MinNotional       float64 `json:"min_notional"`
	RankPenaltyFactor float64 `json:"rank_penalty_factor"`
	TradeRounding     int     `json:"trade_rounding"` // decimal places kept on quantities

	DeminimusCashTarget       float64 `json:"deminimus_cash_target"`
	WithdrawalAmount          float64 `json:"withdrawal_amount"`
	EnforceWashSalePrevention bool    `json:"enforce_wash_sale_prevention"`
}

// BandEnabled reports whether the post-trade weight band is enforced.
func (s Settings) BandEnabled() bool {
	return s.RangeMaxWeightMultiplier > 0
}

// Validate checks the settings for values the optimizer cannot interpret.
func (s Settings) Validate() error {
	nonNegative := map[string]float64{
		"weight_tax":             s.WeightTax,
		"weight_drift":           s.WeightDrift,
		"weight_transaction":     s.WeightTransaction,
		"weight_factor_model":    s.WeightFactorModel,
		"weight_cash_drag":       s.WeightCashDrag,
		"rebalance_threshold":    s.RebalanceThreshold,
		"buy_threshold":          s.BuyThreshold,
		"tlh_min_loss_threshold": s.TLHMinLossThreshold,
		"min_notional":           s.MinNotional,
		"rank_penalty_factor":    s.RankPenaltyFactor,
		"deminimus_cash_target":  s.DeminimusCashTarget,
		"withdrawal_amount":      s.WithdrawalAmount,
	}
	for name, v := range nonNegative {
		if v < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %f", ErrInvalidSettings, name, v)
		}
	}
	if s.HoldingTimeDays < 0 {
		return fmt.Errorf("%w: holding_time_days must be non-negative, got %d", ErrInvalidSettings, s.HoldingTimeDays)
	}
	if s.TradeRounding < 0 || s.TradeRounding > 10 {
		return fmt.Errorf("%w: trade_rounding must be between 0 and 10, got %d", ErrInvalidSettings, s.TradeRounding)
	}
	if s.BandEnabled() && s.RangeMinWeightMultiplier > s.RangeMaxWeightMultiplier {
		return fmt.Errorf("%w: range_min_weight_multiplier %f exceeds range_max_weight_multiplier %f",
			ErrInvalidSettings, s.RangeMinWeightMultiplier, s.RangeMaxWeightMultiplier)
	}
	if s.RangeMinWeightMultiplier < 0 {
		return fmt.Errorf("%w: range_min_weight_multiplier must be non-negative", ErrInvalidSettings)
	}
	return nil
}
