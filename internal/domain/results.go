package domain

// Status is the outcome of one strategy optimization.
type Status string

const (
	StatusOptimal    Status = "Optimal"
	StatusInfeasible Status = "Infeasible"
	StatusUnbounded  Status = "Unbounded"
	StatusNotSolved  Status = "NotSolved"
)

// TradeSide is the direction of a trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s TradeSide) Sign() float64 {
	if s == TradeSell {
		return -1
	}
	return 1
}

// Trade is one non-zero decision of a strategy. Sells always name the lot
// they close; buys leave LotID empty.
type Trade struct {
	SecurityID string    `json:"security_id"`
	LotID      string    `json:"lot_id,omitempty"`
	Side       TradeSide `json:"trade_type"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Value      float64   `json:"value"`
}

// SignedQuantity returns the quantity with buys positive and sells negative.
func (t Trade) SignedQuantity() float64 {
	return t.Side.Sign() * t.Quantity
}

// TradeSummary is the realized value of each objective term for the final trades.
type TradeSummary struct {
	TaxCost     float64 `json:"tax_cost"`     // currency; losses offset gains
	DriftCost   float64 `json:"drift_cost"`   // sum of |post weight - target weight|
	SpreadCosts float64 `json:"spread_costs"` // currency
	FactorCost  float64 `json:"factor_cost"`  // sum of |post exposure - target exposure|
	CashDrag    float64 `json:"cash_drag"`    // currency held above the deminimus target
	Overall     float64 `json:"overall"`      // weighted, normalized objective value
}

// StrategyResult is the per-strategy output of a run.
type StrategyResult struct {
	Label           string           `json:"label"`
	Status          Status           `json:"status"`
	ShouldTrade     bool             `json:"should_trade"`
	Trades          []Trade          `json:"trades"`
	Summary         TradeSummary     `json:"trade_summary"`
	CashBefore      float64          `json:"cash_before"`
	CashAfter       float64          `json:"cash_after"`
	Warnings        []string         `json:"warnings,omitempty"`
	WashSaleRecords []WashSaleRecord `json:"wash_sale_records,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// NettedTrade is the consolidated order for one security across strategies.
type NettedTrade struct {
	Identifier string    `json:"identifier"`
	Quantity   float64   `json:"quantity"`
	TradeType  TradeSide `json:"trade_type"`
}

// Output is the complete result bundle of one run.
type Output struct {
	RunID        string           `json:"run_id,omitempty"`
	Results      []StrategyResult `json:"results"`
	NettedTrades []NettedTrade    `json:"netted_trades"`
}
