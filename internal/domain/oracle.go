package domain

import "time"

// OracleSource tags where a price came from.
type OracleSource string

const (
	OracleOnChain      OracleSource = "onchain"
	OraclePushFallback OracleSource = "push_fallback"
)

// OraclePriceData is a single USD price read.
type OraclePriceData struct {
	Asset       string       `json:"asset"`
	Price       float64      `json:"price"`
	Confidence  float64      `json:"confidence"`
	PublishTime time.Time    `json:"publish_time"`
	Provider    string       `json:"provider"`
	Source      OracleSource `json:"source"`
}

// ConfidenceRatio is the confidence interval as a fraction of price.
func (d OraclePriceData) ConfidenceRatio() float64 {
	if d.Price <= 0 {
		return 1
	}
	return d.Confidence / d.Price
}

// PriceVerification compares a route's implied price with the oracle cross
// price. Deviation is a fraction (0.01 = 1%).
type PriceVerification struct {
	OraclePrice  float64          `json:"oracle_price"`
	RoutePrice   float64          `json:"route_price"`
	Deviation    float64          `json:"deviation"`
	IsAcceptable bool             `json:"is_acceptable"`
	Warning      string           `json:"warning,omitempty"`
	UsedFallback bool             `json:"used_fallback"`
	Input        *OraclePriceData `json:"input,omitempty"`
	Output       *OraclePriceData `json:"output,omitempty"`
}
