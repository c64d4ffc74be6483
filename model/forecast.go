package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSuccessRate is the historical collection success ratio applied
// when the configuration does not override it.
const DefaultSuccessRate = 0.85

// ForecastPoint is a derived projection of expected collections for one
// future day. It is computed on demand and never persisted.
type ForecastPoint struct {
	Day                 time.Time `json:"day"`
	ExpectedSuccess     int64     `json:"expected_success"`
	ExpectedShortfall   int64     `json:"expected_shortfall"`
	ActiveMandateCount  int64     `json:"active_mandate_count"`
	ExpectedFailedCount int64     `json:"expected_failed_count"`
}

// MandateStats is the aggregate snapshot exposed to the reporting surface.
// CollectionTrend is the signed percentage change of collections in the
// current 30-day period against the one before it.
type MandateStats struct {
	Total               int64   `json:"total"`
	Active              int64   `json:"active"`
	Failed              int64   `json:"failed"`
	Pending             int64   `json:"pending"`
	TotalAmount         int64   `json:"total_amount"`
	SuccessRate         float64 `json:"success_rate"`
	CollectedThisPeriod int64   `json:"collected_this_period"`
	CollectedLastPeriod int64   `json:"collected_last_period"`
	CollectionTrend     float64 `json:"collection_trend"`
}

// SplitByRate divides an in-flight amount into the expected successful
// bucket and the expected shortfall bucket using the historical success
// rate. Each bucket is rounded to the nearest whole currency unit
// independently, half-up, so the two buckets may not reconcile to the
// original amount. The forecast is an estimate, not an accounting figure,
// and the discrepancy is accepted.
func SplitByRate(amount int64, rate float64) (expectedSuccess, expectedShortfall int64) {
	amt := decimal.NewFromInt(amount)
	r := decimal.NewFromFloat(rate)
	expectedSuccess = RoundHalfUp(amt.Mul(r))
	expectedShortfall = RoundHalfUp(amt.Mul(decimal.NewFromInt(1).Sub(r)))
	return expectedSuccess, expectedShortfall
}

// ExpectedFailures estimates how many of the scheduled attempts will fail
// at the given success rate, rounded half-up.
func ExpectedFailures(scheduledCount int64, rate float64) int64 {
	return RoundHalfUp(decimal.NewFromInt(scheduledCount).Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(rate))))
}

// RoundHalfUp rounds a non-negative decimal to the nearest whole unit with
// ties going up.
func RoundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
