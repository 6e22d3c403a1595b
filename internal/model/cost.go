package model

import "time"

// CostEntry is one append-only line of API spend attributed to a query's
// processing session.
type CostEntry struct {
	ID            string    `json:"id"`
	Service       string    `json:"service"`
	Requests      int       `json:"requests"`
	UnitCost      float64   `json:"unit_cost"`
	TotalCost     float64   `json:"total_cost"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}
