// internal/model/rollup.go
package model

import "time"

const (
	PeriodHourly = "hourly"
	PeriodDaily  = "daily"
)

// AnalyticsRollup is one aggregated engine-activity row per period.
type AnalyticsRollup struct {
	ID            int       `db:"id" json:"id"`
	Period        string    `db:"period" json:"period"` // hourly, daily
	PeriodStart   time.Time `db:"period_start" json:"period_start"`
	InboundCount  int       `db:"inbound_count" json:"inbound_count"`
	OutboundCount int       `db:"outbound_count" json:"outbound_count"`
	NewContacts   int       `db:"new_contacts" json:"new_contacts"`
	RuleRuns      int       `db:"rule_runs" json:"rule_runs"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
