package repository

import (
	"database/sql"

	"github.com/danmuigai/waflow-backend/internal/model"
)

type RollupRepositoryInterface interface {
	Create(r *model.AnalyticsRollup) error
}

type RollupRepository struct {
	DB *sql.DB
}

func (r *RollupRepository) Create(rollup *model.AnalyticsRollup) error {
	query := `
        INSERT INTO analytics_rollups (period, period_start, inbound_count, outbound_count, new_contacts, rule_runs, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        RETURNING id, created_at
    `
	return r.DB.QueryRow(query, rollup.Period, rollup.PeriodStart, rollup.InboundCount,
		rollup.OutboundCount, rollup.NewContacts, rollup.RuleRuns).Scan(&rollup.ID, &rollup.CreatedAt)
}

var _ RollupRepositoryInterface = (*RollupRepository)(nil)
