package repository

import (
	"database/sql"

	appErrors "github.com/danmuigai/waflow-backend/internal/errors"
	"github.com/danmuigai/waflow-backend/internal/model"
)

// RuleRepositoryInterface defines the automation-rule access used by the
// rule engine.
type RuleRepositoryInterface interface {
	ListActive() ([]*model.AutomationRule, error)
	GetByID(id int) (*model.AutomationRule, error)
	MarkRun(id int) error
}

type RuleRepository struct {
	DB *sql.DB
}

const ruleColumns = `id, name, active, priority, trigger_type, trigger_conditions, action_type, action_config, run_count, last_run, created_at, updated_at`

// ListActive returns active rules ordered by descending priority, the order
// keyword evaluation relies on.
func (r *RuleRepository) ListActive() ([]*model.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE active=true ORDER BY priority DESC, id ASC`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []*model.AutomationRule{}
	for rows.Next() {
		rule := &model.AutomationRule{}
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Active, &rule.Priority,
			&rule.TriggerType, &rule.TriggerConditions, &rule.ActionType, &rule.ActionConfig,
			&rule.RunCount, &rule.LastRun, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) GetByID(id int) (*model.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id=$1`
	rule := &model.AutomationRule{}
	err := r.DB.QueryRow(query, id).Scan(&rule.ID, &rule.Name, &rule.Active, &rule.Priority,
		&rule.TriggerType, &rule.TriggerConditions, &rule.ActionType, &rule.ActionConfig,
		&rule.RunCount, &rule.LastRun, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewRuleNotFound(id)
		}
		return nil, err
	}
	return rule, nil
}

// MarkRun bumps run_count and stamps last_run.
func (r *RuleRepository) MarkRun(id int) error {
	query := `UPDATE automation_rules SET run_count=run_count+1, last_run=NOW(), updated_at=NOW() WHERE id=$1`
	_, err := r.DB.Exec(query, id)
	return err
}

var _ RuleRepositoryInterface = (*RuleRepository)(nil)
