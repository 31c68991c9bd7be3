// internal/model/rule.go
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Trigger types.
const (
	TriggerKeyword  = "keyword"
	TriggerSchedule = "schedule"
	TriggerEvent    = "event"
)

// Action types.
const (
	ActionSendMessage     = "send_message"
	ActionUpdateContact   = "update_contact"
	ActionCreateLead      = "create_lead"
	ActionTriggerWebhook  = "trigger_webhook"
	ActionSendBulkMessage = "send_bulk_message"
)

// AutomationRule is a stored trigger→action binding. Trigger conditions and
// action config are persisted as JSON and decoded into the typed structs
// below based on trigger_type/action_type.
type AutomationRule struct {
	ID                int             `db:"id" json:"id"`
	Name              string          `db:"name" json:"name"`
	Active            bool            `db:"active" json:"active"`
	Priority          int             `db:"priority" json:"priority"`
	TriggerType       string          `db:"trigger_type" json:"trigger_type"`
	TriggerConditions json.RawMessage `db:"trigger_conditions" json:"trigger_conditions"`
	ActionType        string          `db:"action_type" json:"action_type"`
	ActionConfig      json.RawMessage `db:"action_config" json:"action_config"`
	RunCount          int             `db:"run_count" json:"run_count"`
	LastRun           *time.Time      `db:"last_run" json:"last_run,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
}

// ---------- Trigger conditions ----------

type KeywordConditions struct {
	Keywords []string `json:"keywords"`
}

type ScheduleConditions struct {
	Cron string `json:"cron"`
}

type EventConditions struct {
	EventType string `json:"event_type"`
}

func (r *AutomationRule) KeywordConditions() (*KeywordConditions, error) {
	var c KeywordConditions
	if err := json.Unmarshal(r.TriggerConditions, &c); err != nil {
		return nil, fmt.Errorf("rule %q: bad keyword conditions: %w", r.Name, err)
	}
	if len(c.Keywords) == 0 {
		return nil, fmt.Errorf("rule %q: keyword trigger has no keywords", r.Name)
	}
	return &c, nil
}

func (r *AutomationRule) ScheduleConditions() (*ScheduleConditions, error) {
	var c ScheduleConditions
	if err := json.Unmarshal(r.TriggerConditions, &c); err != nil {
		return nil, fmt.Errorf("rule %q: bad schedule conditions: %w", r.Name, err)
	}
	if c.Cron == "" {
		return nil, fmt.Errorf("rule %q: schedule trigger has no cron expression", r.Name)
	}
	return &c, nil
}

func (r *AutomationRule) EventConditions() (*EventConditions, error) {
	var c EventConditions
	if err := json.Unmarshal(r.TriggerConditions, &c); err != nil {
		return nil, fmt.Errorf("rule %q: bad event conditions: %w", r.Name, err)
	}
	if c.EventType == "" {
		return nil, fmt.Errorf("rule %q: event trigger has no event_type", r.Name)
	}
	return &c, nil
}

// ---------- Action configs ----------

type SendMessageConfig struct {
	Recipient string `json:"recipient,omitempty"` // empty = triggering contact
	Text      string `json:"text"`
}

type UpdateContactConfig struct {
	Phone  string            `json:"phone,omitempty"` // empty = triggering contact
	Fields map[string]string `json:"fields"`
}

type CreateLeadConfig struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

type WebhookActionConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
}

type BulkMessageConfig struct {
	Tag           string `json:"tag"`
	Template      string `json:"template"`
	DelayMs       int    `json:"delay_ms,omitempty"`
	MinScore      int    `json:"min_score,omitempty"`
	City          string `json:"city,omitempty"`
	ContactedDays int    `json:"contacted_days,omitempty"` // only contacts heard from in the last N days
}

func (r *AutomationRule) SendMessageConfig() (*SendMessageConfig, error) {
	var c SendMessageConfig
	if err := json.Unmarshal(r.ActionConfig, &c); err != nil {
		return nil, fmt.Errorf("rule %q: bad send_message config: %w", r.Name, err)
	}
	if c.Text == "" {
		return nil, fmt.Errorf("rule %q: send_message config missing text", r.Name)
	}
	return &c, nil
}

func (r *AutomationRule) UpdateContactConfig() (*UpdateContactConfig, error) {
	var c UpdateContactConfig
	if err := json.Unmarshal(r.ActionConfig, &c); err != nil {
		return nil, fmt.Errorf("rule %q: bad update_contact config: %w", r.Name, err)
	}
	if len(c.Fields) == 0 {
		return nil, fmt.Errorf("rule %q: update_contact config has no fields", r.Name)
	}
	return &c, nil
}

func (r *AutomationRule) CreateLeadConfig() (*CreateLeadConfig, error) {
	var c CreateLeadConfig
	if err := json.Unmarshal(r.ActionConfig, &c); err != nil {
		return nil, fmt.Errorf("rule %q: bad create_lead config: %w", r.Name, err)
	}
	if c.Phone == "" {
		return nil, fmt.Errorf("rule %q: create_lead config missing phone", r.Name)
	}
	return &c, nil
}

func (r *AutomationRule) WebhookConfig() (*WebhookActionConfig, error) {
	var c WebhookActionConfig
	if err := json.Unmarshal(r.ActionConfig, &c); err != nil {
		return nil, fmt.Errorf("rule %q: bad trigger_webhook config: %w", r.Name, err)
	}
	if c.URL == "" {
		return nil, fmt.Errorf("rule %q: trigger_webhook config missing url", r.Name)
	}
	if c.Method == "" {
		c.Method = "POST"
	}
	return &c, nil
}

func (r *AutomationRule) BulkMessageConfig() (*BulkMessageConfig, error) {
	var c BulkMessageConfig
	if err := json.Unmarshal(r.ActionConfig, &c); err != nil {
		return nil, fmt.Errorf("rule %q: bad send_bulk_message config: %w", r.Name, err)
	}
	if c.Tag == "" || c.Template == "" {
		return nil, fmt.Errorf("rule %q: send_bulk_message config needs tag and template", r.Name)
	}
	return &c, nil
}
