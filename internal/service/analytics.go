// internal/service/analytics.go
package service

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danmuigai/waflow-backend/internal/model"
	"github.com/danmuigai/waflow-backend/internal/repository"
)

// AnalyticsService produces periodic activity rollups: inbound/outbound
// message counts and new contacts come from the store, rule runs from an
// in-memory counter that resets on every rollup.
type AnalyticsService struct {
	Messages repository.MessageRepositoryInterface
	Contacts repository.ContactRepositoryInterface
	Rollups  repository.RollupRepositoryInterface
	Log      *logrus.Logger

	mu       sync.Mutex
	ruleRuns map[string]int
}

// RuleRan bumps the rule-run counter for every open period. Wired as the
// rule engine's OnRuleRun hook.
func (a *AnalyticsService) RuleRan() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ruleRuns == nil {
		a.ruleRuns = make(map[string]int)
	}
	for _, period := range []string{model.PeriodHourly, model.PeriodDaily} {
		a.ruleRuns[period]++
	}
}

// Rollup writes one aggregate row covering the trailing span and resets the
// period's rule-run counter.
func (a *AnalyticsService) Rollup(period string, span time.Duration) error {
	since := time.Now().Add(-span)

	inbound, err := a.Messages.CountByDirectionSince(model.DirectionInbound, since)
	if err != nil {
		return err
	}
	outbound, err := a.Messages.CountByDirectionSince(model.DirectionOutbound, since)
	if err != nil {
		return err
	}
	newContacts, err := a.Contacts.CountCreatedSince(since)
	if err != nil {
		return err
	}

	a.mu.Lock()
	runs := a.ruleRuns[period]
	if a.ruleRuns != nil {
		a.ruleRuns[period] = 0
	}
	a.mu.Unlock()

	rollup := &model.AnalyticsRollup{
		Period:        period,
		PeriodStart:   since,
		InboundCount:  inbound,
		OutboundCount: outbound,
		NewContacts:   newContacts,
		RuleRuns:      runs,
	}
	if err := a.Rollups.Create(rollup); err != nil {
		return err
	}

	a.Log.WithFields(logrus.Fields{
		"period":       period,
		"inbound":      inbound,
		"outbound":     outbound,
		"new_contacts": newContacts,
		"rule_runs":    runs,
	}).Info("analytics rollup written")
	return nil
}
