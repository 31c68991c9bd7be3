// internal/service/rule_engine.go
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/danmuigai/waflow-backend/internal/channel"
	appErrors "github.com/danmuigai/waflow-backend/internal/errors"
	"github.com/danmuigai/waflow-backend/internal/model"
	"github.com/danmuigai/waflow-backend/internal/queue"
	"github.com/danmuigai/waflow-backend/internal/ratelimit"
	"github.com/danmuigai/waflow-backend/internal/repository"
)

// DefaultLeadScore is the starting score for contacts created by the
// create_lead action.
const DefaultLeadScore = 50

// Sender delivers one outbound message through the channel.
type Sender interface {
	Send(ctx context.Context, recipient, text string) (*channel.SentMessage, error)
}

// TriggerContext carries what fired a rule: the matched contact and inbound
// message for keyword triggers, the event payload for event triggers.
// Schedule ticks run with an empty context.
type TriggerContext struct {
	Contact   *model.Contact
	Inbound   *model.Message
	EventData map[string]any
}

// RuleEngine loads active automation rules and executes their actions.
// Keyword rules run inline on the inbound path (highest priority first,
// first match wins), event rules run for every match, schedule rules run on
// their own cron timers. A failure in one rule never stops another.
type RuleEngine struct {
	Rules     repository.RuleRepositoryInterface
	Contacts  repository.ContactRepositoryInterface
	Messages  *MessageService
	Limiter   *ratelimit.Limiter
	Sender    Sender
	Broadcast *Broadcaster
	Webhooks  *WebhookCaller
	Queue     queue.Queue
	Log       *logrus.Logger
	OnRuleRun func() // optional analytics hook

	mu           sync.Mutex
	cron         *cron.Cron
	jobs         map[int]cron.EntryID
	keywordRules []*model.AutomationRule
	eventRules   []*model.AutomationRule
}

// LoadRules fetches all active rules and re-arms them: keyword and event
// rules are snapshotted for lookup, schedule rules get their cron jobs
// installed or replaced. A rule with an invalid cron expression is logged
// and never scheduled; it cannot take the load down.
func (e *RuleEngine) LoadRules(ctx context.Context) error {
	rules, err := e.Rules.ListActive()
	if err != nil {
		return fmt.Errorf("load automation rules: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cron == nil {
		e.cron = cron.New()
		e.cron.Start()
		e.jobs = make(map[int]cron.EntryID)
	}

	var keyword, event []*model.AutomationRule
	scheduled := make(map[int]bool)

	for _, rule := range rules {
		switch rule.TriggerType {
		case model.TriggerKeyword:
			keyword = append(keyword, rule)
		case model.TriggerEvent:
			event = append(event, rule)
		case model.TriggerSchedule:
			cond, err := rule.ScheduleConditions()
			if err != nil {
				e.Log.WithField("rule", rule.Name).WithError(err).Error("schedule rule not armed")
				continue
			}
			if _, err := cron.ParseStandard(cond.Cron); err != nil {
				e.Log.WithFields(logrus.Fields{
					"rule": rule.Name,
					"cron": cond.Cron,
				}).WithError(err).Error("invalid cron expression, rule never scheduled")
				continue
			}
			// Replace any previous job for this rule id.
			if old, ok := e.jobs[rule.ID]; ok {
				e.cron.Remove(old)
			}
			ruleID := rule.ID
			entry, err := e.cron.AddFunc(cond.Cron, func() { e.runScheduled(ruleID) })
			if err != nil {
				e.Log.WithField("rule", rule.Name).WithError(err).Error("failed to schedule rule")
				continue
			}
			e.jobs[rule.ID] = entry
			scheduled[rule.ID] = true
		default:
			e.Log.WithFields(logrus.Fields{
				"rule":         rule.Name,
				"trigger_type": rule.TriggerType,
			}).Warn("unknown trigger type, rule ignored")
		}
	}

	// Drop jobs for rules that were deleted or deactivated since last load.
	for id, entry := range e.jobs {
		if !scheduled[id] {
			e.cron.Remove(entry)
			delete(e.jobs, id)
		}
	}

	e.keywordRules = keyword
	e.eventRules = event

	e.Log.WithFields(logrus.Fields{
		"keyword":  len(keyword),
		"event":    len(event),
		"schedule": len(e.jobs),
	}).Info("automation rules loaded")
	return nil
}

// ScheduledJobCount reports how many schedule rules currently hold a live
// cron job.
func (e *RuleEngine) ScheduledJobCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

// Stop cancels all scheduled jobs. In-flight executions finish naturally.
func (e *RuleEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron != nil {
		e.cron.Stop()
		e.jobs = make(map[int]cron.EntryID)
	}
}

func (e *RuleEngine) runScheduled(ruleID int) {
	// Re-fetch so a tick sees config edits made since the last reload.
	rule, err := e.Rules.GetByID(ruleID)
	if err != nil {
		e.Log.WithField("rule_id", ruleID).WithError(err).Warn("scheduled rule fetch failed, skipping tick")
		return
	}
	if !rule.Active {
		return
	}
	e.runRule(context.Background(), rule, &TriggerContext{})
}

// HandleInbound evaluates keyword rules against an inbound message.
// Rules arrive priority-descending from the repository; the first keyword
// match fires its action and evaluation stops, so at most one auto-reply is
// produced per inbound message. Returns the matched rule, if any.
func (e *RuleEngine) HandleInbound(ctx context.Context, msg *model.Message, contact *model.Contact) *model.AutomationRule {
	e.mu.Lock()
	rules := e.keywordRules
	e.mu.Unlock()

	body := strings.ToLower(msg.Body)
	for _, rule := range rules {
		cond, err := rule.KeywordConditions()
		if err != nil {
			e.Log.WithField("rule", rule.Name).WithError(err).Warn("skipping keyword rule")
			continue
		}
		for _, kw := range cond.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || !strings.Contains(body, kw) {
				continue
			}
			e.Log.WithFields(logrus.Fields{
				"rule":    rule.Name,
				"keyword": kw,
			}).Info("keyword rule matched")
			e.runRule(ctx, rule, &TriggerContext{Contact: contact, Inbound: msg})
			return rule
		}
	}
	return nil
}

// ProcessEventTrigger fires every event rule whose configured event type
// matches. Unlike keyword evaluation there is no short-circuit: multiple
// rules may legitimately react to the same domain event. Returns the number
// of rules executed.
func (e *RuleEngine) ProcessEventTrigger(ctx context.Context, eventType string, data map[string]any) int {
	e.mu.Lock()
	rules := e.eventRules
	e.mu.Unlock()

	matched := 0
	for _, rule := range rules {
		cond, err := rule.EventConditions()
		if err != nil {
			e.Log.WithField("rule", rule.Name).WithError(err).Warn("skipping event rule")
			continue
		}
		if cond.EventType != eventType {
			continue
		}
		matched++
		e.runRule(ctx, rule, &TriggerContext{EventData: data})
	}
	if matched > 0 {
		e.Log.WithFields(logrus.Fields{
			"event_type": eventType,
			"rules":      matched,
		}).Info("event trigger processed")
	}
	return matched
}

// runRule stamps the run and executes the action with full failure
// isolation: errors and panics are logged with the rule name and contained.
func (e *RuleEngine) runRule(ctx context.Context, rule *model.AutomationRule, trig *TriggerContext) {
	defer func() {
		if r := recover(); r != nil {
			e.Log.WithField("rule", rule.Name).Errorf("rule action panicked: %v", r)
		}
	}()

	// Run bookkeeping lives in the store only: the in-memory rule is a
	// snapshot shared across concurrent triggers and stays read-only here.
	if err := e.Rules.MarkRun(rule.ID); err != nil {
		e.Log.WithField("rule", rule.Name).WithError(err).Warn("failed to record rule run")
	}

	if e.OnRuleRun != nil {
		e.OnRuleRun()
	}

	if err := e.executeRule(ctx, rule, trig); err != nil {
		e.Log.WithFields(logrus.Fields{
			"rule":   rule.Name,
			"action": rule.ActionType,
		}).WithError(err).Error("rule action failed")
	}
}

func (e *RuleEngine) executeRule(ctx context.Context, rule *model.AutomationRule, trig *TriggerContext) error {
	switch rule.ActionType {
	case model.ActionSendMessage:
		return e.sendMessageAction(ctx, rule, trig)
	case model.ActionUpdateContact:
		return e.updateContactAction(rule, trig)
	case model.ActionCreateLead:
		return e.createLeadAction(rule)
	case model.ActionTriggerWebhook:
		return e.triggerWebhookAction(ctx, rule, trig)
	case model.ActionSendBulkMessage:
		return e.sendBulkAction(ctx, rule)
	default:
		return fmt.Errorf("unknown action type %q", rule.ActionType)
	}
}

func (e *RuleEngine) sendMessageAction(ctx context.Context, rule *model.AutomationRule, trig *TriggerContext) error {
	cfg, err := rule.SendMessageConfig()
	if err != nil {
		return err
	}

	var contact *model.Contact
	var inResponseTo *int
	if trig != nil {
		contact = trig.Contact
		if trig.Inbound != nil {
			inResponseTo = &trig.Inbound.ID
		}
	}

	recipient := cfg.Recipient
	if recipient == "" {
		if contact == nil {
			return fmt.Errorf("send_message has no recipient and no triggering contact")
		}
		recipient = contact.Phone
	}

	var contactID *int
	if contact != nil && contact.Phone == recipient {
		contactID = &contact.ID
	}

	text := RenderTemplate(cfg.Text, ContactData(contact))
	return e.deliver(ctx, recipient, text, contactID, inResponseTo)
}

// deliver attempts a rate-limited send. A decline is not a failure: the send
// is queued for a delayed retry and delivery order is preserved by the
// queue, never dropped.
func (e *RuleEngine) deliver(ctx context.Context, recipient, text string, contactID, inResponseTo *int) error {
	if !e.Limiter.Admit(recipient) {
		job := queue.SendRetryJob{
			JobID:        uuid.NewString(),
			Recipient:    recipient,
			Body:         text,
			ContactID:    contactID,
			InResponseTo: inResponseTo,
		}
		if err := e.Queue.Publish(queue.TopicSendRetries, job); err != nil {
			return fmt.Errorf("re-enqueue declined send: %w", err)
		}
		e.Log.WithField("recipient", recipient).Info("send declined by rate limiter, queued for retry")
		return nil
	}

	sent, err := e.Sender.Send(ctx, recipient, text)
	if err != nil {
		return fmt.Errorf("channel send: %w", err)
	}
	if _, err := e.Messages.RecordOutbound(contactID, recipient, text, inResponseTo, sent); err != nil {
		return err
	}
	return nil
}

func (e *RuleEngine) updateContactAction(rule *model.AutomationRule, trig *TriggerContext) error {
	cfg, err := rule.UpdateContactConfig()
	if err != nil {
		return err
	}

	var contact *model.Contact
	if cfg.Phone != "" {
		contact, err = e.Contacts.GetByPhone(cfg.Phone)
		if err != nil {
			return err
		}
		if contact == nil {
			return appErrors.NewContactNotFoundByPhone(cfg.Phone)
		}
	} else if trig != nil {
		contact = trig.Contact
	}
	if contact == nil {
		return fmt.Errorf("update_contact: no contact resolved")
	}

	fields := make(map[string]string, len(cfg.Fields))
	for k, v := range cfg.Fields {
		fields[k] = v
	}
	if tag, ok := fields["add_tag"]; ok {
		delete(fields, "add_tag")
		if err := e.Contacts.AddTag(contact.ID, tag); err != nil {
			return err
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return e.Contacts.UpdateFields(contact.ID, fields)
}

func (e *RuleEngine) createLeadAction(rule *model.AutomationRule) error {
	cfg, err := rule.CreateLeadConfig()
	if err != nil {
		return err
	}

	contact, created, err := e.Contacts.CreateIfNotExists(cfg.Phone, cfg.Name, "automation", DefaultLeadScore)
	if err != nil {
		return err
	}
	if !created {
		e.Log.WithField("phone", cfg.Phone).Debug("create_lead: contact already exists, skipping")
		return nil
	}
	if err := e.Contacts.AddTag(contact.ID, "lead"); err != nil {
		e.Log.WithError(err).Warn("failed to tag new lead")
	}
	e.Log.WithFields(logrus.Fields{
		"contact_id": contact.ID,
		"phone":      contact.Phone,
	}).Info("lead created by automation")
	return nil
}

// triggerWebhookAction is best-effort: delivery failures are logged here and
// never bubble up to the rule run.
func (e *RuleEngine) triggerWebhookAction(ctx context.Context, rule *model.AutomationRule, trig *TriggerContext) error {
	cfg, err := rule.WebhookConfig()
	if err != nil {
		return err
	}
	var eventData map[string]any
	if trig != nil {
		eventData = trig.EventData
	}
	if err := e.Webhooks.Call(ctx, cfg, eventData); err != nil {
		e.Log.WithFields(logrus.Fields{
			"rule": rule.Name,
			"url":  cfg.URL,
		}).WithError(err).Warn("webhook delivery failed")
	}
	return nil
}

func (e *RuleEngine) sendBulkAction(ctx context.Context, rule *model.AutomationRule) error {
	cfg, err := rule.BulkMessageConfig()
	if err != nil {
		return err
	}
	seg := repository.SegmentFilter{
		Tag:      cfg.Tag,
		MinScore: cfg.MinScore,
		City:     cfg.City,
	}
	if cfg.ContactedDays > 0 {
		since := time.Now().AddDate(0, 0, -cfg.ContactedDays)
		seg.ContactedSince = &since
	}
	delay := time.Duration(cfg.DelayMs) * time.Millisecond
	_, err = e.Broadcast.SendToSegment(ctx, nil, seg, cfg.Template, delay)
	return err
}
