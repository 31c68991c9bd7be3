package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danmuigai/waflow-backend/internal/channel"
	"github.com/danmuigai/waflow-backend/internal/model"
	"github.com/danmuigai/waflow-backend/internal/repository"
)

func testLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// --- Mock Repositories ---

type mockContactRepo struct {
	mu       sync.Mutex
	contacts map[int]*model.Contact
	nextID   int

	scoreUpdates int
}

func newMockContactRepo(contacts ...*model.Contact) *mockContactRepo {
	m := &mockContactRepo{contacts: map[int]*model.Contact{}, nextID: 1}
	for _, c := range contacts {
		m.contacts[c.ID] = c
		if c.ID >= m.nextID {
			m.nextID = c.ID + 1
		}
	}
	return m
}

func (m *mockContactRepo) GetByID(id int) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contacts[id], nil
}

func (m *mockContactRepo) GetByPhone(phone string) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.Phone == phone {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockContactRepo) CreateIfNotExists(phone, name, source string, score int) (*model.Contact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.Phone == phone {
			return c, false, nil
		}
	}
	c := &model.Contact{
		ID:        m.nextID,
		Name:      name,
		Phone:     phone,
		Status:    model.ContactStatusNew,
		LeadScore: score,
		Source:    source,
		CreatedAt: time.Now(),
	}
	m.contacts[c.ID] = c
	m.nextID++
	return c, true, nil
}

func (m *mockContactRepo) UpdateFields(id int, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return fmt.Errorf("contact %d not found", id)
	}
	for k, v := range fields {
		switch k {
		case "name":
			c.Name = v
		case "status":
			c.Status = v
		case "city":
			c.City = v
		default:
			return fmt.Errorf("contact field %q is not updatable", k)
		}
	}
	return nil
}

func (m *mockContactRepo) UpdateScore(id int, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return fmt.Errorf("contact %d not found", id)
	}
	c.LeadScore = score
	m.scoreUpdates++
	return nil
}

func (m *mockContactRepo) AddTag(id int, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return fmt.Errorf("contact %d not found", id)
	}
	for _, t := range c.Tags {
		if t == tag {
			return nil
		}
	}
	c.Tags = append(c.Tags, tag)
	return nil
}

func (m *mockContactRepo) TouchLastContact(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[id]; ok {
		now := time.Now()
		c.LastContactAt = &now
	}
	return nil
}

func (m *mockContactRepo) ListBySegment(seg repository.SegmentFilter) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Contact
	for i := 1; i < m.nextID; i++ {
		c, ok := m.contacts[i]
		if !ok || c.Status == model.ContactStatusArchived {
			continue
		}
		if seg.Tag != "" && !c.HasTag(seg.Tag) {
			continue
		}
		if seg.MinScore > 0 && c.LeadScore < seg.MinScore {
			continue
		}
		if seg.City != "" && c.City != seg.City {
			continue
		}
		if seg.ContactedSince != nil && (c.LastContactAt == nil || c.LastContactAt.Before(*seg.ContactedSince)) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockContactRepo) CountCreatedSince(since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.contacts {
		if !c.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type mockMessageRepo struct {
	mu       sync.Mutex
	messages []*model.Message
	nextID   int
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{nextID: 1}
}

func (m *mockMessageRepo) Create(msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.nextID
	msg.CreatedAt = time.Now()
	m.nextID++
	stored := *msg
	m.messages = append(m.messages, &stored)
	return nil
}

func (m *mockMessageRepo) GetByID(id int) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, nil
}

func (m *mockMessageRepo) GetByChannelMessageID(channelMessageID string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].ChannelMessageID == channelMessageID {
			return m.messages[i], nil
		}
	}
	return nil, nil
}

func (m *mockMessageRepo) UpdateStatus(id int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			msg.Status = status
			return nil
		}
	}
	return fmt.Errorf("message %d not found", id)
}

func (m *mockMessageRepo) CountByDirectionSince(direction string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.messages {
		if msg.Direction == direction && !msg.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *mockMessageRepo) outbound() []*model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, msg := range m.messages {
		if msg.Direction == model.DirectionOutbound {
			out = append(out, msg)
		}
	}
	return out
}

type mockRuleRepo struct {
	mu    sync.Mutex
	rules []*model.AutomationRule
	runs  map[int]int
}

func newMockRuleRepo(rules ...*model.AutomationRule) *mockRuleRepo {
	return &mockRuleRepo{rules: rules, runs: map[int]int{}}
}

func (m *mockRuleRepo) ListActive() ([]*model.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*model.AutomationRule
	for _, r := range m.rules {
		if r.Active {
			active = append(active, r)
		}
	}
	return active, nil
}

func (m *mockRuleRepo) GetByID(id int) (*model.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("rule %d not found", id)
}

func (m *mockRuleRepo) MarkRun(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id]++
	return nil
}

type mockCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	finished  map[int][2]int // campaignID -> sent, failed
}

func newMockCampaignRepo(campaigns ...*model.Campaign) *mockCampaignRepo {
	m := &mockCampaignRepo{campaigns: map[int]*model.Campaign{}, finished: map[int][2]int{}}
	for _, c := range campaigns {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *mockCampaignRepo) ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}

func (m *mockCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d not found", id)
	}
	return c, nil
}

func (m *mockCampaignRepo) Create(c *model.Campaign) error { return nil }

func (m *mockCampaignRepo) UpdateStatus(campaignID int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[campaignID]; ok {
		c.Status = status
	}
	return nil
}

func (m *mockCampaignRepo) FinishBroadcast(campaignID, sent, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[campaignID] = [2]int{sent, failed}
	return nil
}

type mockRollupRepo struct {
	mu      sync.Mutex
	rollups []*model.AnalyticsRollup
}

func (m *mockRollupRepo) Create(r *model.AnalyticsRollup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollups = append(m.rollups, r)
	return nil
}

// --- Mock channel sender ---

type sentCall struct {
	Recipient string
	Text      string
}

type mockSender struct {
	mu    sync.Mutex
	sends []sentCall
	fail  map[string]bool // recipients whose sends error
	n     int
}

func (s *mockSender) Send(_ context.Context, recipient, text string) (*channel.SentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[recipient] {
		return nil, fmt.Errorf("send to %s failed", recipient)
	}
	s.n++
	s.sends = append(s.sends, sentCall{Recipient: recipient, Text: text})
	return &channel.SentMessage{ID: fmt.Sprintf("wamid-%d", s.n), Timestamp: time.Now()}, nil
}

func (s *mockSender) calls() []sentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentCall(nil), s.sends...)
}

func (s *mockSender) sentTo(recipient string) bool {
	for _, c := range s.calls() {
		if c.Recipient == recipient {
			return true
		}
	}
	return false
}

// --- Mock queue ---

type publishedJob struct {
	Topic   string
	Payload any
}

type mockQueue struct {
	mu        sync.Mutex
	published []publishedJob
}

func (q *mockQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedJob{Topic: topic, Payload: payload})
	return nil
}

func (q *mockQueue) Subscribe(topic string, handler func(payload any) error) error {
	return nil
}

func (q *mockQueue) jobs() []publishedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]publishedJob(nil), q.published...)
}

// --- Rule builders ---

func keywordRule(id, priority int, name string, keywords, replyText string) *model.AutomationRule {
	return &model.AutomationRule{
		ID:                id,
		Name:              name,
		Active:            true,
		Priority:          priority,
		TriggerType:       model.TriggerKeyword,
		TriggerConditions: []byte(`{"keywords": [` + quoteList(keywords) + `]}`),
		ActionType:        model.ActionSendMessage,
		ActionConfig:      []byte(`{"text": "` + replyText + `"}`),
	}
}

func quoteList(csv string) string {
	parts := strings.Split(csv, ",")
	for i, p := range parts {
		parts[i] = `"` + strings.TrimSpace(p) + `"`
	}
	return strings.Join(parts, ", ")
}
