package service

import (
	"context"
	"testing"
	"time"

	"github.com/danmuigai/waflow-backend/internal/model"
	"github.com/danmuigai/waflow-backend/internal/ratelimit"
	"github.com/danmuigai/waflow-backend/internal/repository"
)

func newTestBroadcaster(contacts *mockContactRepo, campaigns *mockCampaignRepo, sender *mockSender, limiter *ratelimit.Limiter, q *mockQueue) *Broadcaster {
	log := testLog()
	return &Broadcaster{
		Contacts:     contacts,
		Campaigns:    campaigns,
		Messages:     &MessageService{Messages: newMockMessageRepo(), Contacts: contacts, Log: log},
		Limiter:      limiter,
		Sender:       sender,
		Queue:        q,
		Log:          log,
		DefaultDelay: time.Millisecond,
	}
}

func TestBroadcastContinuesAfterSendFailure(t *testing.T) {
	contacts := newMockContactRepo(
		&model.Contact{ID: 1, Name: "A", Phone: "254700000001", Tags: []string{"vip"}},
		&model.Contact{ID: 2, Name: "B", Phone: "254700000002", Tags: []string{"vip"}},
		&model.Contact{ID: 3, Name: "C", Phone: "254700000003", Tags: []string{"vip"}},
	)
	campaigns := newMockCampaignRepo(&model.Campaign{ID: 9, SegmentTag: "vip"})
	sender := &mockSender{fail: map[string]bool{"254700000002": true}}
	q := &mockQueue{}
	b := newTestBroadcaster(contacts, campaigns, sender, ratelimit.NewLimiter(20), q)

	campaignID := 9
	res, err := b.SendToSegment(context.Background(), &campaignID, repository.SegmentFilter{Tag: "vip"}, "Hi {name}", time.Millisecond)
	if err != nil {
		t.Fatalf("SendToSegment: %v", err)
	}

	if res.Attempted != 3 || res.Sent != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !sender.sentTo("254700000001") || !sender.sentTo("254700000003") {
		t.Errorf("later recipients must still be attempted after a failure")
	}
	if got := campaigns.finished[9]; got != [2]int{2, 1} {
		t.Errorf("campaign counters not finalized, got %v", got)
	}
}

func TestBroadcastPersonalizesPerContact(t *testing.T) {
	contacts := newMockContactRepo(
		&model.Contact{ID: 1, Name: "Alice", Phone: "254700000001", City: "Nairobi", Tags: []string{"vip"}},
	)
	sender := &mockSender{}
	b := newTestBroadcaster(contacts, newMockCampaignRepo(), sender, ratelimit.NewLimiter(20), &mockQueue{})

	_, err := b.SendToSegment(context.Background(), nil, repository.SegmentFilter{Tag: "vip"}, "Hi {name} from {city}", 0)
	if err != nil {
		t.Fatalf("SendToSegment: %v", err)
	}

	calls := sender.calls()
	if len(calls) != 1 || calls[0].Text != "Hi Alice from Nairobi" {
		t.Errorf("template not rendered per contact: %v", calls)
	}
}

func TestBroadcastSkipsRateLimitedRecipients(t *testing.T) {
	// Ceiling of 1 against the same recipient would not trip across distinct
	// phones, so pre-exhaust one recipient's quota.
	limiter := ratelimit.NewLimiter(1)
	limiter.Admit("254700000002")

	contacts := newMockContactRepo(
		&model.Contact{ID: 1, Name: "A", Phone: "254700000001", Tags: []string{"vip"}},
		&model.Contact{ID: 2, Name: "B", Phone: "254700000002", Tags: []string{"vip"}},
	)
	sender := &mockSender{}
	q := &mockQueue{}
	b := newTestBroadcaster(contacts, newMockCampaignRepo(), sender, limiter, q)

	res, err := b.SendToSegment(context.Background(), nil, repository.SegmentFilter{Tag: "vip"}, "Hello", time.Millisecond)
	if err != nil {
		t.Fatalf("SendToSegment: %v", err)
	}

	if res.Sent != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(q.jobs()) != 1 {
		t.Errorf("skipped recipient must be queued for retry, got %d jobs", len(q.jobs()))
	}
}

func TestBroadcastExcludesArchivedAndFiltersSegment(t *testing.T) {
	contacts := newMockContactRepo(
		&model.Contact{ID: 1, Name: "A", Phone: "254700000001", Tags: []string{"vip"}, LeadScore: 80},
		&model.Contact{ID: 2, Name: "B", Phone: "254700000002", Tags: []string{"vip"}, LeadScore: 10},
		&model.Contact{ID: 3, Name: "C", Phone: "254700000003", Tags: []string{"vip"}, LeadScore: 90, Status: model.ContactStatusArchived},
		&model.Contact{ID: 4, Name: "D", Phone: "254700000004", Tags: []string{"other"}, LeadScore: 90},
	)
	sender := &mockSender{}
	b := newTestBroadcaster(contacts, newMockCampaignRepo(), sender, ratelimit.NewLimiter(20), &mockQueue{})

	res, err := b.SendToSegment(context.Background(), nil, repository.SegmentFilter{Tag: "vip", MinScore: 50}, "Hi", time.Millisecond)
	if err != nil {
		t.Fatalf("SendToSegment: %v", err)
	}

	if res.Attempted != 1 || !sender.sentTo("254700000001") {
		t.Errorf("segment filter wrong, result %+v calls %v", res, sender.calls())
	}
}
