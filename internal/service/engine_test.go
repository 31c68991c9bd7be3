package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/danmuigai/waflow-backend/internal/model"
	"github.com/danmuigai/waflow-backend/internal/ratelimit"
)

func TestRetryQueueRedeliversDeclinedSend(t *testing.T) {
	rules := []*model.AutomationRule{
		keywordRule(1, 1, "greeting", "hello", "Hi {name}!"),
	}
	contact := &model.Contact{ID: 3, Name: "Carol", Phone: "254700555666"}
	f := newRuleEngineFixture(t, rules, contact)
	f.engine.Limiter = ratelimit.NewLimiter(1)

	msg := &model.Message{ID: 7, Body: "hello", Direction: model.DirectionInbound}
	f.engine.HandleInbound(context.Background(), msg, contact)
	f.engine.HandleInbound(context.Background(), msg, contact)

	jobs := f.queue.jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(jobs))
	}

	eng := &Engine{Rules: f.engine, Log: testLog(), RetryDelay: time.Millisecond}

	// Still at the ceiling: the retry goes back on the queue, never dropped.
	if err := eng.handleSendRetry(jobs[0].Payload); err != nil {
		t.Fatalf("handleSendRetry: %v", err)
	}
	if got := len(f.queue.jobs()); got != 2 {
		t.Fatalf("declined retry must re-queue, got %d jobs", got)
	}
	if got := len(f.sender.calls()); got != 1 {
		t.Fatalf("expected no delivery while rate limited, got %d sends", got)
	}

	// Window opens: the retry delivers, and over the broker the job arrives
	// as raw JSON rather than the typed value.
	f.engine.Limiter = ratelimit.NewLimiter(1)
	raw, err := json.Marshal(jobs[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.handleSendRetry(json.RawMessage(raw)); err != nil {
		t.Fatalf("handleSendRetry: %v", err)
	}

	calls := f.sender.calls()
	if len(calls) != 2 {
		t.Fatalf("expected retried send to deliver, got %d sends", len(calls))
	}
	if calls[1].Recipient != contact.Phone || calls[1].Text != "Hi Carol!" {
		t.Errorf("retried send mismatched: %+v", calls[1])
	}

	out := f.messages.outbound()
	last := out[len(out)-1]
	if last.InResponseTo == nil || *last.InResponseTo != 7 {
		t.Errorf("retried send lost its reply link, got %v", last.InResponseTo)
	}
}

func TestSendRetryDiscardsMalformedJob(t *testing.T) {
	f := newRuleEngineFixture(t, nil)
	eng := &Engine{Rules: f.engine, Log: testLog(), RetryDelay: time.Millisecond}

	if err := eng.handleSendRetry(json.RawMessage(`{"job_id": `)); err != nil {
		t.Fatalf("malformed job must be discarded without error, got %v", err)
	}
	if err := eng.handleSendRetry(42); err != nil {
		t.Fatalf("unknown payload type must be discarded without error, got %v", err)
	}
	if len(f.sender.calls()) != 0 {
		t.Errorf("nothing should be sent")
	}
}
