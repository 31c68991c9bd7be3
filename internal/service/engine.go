// internal/service/engine.go
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danmuigai/waflow-backend/internal/channel"
	"github.com/danmuigai/waflow-backend/internal/model"
	"github.com/danmuigai/waflow-backend/internal/queue"
)

// Engine wires the channel session to the automation pipeline: inbound
// messages become persisted contacts and messages, bump lead scores and run
// keyword rules; delivery acks update message status; declined sends come
// back through the retry queue after a cooldown.
type Engine struct {
	Manager   *channel.Manager
	Messages  *MessageService
	Rules     *RuleEngine
	Scoring   *ScoringService
	Analytics *AnalyticsService
	Queue     queue.Queue
	Log       *logrus.Logger

	ReloadInterval time.Duration
	RetryDelay     time.Duration
	HourlyTick     time.Duration
	DailyTick      time.Duration

	stop      chan struct{}
	pumpDone  chan struct{}
	fatal     chan struct{}
	fatalOnce sync.Once
	stopOnce  sync.Once
}

// Start connects the channel and launches the event pump, the periodic rule
// reloader and the rollup tickers. It returns once the session handshake is
// underway; readiness arrives asynchronously.
func (e *Engine) Start(ctx context.Context) error {
	e.stop = make(chan struct{})
	e.pumpDone = make(chan struct{})
	e.fatal = make(chan struct{})

	if err := e.Queue.Subscribe(queue.TopicSendRetries, e.handleSendRetry); err != nil {
		return err
	}

	if err := e.Manager.Connect(ctx); err != nil {
		return err
	}

	if err := e.Rules.LoadRules(ctx); err != nil {
		// Not fatal: the reload ticker keeps trying.
		e.Log.WithError(err).Error("initial rule load failed")
	}

	go e.pump(ctx)
	go e.reloadLoop(ctx)
	go e.rollupLoop()
	return nil
}

// Stop shuts everything down in order: timers, cron jobs, then the channel
// session.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.Rules.Stop()
		e.Manager.Stop()
		<-e.pumpDone
		e.Log.Info("engine stopped")
	})
}

// Fatal closes when the engine hits an unrecoverable condition, such as an
// authentication failure that requires operator action.
func (e *Engine) Fatal() <-chan struct{} {
	return e.fatal
}

func (e *Engine) pump(ctx context.Context) {
	defer close(e.pumpDone)
	for {
		select {
		case <-e.stop:
			return
		case ev, ok := <-e.Manager.Events():
			if !ok {
				return
			}
			e.handleChannelEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleChannelEvent(ctx context.Context, ev channel.Event) {
	switch ev.Kind {
	case channel.EventMessage:
		if ev.Message != nil {
			e.handleInbound(ctx, *ev.Message)
		}
	case channel.EventAck:
		if ev.Ack != nil {
			e.Messages.UpdateDeliveryStatus(ev.Ack.NativeID, ev.Ack.Level)
		}
	case channel.EventAuthFailure:
		e.Log.Error("channel authentication failed, engine halting intake")
		e.fatalOnce.Do(func() { close(e.fatal) })
	}
}

func (e *Engine) handleInbound(ctx context.Context, in channel.InboundMessage) {
	msg, contact, err := e.Messages.Ingest(in)
	if err != nil {
		e.Log.WithError(err).Error("failed to ingest inbound message")
		return
	}
	if _, err := e.Scoring.ApplyEvent(contact.ID, "message_replied"); err != nil {
		e.Log.WithField("contact_id", contact.ID).WithError(err).Warn("failed to score inbound reply")
	}
	e.Rules.HandleInbound(ctx, msg, contact)
}

// handleSendRetry re-attempts a send that was declined by the rate limiter.
// It waits out the cooldown first, then goes through normal admission again;
// a second decline re-queues the job, so a send is delayed but never lost.
func (e *Engine) handleSendRetry(payload any) error {
	var job queue.SendRetryJob
	switch p := payload.(type) {
	case queue.SendRetryJob:
		job = p
	case json.RawMessage:
		if err := json.Unmarshal(p, &job); err != nil {
			e.Log.WithError(err).Error("malformed send retry job, discarding")
			return nil
		}
	case []byte:
		if err := json.Unmarshal(p, &job); err != nil {
			e.Log.WithError(err).Error("malformed send retry job, discarding")
			return nil
		}
	default:
		e.Log.Errorf("unexpected send retry payload type %T, discarding", payload)
		return nil
	}

	select {
	case <-e.stop:
		return nil
	case <-time.After(e.RetryDelay):
	}

	e.Log.WithFields(logrus.Fields{
		"job_id":    job.JobID,
		"recipient": job.Recipient,
	}).Info("retrying rate-limited send")
	return e.Rules.deliver(context.Background(), job.Recipient, job.Body, job.ContactID, job.InResponseTo)
}

func (e *Engine) reloadLoop(ctx context.Context) {
	ticker := time.NewTicker(e.ReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.Rules.LoadRules(ctx); err != nil {
				e.Log.WithError(err).Error("periodic rule reload failed")
			}
		}
	}
}

func (e *Engine) rollupLoop() {
	hourly := time.NewTicker(e.HourlyTick)
	daily := time.NewTicker(e.DailyTick)
	defer hourly.Stop()
	defer daily.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-hourly.C:
			if err := e.Analytics.Rollup(model.PeriodHourly, e.HourlyTick); err != nil {
				e.Log.WithError(err).Error("hourly rollup failed")
			}
		case <-daily.C:
			if err := e.Analytics.Rollup(model.PeriodDaily, e.DailyTick); err != nil {
				e.Log.WithError(err).Error("daily rollup failed")
			}
		}
	}
}
