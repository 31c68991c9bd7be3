// internal/service/broadcaster.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/danmuigai/waflow-backend/internal/queue"
	"github.com/danmuigai/waflow-backend/internal/ratelimit"
	"github.com/danmuigai/waflow-backend/internal/repository"
)

// BroadcastResult summarizes one bulk run.
type BroadcastResult struct {
	RunID     string `json:"run_id"`
	Attempted int    `json:"attempted"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// Broadcaster sends personalized messages to a contact segment, one at a
// time with a delay between sends so bulk traffic looks organic and stays
// under channel limits.
type Broadcaster struct {
	Contacts  repository.ContactRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Messages  *MessageService
	Limiter   *ratelimit.Limiter
	Sender    Sender
	Queue     queue.Queue
	Log       *logrus.Logger

	// DefaultDelay applies when the caller passes no per-run delay.
	DefaultDelay time.Duration
}

// SendToSegment resolves the segment, renders the template per contact and
// sends sequentially. One recipient failing never aborts the run: send
// errors are counted and the loop moves on. Rate-limited recipients are
// skipped for this pass and queued for a delayed retry. When campaignID is
// set the campaign row gets the final counters and a completed status.
func (b *Broadcaster) SendToSegment(ctx context.Context, campaignID *int, seg repository.SegmentFilter, template string, delay time.Duration) (*BroadcastResult, error) {
	if delay <= 0 {
		delay = b.DefaultDelay
	}

	contacts, err := b.Contacts.ListBySegment(seg)
	if err != nil {
		return nil, fmt.Errorf("resolve segment: %w", err)
	}

	res := &BroadcastResult{RunID: uuid.NewString()}
	b.Log.WithFields(logrus.Fields{
		"run_id":     res.RunID,
		"recipients": len(contacts),
		"delay":      delay.String(),
	}).Info("broadcast started")

	for i := range contacts {
		c := &contacts[i]
		res.Attempted++
		text := RenderTemplate(template, ContactData(c))

		if !b.Limiter.Admit(c.Phone) {
			res.Skipped++
			job := queue.SendRetryJob{
				JobID:     uuid.NewString(),
				Recipient: c.Phone,
				Body:      text,
				ContactID: &c.ID,
			}
			if err := b.Queue.Publish(queue.TopicSendRetries, job); err != nil {
				b.Log.WithError(err).Error("failed to queue rate-limited broadcast send")
			}
		} else if sent, err := b.Sender.Send(ctx, c.Phone, text); err != nil {
			res.Failed++
			b.Log.WithFields(logrus.Fields{
				"run_id":     res.RunID,
				"contact_id": c.ID,
			}).WithError(err).Warn("broadcast send failed, continuing")
		} else {
			res.Sent++
			if _, err := b.Messages.RecordOutbound(&c.ID, c.Phone, text, nil, sent); err != nil {
				b.Log.WithError(err).Warn("failed to record broadcast message")
			}
		}

		if i < len(contacts)-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				b.Log.WithField("run_id", res.RunID).Warn("broadcast cancelled mid-run")
				b.finish(campaignID, res)
				return res, ctx.Err()
			}
		}
	}

	b.finish(campaignID, res)
	b.Log.WithFields(logrus.Fields{
		"run_id":  res.RunID,
		"sent":    res.Sent,
		"failed":  res.Failed,
		"skipped": res.Skipped,
	}).Info("broadcast finished")
	return res, nil
}

func (b *Broadcaster) finish(campaignID *int, res *BroadcastResult) {
	if campaignID == nil {
		return
	}
	if err := b.Campaigns.FinishBroadcast(*campaignID, res.Sent, res.Failed); err != nil {
		b.Log.WithField("campaign_id", *campaignID).WithError(err).Error("failed to finalize campaign")
	}
}
