package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Topic for outbound sends declined by the rate limiter.
const TopicSendRetries = "send_retries"

// SendRetryJob is a rate-limited outbound send waiting for another attempt.
type SendRetryJob struct {
	JobID        string `json:"job_id"`
	Recipient    string `json:"recipient"`
	Body         string `json:"body"`
	ContactID    *int   `json:"contact_id,omitempty"`
	InResponseTo *int   `json:"in_response_to,omitempty"`
}

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue is an in-process queue with bounded retry.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	log      *logrus.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *logrus.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(payload any) error),
		log:      log,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := JobPayload{
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: 3,
	}

	for _, handler := range handlers {
		go q.processJob(topic, handler, job)
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(topic string, handler func(payload any) error, job JobPayload) {
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			return // ACK
		}

		job.RetryCount++
		q.log.WithFields(logrus.Fields{
			"topic":   topic,
			"attempt": job.RetryCount,
			"max":     job.MaxRetries,
		}).WithError(err).Warn("queue job failed")

		if job.RetryCount > job.MaxRetries {
			q.log.WithField("topic", topic).Error("queue job permanently failed")
			return // No requeue
		}

		// Exponential backoff before retry
		time.Sleep(time.Duration(job.RetryCount*500) * time.Millisecond)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
