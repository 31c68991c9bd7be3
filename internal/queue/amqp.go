package queue

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPQueue implements Queue over RabbitMQ for deployments that want retry
// jobs to survive a process restart. Payloads cross the wire as JSON, so
// subscribers receive json.RawMessage rather than the original value.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *logrus.Logger
}

func DialAMQP(url string, log *logrus.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, log: log}, nil
}

func (q *AMQPQueue) declare(topic string) (amqp.Queue, error) {
	return q.ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	queue, err := q.declare(topic)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return q.ch.Publish(
		"",
		queue.Name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// amqpMaxRetries bounds how often a failing job is redelivered before it is
// dropped.
const amqpMaxRetries = 3

// Subscribe consumes topic deliveries and feeds them to handler as
// json.RawMessage. A failing job is republished with a bumped retry header,
// up to amqpMaxRetries attempts, then dropped.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	queue, err := q.declare(topic)
	if err != nil {
		return err
	}
	msgs, err := q.ch.Consume(
		queue.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	go q.consume(topic, msgs, handler, func(retries int32, body []byte) error {
		return q.ch.Publish(
			"",
			queue.Name,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Headers:      amqp.Table{"x-retry-count": retries},
				Body:         body,
			},
		)
	})
	return nil
}

// consume drains deliveries. Redelivery cannot go through Nack-requeue: the
// broker restores the original message with its original headers, so the
// retry counter would never advance and a poison message would loop forever.
// Failed jobs are republished with the bumped counter and the original
// delivery is acked.
func (q *AMQPQueue) consume(topic string, msgs <-chan amqp.Delivery, handler func(payload any) error, republish func(retries int32, body []byte) error) {
	for d := range msgs {
		if err := handler(json.RawMessage(d.Body)); err != nil {
			retries, again := nextAttempt(d.Headers)
			if !again {
				q.log.WithField("topic", topic).WithError(err).Error("job permanently failed")
				_ = d.Ack(false)
				continue
			}
			if pubErr := republish(retries, d.Body); pubErr != nil {
				q.log.WithField("topic", topic).WithError(pubErr).Error("failed to requeue job")
				_ = d.Nack(false, true)
				continue
			}
			q.log.WithFields(logrus.Fields{
				"topic":   topic,
				"attempt": retries,
				"max":     amqpMaxRetries,
			}).WithError(err).Warn("job failed, requeued")
		}
		_ = d.Ack(false)
	}
}

// nextAttempt reads the delivery's retry counter and reports whether the job
// gets another attempt, returning the counter to stamp on the republished
// message.
func nextAttempt(headers amqp.Table) (int32, bool) {
	var count int32
	if v, ok := headers["x-retry-count"].(int32); ok {
		count = v
	}
	if count >= amqpMaxRetries {
		return count, false
	}
	return count + 1, true
}

func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		return err
	}
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
