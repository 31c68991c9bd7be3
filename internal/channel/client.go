// Package channel owns the messaging-channel session: the client adapter
// speaking the wire protocol and the manager supervising its lifecycle.
package channel

import (
	"context"
	"time"
)

// EventKind discriminates channel events.
type EventKind string

const (
	EventReady         EventKind = "ready"
	EventAuthenticated EventKind = "authenticated"
	EventAuthFailure   EventKind = "auth_failure"
	EventDisconnected  EventKind = "disconnected"
	EventMessage       EventKind = "message"
	EventAck           EventKind = "ack"
)

// Ack levels reported by the channel for an outbound message.
const (
	AckSent      = "sent"
	AckDelivered = "delivered"
	AckRead      = "read"
	AckPlayed    = "played"
	AckFailed    = "failed"
)

// InboundMessage is one message received from the channel.
type InboundMessage struct {
	NativeID        string    `json:"native_id"`
	Sender          string    `json:"sender"` // phone identifier
	SenderName      string    `json:"sender_name,omitempty"`
	Body            string    `json:"body"`
	Timestamp       time.Time `json:"timestamp"`
	HasMedia        bool      `json:"has_media"`
	ReplyToNativeID string    `json:"reply_to_native_id,omitempty"`
}

// AckEvent is a delivery acknowledgment for a previously sent message.
type AckEvent struct {
	NativeID string `json:"native_id"`
	Level    string `json:"level"`
}

// Event is the sum of everything the channel can report. Kind selects which
// payload field is set.
type Event struct {
	Kind    EventKind
	Reason  string
	Message *InboundMessage
	Ack     *AckEvent
}

// SentMessage is the channel's receipt for an outbound send.
type SentMessage struct {
	ID        string
	Timestamp time.Time
}

// Client is the messaging-channel collaborator. Connect begins
// authentication and returns once the session is being established; progress
// and inbound traffic arrive on Events.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(ctx context.Context, recipient, text string) (*SentMessage, error)
	Events() <-chan Event
}
