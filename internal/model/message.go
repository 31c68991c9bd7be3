// internal/model/message.go
package model

import "time"

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery statuses.
const (
	MessageStatusPending   = "pending"
	MessageStatusReceived  = "received"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

type Message struct {
	ID               int        `db:"id" json:"id"`
	ContactID        *int       `db:"contact_id" json:"contact_id,omitempty"`
	Direction        string     `db:"direction" json:"direction"`
	Body             string     `db:"body" json:"body"`
	Kind             string     `db:"kind" json:"kind"` // text, media
	Status           string     `db:"status" json:"status"`
	ChannelMessageID string     `db:"channel_message_id" json:"channel_message_id,omitempty"`
	ChannelTimestamp *time.Time `db:"channel_timestamp" json:"channel_timestamp,omitempty"`
	HasMedia         bool       `db:"has_media" json:"has_media"`
	InResponseTo     *int       `db:"in_response_to" json:"in_response_to,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}
