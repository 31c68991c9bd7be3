// internal/service/message_service.go
package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/danmuigai/waflow-backend/internal/channel"
	"github.com/danmuigai/waflow-backend/internal/model"
	"github.com/danmuigai/waflow-backend/internal/repository"
)

// MessageService persists inbound/outbound messages and keeps contact
// records in step with traffic.
type MessageService struct {
	Messages repository.MessageRepositoryInterface
	Contacts repository.ContactRepositoryInterface
	Log      *logrus.Logger
}

// Ingest resolves (or creates) the contact for an inbound message, persists
// the message and stamps the contact's last-contact time. A phone identifier
// seen for the first time creates exactly one contact with status "new" and
// score 0; repeats reuse the existing row.
func (s *MessageService) Ingest(in channel.InboundMessage) (*model.Message, *model.Contact, error) {
	contact, created, err := s.Contacts.CreateIfNotExists(in.Sender, in.SenderName, "whatsapp_inbound", 0)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve contact for %s: %w", in.Sender, err)
	}
	if created {
		s.Log.WithFields(logrus.Fields{
			"contact_id": contact.ID,
			"phone":      contact.Phone,
		}).Info("new contact created from inbound message")
	}

	kind := "text"
	if in.HasMedia {
		kind = "media"
	}

	var inResponseTo *int
	if in.ReplyToNativeID != "" {
		if quoted, err := s.Messages.GetByChannelMessageID(in.ReplyToNativeID); err == nil && quoted != nil {
			inResponseTo = &quoted.ID
		}
	}

	ts := in.Timestamp
	msg := &model.Message{
		ContactID:        &contact.ID,
		Direction:        model.DirectionInbound,
		Body:             in.Body,
		Kind:             kind,
		Status:           model.MessageStatusReceived,
		ChannelMessageID: in.NativeID,
		ChannelTimestamp: &ts,
		HasMedia:         in.HasMedia,
		InResponseTo:     inResponseTo,
	}
	if err := s.Messages.Create(msg); err != nil {
		return nil, nil, fmt.Errorf("persist inbound message: %w", err)
	}

	if err := s.Contacts.TouchLastContact(contact.ID); err != nil {
		s.Log.WithError(err).Warn("failed to update last-contact timestamp")
	}

	return msg, contact, nil
}

// RecordOutbound persists a sent message. Replies carry in_response_to
// pointing at the inbound message that triggered them.
func (s *MessageService) RecordOutbound(contactID *int, recipient, body string, inResponseTo *int, sent *channel.SentMessage) (*model.Message, error) {
	msg := &model.Message{
		ContactID:    contactID,
		Direction:    model.DirectionOutbound,
		Body:         body,
		Kind:         "text",
		Status:       model.MessageStatusSent,
		InResponseTo: inResponseTo,
	}
	if sent != nil {
		msg.ChannelMessageID = sent.ID
		ts := sent.Timestamp
		msg.ChannelTimestamp = &ts
	}
	if contactID == nil {
		// Sends to ad-hoc recipients still resolve a contact when one exists.
		if c, err := s.Contacts.GetByPhone(recipient); err == nil && c != nil {
			msg.ContactID = &c.ID
		}
	}
	if err := s.Messages.Create(msg); err != nil {
		return nil, fmt.Errorf("persist outbound message: %w", err)
	}
	return msg, nil
}

// ackStatuses maps channel acknowledgment levels onto message statuses.
var ackStatuses = map[string]string{
	channel.AckSent:      model.MessageStatusSent,
	channel.AckDelivered: model.MessageStatusDelivered,
	channel.AckRead:      model.MessageStatusRead,
	channel.AckPlayed:    model.MessageStatusRead,
	channel.AckFailed:    model.MessageStatusFailed,
}

// UpdateDeliveryStatus applies a delivery acknowledgment. Unknown message
// ids and unknown levels are logged and skipped, never fatal.
func (s *MessageService) UpdateDeliveryStatus(channelMessageID, ackLevel string) {
	status, ok := ackStatuses[ackLevel]
	if !ok {
		s.Log.WithField("level", ackLevel).Debug("ignoring unknown ack level")
		return
	}

	msg, err := s.Messages.GetByChannelMessageID(channelMessageID)
	if err != nil {
		s.Log.WithError(err).Warn("failed to look up message for ack")
		return
	}
	if msg == nil {
		s.Log.WithField("channel_message_id", channelMessageID).Debug("ack for unknown message, skipping")
		return
	}

	if err := s.Messages.UpdateStatus(msg.ID, status); err != nil {
		s.Log.WithError(err).Warn("failed to update delivery status")
	}
}
