package repository

import (
	"database/sql"
	"time"

	"github.com/danmuigai/waflow-backend/internal/model"
)

// MessageRepositoryInterface defines the message access used by services.
type MessageRepositoryInterface interface {
	Create(msg *model.Message) error
	GetByID(id int) (*model.Message, error)
	GetByChannelMessageID(channelMessageID string) (*model.Message, error)
	UpdateStatus(id int, status string) error
	CountByDirectionSince(direction string, since time.Time) (int, error)
}

type MessageRepository struct {
	DB *sql.DB
}

func (r *MessageRepository) Create(msg *model.Message) error {
	msg.CreatedAt = time.Now()
	query := `
        INSERT INTO messages
        (contact_id, direction, body, kind, status, channel_message_id, channel_timestamp, has_media, in_response_to, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	return r.DB.QueryRow(
		query,
		msg.ContactID,
		msg.Direction,
		msg.Body,
		msg.Kind,
		msg.Status,
		msg.ChannelMessageID,
		msg.ChannelTimestamp,
		msg.HasMedia,
		msg.InResponseTo,
		msg.CreatedAt,
	).Scan(&msg.ID)
}

const messageColumns = `id, contact_id, direction, body, kind, status, channel_message_id, channel_timestamp, has_media, in_response_to, created_at`

func scanMessage(row *sql.Row) (*model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.ContactID, &m.Direction, &m.Body, &m.Kind, &m.Status,
		&m.ChannelMessageID, &m.ChannelTimestamp, &m.HasMedia, &m.InResponseTo, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) GetByID(id int) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	return scanMessage(r.DB.QueryRow(query, id))
}

func (r *MessageRepository) GetByChannelMessageID(channelMessageID string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE channel_message_id=$1 ORDER BY id DESC LIMIT 1`
	return scanMessage(r.DB.QueryRow(query, channelMessageID))
}

func (r *MessageRepository) UpdateStatus(id int, status string) error {
	query := `UPDATE messages SET status=$1 WHERE id=$2`
	_, err := r.DB.Exec(query, status, id)
	return err
}

func (r *MessageRepository) CountByDirectionSince(direction string, since time.Time) (int, error) {
	var count int
	err := r.DB.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE direction=$1 AND created_at >= $2`,
		direction, since,
	).Scan(&count)
	return count, err
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
