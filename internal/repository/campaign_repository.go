package repository

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/danmuigai/waflow-backend/internal/errors"
	"github.com/danmuigai/waflow-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	GetByID(id int) (*model.Campaign, error)
	Create(c *model.Campaign) error
	UpdateStatus(campaignID int, status string) error
	FinishBroadcast(campaignID, sent, failed int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, channel, status, base_template, segment_tag, scheduled_at, sent_count, failed_count, created_at, updated_at`

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = "draft"
	}
	query := `
        INSERT INTO campaigns (name, channel, status, base_template, segment_tag, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	return r.DB.QueryRow(query, c.Name, c.Channel, c.Status, c.BaseTemplate, c.SegmentTag, c.ScheduledAt, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, status, time.Now(), campaignID)
	return err
}

// FinishBroadcast records the final counters and marks the campaign done.
func (r *CampaignRepository) FinishBroadcast(campaignID, sent, failed int) error {
	query := `UPDATE campaigns SET status='completed', sent_count=$1, failed_count=$2, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.Exec(query, sent, failed, campaignID)
	return err
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	var c model.Campaign
	err := r.DB.QueryRow(query, id).Scan(&c.ID, &c.Name, &c.Channel, &c.Status, &c.BaseTemplate,
		&c.SegmentTag, &c.ScheduledAt, &c.SentCount, &c.FailedCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if channel != "" {
		query += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Channel, &c.Status, &c.BaseTemplate,
			&c.SegmentTag, &c.ScheduledAt, &c.SentCount, &c.FailedCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	// Count total
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	argPosCount := 1
	if channel != "" {
		countQuery += fmt.Sprintf(" AND channel=$%d", argPosCount)
		argsCount = append(argsCount, channel)
		argPosCount++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
