// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danmuigai/waflow-backend/internal/model"
	"github.com/danmuigai/waflow-backend/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	Broadcaster  *Broadcaster
	Log          *logrus.Logger
}

// Result struct for SendCampaign
type SendCampaignResult struct {
	CampaignID int    `json:"campaign_id"`
	Status     string `json:"status"`
	SegmentTag string `json:"segment_tag"`
	Recipients int    `json:"recipients"`
}

func (s *CampaignService) CreateCampaign(name, channel, baseTemplate, segmentTag string, scheduledAt *string) (*model.Campaign, error) {
	c := &model.Campaign{
		Name:         name,
		Channel:      channel,
		BaseTemplate: baseTemplate,
		SegmentTag:   segmentTag,
		Status:       "draft",
	}

	if scheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *scheduledAt)
		if err != nil {
			return nil, err
		}
		c.ScheduledAt = &t
	}

	if err := s.CampaignRepo.Create(c); err != nil {
		return nil, err
	}

	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetails fetches a campaign by ID
func (s *CampaignService) GetCampaignDetails(id int) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(id)
}

// RenderPreview renders the campaign template against one contact, with an
// optional override template.
func (s *CampaignService) RenderPreview(campaignID, contactID int, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return "", err
	}

	contact, err := s.ContactRepo.GetByID(contactID)
	if err != nil {
		return "", err
	}
	if contact == nil {
		return "", fmt.Errorf("contact not found")
	}

	template := campaign.BaseTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("template cannot be empty")
	}

	return RenderTemplate(template, ContactData(contact)), nil
}

// SendCampaign kicks off a paced broadcast to the campaign's segment. The
// broadcast runs in the background; the campaign row moves to "sending"
// immediately and to "completed" with final counters when the run ends.
func (s *CampaignService) SendCampaign(campaignID int) (*SendCampaignResult, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	if campaign.Status != "draft" && campaign.Status != "scheduled" {
		return nil, fmt.Errorf("campaign cannot be sent in status: %s", campaign.Status)
	}

	seg := repository.SegmentFilter{Tag: campaign.SegmentTag}
	contacts, err := s.ContactRepo.ListBySegment(seg)
	if err != nil {
		return nil, err
	}

	if err := s.CampaignRepo.UpdateStatus(campaignID, "sending"); err != nil {
		return nil, err
	}

	go func() {
		if _, err := s.Broadcaster.SendToSegment(context.Background(), &campaign.ID, seg, campaign.BaseTemplate, 0); err != nil {
			s.Log.WithField("campaign_id", campaign.ID).WithError(err).Error("campaign broadcast aborted")
		}
	}()

	return &SendCampaignResult{
		CampaignID: campaignID,
		Status:     "sending",
		SegmentTag: campaign.SegmentTag,
		Recipients: len(contacts),
	}, nil
}
