// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/danmuigai/waflow-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string  `json:"name"`
		Channel      string  `json:"channel"`
		BaseTemplate string  `json:"base_template"`
		SegmentTag   string  `json:"segment_tag"`
		ScheduledAt  *string `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(body.Name, body.Channel, body.BaseTemplate, body.SegmentTag, body.ScheduledAt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	campaigns, pagination, err := c.CampaignService.ListCampaigns(page, pageSize, channel, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, _ := strconv.Atoi(idStr)

	campaign, err := c.CampaignService.GetCampaignDetails(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignIDStr := chi.URLParam(r, "id")
	campaignID, _ := strconv.Atoi(campaignIDStr)

	var body struct {
		ContactID        int     `json:"contact_id"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(campaignID, body.ContactID, body.OverrideTemplate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"contact_id":       body.ContactID,
	})
}

// SendCampaign starts a paced broadcast to the campaign's segment and
// returns immediately; progress lands on the campaign row.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, _ := strconv.Atoi(idStr)

	result, err := c.CampaignService.SendCampaign(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(result)
}
