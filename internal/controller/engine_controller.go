// internal/controller/engine_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/danmuigai/waflow-backend/internal/channel"
	"github.com/danmuigai/waflow-backend/internal/repository"
	"github.com/danmuigai/waflow-backend/internal/service"
)

// EngineController exposes the automation engine over HTTP: external event
// ingestion, rule reloads, channel status and contact lookups.
type EngineController struct {
	Rules    *service.RuleEngine
	Scoring  *service.ScoringService
	Contacts repository.ContactRepositoryInterface
	Manager  *channel.Manager
}

// IngestEvent accepts an external engagement event. When the event carries a
// phone that resolves to a contact the lead score is bumped first, then every
// matching event rule fires.
func (c *EngineController) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventType string         `json:"event_type"`
		Phone     string         `json:"phone"`
		Data      map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.EventType == "" {
		http.Error(w, "event_type is required", http.StatusBadRequest)
		return
	}

	data := body.Data
	if data == nil {
		data = map[string]any{}
	}
	data["event_type"] = body.EventType
	if body.Phone != "" {
		data["phone"] = body.Phone
	}

	resp := map[string]interface{}{"event_type": body.EventType}

	if body.Phone != "" {
		contact, err := c.Contacts.GetByPhone(body.Phone)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if contact != nil {
			score, err := c.Scoring.ApplyEvent(contact.ID, body.EventType)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			resp["contact_id"] = contact.ID
			resp["lead_score"] = score
		}
	}

	resp["matched_rules"] = c.Rules.ProcessEventTrigger(r.Context(), body.EventType, data)
	json.NewEncoder(w).Encode(resp)
}

func (c *EngineController) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := c.Rules.LoadRules(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "reloaded",
		"scheduled_jobs": c.Rules.ScheduledJobCount(),
	})
}

func (c *EngineController) Status(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"channel_status": c.Manager.Status(),
		"scheduled_jobs": c.Rules.ScheduledJobCount(),
	})
}

// ListContacts returns contacts matching the segment query parameters
// (tag, city, min_score, contacted_days).
func (c *EngineController) ListContacts(w http.ResponseWriter, r *http.Request) {
	seg := repository.SegmentFilter{
		Tag:  r.URL.Query().Get("tag"),
		City: r.URL.Query().Get("city"),
	}
	if ms, err := strconv.Atoi(r.URL.Query().Get("min_score")); err == nil {
		seg.MinScore = ms
	}
	if days, err := strconv.Atoi(r.URL.Query().Get("contacted_days")); err == nil && days > 0 {
		since := time.Now().AddDate(0, 0, -days)
		seg.ContactedSince = &since
	}

	contacts, err := c.Contacts.ListBySegment(seg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  contacts,
		"count": len(contacts),
	})
}

func (c *EngineController) GetContact(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid contact id", http.StatusBadRequest)
		return
	}

	contact, err := c.Contacts.GetByID(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if contact == nil {
		http.Error(w, "contact not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(contact)
}
