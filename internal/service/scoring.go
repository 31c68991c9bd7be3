// internal/service/scoring.go
package service

import (
	"github.com/sirupsen/logrus"

	appErrors "github.com/danmuigai/waflow-backend/internal/errors"
	"github.com/danmuigai/waflow-backend/internal/repository"
)

// MaxLeadScore is the upper bound of a contact's lead score.
const MaxLeadScore = 100

// scoreDeltas maps engagement event names to point deltas. Unknown events
// contribute 0 and are not persisted. Scores only ever go up; there is no
// decay.
var scoreDeltas = map[string]int{
	"message_sent":    5,
	"message_replied": 10,
	"website_visit":   15,
	"form_submitted":  20,
	"email_opened":    3,
}

// ScoringService applies bounded point deltas to contact lead scores.
type ScoringService struct {
	Contacts repository.ContactRepositoryInterface
	Log      *logrus.Logger
}

// ApplyEvent adds the event's delta to the contact's score, clamped to
// [0, MaxLeadScore], and returns the resulting score.
func (s *ScoringService) ApplyEvent(contactID int, event string) (int, error) {
	delta := scoreDeltas[event]

	contact, err := s.Contacts.GetByID(contactID)
	if err != nil {
		return 0, err
	}
	if contact == nil {
		return 0, appErrors.NewContactNotFound(contactID)
	}

	if delta == 0 {
		// Unknown or zero-valued event: no write.
		return contact.LeadScore, nil
	}

	newScore := contact.LeadScore + delta
	if newScore > MaxLeadScore {
		newScore = MaxLeadScore
	}
	if newScore == contact.LeadScore {
		return contact.LeadScore, nil
	}

	if err := s.Contacts.UpdateScore(contactID, newScore); err != nil {
		return contact.LeadScore, err
	}
	s.Log.WithFields(logrus.Fields{
		"contact_id": contactID,
		"event":      event,
		"score":      newScore,
	}).Debug("lead score updated")
	return newScore, nil
}
