// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrContactNotFound is a sentinel error
type ErrContactNotFound struct {
	ContactID int
	Phone     string
}

func (e *ErrContactNotFound) Error() string {
	if e.Phone != "" {
		return fmt.Sprintf("contact with phone %s not found", e.Phone)
	}
	return fmt.Sprintf("contact with ID %d not found", e.ContactID)
}

func NewContactNotFound(id int) error {
	return &ErrContactNotFound{ContactID: id}
}

func NewContactNotFoundByPhone(phone string) error {
	return &ErrContactNotFound{Phone: phone}
}

// ErrRuleNotFound is a sentinel error
type ErrRuleNotFound struct {
	RuleID int
}

func (e *ErrRuleNotFound) Error() string {
	return fmt.Sprintf("automation rule with ID %d not found", e.RuleID)
}

func NewRuleNotFound(id int) error {
	return &ErrRuleNotFound{RuleID: id}
}
