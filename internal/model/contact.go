// internal/model/contact.go
package model

import "time"

// Contact lifecycle statuses.
const (
	ContactStatusNew      = "new"
	ContactStatusActive   = "active"
	ContactStatusArchived = "archived"
)

type Contact struct {
	ID            int        `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Phone         string     `db:"phone" json:"phone"`
	Status        string     `db:"status" json:"status"`
	LeadScore     int        `db:"lead_score" json:"lead_score"`
	Tags          []string   `db:"tags" json:"tags"`
	City          string     `db:"city" json:"city"`
	LastContactAt *time.Time `db:"last_contact_at" json:"last_contact_at,omitempty"`
	Source        string     `db:"source" json:"source"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// HasTag reports whether the contact carries the given segmentation tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
