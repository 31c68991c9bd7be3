package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/danmuigai/waflow-backend/internal/model"
)

// ContactRepositoryInterface defines the contact access used by services.
type ContactRepositoryInterface interface {
	GetByID(id int) (*model.Contact, error)
	GetByPhone(phone string) (*model.Contact, error)
	CreateIfNotExists(phone, name, source string, score int) (*model.Contact, bool, error)
	UpdateFields(id int, fields map[string]string) error
	UpdateScore(id int, score int) error
	AddTag(id int, tag string) error
	TouchLastContact(id int) error
	ListBySegment(seg SegmentFilter) ([]model.Contact, error)
	CountCreatedSince(since time.Time) (int, error)
}

// SegmentFilter selects contacts for bulk broadcast.
type SegmentFilter struct {
	Tag            string
	MinScore       int
	City           string
	ContactedSince *time.Time
}

// ContactRepository is the concrete Postgres implementation.
type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, name, phone, status, lead_score, tags, city, last_contact_at, source, created_at, updated_at`

func scanContact(row *sql.Row) (*model.Contact, error) {
	var c model.Contact
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Status, &c.LeadScore, pq.Array(&c.Tags),
		&c.City, &c.LastContactAt, &c.Source, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) GetByID(id int) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id=$1`
	return scanContact(r.DB.QueryRow(query, id))
}

func (r *ContactRepository) GetByPhone(phone string) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE phone=$1`
	return scanContact(r.DB.QueryRow(query, phone))
}

// CreateIfNotExists upserts a contact keyed by phone. The boolean return is
// true only when a new row was inserted; repeated calls for the same phone
// return the existing contact unchanged.
func (r *ContactRepository) CreateIfNotExists(phone, name, source string, score int) (*model.Contact, bool, error) {
	existing, err := r.GetByPhone(phone)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	query := `
        INSERT INTO contacts (name, phone, status, lead_score, tags, city, source, created_at)
        VALUES ($1, $2, $3, $4, $5, '', $6, NOW())
        RETURNING ` + contactColumns
	row := r.DB.QueryRow(query, name, phone, model.ContactStatusNew, score, pq.Array([]string{}), source)
	c, err := scanContact(row)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// updatableContactColumns guards rule-config field updates against writes to
// arbitrary columns.
var updatableContactColumns = map[string]bool{
	"name":   true,
	"status": true,
	"city":   true,
}

func (r *ContactRepository) UpdateFields(id int, fields map[string]string) error {
	for col, val := range fields {
		if !updatableContactColumns[col] {
			return fmt.Errorf("contact field %q is not updatable", col)
		}
		query := fmt.Sprintf(`UPDATE contacts SET %s=$1, updated_at=NOW() WHERE id=$2`, col)
		if _, err := r.DB.Exec(query, val, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *ContactRepository) UpdateScore(id int, score int) error {
	query := `UPDATE contacts SET lead_score=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, score, id)
	return err
}

func (r *ContactRepository) AddTag(id int, tag string) error {
	query := `
        UPDATE contacts
        SET tags = array_append(tags, $1), updated_at=NOW()
        WHERE id=$2 AND NOT ($1 = ANY(tags))
    `
	_, err := r.DB.Exec(query, tag, id)
	return err
}

func (r *ContactRepository) TouchLastContact(id int) error {
	query := `UPDATE contacts SET last_contact_at=NOW(), updated_at=NOW() WHERE id=$1`
	_, err := r.DB.Exec(query, id)
	return err
}

func (r *ContactRepository) ListBySegment(seg SegmentFilter) ([]model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE status != 'archived'`
	args := []interface{}{}
	argPos := 1

	if seg.Tag != "" {
		query += fmt.Sprintf(" AND $%d = ANY(tags)", argPos)
		args = append(args, seg.Tag)
		argPos++
	}
	if seg.MinScore > 0 {
		query += fmt.Sprintf(" AND lead_score >= $%d", argPos)
		args = append(args, seg.MinScore)
		argPos++
	}
	if seg.City != "" {
		query += fmt.Sprintf(" AND city = $%d", argPos)
		args = append(args, seg.City)
		argPos++
	}
	if seg.ContactedSince != nil {
		query += fmt.Sprintf(" AND last_contact_at >= $%d", argPos)
		args = append(args, *seg.ContactedSince)
		argPos++
	}
	query += " ORDER BY id"

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Status, &c.LeadScore, pq.Array(&c.Tags),
			&c.City, &c.LastContactAt, &c.Source, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *ContactRepository) CountCreatedSince(since time.Time) (int, error) {
	var count int
	err := r.DB.QueryRow(`SELECT COUNT(*) FROM contacts WHERE created_at >= $1`, since).Scan(&count)
	return count, err
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
