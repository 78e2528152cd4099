// Package content holds the public pages of the portal: facilities, health
// education resources and bulletins, which admins edit and anyone can read,
// plus the contact form.
package content

import (
	"time"

	"github.com/google/uuid"
)

type Facility struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Location    string    `db:"location" json:"location"`
	Departments string    `db:"departments" json:"departments"`
	Resources   string    `db:"resources" json:"resources"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type FacilityInput struct {
	Name        string `json:"name"`
	Location    string `json:"location"`
	Departments string `json:"departments"`
	Resources   string `json:"resources"`
}

// EducationResource is a health education article or external link.
type EducationResource struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Link        string    `db:"link" json:"link"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type EducationInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// BulletinKind separates the bulletin boards.
type BulletinKind string

const (
	KindAnnouncement    BulletinKind = "announcement"
	KindHealthBulletin  BulletinKind = "health_bulletin"
	KindMedicalResearch BulletinKind = "medical_research"
	KindPublication     BulletinKind = "publication"
)

func (k BulletinKind) Valid() bool {
	switch k {
	case KindAnnouncement, KindHealthBulletin, KindMedicalResearch, KindPublication:
		return true
	}
	return false
}

type Bulletin struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	Kind        BulletinKind `db:"kind" json:"kind"`
	Title       string       `db:"title" json:"title"`
	Body        string       `db:"body" json:"body"`
	Link        string       `db:"link" json:"link"`
	PublishedOn time.Time    `db:"published_on" json:"published_on"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

type BulletinInput struct {
	Kind        BulletinKind `json:"kind"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	Link        string       `json:"link"`
	PublishedOn string       `json:"published_on"`
}

// ContactMessage is a message from the public contact form.
type ContactMessage struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}
