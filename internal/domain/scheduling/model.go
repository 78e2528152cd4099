package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusDeclined  Status = "Declined"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// transitions lists the allowed successors of each state. States without
// an entry are terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusDeclined, StatusCompleted, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusDeclined, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every state that may move to to.
func SourcesFor(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusConfirmed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Appointment is a patient's visit request with one doctor.
type Appointment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Date        time.Time  `db:"date" json:"date"`
	Time        string     `db:"time_of_day" json:"time"`
	Reason      string     `db:"reason" json:"reason"`
	Status      Status     `db:"status" json:"status"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// DateString renders the appointment date as YYYY-MM-DD.
func (a *Appointment) DateString() string { return a.Date.Format(DateLayout) }

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// BookRequest is a patient's booking for themselves.
type BookRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
	Reason   string    `json:"reason"`
}

// ListFilter narrows appointment lists. Zero values match everything.
type ListFilter struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    Status
}
