package clinical

import (
	"time"

	"github.com/google/uuid"
)

const DateLayout = "2006-01-02"

// Defaults written into a history entry derived from a completed appointment.
const (
	DerivedTreatment   = "Completed consultation"
	DerivedMedications = "Prescribed during consultation"
	DerivedAllergies   = "None reported"
)

// MedicalHistory is one entry in a patient's record. DoctorID is nil once
// the authoring doctor is removed; AppointmentID is set only for entries
// derived from a completed appointment.
type MedicalHistory struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID         *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	AppointmentID    *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Diagnosis        string     `db:"diagnosis" json:"diagnosis"`
	TreatmentSummary string     `db:"treatment_summary" json:"treatment_summary"`
	Medications      string     `db:"medications" json:"medications"`
	Allergies        string     `db:"allergies" json:"allergies"`
	Date             time.Time  `db:"date" json:"date"`
	Notes            string     `db:"notes" json:"notes"`
	DeletedAt        *time.Time `db:"deleted_at" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// doctorRef is the doctor id used for ownership checks.
func (h *MedicalHistory) doctorRef() uuid.UUID {
	if h.DoctorID == nil {
		return uuid.Nil
	}
	return *h.DoctorID
}

type HistoryInput struct {
	PatientID        uuid.UUID `json:"patient_id"`
	Diagnosis        string    `json:"diagnosis"`
	TreatmentSummary string    `json:"treatment_summary"`
	Medications      string    `json:"medications"`
	Allergies        string    `json:"allergies"`
	Date             string    `json:"date"`
	Notes            string    `json:"notes"`
}

// Prescription is immutable once issued.
type Prescription struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID   uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Medication string    `db:"medication" json:"medication"`
	Dosage     string    `db:"dosage" json:"dosage"`
	Frequency  string    `db:"frequency" json:"frequency"`
	Duration   string    `db:"duration" json:"duration"`
	Notes      string    `db:"notes" json:"notes"`
	IssuedOn   time.Time `db:"issued_on" json:"issued_on"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type PrescriptionInput struct {
	PatientID  uuid.UUID `json:"patient_id"`
	Medication string    `json:"medication"`
	Dosage     string    `json:"dosage"`
	Frequency  string    `json:"frequency"`
	Duration   string    `json:"duration"`
	Notes      string    `json:"notes"`
}

// Filter narrows history and prescription lists. Zero values match
// everything.
type Filter struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
}
