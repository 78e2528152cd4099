package clinical

import (
	"context"

	"github.com/google/uuid"
)

// HistoryRepository never returns tombstoned entries.
type HistoryRepository interface {
	Create(ctx context.Context, h *MedicalHistory) error
	// CreateForAppointment inserts h unless an entry for its appointment
	// already exists, and reports whether a row was written.
	CreateForAppointment(ctx context.Context, h *MedicalHistory) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalHistory, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*MedicalHistory, int, error)
	// SoftDelete stamps deleted_at; pgx.ErrNoRows when the entry is missing
	// or already deleted.
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error)
}
