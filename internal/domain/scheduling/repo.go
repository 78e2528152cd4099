package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Transition moves the appointment to `to` only while its status is one
	// of from, and returns the updated row. It fails with pgx.ErrNoRows when
	// the row is missing or in another state.
	Transition(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	// PurgeCancelled deletes cancelled appointments cancelled before the
	// given time and returns how many were removed.
	PurgeCancelled(ctx context.Context, before time.Time) (int64, error)
}
