package billing

import (
	"context"

	"github.com/google/uuid"
)

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetBySessionRef(ctx context.Context, ref string) (*Bill, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Bill, int, error)
	// AttachSession records another checkout reference for an unpaid bill.
	// Earlier references stay valid. pgx.ErrNoRows when the bill is missing
	// or already paid.
	AttachSession(ctx context.Context, id uuid.UUID, ref string) error
	// MarkPaid settles the bill online only if it is unpaid and ref is one
	// of its sessions. pgx.ErrNoRows when nothing matched.
	MarkPaid(ctx context.Context, id uuid.UUID, ref string) (*Bill, error)
}
