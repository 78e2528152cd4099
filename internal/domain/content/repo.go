package content

import (
	"context"

	"github.com/google/uuid"
)

type FacilityRepository interface {
	Create(ctx context.Context, f *Facility) error
	GetByID(ctx context.Context, id uuid.UUID) (*Facility, error)
	Update(ctx context.Context, f *Facility) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Facility, int, error)
}

type EducationRepository interface {
	Create(ctx context.Context, r *EducationResource) error
	GetByID(ctx context.Context, id uuid.UUID) (*EducationResource, error)
	Update(ctx context.Context, r *EducationResource) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*EducationResource, int, error)
}

type BulletinRepository interface {
	Create(ctx context.Context, b *Bulletin) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bulletin, error)
	Update(ctx context.Context, b *Bulletin) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List filters by kind unless it is empty.
	List(ctx context.Context, kind BulletinKind, limit, offset int) ([]*Bulletin, int, error)
}
