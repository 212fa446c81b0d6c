package locations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparetrack/sparetrack/internal/shared"
)

// Repository resolves location attributes. Location master data is owned by
// an external system; this side is read-only.
type Repository interface {
	GetTier(ctx context.Context, ref Ref) (Tier, error)
	DefaultSource(ctx context.Context, serviceCenter Ref) (Ref, error)
	ListServiceCenters(ctx context.Context) ([]Ref, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) GetTier(ctx context.Context, ref Ref) (Tier, error) {
	if ref.Kind != KindServiceCenter {
		return "", fmt.Errorf("locations: tier defined for service centers only: %w", shared.ErrValidation)
	}
	var tier string
	err := r.db.QueryRow(ctx, `SELECT tier FROM service_centers WHERE id=$1`, ref.ID).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("locations: service center %d: %w", ref.ID, shared.ErrNotFound)
		}
		return "", err
	}
	return Tier(tier), nil
}

func (r *repository) DefaultSource(ctx context.Context, serviceCenter Ref) (Ref, error) {
	if serviceCenter.Kind != KindServiceCenter {
		return Ref{}, fmt.Errorf("locations: default source defined for service centers only: %w", shared.ErrValidation)
	}
	var branchID int64
	err := r.db.QueryRow(ctx, `SELECT branch_id FROM service_centers WHERE id=$1`, serviceCenter.ID).Scan(&branchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ref{}, fmt.Errorf("locations: service center %d: %w", serviceCenter.ID, shared.ErrNotFound)
		}
		return Ref{}, err
	}
	if branchID == 0 {
		return Ref{}, fmt.Errorf("locations: service center %d has no replenishment source: %w", serviceCenter.ID, shared.ErrNotFound)
	}
	return Ref{Kind: KindBranch, ID: branchID}, nil
}

func (r *repository) ListServiceCenters(ctx context.Context) ([]Ref, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM service_centers WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []Ref
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		refs = append(refs, Ref{Kind: KindServiceCenter, ID: id})
	}
	return refs, rows.Err()
}
