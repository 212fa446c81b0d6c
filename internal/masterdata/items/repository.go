package items

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparetrack/sparetrack/internal/shared"
)

// Repository reads the item catalog.
type Repository interface {
	Get(ctx context.Context, id int64) (Item, error)
	List(ctx context.Context, activeOnly bool) ([]Item, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Get(ctx context.Context, id int64) (Item, error) {
	var item Item
	err := r.db.QueryRow(ctx, `SELECT id, sku, name, uom, nominal_price, tax_rate, hsn, criticality, is_active, created_at
FROM items WHERE id=$1`, id).
		Scan(&item.ID, &item.SKU, &item.Name, &item.UOM, &item.NominalPrice, &item.TaxRate, &item.HSN, &item.Criticality, &item.IsActive, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("items: item %d: %w", id, shared.ErrNotFound)
		}
		return Item{}, err
	}
	return item, nil
}

func (r *repository) List(ctx context.Context, activeOnly bool) ([]Item, error) {
	query := `SELECT id, sku, name, uom, nominal_price, tax_rate, hsn, criticality, is_active, created_at FROM items`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.SKU, &item.Name, &item.UOM, &item.NominalPrice, &item.TaxRate, &item.HSN, &item.Criticality, &item.IsActive, &item.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}
