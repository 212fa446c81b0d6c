package invoice

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

type txStore struct {
	tx pgx.Tx
}

// NewTxStore wraps a pgx transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

// OpenLinesForUpdate locks every open line for (item, location), oldest
// first. The lock keeps FIFO order stable when returns race for the same
// lines.
func (s *txStore) OpenLinesForUpdate(ctx context.Context, itemID int64, loc locations.Ref) ([]Line, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, invoice_no, item_id, location_kind, location_id, unit_price, tax_rate, hsn, qty_remaining, created_at
FROM invoice_lines
WHERE item_id=$1 AND location_kind=$2 AND location_id=$3 AND qty_remaining > 0
ORDER BY created_at ASC, id ASC
FOR UPDATE`, itemID, string(loc.Kind), loc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.InvoiceNo, &line.ItemID, &line.Location.Kind, &line.Location.ID,
			&line.UnitPrice, &line.TaxRate, &line.HSN, &line.QtyRemaining, &line.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Reserve decrements qty_remaining, refusing to go negative.
func (s *txStore) Reserve(ctx context.Context, lineID int64, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := s.tx.Exec(ctx, `UPDATE invoice_lines SET qty_remaining = qty_remaining - $2
WHERE id=$1 AND qty_remaining >= $2`, lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineContention
	}
	return nil
}

// Repository reads invoice lines outside a transaction, for listings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListOpen returns open lines for (item, location), oldest first.
func (r *Repository) ListOpen(ctx context.Context, itemID int64, loc locations.Ref) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_no, item_id, location_kind, location_id, unit_price, tax_rate, hsn, qty_remaining, created_at
FROM invoice_lines
WHERE item_id=$1 AND location_kind=$2 AND location_id=$3 AND qty_remaining > 0
ORDER BY created_at ASC, id ASC`, itemID, string(loc.Kind), loc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.InvoiceNo, &line.ItemID, &line.Location.Kind, &line.Location.ID,
			&line.UnitPrice, &line.TaxRate, &line.HSN, &line.QtyRemaining, &line.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
