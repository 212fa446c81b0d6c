package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparetrack/sparetrack/internal/bucket"
	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/platform/db"
)

// Repository persists movement records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction. Callers composing movements with
// their own row updates use this to satisfy the transactional surface.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const movementColumns = `id, movement_type, item_id, qty, source_kind, source_id, dest_kind, dest_id, reference_type, reference_no, status, reversal_of, created_by, created_at`

// Get returns one movement by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Movement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements WHERE id=$1`, id)
	m, err := scanMovement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrNotFound
		}
		return Movement{}, err
	}
	return m, nil
}

// FindByReference returns movements carrying the reference, oldest first.
func (r *Repository) FindByReference(ctx context.Context, referenceType, referenceNo string) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM movements
WHERE reference_type=$1 AND reference_no=$2 ORDER BY created_at ASC, id ASC`, referenceType, referenceNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

// List returns movements matching the filter, oldest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM movements WHERE 1=1`
	args := []any{}
	arg := 0

	if filter.ItemID > 0 {
		arg++
		query += ` AND item_id=$` + strconv.Itoa(arg)
		args = append(args, filter.ItemID)
	}
	if filter.Location.Valid() {
		kindArg := arg + 1
		idArg := arg + 2
		arg += 2
		query += ` AND ((source_kind=$` + strconv.Itoa(kindArg) + ` AND source_id=$` + strconv.Itoa(idArg) + `)` +
			` OR (dest_kind=$` + strconv.Itoa(kindArg) + ` AND dest_id=$` + strconv.Itoa(idArg) + `))`
		args = append(args, string(filter.Location.Kind), filter.Location.ID)
	}
	if filter.Type != "" {
		arg++
		query += ` AND movement_type=$` + strconv.Itoa(arg)
		args = append(args, string(filter.Type))
	}
	if filter.ReferenceNo != "" {
		arg++
		query += ` AND reference_no=$` + strconv.Itoa(arg)
		args = append(args, filter.ReferenceNo)
	}
	if !filter.From.IsZero() {
		arg++
		query += ` AND created_at >= $` + strconv.Itoa(arg)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		arg++
		query += ` AND created_at <= $` + strconv.Itoa(arg)
		args = append(args, filter.To)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	arg++
	query += ` ORDER BY created_at ASC, id ASC LIMIT $` + strconv.Itoa(arg)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func (r *txRepository) Buckets() bucket.TxStore {
	return bucket.NewTxStore(r.tx)
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO movements (id, movement_type, item_id, qty, source_kind, source_id, dest_kind, dest_id, reference_type, reference_no, status, reversal_of, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		m.ID, string(m.Type), m.ItemID, m.Qty,
		nullKind(m.Source), nullID(m.Source), nullKind(m.Destination), nullID(m.Destination),
		m.ReferenceType, m.ReferenceNo, string(m.Status), m.ReversalOf, nullInt(m.CreatedBy), m.CreatedAt)
	return err
}

func (r *txRepository) MarkReversed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `UPDATE movements SET status=$1 WHERE id=$2 AND status=$3`,
		string(StatusReversed), id, string(StatusCompleted))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	return nil
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var sourceKind, destKind *string
	var sourceID, destID, createdBy *int64
	var createdAt time.Time
	err := row.Scan(&m.ID, &m.Type, &m.ItemID, &m.Qty, &sourceKind, &sourceID, &destKind, &destID,
		&m.ReferenceType, &m.ReferenceNo, &m.Status, &m.ReversalOf, &createdBy, &createdAt)
	if err != nil {
		return Movement{}, err
	}
	if sourceKind != nil && sourceID != nil {
		m.Source.Kind = kindOf(*sourceKind)
		m.Source.ID = *sourceID
	}
	if destKind != nil && destID != nil {
		m.Destination.Kind = kindOf(*destKind)
		m.Destination.ID = *destID
	}
	if createdBy != nil {
		m.CreatedBy = *createdBy
	}
	m.CreatedAt = createdAt
	return m, nil
}

func nullKind(loc locations.Ref) any {
	if !loc.Valid() {
		return nil
	}
	return string(loc.Kind)
}

func nullID(loc locations.Ref) any {
	if !loc.Valid() {
		return nil
	}
	return loc.ID
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func kindOf(s string) locations.Kind {
	return locations.Kind(s)
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	movements := []Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
