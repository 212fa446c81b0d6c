package request

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparetrack/sparetrack/internal/invoice"
	"github.com/sparetrack/sparetrack/internal/ledger"
	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/platform/db"
)

// Repository persists spare requests in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	ledger.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("request repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: ledger.NewTxRepository(tx), tx: tx})
	})
}

const requestColumns = `id, request_type, reason, source_kind, source_id, dest_kind, dest_id, status, note, created_by, created_at, approved_by, approved_at`

const requestItemColumns = `id, request_id, item_id, requested_qty, approved_qty, defective, unit_price, tax_rate, hsn, status, fail_reason`

// Get returns one request with its items.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (SpareRequest, []Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM spare_requests WHERE id=$1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SpareRequest{}, nil, ErrNotFound
		}
		return SpareRequest{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+requestItemColumns+` FROM spare_request_items
WHERE request_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return SpareRequest{}, nil, err
	}
	defer rows.Close()
	items, err := collectItems(rows)
	if err != nil {
		return SpareRequest{}, nil, err
	}
	return req, items, nil
}

// List returns requests matching the filter, newest first, with total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]SpareRequest, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	arg := 0

	if filter.Status != "" {
		arg++
		where += ` AND status=$` + strconv.Itoa(arg)
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		arg++
		where += ` AND request_type=$` + strconv.Itoa(arg)
		args = append(args, string(filter.Type))
	}
	if filter.Destination.Valid() {
		kindArg := arg + 1
		idArg := arg + 2
		arg += 2
		where += ` AND dest_kind=$` + strconv.Itoa(kindArg) + ` AND dest_id=$` + strconv.Itoa(idArg)
		args = append(args, string(filter.Destination.Kind), filter.Destination.ID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM spare_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	limitArg := arg + 1
	offsetArg := arg + 2
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM spare_requests`+where+
		` ORDER BY created_at DESC, id DESC LIMIT $`+strconv.Itoa(limitArg)+` OFFSET $`+strconv.Itoa(offsetArg), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	requests := []SpareRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, req)
	}
	return requests, total, rows.Err()
}

// HasOpenRequest reports whether a PENDING or APPROVED request for the item
// already targets the destination.
func (r *Repository) HasOpenRequest(ctx context.Context, itemID int64, destination locations.Ref) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT true FROM spare_requests r
JOIN spare_request_items i ON i.request_id = r.id
WHERE i.item_id=$1 AND r.dest_kind=$2 AND r.dest_id=$3 AND r.status IN ('PENDING','APPROVED')
LIMIT 1`, itemID, string(destination.Kind), destination.ID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

func (r *txRepository) InvoiceLines() invoice.TxStore {
	return invoice.NewTxStore(r.tx)
}

func (r *txRepository) InsertRequest(ctx context.Context, req SpareRequest) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO spare_requests (id, request_type, reason, source_kind, source_id, dest_kind, dest_id, status, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		req.ID, string(req.Type), string(req.Reason),
		string(req.Source.Kind), req.Source.ID, string(req.Destination.Kind), req.Destination.ID,
		string(req.Status), req.Note, req.CreatedBy, req.CreatedAt)
	return err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO spare_request_items (request_id, item_id, requested_qty, defective, status)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		item.RequestID, item.ItemID, item.RequestedQty, item.Defective, string(item.Status)).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateItem(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `UPDATE spare_request_items
SET approved_qty=$1, unit_price=$2, tax_rate=$3, hsn=$4, status=$5, fail_reason=$6
WHERE id=$7`,
		item.ApprovedQty, item.UnitPrice, item.TaxRate, item.HSN, string(item.Status), item.FailReason, item.ID)
	return err
}

func (r *txRepository) InsertAllocations(ctx context.Context, requestItemID int64, allocations []invoice.Allocation) error {
	for _, alloc := range allocations {
		var lineID any
		if alloc.InvoiceLineID != 0 {
			lineID = alloc.InvoiceLineID
		}
		_, err := r.tx.Exec(ctx, `INSERT INTO spare_request_item_prices (request_item_id, invoice_line_id, invoice_no, qty, unit_price, tax_rate, hsn, nominal)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			requestItemID, lineID, alloc.InvoiceNo, alloc.Qty, alloc.UnitPrice, alloc.TaxRate, alloc.HSN, alloc.Nominal)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateStatus applies a guarded transition; zero affected rows means the row
// moved since it was read.
func (r *txRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE spare_requests SET status=$1 WHERE id=$2 AND status=$3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *txRepository) SetApproval(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE spare_requests SET approved_by=$1, approved_at=$2 WHERE id=$3`,
		actorID, at, id)
	return err
}

func scanRequest(row pgx.Row) (SpareRequest, error) {
	var req SpareRequest
	var requestType, reason, sourceKind, destKind, status string
	err := row.Scan(&req.ID, &requestType, &reason, &sourceKind, &req.Source.ID, &destKind, &req.Destination.ID,
		&status, &req.Note, &req.CreatedBy, &req.CreatedAt, &req.ApprovedBy, &req.ApprovedAt)
	if err != nil {
		return SpareRequest{}, err
	}
	req.Type = RequestType(requestType)
	req.Reason = Reason(reason)
	req.Source.Kind = locations.Kind(sourceKind)
	req.Destination.Kind = locations.Kind(destKind)
	req.Status = Status(status)
	return req, nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	items := []Item{}
	for rows.Next() {
		var item Item
		var status string
		var failReason, hsn *string
		if err := rows.Scan(&item.ID, &item.RequestID, &item.ItemID, &item.RequestedQty, &item.ApprovedQty,
			&item.Defective, &item.UnitPrice, &item.TaxRate, &hsn, &status, &failReason); err != nil {
			return nil, err
		}
		item.Status = ItemStatus(status)
		if hsn != nil {
			item.HSN = *hsn
		}
		if failReason != nil {
			item.FailReason = *failReason
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
