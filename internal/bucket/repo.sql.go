package bucket

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

// Store reads bucket state rows in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns the state for (item, location), zero-valued when no row exists.
// Reads never create rows.
func (s *Store) Get(ctx context.Context, itemID int64, loc locations.Ref) (State, error) {
	if s == nil {
		return State{}, errors.New("bucket store not initialised")
	}
	var state State
	err := s.pool.QueryRow(ctx, `SELECT item_id, location_kind, location_id, good, defective, in_transit, updated_at
FROM bucket_states WHERE item_id=$1 AND location_kind=$2 AND location_id=$3`, itemID, string(loc.Kind), loc.ID).
		Scan(&state.ItemID, &state.Location.Kind, &state.Location.ID, &state.Good, &state.Defective, &state.InTransit, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{ItemID: itemID, Location: loc}, nil
		}
		return State{}, err
	}
	return state, nil
}

// ListByLocation returns all item states held at one location.
func (s *Store) ListByLocation(ctx context.Context, loc locations.Ref) ([]State, error) {
	rows, err := s.pool.Query(ctx, `SELECT item_id, location_kind, location_id, good, defective, in_transit, updated_at
FROM bucket_states WHERE location_kind=$1 AND location_id=$2 ORDER BY item_id`, string(loc.Kind), loc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	states := []State{}
	for rows.Next() {
		var state State
		if err := rows.Scan(&state.ItemID, &state.Location.Kind, &state.Location.ID, &state.Good, &state.Defective, &state.InTransit, &state.UpdatedAt); err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// TxStore operates on bucket rows inside a caller-owned transaction. The
// ledger uses it to sequence multi-key effects so partial application is
// impossible.
type TxStore interface {
	GetForUpdate(ctx context.Context, itemID int64, loc locations.Ref) (State, error)
	Upsert(ctx context.Context, state State) error
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore wraps a pgx transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

// GetForUpdate locks the state row for the duration of the transaction,
// serialising concurrent applies against the same key. Returns
// ErrStateNotFound with a zero-valued state when the row does not exist yet.
func (s *txStore) GetForUpdate(ctx context.Context, itemID int64, loc locations.Ref) (State, error) {
	var state State
	err := s.tx.QueryRow(ctx, `SELECT item_id, location_kind, location_id, good, defective, in_transit, updated_at
FROM bucket_states WHERE item_id=$1 AND location_kind=$2 AND location_id=$3 FOR UPDATE`, itemID, string(loc.Kind), loc.ID).
		Scan(&state.ItemID, &state.Location.Kind, &state.Location.ID, &state.Good, &state.Defective, &state.InTransit, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{ItemID: itemID, Location: loc}, ErrStateNotFound
		}
		return State{}, err
	}
	return state, nil
}

func (s *txStore) Upsert(ctx context.Context, state State) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO bucket_states (item_id, location_kind, location_id, good, defective, in_transit, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (item_id, location_kind, location_id)
DO UPDATE SET good=EXCLUDED.good, defective=EXCLUDED.defective, in_transit=EXCLUDED.in_transit, updated_at=NOW()`,
		state.ItemID, string(state.Location.Kind), state.Location.ID, state.Good, state.Defective, state.InTransit)
	return err
}
