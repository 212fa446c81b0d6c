package bucket

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/platform/db"
)

// RepositoryPort abstracts the store for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	Get(ctx context.Context, itemID int64, loc locations.Ref) (State, error)
	ListByLocation(ctx context.Context, loc locations.Ref) ([]State, error)
}

// WithTx runs fn against a row-locking TxStore inside one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// Service exposes bucket-state reads and the serialized single-key apply.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ApplyInput describes one quantity change against a single key.
type ApplyInput struct {
	ItemID    int64
	Location  locations.Ref
	Bucket    Bucket
	Operation Operation
	Qty       int64
}

// Get returns the state for (item, location), zero-valued when absent.
func (s *Service) Get(ctx context.Context, itemID int64, loc locations.Ref) (State, error) {
	if itemID <= 0 || !loc.Valid() {
		return State{}, fmt.Errorf("bucket: item and location required: %w", ErrInvalidBucket)
	}
	return s.repo.Get(ctx, itemID, loc)
}

// ListByLocation returns every item state held at the location.
func (s *Service) ListByLocation(ctx context.Context, loc locations.Ref) ([]State, error) {
	if !loc.Valid() {
		return nil, fmt.Errorf("bucket: location required: %w", ErrInvalidBucket)
	}
	return s.repo.ListByLocation(ctx, loc)
}

// Apply performs one read-modify-write against a single (item, location,
// bucket) key. The row lock serialises concurrent applies on the same key;
// a decrease that would go negative fails with ErrInsufficientStock and
// leaves the row untouched. Multi-key effects belong to the ledger.
func (s *Service) Apply(ctx context.Context, input ApplyInput) (State, error) {
	if input.ItemID <= 0 || !input.Location.Valid() {
		return State{}, fmt.Errorf("bucket: item and location required: %w", ErrInvalidBucket)
	}
	if input.Qty <= 0 {
		return State{}, ErrInvalidQuantity
	}
	var result State
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		state, err := tx.GetForUpdate(ctx, input.ItemID, input.Location)
		if err != nil && !errors.Is(err, ErrStateNotFound) {
			return err
		}
		if err := Mutate(&state, input.Bucket, input.Operation, input.Qty); err != nil {
			return err
		}
		if err := tx.Upsert(ctx, state); err != nil {
			return err
		}
		result = state
		return nil
	})
	if err != nil {
		return State{}, err
	}
	return result, nil
}
