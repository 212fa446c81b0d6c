package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sparetrack/sparetrack/internal/bucket"
	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Movement, error)
	FindByReference(ctx context.Context, referenceType, referenceNo string) ([]Movement, error)
	List(ctx context.Context, filter Filter) ([]Movement, error)
}

// TxRepository exposes transactional operations used by service. Buckets()
// hands back the row-locking store bound to the same transaction, so every
// effect of a movement commits or rolls back as one unit.
type TxRepository interface {
	Buckets() bucket.TxStore
	InsertMovement(ctx context.Context, m Movement) error
	MarkReversed(ctx context.Context, id uuid.UUID) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts recorded movements.
type MetricsPort interface {
	MovementRecorded(movementType string)
	InsufficientStock()
}

// Service is the only writer of bucket values. Every mutation goes through
// the effect table and a single all-or-nothing transaction.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics}
}

// Record resolves the movement type's effects and applies them atomically.
// On any insufficient stock nothing is written; no partially-applied record
// is ever observable.
func (s *Service) Record(ctx context.Context, input RecordInput) (Movement, error) {
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = s.RecordWith(ctx, tx, input)
		return err
	})
	if err != nil {
		if errors.Is(err, bucket.ErrInsufficientStock) && s.metrics != nil {
			s.metrics.InsufficientStock()
		}
		return Movement{}, err
	}

	s.afterCommit(ctx, movement, "ledger:record")
	return movement, nil
}

// RecordWith applies a movement inside a caller-owned transaction scope, so
// an orchestrator can bind the movement, its pricing and its own row updates
// into one unit of atomicity. The caller commits or rolls back.
func (s *Service) RecordWith(ctx context.Context, tx TxRepository, input RecordInput) (Movement, error) {
	effects, ok := EffectsFor(input.Type)
	if !ok {
		return Movement{}, ErrUnknownType
	}
	if input.Qty <= 0 {
		return Movement{}, bucket.ErrInvalidQuantity
	}
	if input.ItemID <= 0 {
		return Movement{}, fmt.Errorf("ledger: item required: %w", shared.ErrValidation)
	}
	if err := validateSides(input.Type, input.Source, input.Destination); err != nil {
		return Movement{}, err
	}

	movement := Movement{
		ID:            uuid.New(),
		Type:          input.Type,
		ItemID:        input.ItemID,
		Qty:           input.Qty,
		Source:        input.Source,
		Destination:   input.Destination,
		ReferenceType: input.ReferenceType,
		ReferenceNo:   input.ReferenceNo,
		Status:        StatusCompleted,
		CreatedBy:     input.ActorID,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.applyEffects(ctx, tx, movement, effects, false); err != nil {
		return Movement{}, err
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return Movement{}, err
	}
	return movement, nil
}

// Reverse appends a compensating record with inverted operations referencing
// the original and flips the original's status. History is never edited.
func (s *Service) Reverse(ctx context.Context, movementID uuid.UUID, actorID int64, note string) (Movement, error) {
	original, err := s.repo.Get(ctx, movementID)
	if err != nil {
		return Movement{}, err
	}
	if original.Status == StatusReversed {
		return Movement{}, ErrAlreadyReversed
	}
	if original.Status != StatusCompleted {
		return Movement{}, fmt.Errorf("ledger: only completed movements reverse: %w", shared.ErrStateConflict)
	}
	effects, ok := EffectsFor(original.Type)
	if !ok {
		return Movement{}, ErrUnknownType
	}

	originalID := original.ID
	reversal := Movement{
		ID:            uuid.New(),
		Type:          original.Type,
		ItemID:        original.ItemID,
		Qty:           original.Qty,
		Source:        original.Source,
		Destination:   original.Destination,
		ReferenceType: "REVERSAL",
		ReferenceNo:   note,
		Status:        StatusCompleted,
		ReversalOf:    &originalID,
		CreatedBy:     actorID,
		CreatedAt:     time.Now().UTC(),
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.applyEffects(ctx, tx, reversal, effects, true); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, reversal); err != nil {
			return err
		}
		return tx.MarkReversed(ctx, originalID)
	})
	if err != nil {
		return Movement{}, err
	}

	s.afterCommit(ctx, reversal, "ledger:reverse")
	return reversal, nil
}

// FindCompletedByReference returns completed movements carrying the given
// reference, supporting idempotent receipt confirmation.
func (s *Service) FindCompletedByReference(ctx context.Context, referenceType, referenceNo string) ([]Movement, error) {
	if referenceNo == "" {
		return nil, fmt.Errorf("ledger: reference required: %w", shared.ErrValidation)
	}
	movements, err := s.repo.FindByReference(ctx, referenceType, referenceNo)
	if err != nil {
		return nil, err
	}
	completed := movements[:0]
	for _, m := range movements {
		if m.Status == StatusCompleted {
			completed = append(completed, m)
		}
	}
	return completed, nil
}

// Get returns one movement by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Movement, error) {
	return s.repo.Get(ctx, id)
}

// List returns movements matching the filter, oldest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Movement, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) applyEffects(ctx context.Context, tx TxRepository, m Movement, effects []Effect, invert bool) error {
	buckets := tx.Buckets()
	for _, effect := range effects {
		loc := m.Destination
		if effect.Side == SideSource {
			loc = m.Source
		}
		state, err := buckets.GetForUpdate(ctx, m.ItemID, loc)
		if err != nil && !errors.Is(err, bucket.ErrStateNotFound) {
			return err
		}
		op := effect.Operation
		if invert {
			op = op.Inverse()
		}
		if err := bucket.Mutate(&state, effect.Bucket, op, m.Qty); err != nil {
			return err
		}
		if err := buckets.Upsert(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) afterCommit(ctx context.Context, m Movement, action string) {
	if s.metrics != nil {
		s.metrics.MovementRecorded(string(m.Type))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  m.CreatedBy,
			Action:   action,
			Entity:   "movement",
			EntityID: m.ID.String(),
			Meta: map[string]any{
				"type":         string(m.Type),
				"item_id":      m.ItemID,
				"qty":          m.Qty,
				"source":       m.Source.String(),
				"destination":  m.Destination.String(),
				"reference_no": m.ReferenceNo,
			},
		})
	}
}

func validateSides(t Type, source, destination locations.Ref) error {
	if Touches(t, SideSource) && !source.Valid() {
		return fmt.Errorf("ledger: source location required for %s: %w", t, shared.ErrValidation)
	}
	if Touches(t, SideDestination) && !destination.Valid() {
		return fmt.Errorf("ledger: destination location required for %s: %w", t, shared.ErrValidation)
	}
	return nil
}
