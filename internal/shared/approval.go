package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates workflow actions worth keeping in history.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalReject  ApprovalAction = "REJECT"
	ApprovalReopen  ApprovalAction = "REOPEN"
)

// ApprovalLog is one row of workflow history for a referenced document.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

func (l ApprovalLog) validate() error {
	switch {
	case l.Module == "":
		return fmt.Errorf("approval: module required: %w", ErrValidation)
	case l.RefID == uuid.Nil:
		return fmt.Errorf("approval: ref id required: %w", ErrValidation)
	case l.ActorID == 0:
		return fmt.Errorf("approval: actor required: %w", ErrValidation)
	case l.Action == "":
		return fmt.Errorf("approval: action required: %w", ErrValidation)
	}
	return nil
}

// ApprovalRecorder keeps who-did-what history for workflow documents. It is
// separate from the audit log so the history survives audit retention sweeps.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record appends one history row. A zero At falls back to the database clock.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approval_logs (module, ref_id, actor_id, action, note, recorded_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, nullTime(log.At))
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err))
		return err
	}
	return nil
}

// List returns the history for one document, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, module, ref_id, actor_id, action, note, recorded_at
FROM approval_logs WHERE module=$1 AND ref_id=$2 ORDER BY recorded_at ASC, id ASC`, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// EnsureSubmit writes the SUBMIT row once. Documents created straight into
// the pending state submit implicitly, so both paths converge on one row.
func (r *ApprovalRecorder) EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT true FROM approval_logs
WHERE module=$1 AND ref_id=$2 AND action='SUBMIT' LIMIT 1`, module, ref).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.Record(ctx, ApprovalLog{Module: module, RefID: ref, ActorID: actorID, Action: ApprovalSubmit, Note: note})
	}
	return err
}
