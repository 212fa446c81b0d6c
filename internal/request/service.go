package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sparetrack/sparetrack/internal/invoice"
	"github.com/sparetrack/sparetrack/internal/ledger"
	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/shared"
)

// TxRepository exposes the transactional operations the workflow needs. It
// embeds the ledger's transactional surface so a movement, its pricing and
// the request row updates commit or roll back as one unit.
type TxRepository interface {
	ledger.TxRepository
	InvoiceLines() invoice.TxStore
	InsertRequest(ctx context.Context, r SpareRequest) error
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	InsertAllocations(ctx context.Context, requestItemID int64, allocations []invoice.Allocation) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	SetApproval(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (SpareRequest, []Item, error)
	List(ctx context.Context, filter ListFilter) ([]SpareRequest, int, error)
	HasOpenRequest(ctx context.Context, itemID int64, destination locations.Ref) (bool, error)
}

// LedgerPort exposes the movement operations the workflow drives.
type LedgerPort interface {
	RecordWith(ctx context.Context, tx ledger.TxRepository, input ledger.RecordInput) (ledger.Movement, error)
	FindCompletedByReference(ctx context.Context, referenceType, referenceNo string) ([]ledger.Movement, error)
}

// MatcherPort prices return items from invoice history.
type MatcherPort interface {
	Allocate(ctx context.Context, tx invoice.TxStore, itemID int64, loc locations.Ref, qty int64) ([]invoice.Allocation, error)
}

// RulePort checks for an active MSL rule, used for CFU reason arbitration.
type RulePort interface {
	HasActiveRule(ctx context.Context, itemID int64, loc locations.Ref) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Reference types attached to movements driven by this workflow.
const (
	refTypeRequest = "SPARE_REQUEST"
	refTypeReceipt = "RECEIPT"
)

// Requests larger than this classify as BULK when no MSL rule covers them.
const bulkQtyThreshold = 50

// Service orchestrates the spare-request workflow.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	matcher     MatcherPort
	rules       RulePort
	approvals   *shared.ApprovalRecorder
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService constructs the workflow service.
func NewService(repo RepositoryPort, ledgerSvc LedgerPort, matcher MatcherPort, rules RulePort, approvals *shared.ApprovalRecorder, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, ledger: ledgerSvc, matcher: matcher, rules: rules, approvals: approvals, audit: audit, idempotency: idem}
}

// ItemInput describes one requested line.
type ItemInput struct {
	ItemID    int64
	Qty       int64
	Defective bool
}

// CreateInput describes request creation. The request type is derived, never
// supplied.
type CreateInput struct {
	Source      locations.Ref
	Destination locations.Ref
	Reason      Reason
	Note        string
	Draft       bool
	ActorID     int64
	Items       []ItemInput
}

// Create validates input, derives the request type and persists the request
// with its items. No movement is created yet.
func (s *Service) Create(ctx context.Context, input CreateInput) (SpareRequest, []Item, error) {
	if !input.Source.Valid() || !input.Destination.Valid() {
		return SpareRequest{}, nil, fmt.Errorf("%w: source and destination required", ErrValidation)
	}
	if input.Source == input.Destination {
		return SpareRequest{}, nil, fmt.Errorf("%w: source and destination must differ", ErrValidation)
	}
	if len(input.Items) == 0 {
		return SpareRequest{}, nil, fmt.Errorf("%w: minimal 1 item", ErrValidation)
	}
	anyDefective := input.Reason == ReasonDefect
	var totalQty int64
	for _, item := range input.Items {
		if item.ItemID <= 0 || item.Qty <= 0 {
			return SpareRequest{}, nil, fmt.Errorf("%w: item and positive quantity required", ErrValidation)
		}
		if item.Defective {
			anyDefective = true
		}
		totalQty += item.Qty
	}

	requestType, err := DeriveType(input.Source.Kind, input.Destination.Kind, input.Reason, anyDefective)
	if err != nil {
		return SpareRequest{}, nil, err
	}

	reason := input.Reason
	if anyDefective {
		reason = ReasonDefect
	}
	if requestType == TypeCFU && reason == ReasonMSL {
		reason, err = s.arbitrateCFUReason(ctx, input.Items, totalQty, input.Source, input.Destination)
		if err != nil {
			return SpareRequest{}, nil, err
		}
	}

	status := StatusPending
	if input.Draft {
		status = StatusDraft
	}
	req := SpareRequest{
		ID:          uuid.New(),
		Type:        requestType,
		Reason:      reason,
		Source:      input.Source,
		Destination: input.Destination,
		Status:      status,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
		CreatedAt:   time.Now().UTC(),
	}

	var items []Item
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertRequest(ctx, req); err != nil {
			return err
		}
		for _, in := range input.Items {
			item := Item{
				RequestID:    req.ID,
				ItemID:       in.ItemID,
				RequestedQty: in.Qty,
				Defective:    in.Defective || reason == ReasonDefect,
				Status:       ItemPending,
			}
			id, err := tx.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = id
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return SpareRequest{}, nil, err
	}

	if status == StatusPending && s.approvals != nil {
		_ = s.approvals.EnsureSubmit(ctx, "SPARE_REQUEST", req.ID, input.ActorID, fmt.Sprintf("request %s submitted", req.ID))
	}
	s.recordAudit(ctx, input.ActorID, "request:create", req.ID, map[string]any{"type": string(requestType), "reason": string(reason), "items": len(items)})
	return req, items, nil
}

// Submit moves a draft to pending.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, actorID int64) error {
	req, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(req.Status, StatusPending) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidState, req.Status, StatusPending)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, req.Status, StatusPending)
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.EnsureSubmit(ctx, "SPARE_REQUEST", id, actorID, fmt.Sprintf("request %s submitted", id))
	}
	return nil
}

// ApproveItemInput caps one item's approved quantity.
type ApproveItemInput struct {
	RequestItemID int64
	ApprovedQty   int64
}

// ApproveInput describes an approval. An empty item list approves every item
// at its requested quantity.
type ApproveInput struct {
	RequestID uuid.UUID
	ActorID   int64
	Items     []ApproveItemInput
}

// ApproveResult reports per-item outcomes.
type ApproveResult struct {
	Request SpareRequest `json:"request"`
	Items   []Item       `json:"items"`
}

// Approve issues the first movement(s) appropriate to the request type. The
// request is claimed APPROVED up front, then each item is one unit of
// atomicity: its movement, pricing and row update commit together, or the
// item keeps its pending status with the failure recorded so a later approval
// can retry it. When no item goes through the claim is rolled back to
// PENDING. Return types are priced through the FIFO matcher inside the same
// transaction.
func (s *Service) Approve(ctx context.Context, input ApproveInput) (ApproveResult, error) {
	req, items, err := s.repo.Get(ctx, input.RequestID)
	if err != nil {
		return ApproveResult{}, err
	}
	if req.Status != StatusPending {
		return ApproveResult{}, fmt.Errorf("%w: approve from %s", ErrInvalidState, req.Status)
	}

	quantities, err := approvedQuantities(items, input.Items)
	if err != nil {
		return ApproveResult{}, err
	}
	if len(quantities) == 0 {
		return ApproveResult{}, fmt.Errorf("%w: no approvable items", ErrNothingApproved)
	}
	movementType, err := dispatchMovementType(req.Type)
	if err != nil {
		return ApproveResult{}, err
	}
	from, to := req.Flow()

	// Claim the request before posting any movement so a concurrent reject or
	// cancel cannot land once stock starts moving.
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, req.ID, StatusPending, StatusApproved)
	})
	if err != nil {
		return ApproveResult{}, err
	}

	var approved int
	var firstErr error
	for i := range items {
		item := &items[i]
		qty, ok := quantities[item.ID]
		if !ok {
			continue
		}
		if err := s.approveItem(ctx, req, item, qty, movementType, from, to, input.ActorID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			// The item stays pending so a later approval can retry it once
			// the failure (typically insufficient stock) clears.
			item.FailReason = err.Error()
			s.markItemFailed(ctx, *item)
			continue
		}
		approved++
	}
	if approved == 0 {
		revertErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateStatus(ctx, req.ID, StatusApproved, StatusPending)
		})
		if revertErr != nil {
			return ApproveResult{}, revertErr
		}
		if firstErr == nil {
			return ApproveResult{}, ErrNothingApproved
		}
		return ApproveResult{}, fmt.Errorf("%w: %w", ErrNothingApproved, firstErr)
	}

	now := time.Now().UTC()
	finalStatus := StatusDispatched
	if !req.Type.HasTransitLeg() {
		finalStatus = StatusReceived
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetApproval(ctx, req.ID, input.ActorID, now); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, req.ID, StatusApproved, finalStatus)
	})
	if err != nil {
		return ApproveResult{}, err
	}
	req.Status = finalStatus
	req.ApprovedBy = &input.ActorID
	req.ApprovedAt = &now

	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "SPARE_REQUEST", RefID: req.ID, ActorID: input.ActorID, Action: shared.ApprovalApprove, Note: fmt.Sprintf("%d of %d items approved", approved, len(quantities))})
	}
	s.recordAudit(ctx, input.ActorID, "request:approve", req.ID, map[string]any{"approved": approved, "status": string(finalStatus)})
	return ApproveResult{Request: req, Items: items}, nil
}

func (s *Service) approveItem(ctx context.Context, req SpareRequest, item *Item, qty int64, movementType ledger.Type, from, to locations.Ref, actorID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var allocations []invoice.Allocation
		if req.Type.IsReturn() {
			var err error
			allocations, err = s.matcher.Allocate(ctx, tx.InvoiceLines(), item.ItemID, from, qty)
			if err != nil {
				return err
			}
			priceItem(item, allocations)
		}
		if _, err := s.ledger.RecordWith(ctx, tx, ledger.RecordInput{
			Type:          movementType,
			ItemID:        item.ItemID,
			Qty:           qty,
			Source:        from,
			Destination:   to,
			ReferenceType: refTypeRequest,
			ReferenceNo:   req.ID.String(),
			ActorID:       actorID,
		}); err != nil {
			return err
		}
		approvedQty := qty
		item.ApprovedQty = &approvedQty
		item.Status = ItemApproved
		item.FailReason = ""
		if err := tx.UpdateItem(ctx, *item); err != nil {
			return err
		}
		if len(allocations) > 0 {
			return tx.InsertAllocations(ctx, item.ID, allocations)
		}
		return nil
	})
}

// ConfirmReceipt closes the in-transit leg. Replays with the same document
// reference short-circuit to the already-applied result.
func (s *Service) ConfirmReceipt(ctx context.Context, id uuid.UUID, documentRef string, actorID int64) (SpareRequest, bool, error) {
	if documentRef == "" {
		return SpareRequest{}, false, fmt.Errorf("%w: document reference required", ErrValidation)
	}
	req, items, err := s.repo.Get(ctx, id)
	if err != nil {
		return SpareRequest{}, false, err
	}
	if !req.Type.HasTransitLeg() {
		return SpareRequest{}, false, fmt.Errorf("%w: %s has no in-transit leg", ErrInvalidState, req.Type)
	}

	existing, err := s.ledger.FindCompletedByReference(ctx, refTypeReceipt, documentRef)
	if err != nil {
		return SpareRequest{}, false, err
	}
	if len(existing) > 0 {
		return req, true, nil
	}
	if req.Status != StatusDispatched {
		return SpareRequest{}, false, fmt.Errorf("%w: confirm receipt from %s", ErrInvalidState, req.Status)
	}

	key := fmt.Sprintf("RECEIPT:%s", documentRef)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "request.receipt"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return req, true, nil
			}
			return SpareRequest{}, false, err
		}
		insertedKey = true
	}

	movementType := ledger.TypeFillUpReceipt
	if req.Type == TypeBranchPickup {
		movementType = ledger.TypePickupReceipt
	}
	from, to := req.Flow()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, item := range items {
			if item.Status != ItemApproved || item.ApprovedQty == nil {
				continue
			}
			if _, err := s.ledger.RecordWith(ctx, tx, ledger.RecordInput{
				Type:          movementType,
				ItemID:        item.ItemID,
				Qty:           *item.ApprovedQty,
				Source:        from,
				Destination:   to,
				ReferenceType: refTypeReceipt,
				ReferenceNo:   documentRef,
				ActorID:       actorID,
			}); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, req.ID, StatusDispatched, StatusReceived)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return SpareRequest{}, false, err
	}
	req.Status = StatusReceived

	s.recordAudit(ctx, actorID, "request:receipt", req.ID, map[string]any{"document_ref": documentRef})
	return req, false, nil
}

// Reject closes a pending request without ever creating a movement.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actorID int64, note string) error {
	req, items, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(req.Status, StatusRejected) {
		return fmt.Errorf("%w: reject from %s", ErrInvalidState, req.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, id, req.Status, StatusRejected); err != nil {
			return err
		}
		for _, item := range items {
			if item.Status != ItemPending {
				continue
			}
			item.Status = ItemRejected
			if item.FailReason == "" {
				item.FailReason = note
			}
			if err := tx.UpdateItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "SPARE_REQUEST", RefID: id, ActorID: actorID, Action: shared.ApprovalReject, Note: note})
	}
	s.recordAudit(ctx, actorID, "request:reject", id, map[string]any{"note": note})
	return nil
}

// Cancel withdraws a draft or pending request.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actorID int64) error {
	req, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(req.Status, StatusCancelled) {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidState, req.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, req.Status, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "request:cancel", id, nil)
	return nil
}

// Reopen flags a received request for correction. The reopened request stays
// read-only; corrections happen only through new compensating movements in
// the ledger, never by editing history.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, actorID int64, note string) error {
	req, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(req.Status, StatusReopened) {
		return fmt.Errorf("%w: reopen from %s", ErrInvalidState, req.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, req.Status, StatusReopened)
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "SPARE_REQUEST", RefID: id, ActorID: actorID, Action: shared.ApprovalReopen, Note: note})
	}
	s.recordAudit(ctx, actorID, "request:reopen", id, map[string]any{"note": note})
	return nil
}

// Get returns one request with its items.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (SpareRequest, []Item, error) {
	return s.repo.Get(ctx, id)
}

// List returns requests matching the filter with a total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]SpareRequest, int, error) {
	return s.repo.List(ctx, filter)
}

// HasOpenRequest reports whether a PENDING or APPROVED request already covers
// (item, destination). The MSL scanner uses it to stay idempotent.
func (s *Service) HasOpenRequest(ctx context.Context, itemID int64, destination locations.Ref) (bool, error) {
	return s.repo.HasOpenRequest(ctx, itemID, destination)
}

func (s *Service) arbitrateCFUReason(ctx context.Context, items []ItemInput, totalQty int64, source, destination locations.Ref) (Reason, error) {
	if s.rules == nil {
		return ReasonMSL, nil
	}
	scSide := destination
	if source.Kind == locations.KindServiceCenter {
		scSide = source
	}
	for _, item := range items {
		covered, err := s.rules.HasActiveRule(ctx, item.ItemID, scSide)
		if err != nil {
			return "", err
		}
		if covered {
			return ReasonMSL, nil
		}
	}
	// No rule covers any item; the flat-quantity rule is the fallback.
	if totalQty > bulkQtyThreshold {
		return ReasonBulk, nil
	}
	return ReasonMSL, nil
}

func (s *Service) markItemFailed(ctx context.Context, item Item) {
	_ = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateItem(ctx, item)
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "spare_request", EntityID: id.String(), Meta: meta})
}

func approvedQuantities(items []Item, inputs []ApproveItemInput) (map[int64]int64, error) {
	quantities := make(map[int64]int64, len(items))
	if len(inputs) == 0 {
		for _, item := range items {
			if item.Status == ItemPending {
				quantities[item.ID] = item.RequestedQty
			}
		}
		return quantities, nil
	}
	byID := make(map[int64]Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	for _, in := range inputs {
		item, ok := byID[in.RequestItemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %d not on request", ErrValidation, in.RequestItemID)
		}
		if item.Status != ItemPending {
			return nil, fmt.Errorf("%w: item %d already resolved", ErrInvalidState, in.RequestItemID)
		}
		if in.ApprovedQty <= 0 || in.ApprovedQty > item.RequestedQty {
			return nil, fmt.Errorf("%w: approved qty must be within 1..%d", ErrValidation, item.RequestedQty)
		}
		quantities[in.RequestItemID] = in.ApprovedQty
	}
	return quantities, nil
}

func dispatchMovementType(t RequestType) (ledger.Type, error) {
	switch t {
	case TypeTechIssue:
		return ledger.TypeTechIssue, nil
	case TypeCFU:
		return ledger.TypeFillUpDispatch, nil
	case TypeBranchPickup:
		return ledger.TypePickupDispatch, nil
	case TypeTechReturnDefective:
		return ledger.TypeTechReturnDefective, nil
	case TypeASCReturnDefective:
		return ledger.TypeASCReturnDefective, nil
	case TypeASCReturnExcess:
		return ledger.TypeASCReturnExcess, nil
	}
	return "", fmt.Errorf("%w: no movement for type %s", ErrValidation, t)
}

// priceItem fills the item's price fields from its allocations. With several
// allocations the unit price is the quantity-weighted average; the exact
// breakdown stays on the allocation rows.
func priceItem(item *Item, allocations []invoice.Allocation) {
	if len(allocations) == 0 {
		return
	}
	var total decimal.Decimal
	var qty int64
	for _, alloc := range allocations {
		total = total.Add(alloc.UnitPrice.Mul(decimal.NewFromInt(alloc.Qty)))
		qty += alloc.Qty
	}
	if qty > 0 {
		item.UnitPrice = total.Div(decimal.NewFromInt(qty)).Round(2)
	}
	item.TaxRate = allocations[0].TaxRate
	item.HSN = allocations[0].HSN
}
