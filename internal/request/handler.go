package request

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/platform/httpx"
	"github.com/sparetrack/sparetrack/internal/shared"
)

// Handler exposes the spare-request workflow over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs request handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers request routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/submit", h.handleSubmit)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/receipt", h.handleReceipt)
	r.Post("/{id}/reject", h.handleReject)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Post("/{id}/reopen", h.handleReopen)
}

type locationDTO struct {
	Kind string `json:"kind" validate:"required"`
	ID   int64  `json:"id" validate:"required,gt=0"`
}

func (d locationDTO) ref() locations.Ref {
	return locations.Ref{Kind: locations.Kind(d.Kind), ID: d.ID}
}

type createItemDTO struct {
	ItemID    int64 `json:"item_id" validate:"required,gt=0"`
	Qty       int64 `json:"qty" validate:"required,gt=0"`
	Defective bool  `json:"defective"`
}

type createRequestDTO struct {
	Source      locationDTO     `json:"source" validate:"required"`
	Destination locationDTO     `json:"destination" validate:"required"`
	Reason      string          `json:"reason" validate:"required"`
	Note        string          `json:"note"`
	Draft       bool            `json:"draft"`
	Items       []createItemDTO `json:"items" validate:"required,min=1,dive"`
}

type requestResponse struct {
	Request SpareRequest `json:"request"`
	Items   []Item       `json:"items"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var dto createRequestDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	reason := Reason(dto.Reason)
	if !reason.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown reason "+dto.Reason)
		return
	}
	input := CreateInput{
		Source:      dto.Source.ref(),
		Destination: dto.Destination.ref(),
		Reason:      reason,
		Note:        dto.Note,
		Draft:       dto.Draft,
		ActorID:     shared.ActorFromContext(r.Context()),
	}
	for _, item := range dto.Items {
		input.Items = append(input.Items, ItemInput{ItemID: item.ItemID, Qty: item.Qty, Defective: item.Defective})
	}

	req, items, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, "create request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, requestResponse{Request: req, Items: items})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status: Status(q.Get("status")),
		Type:   RequestType(q.Get("type")),
	}
	if kind := q.Get("dest_kind"); kind != "" {
		locID, _ := strconv.ParseInt(q.Get("dest_id"), 10, 64)
		filter.Destination = locations.Ref{Kind: locations.Kind(kind), ID: locID}
		if !filter.Destination.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "dest_kind and dest_id must form a valid location")
			return
		}
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	requests, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list requests", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": requests, "total": total})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	req, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, requestResponse{Request: req, Items: items})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	if err := h.service.Submit(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, "submit request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusPending)})
}

type approveItemDTO struct {
	RequestItemID int64 `json:"request_item_id" validate:"required,gt=0"`
	ApprovedQty   int64 `json:"approved_qty" validate:"required,gt=0"`
}

type approveRequestDTO struct {
	Items []approveItemDTO `json:"items" validate:"dive"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	var dto approveRequestDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ApproveInput{RequestID: id, ActorID: shared.ActorFromContext(r.Context())}
	for _, item := range dto.Items {
		input.Items = append(input.Items, ApproveItemInput{RequestItemID: item.RequestItemID, ApprovedQty: item.ApprovedQty})
	}

	result, err := h.service.Approve(r.Context(), input)
	if err != nil {
		h.respondError(w, "approve request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type receiptDTO struct {
	DocumentRef string `json:"document_ref" validate:"required"`
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	var dto receiptDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, replayed, err := h.service.ConfirmReceipt(r.Context(), id, dto.DocumentRef, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, "confirm receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"request": req, "replayed": replayed})
}

type noteDTO struct {
	Note string `json:"note"`
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actorID int64, note string) error {
		return h.service.Reject(r.Context(), id, actorID, note)
	}, StatusRejected)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actorID int64, _ string) error {
		return h.service.Cancel(r.Context(), id, actorID)
	}, StatusCancelled)
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actorID int64, note string) error {
		return h.service.Reopen(r.Context(), id, actorID, note)
	}, StatusReopened)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID, int64, string) error, to Status) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	var dto noteDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := fn(id, shared.ActorFromContext(r.Context()), dto.Note); err != nil {
		h.respondError(w, "transition request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(to)})
}

func (h *Handler) requestID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "request id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnclassifiable):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNothingApproved):
		httpx.Problem(w, http.StatusConflict, "State Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
