package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/platform/httpx"
	"github.com/sparetrack/sparetrack/internal/shared"
)

// Handler exposes read access to the movement ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/reverse", h.handleReverse)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Type:        Type(q.Get("type")),
		ReferenceNo: q.Get("reference_no"),
	}
	if v := q.Get("item_id"); v != "" {
		filter.ItemID, _ = strconv.ParseInt(v, 10, 64)
	}
	if kind := q.Get("kind"); kind != "" {
		locID, _ := strconv.ParseInt(q.Get("location_id"), 10, 64)
		filter.Location = locations.Ref{Kind: locations.Kind(kind), ID: locID}
		if !filter.Location.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "kind and location_id must form a valid location")
			return
		}
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = t
		}
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}

	movements, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

type reverseDTO struct {
	Note string `json:"note"`
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "movement id must be a uuid")
		return
	}
	var dto reverseDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	reversal, err := h.service.Reverse(r.Context(), id, shared.ActorFromContext(r.Context()), dto.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrAlreadyReversed):
			httpx.Problem(w, http.StatusConflict, "State Conflict", err.Error())
		default:
			h.logger.Error("reverse movement", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, reversal)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "movement id must be a uuid")
		return
	}
	movement, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get movement", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movement)
}
