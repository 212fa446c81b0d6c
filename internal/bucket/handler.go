package bucket

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/platform/httpx"
)

// Handler exposes bucket-state reads.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs bucket handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers bucket routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleGet)
	r.Get("/location", h.handleListByLocation)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, _ := strconv.ParseInt(q.Get("item_id"), 10, 64)
	loc, ok := parseLocation(q.Get("kind"), q.Get("location_id"))
	if itemID <= 0 || !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_id, kind and location_id are required")
		return
	}
	state, err := h.service.Get(r.Context(), itemID, loc)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) handleListByLocation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc, ok := parseLocation(q.Get("kind"), q.Get("location_id"))
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "kind and location_id are required")
		return
	}
	states, err := h.service.ListByLocation(r.Context(), loc)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, states)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidBucket), errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("bucket handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseLocation(kind, id string) (locations.Ref, bool) {
	locID, _ := strconv.ParseInt(id, 10, 64)
	ref := locations.Ref{Kind: locations.Kind(kind), ID: locID}
	return ref, ref.Valid()
}
