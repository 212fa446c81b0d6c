package msl

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/platform/httpx"
)

// Handler exposes replenishment rules and a manual scan trigger.
type Handler struct {
	logger    *slog.Logger
	repo      *Repository
	locations locations.Repository
	scanner   *Scanner
}

// NewHandler constructs msl handler.
func NewHandler(logger *slog.Logger, repo *Repository, locationRepo locations.Repository, scanner *Scanner) *Handler {
	return &Handler{logger: logger, repo: repo, locations: locationRepo, scanner: scanner}
}

// MountRoutes registers msl routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/rules", h.handleListRules)
	r.Post("/scan", h.handleScan)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	scID, _ := strconv.ParseInt(r.URL.Query().Get("service_center_id"), 10, 64)
	if scID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "service_center_id required")
		return
	}
	tier, err := h.locations.GetTier(r.Context(), locations.Ref{Kind: locations.KindServiceCenter, ID: scID})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rules, err := h.repo.ListRules(r.Context(), tier)
	if err != nil {
		h.logger.Error("list msl rules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rules)
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scanner.Run(r.Context())
	if err != nil {
		if errors.Is(err, ErrScanLocked) {
			httpx.Problem(w, http.StatusConflict, "State Conflict", err.Error())
			return
		}
		h.logger.Error("msl scan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
