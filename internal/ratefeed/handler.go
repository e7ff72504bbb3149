package ratefeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// BackfillEnqueuer schedules a backfill on the worker.
type BackfillEnqueuer interface {
	EnqueueBackfill(ctx context.Context, start, end time.Time) (string, error)
}

// Handler exposes the feed endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer BackfillEnqueuer
	rbac     rbac.Middleware
}

// NewHandler builds the handler. enqueuer may be nil when no worker queue is wired.
func NewHandler(logger *slog.Logger, service *Service, enqueuer BackfillEnqueuer, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer, rbac: rbac}
}

// MountRoutes registers routes relative to /api/settings.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermSettingsView)).Get("/exchange-rates/tcmb/current", h.current)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSettingsEdit))
		r.Post("/exchange-rates/tcmb/update", h.updateToday)
		r.Post("/exchange-rates/tcmb/fetch-history", h.backfill)
		r.Post("/exchange-rates/tcmb/fetch-history/async", h.backfillAsync)
		r.Post("/exchange-rates/crypto/update", h.updateCrypto)
	})
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	rates, err := h.service.CurrentSnapshot(r.Context())
	if err != nil {
		httpx.Fail(w, h.logger, "tcmb snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rates)
}

func (h *Handler) updateToday(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.UpdateToday(r.Context())
	if err != nil {
		httpx.Fail(w, h.logger, "tcmb update", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) updateCrypto(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.UpdateCrypto(r.Context())
	if err != nil {
		httpx.Fail(w, h.logger, "crypto update", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) backfill(w http.ResponseWriter, r *http.Request) {
	start, end, err := rangeParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Backfill(r.Context(), start, end)
	if err != nil {
		httpx.Fail(w, h.logger, "tcmb backfill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) backfillAsync(w http.ResponseWriter, r *http.Request) {
	start, end, err := rangeParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ValidateRange(start, end); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.enqueuer == nil {
		httpx.RespondError(w, fmt.Errorf("%w: job queue not configured", httpx.ErrUnavailable))
		return
	}
	id, err := h.enqueuer.EnqueueBackfill(r.Context(), start, end)
	if err != nil {
		httpx.Fail(w, h.logger, "enqueue tcmb backfill", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{
		"task_id":    id,
		"start_date": start.Format(time.DateOnly),
		"end_date":   end.Format(time.DateOnly),
	})
}

func rangeParams(r *http.Request) (time.Time, time.Time, error) {
	start, err := httpx.QueryDate(r, "start_date")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := httpx.QueryDate(r, "end_date")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start == nil || end == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_date and end_date required", httpx.ErrValidation)
	}
	return *start, *end, nil
}
