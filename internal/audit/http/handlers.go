package audithttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// LogService defines the business contract for audit log reads.
type LogService interface {
	List(ctx context.Context, filters audit.Filters) (audit.Page, error)
	Export(ctx context.Context, filters audit.Filters) ([]audit.Entry, error)
}

// Handler serves /api/settings/audit-logs.
type Handler struct {
	logger  *slog.Logger
	service LogService
	rbac    rbac.Middleware
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service LogService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.List(r.Context(), filters)
	if err != nil {
		httpx.Fail(w, h.logger, "list audit logs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		httpx.Fail(w, h.logger, "export audit logs", err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		httpx.Fail(w, h.logger, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-logs.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	filters := audit.Filters{Module: q.Get("module"), Action: q.Get("action")}
	var err error
	if filters.UserID, err = httpx.QueryInt64(r, "user_id"); err != nil {
		return audit.Filters{}, err
	}
	if filters.From, err = httpx.QueryDate(r, "start_date"); err != nil {
		return audit.Filters{}, err
	}
	if filters.To, err = httpx.QueryDate(r, "end_date"); err != nil {
		return audit.Filters{}, err
	}
	skip, err := httpx.QueryInt64(r, "skip")
	if err != nil {
		return audit.Filters{}, err
	}
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		return audit.Filters{}, err
	}
	filters.Window = shared.NewWindow(int(skip), int(limit))
	return filters, nil
}
