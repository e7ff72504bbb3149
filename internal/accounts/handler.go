package accounts

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler serves /api/accounts.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermAccountsView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/transactions", h.movements)
	})
	r.With(h.rbac.RequireAll(shared.PermAccountsCreate)).Post("/", h.create)
	r.With(h.rbac.RequireAll(shared.PermAccountsEdit)).Put("/{id}", h.update)
	r.With(h.rbac.RequireAll(shared.PermAccountsEdit)).Post("/{id}/transactions", h.addMovement)
	r.With(h.rbac.RequireAll(shared.PermAccountsEdit)).Post("/transfer", h.transfer)
	r.With(h.rbac.RequireAll(shared.PermAccountsDelete)).Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companyID, err := httpx.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := ListFilter{
		CompanyID:   companyID,
		AccountType: Type(strings.TrimSpace(q.Get("account_type"))),
		Currency:    strings.TrimSpace(q.Get("currency")),
	}
	if q.Get("is_active") != "" {
		active, err := httpx.QueryBool(r, "is_active", true)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.IsActive = &active
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list accounts", err)
		return
	}
	if items == nil {
		items = []Account{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, h.logger, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.Fail(w, h.logger, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acc)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var patch Patch
	if err := httpx.DecodeValid(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		httpx.Fail(w, h.logger, "update account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.Fail(w, h.logger, "delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	skip, err := httpx.QueryInt64(r, "skip")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.Movements(r.Context(), id, shared.NewWindow(int(skip), int(limit)))
	if err != nil {
		httpx.Fail(w, h.logger, "list account movements", err)
		return
	}
	if items == nil {
		items = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) addMovement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ManualMovementInput
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.AddMovement(r.Context(), id, req)
	if err != nil {
		httpx.Fail(w, h.logger, "add account movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferInput
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		httpx.Fail(w, h.logger, "transfer between accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
