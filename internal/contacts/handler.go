package contacts

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler serves /api/contacts.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers contact routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermContactsView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/balance", h.balance)
	})
	r.With(h.rbac.RequireAll(shared.PermContactsCreate)).Post("/", h.create)
	r.With(h.rbac.RequireAll(shared.PermContactsEdit)).Put("/{id}", h.update)
	r.With(h.rbac.RequireAll(shared.PermContactsEdit)).Post("/{id}/accounts", h.addAccount)
	r.With(h.rbac.RequireAll(shared.PermContactsDelete)).Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
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
	filter := ListFilter{
		Search: q.Get("search"),
		Type:   ContactType(strings.TrimSpace(q.Get("contact_type"))),
		Window: shared.NewWindow(int(skip), int(limit)),
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
		httpx.Fail(w, h.logger, "list contacts", err)
		return
	}
	if items == nil {
		items = []Contact{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, h.logger, "get contact", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.Fail(w, h.logger, "create contact", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
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
	c, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		httpx.Fail(w, h.logger, "update contact", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.Fail(w, h.logger, "delete contact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req struct {
		Currency string `json:"currency" validate:"required,min=3,max=10"`
	}
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.AddAccount(r.Context(), id, req.Currency)
	if err != nil {
		httpx.Fail(w, h.logger, "add contact account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acc)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.Balances(r.Context(), id)
	if err != nil {
		httpx.Fail(w, h.logger, "contact balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"contact_id": id, "balances": balances})
}
