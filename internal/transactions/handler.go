package transactions

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler serves /api/transactions.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers transaction routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermTransactionsView))
		r.Get("/", h.list(""))
		r.Get("/sales", h.list(TypeSale))
		r.Get("/purchases", h.list(TypePurchase))
		r.Get("/{id}", h.get)
	})
	r.With(h.rbac.RequireAll(shared.PermTransactionsCreate)).Post("/", h.create)
	r.With(h.rbac.RequireAll(shared.PermTransactionsCreate)).Post("/{id}/return", h.createReturn)
	r.With(h.rbac.RequireAll(shared.PermTransactionsEdit)).Put("/{id}", h.update)
	r.With(h.rbac.RequireAll(shared.PermTransactionsEdit)).Post("/{id}/complete", h.complete)
	r.With(h.rbac.RequireAll(shared.PermTransactionsEdit)).Post("/{id}/cancel", h.cancel)
	r.With(h.rbac.RequireAll(shared.PermTransactionsDelete)).Delete("/{id}", h.delete)
}

func (h *Handler) list(fixed Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ListFilter{
			Type:   fixed,
			Status: Status(strings.TrimSpace(q.Get("status"))),
		}
		if fixed == "" {
			filter.Type = Type(strings.TrimSpace(q.Get("transaction_type")))
		}
		var err error
		if filter.CompanyID, err = httpx.QueryInt64(r, "company_id"); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if filter.ContactID, err = httpx.QueryInt64(r, "contact_id"); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if filter.DateFrom, err = httpx.QueryDate(r, "start_date"); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if filter.DateTo, err = httpx.QueryDate(r, "end_date"); err != nil {
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
		filter.Window = shared.NewWindow(int(skip), int(limit))
		items, err := h.service.List(r.Context(), filter)
		if err != nil {
			httpx.Fail(w, h.logger, "list transactions", err)
			return
		}
		if items == nil {
			items = []Transaction{}
		}
		httpx.JSON(w, http.StatusOK, items)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, h.logger, "get transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.Fail(w, h.logger, "create transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
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
	t, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		httpx.Fail(w, h.logger, "update transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Complete(r.Context(), id)
	if err != nil {
		httpx.Fail(w, h.logger, "complete transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Cancel(r.Context(), id, r.URL.Query().Get("reason"))
	if err != nil {
		httpx.Fail(w, h.logger, "cancel transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	full, err := httpx.QueryBool(r, "full_return", true)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := ReturnInput{Reason: r.URL.Query().Get("reason"), FullReturn: full}
	if !full {
		var body struct {
			Items []ReturnLine `json:"items" validate:"required,min=1,dive"`
		}
		if err := httpx.DecodeValid(r, &body); err != nil {
			httpx.RespondError(w, err)
			return
		}
		in.Lines = body.Items
	}
	t, err := h.service.Return(r.Context(), id, in)
	if err != nil {
		httpx.Fail(w, h.logger, "return transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.Fail(w, h.logger, "delete transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "transaction deleted"})
}
