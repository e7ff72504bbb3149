package payments

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// IdempotencyHeader carries the client supplied request key.
const IdempotencyHeader = "Idempotency-Key"

// Handler serves /api/payments.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPaymentsView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.With(h.rbac.RequireAll(shared.PermPaymentsCreate)).Post("/", h.create)
	r.With(h.rbac.RequireAll(shared.PermPaymentsCreate)).Post("/transfer", h.transfer)
	r.With(h.rbac.RequireAll(shared.PermPaymentsEdit)).Put("/{id}", h.update)
	r.With(h.rbac.RequireAll(shared.PermPaymentsDelete)).Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Type:    Type(strings.TrimSpace(q.Get("payment_type"))),
		Channel: Channel(strings.TrimSpace(q.Get("payment_channel"))),
	}
	var err error
	for name, dst := range map[string]*int64{
		"contact_id":     &filter.ContactID,
		"account_id":     &filter.AccountID,
		"transaction_id": &filter.TransactionID,
	} {
		if *dst, err = httpx.QueryInt64(r, name); err != nil {
			httpx.RespondError(w, err)
			return
		}
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
		httpx.Fail(w, h.logger, "list payments", err)
		return
	}
	if items == nil {
		items = []Payment{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, h.logger, "get payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(IdempotencyHeader)
	p, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.Fail(w, h.logger, "create payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferInput
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(IdempotencyHeader)
	res, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		httpx.Fail(w, h.logger, "transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
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
	p, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		httpx.Fail(w, h.logger, "update payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.Fail(w, h.logger, "delete payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "payment deleted"})
}
