package currency

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler serves the currency and exchange-rate settings API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers routes relative to /api/settings.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSettingsView))
		r.Get("/currencies/list", h.listCurrencies)
		r.Get("/exchange-rates/list", h.listRates)
		r.Get("/exchange-rates/convert", h.convert)
		r.Get("/exchange-rates/{from}/{to}", h.latestRate)
	})
	r.With(h.rbac.RequireAll(shared.PermSettingsCreate)).Post("/currencies", h.createCurrency)
	r.With(h.rbac.RequireAll(shared.PermSettingsEdit)).Put("/currencies/{id}", h.updateCurrency)
	r.With(h.rbac.RequireAll(shared.PermSettingsDelete)).Delete("/currencies/{id}", h.deleteCurrency)
	r.With(h.rbac.RequireAll(shared.PermSettingsCreate)).Post("/exchange-rates", h.createRate)
}

func (h *Handler) listCurrencies(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := httpx.QueryBool(r, "active_only", false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListCurrencies(r.Context(), activeOnly)
	if err != nil {
		httpx.Fail(w, h.logger, "list currencies", err)
		return
	}
	if items == nil {
		items = []Currency{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) createCurrency(w http.ResponseWriter, r *http.Request) {
	var req CreateCurrencyInput
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.CreateCurrency(r.Context(), req)
	if err != nil {
		httpx.Fail(w, h.logger, "create currency", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateCurrency(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var patch CurrencyPatch
	if err := httpx.DecodeValid(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.service.UpdateCurrency(r.Context(), id, patch)
	if err != nil {
		httpx.Fail(w, h.logger, "update currency", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteCurrency(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteCurrency(r.Context(), id); err != nil {
		httpx.Fail(w, h.logger, "delete currency", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := httpx.QueryDate(r, "start_date")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	end, err := httpx.QueryDate(r, "end_date")
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
	rates, err := h.service.ListRates(r.Context(), RateFilter{
		From:     q.Get("from_currency"),
		To:       q.Get("to_currency"),
		Source:   Source(strings.TrimSpace(q.Get("source"))),
		DateFrom: start,
		DateTo:   end,
		Window:   shared.NewWindow(int(skip), int(limit)),
	})
	if err != nil {
		httpx.Fail(w, h.logger, "list exchange rates", err)
		return
	}
	if rates == nil {
		rates = []ExchangeRate{}
	}
	httpx.JSON(w, http.StatusOK, rates)
}

func (h *Handler) latestRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.service.LatestRate(r.Context(), chi.URLParam(r, "from"), chi.URLParam(r, "to"))
	if err != nil {
		httpx.Fail(w, h.logger, "latest exchange rate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rate)
}

func (h *Handler) createRate(w http.ResponseWriter, r *http.Request) {
	var req ManualRateInput
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.CreateManualRate(r.Context(), req)
	if err != nil {
		httpx.Fail(w, h.logger, "create exchange rate", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	amount, err := httpx.QueryDecimal(r, "amount")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := httpx.QueryDate(r, "date")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	result, err := h.service.Convert(r.Context(), amount, q.Get("from_currency"), q.Get("to_currency"), date)
	if err != nil {
		httpx.Fail(w, h.logger, "convert currency", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
