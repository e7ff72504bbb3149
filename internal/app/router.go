package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounts"
	audithttp "github.com/odyssey-erp/odyssey-ledger/internal/audit/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/auth"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/currency"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/categories"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/companies"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/payments"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/ratefeed"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/transactions"
	"github.com/odyssey-erp/odyssey-ledger/internal/users"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	AuthHandler         *auth.Handler
	ContactsHandler     *contacts.Handler
	AccountsHandler     *accounts.Handler
	TransactionsHandler *transactions.Handler
	PaymentsHandler     *payments.Handler
	CompaniesHandler    *companies.Handler
	WarehousesHandler   *warehouses.Handler
	ProductsHandler     *products.Handler
	CategoriesHandler   *categories.Handler
	UsersHandler        *users.Handler
	CurrencyHandler     *currency.Handler
	RateFeedHandler     *ratefeed.Handler
	PermissionsHandler  *rbac.PermissionsHandler
	AuditHandler        *audithttp.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with ledger defaults. Everything under
// /api except the token endpoint requires a bearer token.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.AuthHandler == nil {
			return
		}
		r.Route("/auth", params.AuthHandler.MountRoutes)
		r.Group(func(r chi.Router) {
			r.Use(params.AuthHandler.Middleware)
			if params.ContactsHandler != nil {
				r.Route("/contacts", params.ContactsHandler.MountRoutes)
			}
			if params.AccountsHandler != nil {
				r.Route("/accounts", params.AccountsHandler.MountRoutes)
			}
			if params.TransactionsHandler != nil {
				r.Route("/transactions", params.TransactionsHandler.MountRoutes)
			}
			if params.PaymentsHandler != nil {
				r.Route("/payments", params.PaymentsHandler.MountRoutes)
			}
			if params.CompaniesHandler != nil {
				r.Route("/companies", params.CompaniesHandler.MountRoutes)
			}
			if params.WarehousesHandler != nil {
				r.Route("/warehouses", params.WarehousesHandler.MountRoutes)
			}
			if params.ProductsHandler != nil {
				r.Route("/products", func(r chi.Router) {
					if params.CategoriesHandler != nil {
						r.Route("/categories", params.CategoriesHandler.MountRoutes)
					}
					params.ProductsHandler.MountRoutes(r)
				})
			}
			if params.UsersHandler != nil {
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
			r.Route("/settings", func(r chi.Router) {
				if params.CurrencyHandler != nil {
					params.CurrencyHandler.MountRoutes(r)
				}
				if params.RateFeedHandler != nil {
					params.RateFeedHandler.MountRoutes(r)
				}
				if params.PermissionsHandler != nil {
					params.PermissionsHandler.MountRoutes(r)
				}
				if params.AuditHandler != nil {
					r.Route("/audit-logs", params.AuditHandler.MountRoutes)
				}
			})
		})
	})

	return r
}
