package shared

// Permission actions.
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

// Ledger permissions, formatted module.action.
const (
	PermTransactionsView   = "transactions.view"
	PermTransactionsCreate = "transactions.create"
	PermTransactionsEdit   = "transactions.edit"
	PermTransactionsDelete = "transactions.delete"

	PermPaymentsView   = "payments.view"
	PermPaymentsCreate = "payments.create"
	PermPaymentsEdit   = "payments.edit"
	PermPaymentsDelete = "payments.delete"

	PermAccountsView   = "accounts.view"
	PermAccountsCreate = "accounts.create"
	PermAccountsEdit   = "accounts.edit"
	PermAccountsDelete = "accounts.delete"

	PermContactsView   = "contacts.view"
	PermContactsCreate = "contacts.create"
	PermContactsEdit   = "contacts.edit"
	PermContactsDelete = "contacts.delete"

	PermCompaniesView   = "companies.view"
	PermCompaniesCreate = "companies.create"
	PermCompaniesEdit   = "companies.edit"
	PermCompaniesDelete = "companies.delete"

	PermProductsView   = "products.view"
	PermProductsCreate = "products.create"
	PermProductsEdit   = "products.edit"
	PermProductsDelete = "products.delete"

	PermUsersView   = "users.view"
	PermUsersCreate = "users.create"
	PermUsersEdit   = "users.edit"
	PermUsersDelete = "users.delete"

	PermSettingsView   = "settings.view"
	PermSettingsCreate = "settings.create"
	PermSettingsEdit   = "settings.edit"
	PermSettingsDelete = "settings.delete"
)

// Permission builds a module.action permission string.
func Permission(module, action string) string {
	return module + "." + action
}

// LedgerScopes lists every permission known to the ledger API.
func LedgerScopes() []string {
	modules := []string{"transactions", "payments", "accounts", "contacts", "companies", "products", "users", "settings"}
	actions := []string{ActionView, ActionCreate, ActionEdit, ActionDelete}
	scopes := make([]string, 0, len(modules)*len(actions))
	for _, m := range modules {
		for _, a := range actions {
			scopes = append(scopes, Permission(m, a))
		}
	}
	return scopes
}
