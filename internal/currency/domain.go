// Package currency keeps the currency catalogue and the exchange-rate table, and
// resolves conversion rates between any two currencies through the base currency.
package currency

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	xcurrency "golang.org/x/text/currency"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Source identifies where an exchange rate came from.
type Source string

const (
	SourceTCMB   Source = "tcmb"
	SourceManual Source = "manual"
	SourceCrypto Source = "crypto_api"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceTCMB, SourceManual, SourceCrypto:
		return true
	}
	return false
}

// Path describes how a rate was resolved.
type Path string

const (
	PathIdentity Path = "identity"
	PathDirect   Path = "direct"
	PathInverse  Path = "inverse"
	PathCross    Path = "cross"
)

const (
	defaultDecimalPlaces int32 = 2
	cryptoDecimalPlaces  int32 = 8
)

// Currency is an entry of the currency catalogue.
type Currency struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Symbol        string    `json:"symbol"`
	DecimalPlaces int32     `json:"decimal_places"`
	IsCrypto      bool      `json:"is_crypto"`
	IsDefault     bool      `json:"is_default"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExchangeRate is one stored rate snapshot.
type ExchangeRate struct {
	ID              int64               `json:"id"`
	FromCurrency    string              `json:"from_currency"`
	ToCurrency      string              `json:"to_currency"`
	BuyingRate      decimal.NullDecimal `json:"buying_rate"`
	SellingRate     decimal.NullDecimal `json:"selling_rate"`
	BanknoteBuying  decimal.NullDecimal `json:"banknote_buying"`
	BanknoteSelling decimal.NullDecimal `json:"banknote_selling"`
	Rate            decimal.Decimal     `json:"rate"`
	RateDate        time.Time           `json:"rate_date"`
	Source          Source              `json:"source"`
	IsCurrent       bool                `json:"is_current"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Resolution is a rate between two currencies together with the path used to find it.
type Resolution struct {
	From     string          `json:"from_currency"`
	To       string          `json:"to_currency"`
	Rate     decimal.Decimal `json:"rate"`
	Path     Path            `json:"path"`
	RateDate *time.Time      `json:"rate_date,omitempty"`
}

// Conversion is the result of converting an amount.
type Conversion struct {
	Amount        decimal.Decimal `json:"amount"`
	From          string          `json:"from_currency"`
	To            string          `json:"to_currency"`
	Rate          decimal.Decimal `json:"rate"`
	Path          Path            `json:"path"`
	Converted     decimal.Decimal `json:"converted_amount"`
	Rounded       decimal.Decimal `json:"rounded_amount"`
	DecimalPlaces int32           `json:"decimal_places"`
	RateDate      *time.Time      `json:"rate_date,omitempty"`
}

// RateInput describes a rate snapshot to store.
type RateInput struct {
	From            string
	To              string
	Rate            decimal.Decimal
	Buying          decimal.NullDecimal
	Selling         decimal.NullDecimal
	BanknoteBuying  decimal.NullDecimal
	BanknoteSelling decimal.NullDecimal
	Date            time.Time
	Source          Source
}

// Normalize upper-cases codes, truncates the date and rounds the rates.
func (in RateInput) Normalize() RateInput {
	in.From = NormalizeCode(in.From)
	in.To = NormalizeCode(in.To)
	in.Rate = shared.RoundRate(in.Rate)
	in.Date = truncateDay(in.Date)
	for _, nd := range []*decimal.NullDecimal{&in.Buying, &in.Selling, &in.BanknoteBuying, &in.BanknoteSelling} {
		if nd.Valid {
			nd.Decimal = shared.RoundRate(nd.Decimal)
		}
	}
	return in
}

// Validate checks the input for storage.
func (in RateInput) Validate() error {
	if in.From == "" || in.To == "" {
		return fmt.Errorf("%w: from and to currency required", httpx.ErrValidation)
	}
	if in.From == in.To {
		return fmt.Errorf("%w: rate pair must differ", httpx.ErrValidation)
	}
	if !in.Rate.IsPositive() {
		return fmt.Errorf("%w: rate must be positive", httpx.ErrValidation)
	}
	if !in.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", httpx.ErrValidation, in.Source)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: rate date required", httpx.ErrValidation)
	}
	return nil
}

// Scope selects the current rows replaced by a refresh. Empty fields match anything.
type Scope struct {
	Source Source
	From   string
	To     string
}

// RateFilter narrows rate listings.
type RateFilter struct {
	From     string
	To       string
	Source   Source
	DateFrom *time.Time
	DateTo   *time.Time
	Window   shared.Window
}

// CreateCurrencyInput carries a new catalogue entry.
type CreateCurrencyInput struct {
	Code          string `json:"code" validate:"required,min=2,max=10"`
	Name          string `json:"name" validate:"required,max=100"`
	Symbol        string `json:"symbol" validate:"max=10"`
	DecimalPlaces *int32 `json:"decimal_places" validate:"omitempty,min=0,max=18"`
	IsCrypto      bool   `json:"is_crypto"`
	IsDefault     bool   `json:"is_default"`
	IsActive      *bool  `json:"is_active"`
}

// CurrencyPatch lists the mutable currency fields; nil leaves a field unchanged.
type CurrencyPatch struct {
	Name          *string `json:"name" validate:"omitempty,max=100"`
	Symbol        *string `json:"symbol" validate:"omitempty,max=10"`
	DecimalPlaces *int32  `json:"decimal_places" validate:"omitempty,min=0,max=18"`
	IsActive      *bool   `json:"is_active"`
	IsDefault     *bool   `json:"is_default"`
}

// Apply copies set fields onto c.
func (p CurrencyPatch) Apply(c *Currency) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Symbol != nil {
		c.Symbol = *p.Symbol
	}
	if p.DecimalPlaces != nil {
		c.DecimalPlaces = *p.DecimalPlaces
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if p.IsDefault != nil {
		c.IsDefault = *p.IsDefault
	}
}

// NormalizeCode trims and upper-cases a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ISODecimalPlaces returns the ISO 4217 minor units for code.
func ISODecimalPlaces(code string) (int32, bool) {
	unit, err := xcurrency.ParseISO(NormalizeCode(code))
	if err != nil {
		return 0, false
	}
	scale, _ := xcurrency.Standard.Rounding(unit)
	return int32(scale), true
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
