// Package ratefeed ingests exchange rates from the central bank XML feed and the
// CoinGecko price API into the currency rate store.
package ratefeed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// DefaultTCMBURL is the public feed root.
const DefaultTCMBURL = "https://www.tcmb.gov.tr/kurlar"

// SupportedCurrencies lists the feed codes that are stored.
var SupportedCurrencies = []string{"USD", "EUR", "GBP", "CHF", "JPY", "SAR", "AUD", "CAD", "DKK", "NOK", "SEK", "RUB"}

const feedDateLayout = "01/02/2006"

// Quote is one currency of a daily bulletin with values normalised to a single unit.
type Quote struct {
	Code            string              `json:"code"`
	Name            string              `json:"name"`
	Unit            int                 `json:"unit"`
	ForexBuying     decimal.NullDecimal `json:"forex_buying"`
	ForexSelling    decimal.NullDecimal `json:"forex_selling"`
	BanknoteBuying  decimal.NullDecimal `json:"banknote_buying"`
	BanknoteSelling decimal.NullDecimal `json:"banknote_selling"`
}

// Rate is the conversion rate stored for the quote: buying, else selling.
func (q Quote) Rate() (decimal.Decimal, bool) {
	switch {
	case q.ForexBuying.Valid && q.ForexBuying.Decimal.IsPositive():
		return q.ForexBuying.Decimal, true
	case q.ForexSelling.Valid && q.ForexSelling.Decimal.IsPositive():
		return q.ForexSelling.Decimal, true
	}
	return decimal.Zero, false
}

// DailyRates is a parsed bulletin.
type DailyRates struct {
	Date   time.Time `json:"date"`
	Quotes []Quote   `json:"currencies"`
}

type bulletin struct {
	XMLName    xml.Name        `xml:"Tarih_Date"`
	Date       string          `xml:"Date,attr"`
	Currencies []bulletinQuote `xml:"Currency"`
}

type bulletinQuote struct {
	Code            string `xml:"CurrencyCode,attr"`
	Unit            string `xml:"Unit"`
	Name            string `xml:"CurrencyName"`
	ForexBuying     string `xml:"ForexBuying"`
	ForexSelling    string `xml:"ForexSelling"`
	BanknoteBuying  string `xml:"BanknoteBuying"`
	BanknoteSelling string `xml:"BanknoteSelling"`
}

// TCMBClient downloads daily bulletins.
type TCMBClient struct {
	baseURL string
	client  *http.Client
}

// NewTCMBClient builds a client. Zero timeout means 30 seconds.
func NewTCMBClient(baseURL string, timeout time.Duration) *TCMBClient {
	if baseURL == "" {
		baseURL = DefaultTCMBURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TCMBClient{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: timeout}}
}

// BulletinURL returns today's bulletin URL for a nil date, else the dated archive URL.
func (c *TCMBClient) BulletinURL(date *time.Time) string {
	if date == nil {
		return c.baseURL + "/today.xml"
	}
	return fmt.Sprintf("%s/%s/%s.xml", c.baseURL, date.Format("200601"), date.Format("02012006"))
}

// FetchDailyRates downloads and parses one bulletin. Transport failures and non-200
// answers are reported as httpx.ErrUnavailable.
func (c *TCMBClient) FetchDailyRates(ctx context.Context, date *time.Time) (DailyRates, error) {
	url := c.BulletinURL(date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DailyRates{}, err
	}
	req.Header.Set("Accept", "application/xml")
	resp, err := c.client.Do(req)
	if err != nil {
		return DailyRates{}, fmt.Errorf("%w: tcmb: %v", httpx.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return DailyRates{}, fmt.Errorf("%w: tcmb: %s answered %d", httpx.ErrUnavailable, url, resp.StatusCode)
	}
	rates, err := ParseBulletin(resp.Body)
	if err != nil {
		return DailyRates{}, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
	}
	return rates, nil
}

// ParseBulletin decodes the bulletin XML. Only supported currencies are kept and
// every value is divided by its unit.
func ParseBulletin(r io.Reader) (DailyRates, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader
	var doc bulletin
	if err := dec.Decode(&doc); err != nil {
		return DailyRates{}, fmt.Errorf("tcmb: parse bulletin: %w", err)
	}
	var out DailyRates
	if doc.Date != "" {
		d, err := time.Parse(feedDateLayout, strings.TrimSpace(doc.Date))
		if err != nil {
			return DailyRates{}, fmt.Errorf("tcmb: bulletin date %q: %w", doc.Date, err)
		}
		out.Date = d
	}
	supported := make(map[string]struct{}, len(SupportedCurrencies))
	for _, code := range SupportedCurrencies {
		supported[code] = struct{}{}
	}
	for _, raw := range doc.Currencies {
		code := strings.ToUpper(strings.TrimSpace(raw.Code))
		if _, ok := supported[code]; !ok {
			continue
		}
		unit := 1
		if s := strings.TrimSpace(raw.Unit); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return DailyRates{}, fmt.Errorf("tcmb: %s unit %q", code, raw.Unit)
			}
			unit = n
		}
		q := Quote{Code: code, Name: strings.TrimSpace(raw.Name), Unit: unit}
		if q.Name == "" {
			q.Name = code
		}
		var err error
		if q.ForexBuying, err = perUnit(raw.ForexBuying, unit); err != nil {
			return DailyRates{}, fmt.Errorf("tcmb: %s forex buying: %w", code, err)
		}
		if q.ForexSelling, err = perUnit(raw.ForexSelling, unit); err != nil {
			return DailyRates{}, fmt.Errorf("tcmb: %s forex selling: %w", code, err)
		}
		if q.BanknoteBuying, err = perUnit(raw.BanknoteBuying, unit); err != nil {
			return DailyRates{}, fmt.Errorf("tcmb: %s banknote buying: %w", code, err)
		}
		if q.BanknoteSelling, err = perUnit(raw.BanknoteSelling, unit); err != nil {
			return DailyRates{}, fmt.Errorf("tcmb: %s banknote selling: %w", code, err)
		}
		if _, ok := q.Rate(); !ok {
			continue
		}
		out.Quotes = append(out.Quotes, q)
	}
	return out, nil
}

func perUnit(raw string, unit int) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if unit > 1 {
		d = d.DivRound(decimal.NewFromInt(int64(unit)), shared.RateScale)
	}
	return decimal.NewNullDecimal(d), nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-9", "latin5":
		return charmap.ISO8859_9.NewDecoder().Reader(input), nil
	case "windows-1254", "cp1254":
		return charmap.Windows1254.NewDecoder().Reader(input), nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("tcmb: unsupported charset %q", label)
}
