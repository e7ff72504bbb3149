// Package numbering allocates human-readable document numbers of the form
// PREFIX + YYYYMMDD + four digit daily sequence.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Document prefixes.
const (
	PrefixSale           = "SLS"
	PrefixPurchase       = "PRC"
	PrefixSaleReturn     = "SLR"
	PrefixPurchaseReturn = "PRR"
	PrefixPaymentIn      = "PMI"
	PrefixPaymentOut     = "PMO"
	PrefixTransfer       = "TRF"
)

const dayLayout = "20060102"

// ErrMalformed indicates a number that does not follow the document format.
var ErrMalformed = errors.New("numbering: malformed document number")

// Allocator hands out the next number for a prefix on a given day.
type Allocator interface {
	Next(ctx context.Context, prefix string, at time.Time) (string, error)
}

// Counter allocates numbers from the document_sequences table. It must be bound to
// the caller's transaction so the counter row lock is held until commit.
type Counter struct {
	q   db.Querier
	loc *time.Location
}

// NewCounter binds a counter to q. A nil location means UTC.
func NewCounter(q db.Querier, loc *time.Location) *Counter {
	if loc == nil {
		loc = time.UTC
	}
	return &Counter{q: q, loc: loc}
}

// Next increments the (prefix, day) counter under its row lock and formats the result.
func (c *Counter) Next(ctx context.Context, prefix string, at time.Time) (string, error) {
	if prefix == "" {
		return "", errors.New("numbering: prefix required")
	}
	day := Day(at, c.loc)
	var seq int64
	err := c.q.QueryRow(ctx, `INSERT INTO document_sequences (prefix, seq_date, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (prefix, seq_date) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`, prefix, day).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("numbering: allocate %s: %w", prefix, err)
	}
	return Format(prefix, day, seq), nil
}

// Day truncates at to the calendar day in loc.
func Day(at time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Format renders a document number.
func Format(prefix string, day time.Time, seq int64) string {
	return fmt.Sprintf("%s%s%04d", prefix, day.Format(dayLayout), seq)
}

// Number is a parsed document number.
type Number struct {
	Prefix string
	Day    time.Time
	Seq    int64
}

// Parse splits a document number. Transfer leg suffixes (-OUT, -IN) are ignored.
func Parse(no string) (Number, error) {
	base := StripLegSuffix(no)
	if len(base) < 3+len(dayLayout)+4 {
		return Number{}, ErrMalformed
	}
	prefix := base[:3]
	day, err := time.Parse(dayLayout, base[3:3+len(dayLayout)])
	if err != nil {
		return Number{}, ErrMalformed
	}
	seq, err := strconv.ParseInt(base[3+len(dayLayout):], 10, 64)
	if err != nil || seq <= 0 {
		return Number{}, ErrMalformed
	}
	return Number{Prefix: prefix, Day: day, Seq: seq}, nil
}

// Transfer leg suffixes.
const (
	SuffixOut = "-OUT"
	SuffixIn  = "-IN"
)

// StripLegSuffix removes a transfer leg suffix.
func StripLegSuffix(no string) string {
	for _, suffix := range []string{SuffixOut, SuffixIn} {
		if len(no) > len(suffix) && no[len(no)-len(suffix):] == suffix {
			return no[:len(no)-len(suffix)]
		}
	}
	return no
}
