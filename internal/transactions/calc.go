package transactions

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// ComputeItem derives a line's amounts in a fixed order: gross, discount, net, tax,
// total, then profit. Amounts are rounded to storage precision as they are derived so
// stored lines add up exactly.
func ComputeItem(in ItemInput) (Item, error) {
	qty := decimal.NewFromInt(1)
	if in.Quantity.Valid {
		qty = in.Quantity.Decimal
	}
	switch {
	case !qty.IsPositive():
		return Item{}, fmt.Errorf("%w: quantity must be positive", httpx.ErrValidation)
	case in.UnitPrice.IsNegative():
		return Item{}, fmt.Errorf("%w: unit_price must not be negative", httpx.ErrValidation)
	case in.CostPrice.IsNegative():
		return Item{}, fmt.Errorf("%w: cost_price must not be negative", httpx.ErrValidation)
	case in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(hundred):
		return Item{}, fmt.Errorf("%w: discount_percent must be between 0 and 100", httpx.ErrValidation)
	case in.TaxPercent.IsNegative():
		return Item{}, fmt.Errorf("%w: tax_percent must not be negative", httpx.ErrValidation)
	case in.DiscountAmount.Valid && in.DiscountAmount.Decimal.IsNegative():
		return Item{}, fmt.Errorf("%w: discount_amount must not be negative", httpx.ErrValidation)
	case in.TaxAmount.Valid && in.TaxAmount.Decimal.IsNegative():
		return Item{}, fmt.Errorf("%w: tax_amount must not be negative", httpx.ErrValidation)
	}

	line := shared.RoundAmount(qty.Mul(in.UnitPrice))
	gross := line

	discount := decimal.Zero
	switch {
	case in.DiscountAmount.Valid:
		discount = shared.RoundAmount(in.DiscountAmount.Decimal)
	case !in.DiscountPercent.IsZero():
		discount = shared.RoundAmount(shared.PercentOf(line, in.DiscountPercent))
	}
	if discount.GreaterThan(gross) {
		return Item{}, fmt.Errorf("%w: discount exceeds line amount", httpx.ErrValidation)
	}
	line = line.Sub(discount)

	tax := decimal.Zero
	switch {
	case in.TaxAmount.Valid:
		tax = shared.RoundAmount(in.TaxAmount.Decimal)
	case !in.TaxPercent.IsZero():
		tax = shared.RoundAmount(shared.PercentOf(line, in.TaxPercent))
	}
	line = line.Add(tax)

	profit := shared.RoundAmount(in.UnitPrice.Sub(in.CostPrice).Mul(qty))
	margin := decimal.Zero
	if in.UnitPrice.IsPositive() {
		margin = in.UnitPrice.Sub(in.CostPrice).Mul(hundred).DivRound(in.UnitPrice, shared.AmountScale)
	}

	return Item{
		ProductID:       in.ProductID,
		Description:     in.Description,
		Quantity:        qty,
		UnitPrice:       in.UnitPrice,
		CostPrice:       in.CostPrice,
		DiscountPercent: in.DiscountPercent,
		DiscountAmount:  discount,
		TaxPercent:      in.TaxPercent,
		TaxAmount:       tax,
		TotalAmount:     line,
		Profit:          profit,
		ProfitMargin:    margin,
	}, nil
}

// Totals holds header aggregates.
type Totals struct {
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
}

// SumItems aggregates lines: subtotal is the pre-discount gross, and the total equals
// subtotal - discount + tax.
func SumItems(items []Item) Totals {
	var t Totals
	for _, it := range items {
		t.Subtotal = t.Subtotal.Add(shared.RoundAmount(it.Quantity.Mul(it.UnitPrice)))
		t.TaxAmount = t.TaxAmount.Add(it.TaxAmount)
		t.DiscountAmount = t.DiscountAmount.Add(it.DiscountAmount)
	}
	t.TotalAmount = t.Subtotal.Sub(t.DiscountAmount).Add(t.TaxAmount)
	return t
}

// returnLine builds the line of a return for qty units of original. Explicit
// discount and tax amounts are scaled to the returned share; profit and margin flip sign.
func returnLine(original Item, qty decimal.Decimal) (Item, error) {
	in := ItemInput{
		ProductID:       original.ProductID,
		Description:     original.Description,
		Quantity:        decimal.NewNullDecimal(qty),
		UnitPrice:       original.UnitPrice,
		CostPrice:       original.CostPrice,
		DiscountPercent: original.DiscountPercent,
		TaxPercent:      original.TaxPercent,
	}
	share := qty.DivRound(original.Quantity, 8)
	if original.DiscountPercent.IsZero() && !original.DiscountAmount.IsZero() {
		in.DiscountAmount = decimal.NewNullDecimal(original.DiscountAmount.Mul(share))
	}
	if original.TaxPercent.IsZero() && !original.TaxAmount.IsZero() {
		in.TaxAmount = decimal.NewNullDecimal(original.TaxAmount.Mul(share))
	}
	item, err := ComputeItem(in)
	if err != nil {
		return Item{}, err
	}
	item.Profit = item.Profit.Neg()
	item.ProfitMargin = item.ProfitMargin.Neg()
	source := original.ID
	item.SourceItemID = &source
	return item, nil
}
