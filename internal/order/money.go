package order

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies whose minor unit is the whole unit. Everything else rounds to
// two decimal places.
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"VND": {},
}

func currencyPrecision(code string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(code)]; ok {
		return 0
	}
	return 2
}

// round normalizes a monetary value to the order currency's precision.
// Every stored field is rounded at the point it is written, never accumulated
// unrounded, so each field independently reconciles against reports.
func (o *Order) round(d decimal.Decimal) decimal.Decimal {
	return d.Round(o.precision)
}

// clampZero floors a value at zero. The floor is intentional business
// behavior inherited from the original system, but it can absorb rounding
// drift, so every trigger is logged for test-suite visibility.
func (o *Order) clampZero(field string, d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		slog.Warn("monetary value clamped to zero",
			"order_id", o.ID,
			"field", field,
			"value", d.String(),
		)
		return decimal.Zero
	}
	return d
}

func (o *Order) increaseSubtotal(amount decimal.Decimal) {
	o.Subtotal = o.round(o.Subtotal.Add(amount))
	o.recalculateTotal()
}

func (o *Order) decreaseSubtotal(amount decimal.Decimal) {
	o.Subtotal = o.clampZero("subtotal", o.round(o.Subtotal.Sub(amount)))
	o.recalculateTotal()
}

func (o *Order) increaseTax(amount decimal.Decimal) {
	o.Tax = o.round(o.Tax.Add(amount))
	o.recalculateTotal()
}

func (o *Order) decreaseTax(amount decimal.Decimal) {
	o.Tax = o.clampZero("tax", o.round(o.Tax.Sub(amount)))
	o.recalculateTotal()
}

func (o *Order) increaseFees(amount decimal.Decimal) {
	o.FeeTotal = o.round(o.FeeTotal.Add(amount))
	o.recalculateTotal()
}

func (o *Order) decreaseFees(amount decimal.Decimal) {
	o.FeeTotal = o.clampZero("fee_total", o.round(o.FeeTotal.Sub(amount)))
	o.recalculateTotal()
}

// recalculateTotal enforces the aggregate invariant
// total == subtotal + tax + fee_total. Callers never set Total directly.
func (o *Order) recalculateTotal() {
	o.Total = o.Subtotal.Add(o.Tax).Add(o.FeeTotal)
}

// lineTotal computes a line's total from its parts, floored at zero.
func (o *Order) lineTotal(subtotal, discount, tax decimal.Decimal) decimal.Decimal {
	return o.clampZero("line_total", subtotal.Sub(discount).Add(tax))
}
