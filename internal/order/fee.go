package order

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FeeType distinguishes surcharges from discount-like negative adjustments.
type FeeType string

const (
	FeeTypeFee      FeeType = "fee"
	FeeTypeDiscount FeeType = "discount"
)

// Fee is a signed monetary adjustment not tied to a catalog price. A fee with
// ProductID set is scoped to that product's line and is removed with it.
type Fee struct {
	// Key is the opaque handle assigned at insertion time, stable until the
	// fee is removed. Assigned by the aggregate's FeeKeyPolicy.
	Key int64 `json:"key"`

	// ID is the adjustment row identifier once persisted, zero before.
	ID int64 `json:"id"`

	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
	Type   FeeType         `json:"type"`
	NoTax  bool            `json:"no_tax"`

	// ProductID scopes the fee to a line item; zero means order-scoped.
	ProductID int64  `json:"product_id"`
	PriceID   *int64 `json:"price_id"`
}

// FeeKeyPolicy assigns the opaque keys fees are addressed by. Implementations
// may derive keys from external systems; the default is a monotonic counter.
type FeeKeyPolicy interface {
	NextKey(o *Order, f Fee) int64
}

type serialFeeKeys struct{}

func (serialFeeKeys) NextKey(o *Order, _ Fee) int64 {
	o.nextFeeKey++
	return o.nextFeeKey
}

// FeeSelector names the attribute RemoveFeeBy matches on.
type FeeSelector string

const (
	FeeByKey    FeeSelector = "index"
	FeeByLabel  FeeSelector = "label"
	FeeByAmount FeeSelector = "amount"
	FeeByType   FeeSelector = "type"
)

// AddFee appends an ad-hoc charge and increases the order fee total by its
// signed amount. The returned fee carries the assigned key.
func (o *Order) AddFee(f Fee) Fee {
	if f.Type == "" {
		f.Type = FeeTypeFee
	}
	f.Amount = o.round(f.Amount)
	if f.Key == 0 {
		f.Key = o.feeKeys.NextKey(o, f)
	} else if f.Key > o.nextFeeKey {
		o.nextFeeKey = f.Key
	}

	o.Fees = append(o.Fees, f)
	o.appendChange(FeeAdded{Fee: f})
	o.increaseFees(f.Amount)
	return f
}

// RemoveFee removes the fee addressed by its insertion key.
func (o *Order) RemoveFee(key int64) error {
	return o.RemoveFeeBy(FeeByKey, key, false)
}

// RemoveFeeBy removes the first fee (or, with all set, every fee) whose
// selected attribute equals value. Each removal decrements the order fee
// total by that fee's amount.
func (o *Order) RemoveFeeBy(selector FeeSelector, value any, all bool) error {
	switch selector {
	case FeeByKey, FeeByLabel, FeeByAmount, FeeByType:
	default:
		return validationf("unknown fee selector %q", selector)
	}

	removed := false
	kept := o.Fees[:0]
	for _, f := range o.Fees {
		if (removed && !all) || !feeMatches(f, selector, value) {
			kept = append(kept, f)
			continue
		}
		o.appendChange(FeeRemoved{Fee: f})
		o.decreaseFees(f.Amount)
		removed = true
	}
	o.Fees = kept

	if !removed {
		return notFoundf("no fee matches %s=%v", selector, value)
	}
	return nil
}

// removeFeeByKey is the internal cleanup path used when a line item is
// deleted; a missing key is not an error there.
func (o *Order) removeFeeByKey(key int64) {
	_ = o.RemoveFeeBy(FeeByKey, key, false)
}

// FeesOfType filters the ledger; an empty type returns everything.
func (o *Order) FeesOfType(t FeeType) []Fee {
	out := make([]Fee, 0, len(o.Fees))
	for _, f := range o.Fees {
		if t != "" && f.Type != t {
			continue
		}
		out = append(out, f)
	}
	return out
}

func feeMatches(f Fee, selector FeeSelector, value any) bool {
	switch selector {
	case FeeByKey:
		switch v := value.(type) {
		case int64:
			return f.Key == v
		case int:
			return f.Key == int64(v)
		}
	case FeeByLabel:
		if v, ok := value.(string); ok {
			return f.Label == v
		}
	case FeeByAmount:
		switch v := value.(type) {
		case decimal.Decimal:
			return f.Amount.Equal(v)
		case string:
			d, err := decimal.NewFromString(v)
			return err == nil && f.Amount.Equal(d)
		}
	case FeeByType:
		switch v := value.(type) {
		case FeeType:
			return f.Type == v
		case string:
			return strings.EqualFold(string(f.Type), v)
		}
	}
	return false
}
