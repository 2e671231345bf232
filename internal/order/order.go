// Package order implements the commerce order aggregate: an in-memory
// representation of one order that accumulates edits, recomputes derived
// monetary fields after each edit, and on an explicit flush persists only the
// changed fields while cascading counter updates keyed off the transition
// between old and new state.
//
// A single aggregate instance is not safe for concurrent mutation. The
// intended model is single-writer-per-order: callers serialize access to a
// given order ID, typically by owning the order within one request scope.
package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode distinguishes live orders from test-gateway orders.
type Mode string

const (
	ModeLive Mode = "live"
	ModeTest Mode = "test"
)

// Address is the shipping/billing address captured with the order.
type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// Options configure a new, not-yet-persisted aggregate.
type Options struct {
	// Currency is the ISO code; it determines rounding precision.
	// Defaults to USD.
	Currency string

	Mode Mode

	// PricesIncludeTax deducts the tax share from a line's subtotal before
	// totalling, for stores whose catalog prices are tax-inclusive.
	PricesIncludeTax bool

	// FeeKeys assigns the opaque keys fees are addressed by. Defaults to a
	// monotonic per-order counter.
	FeeKeys FeeKeyPolicy

	// AllowedItemModifications restricts ModifyItem. Defaults to unit
	// price, tax, discount and quantity.
	AllowedItemModifications []ItemField
}

// Order is the aggregate root. Monetary fields are derived: they are written
// only by the recalculation helpers, never by callers.
type Order struct {
	ID int64
	// loadedID is the identifier the aggregate was hydrated with; the saver
	// reconciles ID against it defensively before writing.
	loadedID int64

	Status    Status
	OldStatus Status
	Mode      Mode
	Currency  string

	CustomerID int64
	UserID     int64
	Email      string
	FirstName  string
	LastName   string
	Address    Address

	Gateway       string
	TransactionID string
	PaymentKey    string
	Number        string
	Discounts     []string
	TaxRate       decimal.Decimal

	DateCreated   time.Time
	DateCompleted time.Time

	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	FeeTotal decimal.Decimal
	Total    decimal.Decimal

	Items []LineItem
	Fees  []Fee

	precision        int32
	pricesIncludeTax bool
	feeKeys          FeeKeyPolicy
	nextFeeKey       int64
	nextCartIndex    int
	allowedMods      map[ItemField]struct{}
	isNew            bool
	changes          []Change
}

// New returns an empty aggregate with no persisted identifier. The identifier
// is materialized on first flush.
func New(opts Options) *Order {
	o := &Order{
		Status:    StatusPending,
		Mode:      opts.Mode,
		Currency:  opts.Currency,
		Subtotal:  decimal.Zero,
		Tax:       decimal.Zero,
		FeeTotal:  decimal.Zero,
		Total:     decimal.Zero,
		TaxRate:   decimal.Zero,
		feeKeys:   opts.FeeKeys,
		pricesIncludeTax: opts.PricesIncludeTax,
	}
	if o.Currency == "" {
		o.Currency = "USD"
	}
	if o.Mode == "" {
		o.Mode = ModeLive
	}
	if o.feeKeys == nil {
		o.feeKeys = serialFeeKeys{}
	}
	o.precision = currencyPrecision(o.Currency)
	o.setAllowedMods(opts.AllowedItemModifications)
	return o
}

func (o *Order) setAllowedMods(fields []ItemField) {
	if len(fields) == 0 {
		fields = []ItemField{ItemFieldUnitPrice, ItemFieldTax, ItemFieldDiscount, ItemFieldQuantity}
	}
	o.allowedMods = make(map[ItemField]struct{}, len(fields))
	for _, f := range fields {
		o.allowedMods[f] = struct{}{}
	}
}

// InProcess reports whether the order has not yet contributed to earnings:
// pending and processing orders are never counted.
func (o *Order) InProcess() bool {
	return o.Status == StatusPending || o.Status == StatusProcessing
}

// counted reports whether the current status has incremented sales and
// earnings counters.
func (o *Order) counted() bool {
	return o.Status == StatusPublish || o.Status == StatusRevoked
}

// Recoverable reports whether the buyer can resume this order: it never
// reached a gateway and sits in a resumable status.
func (o *Order) Recoverable() bool {
	switch o.Status {
	case StatusPending, StatusAbandoned, StatusFailed:
		return o.TransactionID == ""
	}
	return false
}

// DiscountTotal sums the per-line discounts; the order itself stores no
// discount field, it is always derived.
func (o *Order) DiscountTotal() decimal.Decimal {
	total := decimal.Zero
	for i := range o.Items {
		total = total.Add(o.Items[i].Discount)
	}
	return o.round(total)
}

// SetStatus stages a status change; the transition side effects run at flush
// time. An identity transition is rejected as a benign no-op.
func (o *Order) SetStatus(status string) error {
	normalized, err := NormalizeStatus(status)
	if err != nil {
		return err
	}
	if normalized == o.Status {
		return ErrNoChange
	}
	o.OldStatus = o.Status
	o.Status = normalized
	o.markDirty(FieldStatus)
	return nil
}

func (o *Order) SetMode(m Mode) {
	o.Mode = m
	o.markDirty(FieldMode)
}

func (o *Order) SetGateway(gateway string) {
	o.Gateway = gateway
	o.markDirty(FieldGateway)
}

func (o *Order) SetTransactionID(txn string) {
	o.TransactionID = txn
	o.markDirty(FieldTransactionID)
}

func (o *Order) SetEmail(email string) {
	o.Email = email
	o.markDirty(FieldEmail)
}

func (o *Order) SetName(first, last string) {
	o.FirstName = first
	o.LastName = last
	o.markDirty(FieldFirstName)
	o.markDirty(FieldLastName)
}

func (o *Order) SetAddress(a Address) {
	o.Address = a
	o.markDirty(FieldAddress)
}

func (o *Order) SetUserID(id int64) {
	o.UserID = id
	o.markDirty(FieldUserID)
}

func (o *Order) SetDiscounts(codes []string) {
	o.Discounts = append([]string(nil), codes...)
	o.markDirty(FieldDiscounts)
}

func (o *Order) SetTaxRate(rate decimal.Decimal) {
	o.TaxRate = rate
	o.markDirty(FieldTaxRate)
}

func (o *Order) SetDateCompleted(t time.Time) {
	o.DateCompleted = t
	o.markDirty(FieldDateCompleted)
}

// IsNew reports whether the last flush materialized the order for the first
// time.
func (o *Order) IsNew() bool {
	return o.isNew
}

// findItemByCartIndex returns the line carrying the stable cart index, or nil.
// Cart indices survive removals, so the slice position cannot be used.
func (o *Order) findItemByCartIndex(cartIndex int) *LineItem {
	for i := range o.Items {
		if o.Items[i].CartIndex == cartIndex {
			return &o.Items[i]
		}
	}
	return nil
}
