package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Collaborator ports consumed by the aggregate. The core is a library
// boundary: these are plain interfaces, not service endpoints. Implementations
// return errors wrapping ErrNotFound where a record is absent.

// OrderRecord is the persisted shape of the order row.
type OrderRecord struct {
	ID            int64
	Status        string
	Mode          string
	Currency      string
	Email         string
	Gateway       string
	TransactionID string
	PaymentKey    string
	Number        string
	CustomerID    int64
	UserID        int64
	DateCreated   time.Time
	DateCompleted time.Time
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
}

// OrderUpdate is a partial update: nil fields are left untouched. A non-nil
// zero time clears the completion date.
type OrderUpdate struct {
	Status        *string
	Mode          *string
	Currency      *string
	Email         *string
	Gateway       *string
	TransactionID *string
	PaymentKey    *string
	Number        *string
	CustomerID    *int64
	UserID        *int64
	DateCreated   *time.Time
	DateCompleted *time.Time
	Subtotal      *decimal.Decimal
	Tax           *decimal.Decimal
	Discount      *decimal.Decimal
	Total         *decimal.Decimal
}

// OrderStore persists order rows and the free-form metadata blob. NextNumber
// allocates sequential display numbers when that feature is enabled.
type OrderStore interface {
	Get(ctx context.Context, id int64) (*OrderRecord, error)
	Insert(ctx context.Context, rec *OrderRecord) (int64, error)
	Update(ctx context.Context, id int64, u OrderUpdate) error
	Delete(ctx context.Context, id int64) error

	GetMeta(ctx context.Context, id int64) ([]byte, error)
	SetMeta(ctx context.Context, id int64, blob []byte) error

	NextNumber(ctx context.Context) (int64, error)
}

// LineItemRecord is the persisted shape of one order line.
type LineItemRecord struct {
	ID        int64
	OrderID   int64
	ProductID int64
	PriceID   *int64
	CartIndex int
	Quantity  int64
	Amount    decimal.Decimal
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
}

type LineItemStore interface {
	List(ctx context.Context, orderID int64) ([]LineItemRecord, error)
	Insert(ctx context.Context, rec *LineItemRecord) (int64, error)
	Update(ctx context.Context, id int64, rec *LineItemRecord) error
	Delete(ctx context.Context, id int64) error
}

// AdjustmentRecord is a fee or discount row attached to an order, with its
// keyed metadata sub-record.
type AdjustmentRecord struct {
	ID          int64
	OrderID     int64
	Type        string
	Description string
	Amount      decimal.Decimal
	Meta        AdjustmentMeta
}

// AdjustmentMeta is the keyed metadata stored per adjustment.
type AdjustmentMeta struct {
	FeeKey    int64
	FeeType   string
	NoTax     bool
	ProductID int64
	PriceID   *int64
}

// AdjustmentFilter narrows a listing; zero values match everything.
type AdjustmentFilter struct {
	OrderID int64
	Type    string
}

type AdjustmentStore interface {
	List(ctx context.Context, filter AdjustmentFilter) ([]AdjustmentRecord, error)
	Insert(ctx context.Context, rec *AdjustmentRecord) (int64, error)
	Update(ctx context.Context, id int64, rec *AdjustmentRecord) error
	Delete(ctx context.Context, id int64) error
}

// PriceCatalog resolves unit prices. LowestPrice returns the cheapest variant
// and its variant ID; for products without variants the ID is zero.
type PriceCatalog interface {
	LowestPrice(ctx context.Context, productID int64) (decimal.Decimal, int64, error)
	PriceForVariant(ctx context.Context, productID, priceID int64) (decimal.Decimal, error)
	HasVariants(ctx context.Context, productID int64) (bool, error)
}

// StatsReconciler adjusts the external store-wide, per-customer, and
// per-product counters. All deltas are signed.
type StatsReconciler interface {
	ApplyOrderDelta(ctx context.Context, customerID int64, amount decimal.Decimal) error
	ApplyStoreEarningsDelta(ctx context.Context, amount decimal.Decimal) error
	AdjustProductSales(ctx context.Context, productID, count int64) error
	AdjustProductEarnings(ctx context.Context, productID int64, amount decimal.Decimal) error
	AdjustCustomerOrderCount(ctx context.Context, customerID, count int64) error
	DecrementDiscountUsage(ctx context.Context, code string) error
}

// Customer is the directory's view of a buyer.
type Customer struct {
	ID     int64
	UserID int64
	Name   string
	Email  string
}

// CustomerDirectory resolves and creates customer records. Resolution order
// during flush: authenticated user identity first, then email.
type CustomerDirectory interface {
	FindByUser(ctx context.Context, userID int64) (*Customer, error)
	FindByEmail(ctx context.Context, email string) (*Customer, error)
	Create(ctx context.Context, c *Customer) (int64, error)
	AttachOrder(ctx context.Context, customerID, orderID int64) error
}

// Cache is the injected snapshot cache consumed by the loader. Get returns
// (nil, nil) on a miss. The saver invalidates the order's key on every
// successful flush so later reads never observe stale state.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// PeriodEarningsKey caches the period-earnings aggregate; refunds invalidate
// it.
const PeriodEarningsKey = "stats:earnings:period"

func orderCacheKey(id int64) string {
	return fmt.Sprintf("orders:aggregate:%d", id)
}
