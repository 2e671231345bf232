package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/ecommerce-orders/internal/order"
)

// Request/response payloads. Monetary values travel as decimal strings; JSON
// numbers would round-trip through float64.

type CreateOrderRequest struct {
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	UserID    int64    `json:"user_id"`
	Gateway   string   `json:"gateway"`
	Mode      string   `json:"mode"`
	Currency  string   `json:"currency"`
	Discounts []string `json:"discounts"`
	TaxRate   string   `json:"tax_rate"`

	Address *order.Address `json:"address"`

	Items []AddItemRequest `json:"items"`
	Fees  []FeeRequest     `json:"fees"`
}

type AddItemRequest struct {
	ProductID int64   `json:"product_id"`
	Quantity  int64   `json:"quantity"`
	PriceID   *int64  `json:"price_id"`
	UnitPrice *string `json:"unit_price"`
	Discount  string  `json:"discount"`
	Tax       string  `json:"tax"`
}

type RemoveItemRequest struct {
	ProductID int64   `json:"product_id"`
	Quantity  int64   `json:"quantity"`
	PriceID   *int64  `json:"price_id"`
	CartIndex *int    `json:"cart_index"`
	UnitPrice *string `json:"unit_price"`
}

type ModifyItemRequest struct {
	UnitPrice *string `json:"unit_price"`
	Tax       *string `json:"tax"`
	Discount  *string `json:"discount"`
	Quantity  *int64  `json:"quantity"`
}

type FeeRequest struct {
	Label     string `json:"label"`
	Amount    string `json:"amount"`
	Type      string `json:"type"`
	NoTax     bool   `json:"no_tax"`
	ProductID int64  `json:"product_id"`
	PriceID   *int64 `json:"price_id"`
}

// UpdateOrderRequest carries the scalar field updates; nil fields are left
// untouched.
type UpdateOrderRequest struct {
	Status        *string        `json:"status"`
	Gateway       *string        `json:"gateway"`
	TransactionID *string        `json:"transaction_id"`
	Email         *string        `json:"email"`
	FirstName     *string        `json:"first_name"`
	LastName      *string        `json:"last_name"`
	UserID        *int64         `json:"user_id"`
	Address       *order.Address `json:"address"`
	Discounts     *[]string      `json:"discounts"`
	TaxRate       *string        `json:"tax_rate"`
	DateCompleted *time.Time     `json:"date_completed"`
}

type OrderResponse struct {
	ID            int64          `json:"id"`
	Number        string         `json:"number"`
	Status        string         `json:"status"`
	Mode          string         `json:"mode"`
	Currency      string         `json:"currency"`
	CustomerID    int64          `json:"customer_id"`
	UserID        int64          `json:"user_id,omitempty"`
	Email         string         `json:"email"`
	FirstName     string         `json:"first_name,omitempty"`
	LastName      string         `json:"last_name,omitempty"`
	Address       *order.Address `json:"address,omitempty"`
	Gateway       string         `json:"gateway,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	PaymentKey    string         `json:"payment_key"`
	Discounts     []string       `json:"discounts,omitempty"`
	Recoverable   bool           `json:"recoverable"`

	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	FeeTotal decimal.Decimal `json:"fee_total"`
	Total    decimal.Decimal `json:"total"`

	Items []order.LineItem `json:"items"`
	Fees  []order.Fee      `json:"fees"`

	DateCreated   time.Time  `json:"date_created"`
	DateCompleted *time.Time `json:"date_completed,omitempty"`
}

type JournalEntryResponse struct {
	Action     string    `json:"action"`
	Detail     string    `json:"detail"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func mapOrderToResponse(o *order.Order) OrderResponse {
	resp := OrderResponse{
		ID:            o.ID,
		Number:        o.Number,
		Status:        string(o.Status),
		Mode:          string(o.Mode),
		Currency:      o.Currency,
		CustomerID:    o.CustomerID,
		UserID:        o.UserID,
		Email:         o.Email,
		FirstName:     o.FirstName,
		LastName:      o.LastName,
		Gateway:       o.Gateway,
		TransactionID: o.TransactionID,
		PaymentKey:    o.PaymentKey,
		Discounts:     o.Discounts,
		Recoverable:   o.Recoverable(),
		Subtotal:      o.Subtotal,
		Discount:      o.DiscountTotal(),
		Tax:           o.Tax,
		FeeTotal:      o.FeeTotal,
		Total:         o.Total,
		Items:         o.Items,
		Fees:          o.Fees,
		DateCreated:   o.DateCreated,
	}
	if o.Address != (order.Address{}) {
		addr := o.Address
		resp.Address = &addr
	}
	if !o.DateCompleted.IsZero() {
		t := o.DateCompleted
		resp.DateCompleted = &t
	}
	return resp
}
