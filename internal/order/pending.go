package order

import "github.com/shopspring/decimal"

// ChangeKind discriminates the pending change entries. The saver switches
// over it exhaustively; adding a kind without handling it there is a bug.
type ChangeKind int

const (
	ChangeFieldSet ChangeKind = iota
	ChangeItemAdded
	ChangeItemRemoved
	ChangeItemModified
	ChangeFeeAdded
	ChangeFeeRemoved
)

// Change is one unsaved mutation. Entries are appended in operation order and
// replayed in that order on flush; insertion order matters when a line item is
// modified and then removed in the same session.
type Change interface {
	Kind() ChangeKind
}

// Field names a scalar order field that was touched since the last flush.
type Field string

const (
	FieldStatus        Field = "status"
	FieldMode          Field = "mode"
	FieldGateway       Field = "gateway"
	FieldTransactionID Field = "transaction_id"
	FieldEmail         Field = "email"
	FieldPaymentKey    Field = "payment_key"
	FieldNumber        Field = "number"
	FieldCustomerID    Field = "customer_id"
	FieldUserID        Field = "user_id"
	FieldFirstName     Field = "first_name"
	FieldLastName      Field = "last_name"
	FieldAddress       Field = "address"
	FieldDiscounts     Field = "discounts"
	FieldTaxRate       Field = "tax_rate"
	FieldDateCreated   Field = "date_created"
	FieldDateCompleted Field = "date_completed"
)

// FieldSet records that a scalar field holds an unsaved value. The value
// itself lives on the aggregate; the entry only drives the selective write.
type FieldSet struct {
	Field Field
}

func (FieldSet) Kind() ChangeKind { return ChangeFieldSet }

// ItemAdded carries the full line as it was appended, including any
// item-scoped fees, so the saver can materialize the row and credit product
// counters without consulting mutable aggregate state.
type ItemAdded struct {
	Item LineItem
}

func (ItemAdded) Kind() ChangeKind { return ChangeItemAdded }

// ItemRemoved carries the amounts that left the order. Entire is true when
// the whole line was deleted rather than its quantity decremented.
type ItemRemoved struct {
	RowID     int64
	ProductID int64
	PriceID   *int64
	CartIndex int
	Quantity  int64
	Amount    decimal.Decimal
	Tax       decimal.Decimal
	Fees      []Fee
	Entire    bool
}

func (ItemRemoved) Kind() ChangeKind { return ChangeItemRemoved }

// ItemModified embeds the pre-modification snapshot; the saver needs it to
// backfill product sales and earnings counters by the signed delta.
type ItemModified struct {
	Item     LineItem
	Previous LineItem
}

func (ItemModified) Kind() ChangeKind { return ChangeItemModified }

type FeeAdded struct {
	Fee Fee
}

func (FeeAdded) Kind() ChangeKind { return ChangeFeeAdded }

type FeeRemoved struct {
	Fee Fee
}

func (FeeRemoved) Kind() ChangeKind { return ChangeFeeRemoved }

// appendChange records an unsaved mutation. The buffer is append-only until
// the flush clears it.
func (o *Order) appendChange(c Change) {
	o.changes = append(o.changes, c)
}

// markDirty queues a field-set entry, deduplicating repeated writes to the
// same field: the saver persists the current value, so one entry suffices.
func (o *Order) markDirty(f Field) {
	for _, c := range o.changes {
		if fs, ok := c.(FieldSet); ok && fs.Field == f {
			return
		}
	}
	o.appendChange(FieldSet{Field: f})
}

// Dirty reports whether the aggregate holds unsaved mutations.
func (o *Order) Dirty() bool {
	return len(o.changes) > 0
}

// PendingChanges returns a copy of the pending change buffer, oldest first.
func (o *Order) PendingChanges() []Change {
	out := make([]Change, len(o.changes))
	copy(out, o.changes)
	return out
}
