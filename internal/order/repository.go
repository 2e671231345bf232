package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/ecommerce-orders/internal/order/journal"
)

// RepositoryConfig wires the repository's collaborators. Orders, Items,
// Adjustments, Customers and Stats are required; everything else is optional.
type RepositoryConfig struct {
	Orders      OrderStore
	Items       LineItemStore
	Adjustments AdjustmentStore
	Customers   CustomerDirectory
	Stats       StatsReconciler

	// Cache holds hydrated aggregate snapshots. Invalidated on every
	// successful flush.
	Cache    Cache
	CacheTTL time.Duration

	// Journal receives best-effort audit entries for flushes and status
	// transitions.
	Journal journal.Recorder

	// Transitions may veto status changes; Refunds selects which counter
	// decrements run on refund/pending transitions.
	Transitions TransitionPolicy
	Refunds     RefundPolicy

	// StrictSideEffects makes reconciler failures fatal to a status
	// transition instead of logged-and-tolerated.
	StrictSideEffects bool

	// SequentialNumbers allocates store-backed sequential display numbers;
	// otherwise the order ID doubles as the display number.
	SequentialNumbers bool
	NumberPrefix      string

	// Aggregate supplies construction defaults for hydrated orders
	// (currency, tax-inclusive pricing, fee key policy).
	Aggregate Options
}

// Repository hydrates order aggregates from the external stores and, on
// flush, translates the pending change buffer into a minimal sequence of
// writes followed by cascading counter updates.
type Repository struct {
	cfg         RepositoryConfig
	transitions *statusController
}

func NewRepository(cfg RepositoryConfig) *Repository {
	if cfg.Transitions == nil {
		cfg.Transitions = allowAll{}
	}
	if cfg.Refunds == nil {
		cfg.Refunds = decrementAll{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Minute
	}
	return &Repository{
		cfg: cfg,
		transitions: &statusController{
			orders:  cfg.Orders,
			stats:   cfg.Stats,
			cache:   cfg.Cache,
			policy:  cfg.Transitions,
			refunds: cfg.Refunds,
			strict:  cfg.StrictSideEffects,
		},
	}
}

// NewOrder returns an empty aggregate configured with the repository's
// defaults; non-empty currency or mode override them. The identifier
// materializes on first Save.
func (r *Repository) NewOrder(currency string, mode Mode) *Order {
	opts := r.cfg.Aggregate
	if currency != "" {
		opts.Currency = currency
	}
	if mode != "" {
		opts.Mode = mode
	}
	return New(opts)
}

// metadataBlob is the merged free-form metadata persisted alongside the order
// row. It is written only when its checksum changes.
type metadataBlob struct {
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Address   Address  `json:"address"`
	Discounts []string `json:"discounts,omitempty"`
	TaxRate   string   `json:"tax_rate"`
	Email     string   `json:"email"`
	Currency  string   `json:"currency"`
}

func (o *Order) metadata() metadataBlob {
	return metadataBlob{
		FirstName: o.FirstName,
		LastName:  o.LastName,
		Address:   o.Address,
		Discounts: o.Discounts,
		TaxRate:   o.TaxRate.String(),
		Email:     o.Email,
		Currency:  o.Currency,
	}
}

// Load hydrates the aggregate for id, consulting the snapshot cache first.
func (r *Repository) Load(ctx context.Context, id int64) (*Order, error) {
	if id <= 0 {
		return nil, validationf("order id must be positive, got %d", id)
	}

	if r.cfg.Cache != nil {
		b, err := r.cfg.Cache.Get(ctx, orderCacheKey(id))
		if err != nil {
			slog.WarnContext(ctx, "order cache read failed", "order_id", id, "error", err)
		} else if len(b) > 0 {
			if o, err := r.decodeSnapshot(b); err == nil {
				return o, nil
			}
			// A stale or unreadable snapshot falls back to the store.
		}
	}

	o, err := r.hydrate(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cacheSet(ctx, o)
	return o, nil
}

func (r *Repository) hydrate(ctx context.Context, id int64) (*Order, error) {
	rec, err := r.cfg.Orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, persistencef(err, "read order %d", id)
	}

	items, err := r.cfg.Items.List(ctx, id)
	if err != nil {
		return nil, persistencef(err, "list items of order %d", id)
	}
	adjustments, err := r.cfg.Adjustments.List(ctx, AdjustmentFilter{OrderID: id, Type: "fee"})
	if err != nil {
		return nil, persistencef(err, "list adjustments of order %d", id)
	}

	opts := r.cfg.Aggregate
	opts.Currency = rec.Currency
	opts.Mode = Mode(rec.Mode)
	o := New(opts)

	o.ID = rec.ID
	o.loadedID = rec.ID
	if status, err := NormalizeStatus(rec.Status); err == nil {
		o.Status = status
	}
	o.Email = rec.Email
	o.Gateway = rec.Gateway
	o.TransactionID = rec.TransactionID
	o.PaymentKey = rec.PaymentKey
	o.CustomerID = rec.CustomerID
	o.UserID = rec.UserID
	o.DateCreated = rec.DateCreated
	o.Subtotal = rec.Subtotal
	o.Tax = rec.Tax

	// A terminal order with no explicit completion date completed when it
	// was created, as far as reporting is concerned.
	o.DateCompleted = rec.DateCompleted
	if o.DateCompleted.IsZero() && !o.InProcess() {
		o.DateCompleted = rec.DateCreated
	}

	if r.cfg.SequentialNumbers && rec.Number != "" {
		o.Number = rec.Number
	} else {
		o.Number = strconv.FormatInt(rec.ID, 10)
	}

	o.Items = make([]LineItem, 0, len(items))
	maxIndex := -1
	for _, it := range items {
		o.Items = append(o.Items, LineItem{
			ID:        it.ID,
			ProductID: it.ProductID,
			PriceID:   it.PriceID,
			CartIndex: it.CartIndex,
			Quantity:  it.Quantity,
			UnitPrice: it.Amount,
			Subtotal:  it.Subtotal,
			Discount:  it.Discount,
			Tax:       it.Tax,
			Total:     it.Total,
		})
		if it.CartIndex > maxIndex {
			maxIndex = it.CartIndex
		}
	}
	o.nextCartIndex = maxIndex + 1

	feeTotal := decimal.Zero
	for _, adj := range adjustments {
		feeType := FeeType(adj.Meta.FeeType)
		if feeType == "" {
			feeType = FeeTypeFee
		}
		fee := Fee{
			Key:       adj.Meta.FeeKey,
			ID:        adj.ID,
			Label:     adj.Description,
			Amount:    adj.Amount,
			Type:      feeType,
			NoTax:     adj.Meta.NoTax,
			ProductID: adj.Meta.ProductID,
			PriceID:   adj.Meta.PriceID,
		}
		o.Fees = append(o.Fees, fee)
		feeTotal = feeTotal.Add(fee.Amount)
		if fee.Key > o.nextFeeKey {
			o.nextFeeKey = fee.Key
		}
		if fee.ProductID != 0 {
			for i := range o.Items {
				if o.Items[i].ProductID == fee.ProductID {
					o.Items[i].Fees = append(o.Items[i].Fees, fee)
					break
				}
			}
		}
	}
	o.FeeTotal = o.round(feeTotal)
	o.recalculateTotal()

	if blob, err := r.cfg.Orders.GetMeta(ctx, id); err == nil && len(blob) > 0 {
		var meta metadataBlob
		if err := json.Unmarshal(blob, &meta); err == nil {
			o.FirstName = meta.FirstName
			o.LastName = meta.LastName
			o.Address = meta.Address
			o.Discounts = meta.Discounts
			if rate, err := decimal.NewFromString(meta.TaxRate); err == nil {
				o.TaxRate = rate
			}
		}
	}

	return o, nil
}

// Save flushes the pending change buffer: first-time insertion if needed,
// minimal diff writes per entry in insertion order, one net counter
// reconciliation, an unconditional totals write, and a checksum-guarded
// metadata write. Any store failure aborts the flush with the buffer intact
// so a retry re-attempts the same writes; entries are keyed by stable
// identifiers and safe to re-apply.
func (r *Repository) Save(ctx context.Context, o *Order) error {
	inserted := false
	if o.ID == 0 {
		if err := r.insertOrder(ctx, o); err != nil {
			return err
		}
		inserted = true
	}

	// Defensive self-heal in case loader and writer disagree.
	if o.loadedID != 0 && o.ID != o.loadedID {
		slog.WarnContext(ctx, "order identifier drifted, reconciling",
			"id", o.ID, "loaded_id", o.loadedID)
		o.ID = o.loadedID
	}

	if err := r.ensureCustomer(ctx, o); err != nil {
		return err
	}

	changeCount := len(o.changes)
	if changeCount > 0 {
		if err := r.applyChanges(ctx, o); err != nil {
			return err
		}
	}

	// Consolidated monetary fields are written unconditionally.
	sub, tax, disc, total := o.Subtotal, o.Tax, o.DiscountTotal(), o.Total
	if err := r.cfg.Orders.Update(ctx, o.ID, OrderUpdate{
		Subtotal: &sub, Tax: &tax, Discount: &disc, Total: &total,
	}); err != nil {
		return persistencef(err, "write totals for order %d", o.ID)
	}

	if err := r.writeMetadata(ctx, o); err != nil {
		return err
	}

	o.changes = nil
	r.record(ctx, o.ID, journal.ActionFlush, fmt.Sprintf("%d changes", changeCount))

	if r.cfg.Cache != nil {
		if err := r.cfg.Cache.Delete(ctx, orderCacheKey(o.ID)); err != nil {
			slog.WarnContext(ctx, "order cache invalidation failed", "order_id", o.ID, "error", err)
		}
	}

	// Re-hydrate so the in-memory view matches what was durably written.
	fresh, err := r.hydrate(ctx, o.ID)
	if err != nil {
		return persistencef(err, "reload order %d after flush", o.ID)
	}
	fresh.isNew = inserted
	*o = *fresh
	r.cacheSet(ctx, o)
	return nil
}

// Delete removes the order row and drops its cached snapshot. Line items and
// adjustments are removed by the store's own referential rules.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	if err := r.cfg.Orders.Delete(ctx, id); err != nil {
		return persistencef(err, "delete order %d", id)
	}
	if r.cfg.Cache != nil {
		_ = r.cfg.Cache.Delete(ctx, orderCacheKey(id))
	}
	return nil
}

// insertOrder performs the first-time materialization of an aggregate that
// was constructed in memory.
func (r *Repository) insertOrder(ctx context.Context, o *Order) error {
	if o.PaymentKey == "" {
		o.PaymentKey = uuid.NewString()
		o.markDirty(FieldPaymentKey)
	}
	if o.DateCreated.IsZero() {
		o.DateCreated = time.Now().UTC()
	}

	rec := o.record()
	id, err := r.cfg.Orders.Insert(ctx, rec)
	if err != nil {
		return persistencef(err, "insert order")
	}
	o.ID = id
	o.loadedID = id

	customer, err := r.resolveCustomer(ctx, o)
	if err != nil {
		return err
	}
	if customer != nil {
		o.CustomerID = customer.ID
		if err := r.cfg.Customers.AttachOrder(ctx, customer.ID, o.ID); err != nil {
			return persistencef(err, "attach order %d to customer %d", o.ID, customer.ID)
		}
		cid := customer.ID
		if err := r.cfg.Orders.Update(ctx, o.ID, OrderUpdate{CustomerID: &cid}); err != nil {
			return persistencef(err, "write customer for order %d", o.ID)
		}
	}

	if r.cfg.SequentialNumbers {
		n, err := r.cfg.Orders.NextNumber(ctx)
		if err != nil {
			return persistencef(err, "allocate order number")
		}
		o.Number = fmt.Sprintf("%s%d", r.cfg.NumberPrefix, n)
		num := o.Number
		if err := r.cfg.Orders.Update(ctx, o.ID, OrderUpdate{Number: &num}); err != nil {
			return persistencef(err, "write number for order %d", o.ID)
		}
	} else {
		o.Number = strconv.FormatInt(o.ID, 10)
	}

	o.isNew = true
	r.record(ctx, o.ID, journal.ActionInsert, string(o.Status))
	return nil
}

// ensureCustomer re-resolves the owning customer on every flush and queues a
// field write when the resolution differs from what the order carries. The
// resolution itself is idempotent.
func (r *Repository) ensureCustomer(ctx context.Context, o *Order) error {
	customer, err := r.resolveCustomer(ctx, o)
	if err != nil {
		return err
	}
	if customer == nil {
		return nil
	}
	if o.CustomerID != customer.ID {
		o.CustomerID = customer.ID
		o.markDirty(FieldCustomerID)
	}
	return nil
}

// resolveCustomer looks the buyer up by authenticated user identity first,
// then by email, creating the record when absent. Returns nil when the order
// carries nothing to resolve by.
func (r *Repository) resolveCustomer(ctx context.Context, o *Order) (*Customer, error) {
	if o.UserID != 0 {
		c, err := r.cfg.Customers.FindByUser(ctx, o.UserID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, persistencef(err, "look up customer by user %d", o.UserID)
		}
	}
	if o.Email != "" {
		c, err := r.cfg.Customers.FindByEmail(ctx, o.Email)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, persistencef(err, "look up customer by email")
		}
	}
	if o.UserID == 0 && o.Email == "" {
		return nil, nil
	}

	name := strings.TrimSpace(o.FirstName + " " + o.LastName)
	if name == "" {
		name = o.Email
	}
	customer := &Customer{UserID: o.UserID, Name: name, Email: o.Email}
	id, err := r.cfg.Customers.Create(ctx, customer)
	if err != nil {
		return nil, persistencef(err, "create customer")
	}
	customer.ID = id
	return customer, nil
}

// applyChanges walks the buffer in insertion order. Row writes are upserts
// keyed by cart index or fee key, so re-applying after a partial failure is
// safe. Counter deltas accumulate into one net figure applied at the end,
// never per entry, and only when the order is not in process.
func (r *Repository) applyChanges(ctx context.Context, o *Order) error {
	existingItems, err := r.cfg.Items.List(ctx, o.ID)
	if err != nil {
		return persistencef(err, "list items of order %d", o.ID)
	}
	itemsByIndex := make(map[int]LineItemRecord, len(existingItems))
	for _, it := range existingItems {
		itemsByIndex[it.CartIndex] = it
	}

	existingAdjustments, err := r.cfg.Adjustments.List(ctx, AdjustmentFilter{OrderID: o.ID, Type: "fee"})
	if err != nil {
		return persistencef(err, "list adjustments of order %d", o.ID)
	}
	adjustmentsByKey := make(map[int64]AdjustmentRecord, len(existingAdjustments))
	for _, adj := range existingAdjustments {
		adjustmentsByKey[adj.Meta.FeeKey] = adj
	}

	statIncrease := decimal.Zero
	statDecrease := decimal.Zero
	counted := o.counted()
	feeCounted := counted || o.Recoverable()

	for _, change := range o.changes {
		switch c := change.(type) {
		case ItemAdded:
			rowID, err := r.upsertItemRow(ctx, o, &c.Item, itemsByIndex)
			if err != nil {
				return err
			}
			if li := o.findItemByCartIndex(c.Item.CartIndex); li != nil && li.ID == 0 {
				li.ID = rowID
			}
			if counted {
				if err := r.creditProduct(ctx, c.Item.ProductID, c.Item.Quantity, c.Item.earnings()); err != nil {
					return err
				}
				statIncrease = statIncrease.Add(c.Item.Total)
			}

		case ItemRemoved:
			if c.Entire {
				rowID := c.RowID
				if rowID == 0 {
					if existing, ok := itemsByIndex[c.CartIndex]; ok {
						rowID = existing.ID
					}
				}
				if rowID != 0 {
					if err := r.cfg.Items.Delete(ctx, rowID); err != nil {
						return persistencef(err, "delete item row %d", rowID)
					}
					delete(itemsByIndex, c.CartIndex)
				}
			} else if li := o.findItemByCartIndex(c.CartIndex); li != nil {
				if _, err := r.upsertItemRow(ctx, o, li, itemsByIndex); err != nil {
					return err
				}
			}
			if counted {
				removedEarnings := c.Amount
				for _, f := range c.Fees {
					if f.Amount.IsNegative() {
						removedEarnings = removedEarnings.Add(f.Amount)
					}
				}
				if err := r.creditProduct(ctx, c.ProductID, -c.Quantity, removedEarnings.Neg()); err != nil {
					return err
				}
				statDecrease = statDecrease.Add(c.Amount)
			}

		case ItemModified:
			if _, err := r.upsertItemRow(ctx, o, &c.Item, itemsByIndex); err != nil {
				return err
			}
			if counted {
				quantityDelta := c.Item.Quantity - c.Previous.Quantity
				earningsDelta := c.Item.Total.Sub(c.Previous.Total)
				if err := r.creditProduct(ctx, c.Item.ProductID, quantityDelta, earningsDelta); err != nil {
					return err
				}
				if earningsDelta.IsPositive() {
					statIncrease = statIncrease.Add(earningsDelta)
				} else if earningsDelta.IsNegative() {
					statDecrease = statDecrease.Add(earningsDelta.Neg())
				}
			}

		case FeeAdded:
			if err := r.upsertFeeRow(ctx, o, c.Fee, adjustmentsByKey); err != nil {
				return err
			}
			if feeCounted {
				statIncrease = statIncrease.Add(c.Fee.Amount)
			}

		case FeeRemoved:
			rowID := c.Fee.ID
			if existing, ok := adjustmentsByKey[c.Fee.Key]; ok {
				rowID = existing.ID
				delete(adjustmentsByKey, c.Fee.Key)
			}
			if rowID != 0 {
				if err := r.cfg.Adjustments.Delete(ctx, rowID); err != nil {
					return persistencef(err, "delete adjustment row %d", rowID)
				}
			}
			if feeCounted {
				statDecrease = statDecrease.Add(c.Fee.Amount)
			}

		case FieldSet:
			if err := r.applyFieldWrite(ctx, o, c.Field); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unhandled pending change kind %d", change.Kind())
		}
	}

	// Pending and processing orders have not contributed to earnings yet;
	// their deltas must not reach the counters.
	if !o.InProcess() {
		net := statIncrease.Sub(statDecrease)
		if !net.IsZero() {
			if o.CustomerID != 0 {
				if err := r.cfg.Stats.ApplyOrderDelta(ctx, o.CustomerID, net); err != nil {
					return persistencef(err, "apply value delta to customer %d", o.CustomerID)
				}
			}
			if err := r.cfg.Stats.ApplyStoreEarningsDelta(ctx, net); err != nil {
				return persistencef(err, "apply store earnings delta")
			}
		}
	}
	return nil
}

func (r *Repository) creditProduct(ctx context.Context, productID, quantity int64, earnings decimal.Decimal) error {
	if quantity != 0 {
		if err := r.cfg.Stats.AdjustProductSales(ctx, productID, quantity); err != nil {
			return persistencef(err, "adjust sales for product %d", productID)
		}
	}
	if !earnings.IsZero() {
		if err := r.cfg.Stats.AdjustProductEarnings(ctx, productID, earnings); err != nil {
			return persistencef(err, "adjust earnings for product %d", productID)
		}
	}
	return nil
}

func (r *Repository) upsertItemRow(ctx context.Context, o *Order, li *LineItem, byIndex map[int]LineItemRecord) (int64, error) {
	rec := &LineItemRecord{
		OrderID:   o.ID,
		ProductID: li.ProductID,
		PriceID:   li.PriceID,
		CartIndex: li.CartIndex,
		Quantity:  li.Quantity,
		Amount:    li.UnitPrice,
		Subtotal:  li.Subtotal,
		Discount:  li.Discount,
		Tax:       li.Tax,
		Total:     li.Total,
	}
	if existing, ok := byIndex[li.CartIndex]; ok {
		rec.ID = existing.ID
		if err := r.cfg.Items.Update(ctx, existing.ID, rec); err != nil {
			return 0, persistencef(err, "update item row %d", existing.ID)
		}
	} else {
		id, err := r.cfg.Items.Insert(ctx, rec)
		if err != nil {
			return 0, persistencef(err, "insert item row for product %d", li.ProductID)
		}
		rec.ID = id
	}
	byIndex[li.CartIndex] = *rec
	return rec.ID, nil
}

func (r *Repository) upsertFeeRow(ctx context.Context, o *Order, fee Fee, byKey map[int64]AdjustmentRecord) error {
	rec := &AdjustmentRecord{
		OrderID:     o.ID,
		Type:        "fee",
		Description: fee.Label,
		Amount:      fee.Amount,
		Meta: AdjustmentMeta{
			FeeKey:    fee.Key,
			FeeType:   string(fee.Type),
			NoTax:     fee.NoTax,
			ProductID: fee.ProductID,
			PriceID:   fee.PriceID,
		},
	}
	if existing, ok := byKey[fee.Key]; ok {
		rec.ID = existing.ID
		if err := r.cfg.Adjustments.Update(ctx, existing.ID, rec); err != nil {
			return persistencef(err, "update adjustment row %d", existing.ID)
		}
	} else {
		id, err := r.cfg.Adjustments.Insert(ctx, rec)
		if err != nil {
			return persistencef(err, "insert adjustment for fee %d", fee.Key)
		}
		rec.ID = id
	}
	byKey[fee.Key] = *rec

	for i := range o.Fees {
		if o.Fees[i].Key == fee.Key && o.Fees[i].ID == 0 {
			o.Fees[i].ID = rec.ID
		}
	}
	return nil
}

func (r *Repository) applyFieldWrite(ctx context.Context, o *Order, f Field) error {
	update := func(u OrderUpdate) error {
		if err := r.cfg.Orders.Update(ctx, o.ID, u); err != nil {
			return persistencef(err, "write %s for order %d", f, o.ID)
		}
		return nil
	}

	switch f {
	case FieldStatus:
		detail := fmt.Sprintf("%s -> %s", o.OldStatus, o.Status)
		if err := r.transitions.apply(ctx, o); err != nil {
			return err
		}
		r.record(ctx, o.ID, journal.ActionStatusChange, detail)
		return nil
	case FieldCustomerID:
		cid := o.CustomerID
		if err := update(OrderUpdate{CustomerID: &cid}); err != nil {
			return err
		}
		if err := r.cfg.Customers.AttachOrder(ctx, o.CustomerID, o.ID); err != nil {
			return persistencef(err, "attach order %d to customer %d", o.ID, o.CustomerID)
		}
		return nil
	case FieldMode:
		v := string(o.Mode)
		return update(OrderUpdate{Mode: &v})
	case FieldGateway:
		v := o.Gateway
		return update(OrderUpdate{Gateway: &v})
	case FieldTransactionID:
		v := o.TransactionID
		return update(OrderUpdate{TransactionID: &v})
	case FieldEmail:
		v := o.Email
		return update(OrderUpdate{Email: &v})
	case FieldPaymentKey:
		v := o.PaymentKey
		return update(OrderUpdate{PaymentKey: &v})
	case FieldNumber:
		v := o.Number
		return update(OrderUpdate{Number: &v})
	case FieldUserID:
		v := o.UserID
		return update(OrderUpdate{UserID: &v})
	case FieldDateCreated:
		v := o.DateCreated
		return update(OrderUpdate{DateCreated: &v})
	case FieldDateCompleted:
		v := o.DateCompleted
		return update(OrderUpdate{DateCompleted: &v})
	case FieldDiscounts:
		return r.writeDiscountAdjustments(ctx, o)
	case FieldFirstName, FieldLastName, FieldAddress, FieldTaxRate:
		// Persisted through the metadata blob.
		return nil
	}
	return fmt.Errorf("unhandled field %q", f)
}

// writeDiscountAdjustments materializes one adjustment row per applied
// discount code, apportioning the order's discount total equally across
// codes.
func (r *Repository) writeDiscountAdjustments(ctx context.Context, o *Order) error {
	if len(o.Discounts) == 0 {
		return nil
	}

	existing, err := r.cfg.Adjustments.List(ctx, AdjustmentFilter{OrderID: o.ID, Type: "discount"})
	if err != nil {
		return persistencef(err, "list discount adjustments of order %d", o.ID)
	}
	byCode := make(map[string]AdjustmentRecord, len(existing))
	for _, adj := range existing {
		byCode[adj.Description] = adj
	}

	share := o.DiscountTotal()
	if n := int64(len(o.Discounts)); n > 1 {
		share = o.round(share.Div(decimal.NewFromInt(n)))
	}

	for _, code := range o.Discounts {
		rec := &AdjustmentRecord{
			OrderID:     o.ID,
			Type:        "discount",
			Description: code,
			Amount:      share,
		}
		if prior, ok := byCode[code]; ok {
			rec.ID = prior.ID
			if err := r.cfg.Adjustments.Update(ctx, prior.ID, rec); err != nil {
				return persistencef(err, "update discount adjustment %q", code)
			}
			continue
		}
		if _, err := r.cfg.Adjustments.Insert(ctx, rec); err != nil {
			return persistencef(err, "insert discount adjustment %q", code)
		}
	}
	return nil
}

// writeMetadata merges the contact/discount metadata and writes it only when
// the checksum differs from what is stored: re-flushing with no change
// performs zero metadata writes.
func (r *Repository) writeMetadata(ctx context.Context, o *Order) error {
	merged, err := json.Marshal(o.metadata())
	if err != nil {
		return fmt.Errorf("encode metadata for order %d: %w", o.ID, err)
	}

	prior, err := r.cfg.Orders.GetMeta(ctx, o.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return persistencef(err, "read metadata of order %d", o.ID)
	}
	if len(prior) > 0 && xxhash.Sum64(prior) == xxhash.Sum64(merged) {
		return nil
	}

	if err := r.cfg.Orders.SetMeta(ctx, o.ID, merged); err != nil {
		return persistencef(err, "write metadata of order %d", o.ID)
	}
	return nil
}

func (r *Repository) record(ctx context.Context, orderID int64, action journal.Action, detail string) {
	if r.cfg.Journal == nil {
		return
	}
	if err := r.cfg.Journal.Record(ctx, journal.NewEntry(ctx, orderID, action, detail)); err != nil {
		slog.WarnContext(ctx, "flush journal write failed", "order_id", orderID, "error", err)
	}
}

// record converts the aggregate into its persisted row shape.
func (o *Order) record() *OrderRecord {
	return &OrderRecord{
		ID:            o.ID,
		Status:        string(o.Status),
		Mode:          string(o.Mode),
		Currency:      o.Currency,
		Email:         o.Email,
		Gateway:       o.Gateway,
		TransactionID: o.TransactionID,
		PaymentKey:    o.PaymentKey,
		Number:        o.Number,
		CustomerID:    o.CustomerID,
		UserID:        o.UserID,
		DateCreated:   o.DateCreated,
		DateCompleted: o.DateCompleted,
		Subtotal:      o.Subtotal,
		Tax:           o.Tax,
		Discount:      o.DiscountTotal(),
		Total:         o.Total,
	}
}

// snapshot is the cached representation of a hydrated aggregate.
type snapshot struct {
	Record        OrderRecord  `json:"record"`
	Items         []LineItem   `json:"items"`
	Fees          []Fee        `json:"fees"`
	Meta          metadataBlob `json:"meta"`
	NextFeeKey    int64        `json:"next_fee_key"`
	NextCartIndex int          `json:"next_cart_index"`
}

func (r *Repository) cacheSet(ctx context.Context, o *Order) {
	if r.cfg.Cache == nil {
		return
	}
	b, err := json.Marshal(snapshot{
		Record:        *o.record(),
		Items:         o.Items,
		Fees:          o.Fees,
		Meta:          o.metadata(),
		NextFeeKey:    o.nextFeeKey,
		NextCartIndex: o.nextCartIndex,
	})
	if err != nil {
		return
	}
	if err := r.cfg.Cache.Set(ctx, orderCacheKey(o.ID), b, r.cfg.CacheTTL); err != nil {
		slog.WarnContext(ctx, "order cache write failed", "order_id", o.ID, "error", err)
	}
}

func (r *Repository) decodeSnapshot(b []byte) (*Order, error) {
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}

	opts := r.cfg.Aggregate
	opts.Currency = snap.Record.Currency
	opts.Mode = Mode(snap.Record.Mode)
	o := New(opts)

	rec := snap.Record
	o.ID = rec.ID
	o.loadedID = rec.ID
	if status, err := NormalizeStatus(rec.Status); err == nil {
		o.Status = status
	}
	o.Email = rec.Email
	o.Gateway = rec.Gateway
	o.TransactionID = rec.TransactionID
	o.PaymentKey = rec.PaymentKey
	o.Number = rec.Number
	o.CustomerID = rec.CustomerID
	o.UserID = rec.UserID
	o.DateCreated = rec.DateCreated
	o.DateCompleted = rec.DateCompleted
	o.Subtotal = rec.Subtotal
	o.Tax = rec.Tax

	o.Items = snap.Items
	o.Fees = snap.Fees
	o.nextFeeKey = snap.NextFeeKey
	o.nextCartIndex = snap.NextCartIndex

	feeTotal := decimal.Zero
	for _, f := range o.Fees {
		feeTotal = feeTotal.Add(f.Amount)
	}
	o.FeeTotal = o.round(feeTotal)
	o.recalculateTotal()

	o.FirstName = snap.Meta.FirstName
	o.LastName = snap.Meta.LastName
	o.Address = snap.Meta.Address
	o.Discounts = snap.Meta.Discounts
	if rate, err := decimal.NewFromString(snap.Meta.TaxRate); err == nil {
		o.TaxRate = rate
	}
	return o, nil
}
