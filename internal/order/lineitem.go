package order

import (
	"context"

	"github.com/shopspring/decimal"
)

// LineItem is one purchased product line. CartIndex is assigned when the line
// is appended and never changes, even when earlier lines are removed, so
// client-held indices stay valid for the item's lifetime.
type LineItem struct {
	// ID is the line-item row identifier once persisted, zero before.
	ID int64 `json:"id"`

	ProductID int64  `json:"product_id"`
	PriceID   *int64 `json:"price_id"`
	CartIndex int    `json:"cart_index"`
	Quantity  int64  `json:"quantity"`

	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`

	// Fees are the item-scoped fees attached at add time. Keys reference
	// the order's fee ledger; the fees are removed with the line.
	Fees []Fee `json:"fees,omitempty"`
}

// earnings is the amount this line contributes to product earnings: the line
// total plus any negative item-scoped fees. Positive fees never inflate
// product earnings.
func (li *LineItem) earnings() decimal.Decimal {
	e := li.Total
	for _, f := range li.Fees {
		if f.Amount.IsNegative() {
			e = e.Add(f.Amount)
		}
	}
	return e
}

// AddItemArgs configure AddItem. The zero value buys one unit at the catalog
// price with no discount and no tax.
type AddItemArgs struct {
	Quantity int64
	// PriceID selects a price variant; when the variant is absent the
	// catalog's default (lowest) variant is used instead.
	PriceID *int64
	// UnitPrice overrides catalog resolution entirely.
	UnitPrice *decimal.Decimal
	Discount  decimal.Decimal
	Tax       decimal.Decimal
	// Fees are item-scoped fees to attach. Add them to the ledger with
	// AddFee first so they carry keys; unkeyed fees are attached to the
	// line only.
	Fees []Fee
}

// AddItem appends a product line. The unit price is resolved from the catalog
// unless overridden; an unknown product is a no-op returning ErrNotFound,
// never a partial application.
func (o *Order) AddItem(ctx context.Context, catalog PriceCatalog, productID int64, args AddItemArgs) (*LineItem, error) {
	if productID <= 0 {
		return nil, validationf("product id must be positive, got %d", productID)
	}

	quantity := args.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	unitPrice, priceID, err := o.resolveUnitPrice(ctx, catalog, productID, args)
	if err != nil {
		return nil, err
	}

	unitPrice = o.round(unitPrice)
	tax := o.round(args.Tax)
	discount := o.round(args.Discount)

	amount := o.round(unitPrice.Mul(decimal.NewFromInt(quantity)))
	subtotal := amount
	if o.pricesIncludeTax {
		subtotal = subtotal.Sub(tax)
	}
	total := o.lineTotal(subtotal, discount, tax)

	item := LineItem{
		ProductID: productID,
		PriceID:   priceID,
		CartIndex: o.nextCartIndex,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Subtotal:  o.round(subtotal),
		Discount:  discount,
		Tax:       tax,
		Total:     total,
		Fees:      append([]Fee(nil), args.Fees...),
	}
	o.nextCartIndex++
	o.Items = append(o.Items, item)
	o.appendChange(ItemAdded{Item: item})

	o.increaseSubtotal(subtotal.Sub(discount))
	o.increaseTax(tax)

	return &o.Items[len(o.Items)-1], nil
}

func (o *Order) resolveUnitPrice(ctx context.Context, catalog PriceCatalog, productID int64, args AddItemArgs) (decimal.Decimal, *int64, error) {
	if args.UnitPrice != nil {
		return *args.UnitPrice, args.PriceID, nil
	}
	if catalog == nil {
		return decimal.Zero, nil, validationf("no unit price given and no catalog configured")
	}

	hasVariants, err := catalog.HasVariants(ctx, productID)
	if err != nil {
		return decimal.Zero, nil, notFoundf("product %d: %v", productID, err)
	}

	if hasVariants && args.PriceID != nil {
		price, err := catalog.PriceForVariant(ctx, productID, *args.PriceID)
		if err == nil {
			return price, args.PriceID, nil
		}
		// Requested variant is absent: fall through to the default.
	}

	price, lowestID, err := catalog.LowestPrice(ctx, productID)
	if err != nil {
		return decimal.Zero, nil, notFoundf("product %d: %v", productID, err)
	}
	if !hasVariants {
		return price, nil, nil
	}
	return price, &lowestID, nil
}

// RemoveItemArgs select the line and quantity to remove. Selector priority:
// explicit cart index, then price variant, then the first line sharing the
// product ID.
type RemoveItemArgs struct {
	Quantity  int64
	PriceID   *int64
	CartIndex *int
	UnitPrice *decimal.Decimal
}

// RemoveItem removes quantity units of a product line. Removing less than the
// line's quantity decrements it and apportions tax proportionally; removing
// it all deletes the line together with its item-scoped fees.
func (o *Order) RemoveItem(productID int64, args RemoveItemArgs) error {
	quantity := args.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	idx, err := o.locateItem(productID, args)
	if err != nil {
		return err
	}
	item := &o.Items[idx]

	entry := ItemRemoved{
		RowID:     item.ID,
		ProductID: item.ProductID,
		PriceID:   item.PriceID,
		CartIndex: item.CartIndex,
		Quantity:  quantity,
	}

	if item.Quantity > quantity {
		origQuantity := item.Quantity
		amountReduced := o.round(item.UnitPrice.Mul(decimal.NewFromInt(quantity)))
		taxReduced := o.round(item.Tax.Mul(decimal.NewFromInt(quantity)).Div(decimal.NewFromInt(origQuantity)))

		item.Quantity -= quantity
		item.Subtotal = o.round(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)))
		item.Discount = decimal.Zero
		item.Tax = o.round(item.Tax.Sub(taxReduced))
		item.Total = o.lineTotal(item.Subtotal, item.Discount, item.Tax)

		entry.Amount = amountReduced
		entry.Tax = taxReduced
	} else {
		entry.Quantity = item.Quantity
		entry.Amount = item.Subtotal
		entry.Tax = item.Tax
		entry.Fees = append([]Fee(nil), item.Fees...)
		entry.Entire = true

		for _, f := range item.Fees {
			if f.Key != 0 {
				o.removeFeeByKey(f.Key)
			}
		}
		o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
	}

	o.appendChange(entry)
	o.decreaseSubtotal(entry.Amount)
	o.decreaseTax(entry.Tax)
	return nil
}

// locateItem applies the removal selector priority and defends against stale
// client-supplied cart indices.
func (o *Order) locateItem(productID int64, args RemoveItemArgs) (int, error) {
	if args.CartIndex != nil {
		for i := range o.Items {
			if o.Items[i].CartIndex != *args.CartIndex {
				continue
			}
			if o.Items[i].ProductID != productID {
				return 0, validationf("cart index %d does not hold product %d", *args.CartIndex, productID)
			}
			return i, nil
		}
		return 0, validationf("cart index %d out of range", *args.CartIndex)
	}

	for i := range o.Items {
		item := &o.Items[i]
		if item.ProductID != productID {
			continue
		}
		if args.PriceID != nil {
			if item.PriceID == nil || *item.PriceID != *args.PriceID {
				continue
			}
		}
		if args.UnitPrice != nil && !item.UnitPrice.Equal(*args.UnitPrice) {
			continue
		}
		return i, nil
	}
	return 0, notFoundf("order has no line for product %d", productID)
}

// ItemField names a line-item field ModifyItem may change.
type ItemField string

const (
	ItemFieldUnitPrice ItemField = "item_price"
	ItemFieldTax       ItemField = "tax"
	ItemFieldDiscount  ItemField = "discount"
	ItemFieldQuantity  ItemField = "quantity"
)

// ModifyItemArgs carry the proposed values; nil fields are left untouched.
type ModifyItemArgs struct {
	UnitPrice *decimal.Decimal
	Tax       *decimal.Decimal
	Discount  *decimal.Decimal
	Quantity  *int64
}

// ModifyItem alters the allow-listed fields of the line at cartIndex. A
// proposal that leaves the merged line unchanged is a no-op: it returns false
// without queuing a pending entry or touching totals.
func (o *Order) ModifyItem(cartIndex int, args ModifyItemArgs) (bool, error) {
	item := o.findItemByCartIndex(cartIndex)
	if item == nil {
		return false, validationf("cart index %d out of range", cartIndex)
	}

	merged := *item
	merged.Fees = item.Fees
	if args.UnitPrice != nil && o.modAllowed(ItemFieldUnitPrice) {
		merged.UnitPrice = o.round(*args.UnitPrice)
	}
	if args.Tax != nil && o.modAllowed(ItemFieldTax) {
		merged.Tax = o.round(*args.Tax)
	}
	if args.Discount != nil && o.modAllowed(ItemFieldDiscount) {
		merged.Discount = o.round(*args.Discount)
	}
	if args.Quantity != nil && o.modAllowed(ItemFieldQuantity) {
		if *args.Quantity <= 0 {
			return false, validationf("quantity must be positive, got %d", *args.Quantity)
		}
		merged.Quantity = *args.Quantity
	}

	if lineChecksum(&merged) == lineChecksum(item) {
		return false, nil
	}

	previous := *item

	merged.Subtotal = o.round(merged.UnitPrice.Mul(decimal.NewFromInt(merged.Quantity)))
	merged.Total = o.clampZero("line_total", merged.Subtotal.Add(merged.Tax))

	*item = merged
	o.appendChange(ItemModified{Item: merged, Previous: previous})

	subtotalDelta := merged.Subtotal.Sub(merged.Discount).Sub(previous.Subtotal)
	if subtotalDelta.IsPositive() {
		o.increaseSubtotal(subtotalDelta)
	} else if subtotalDelta.IsNegative() {
		o.decreaseSubtotal(subtotalDelta.Neg())
	}

	taxDelta := merged.Tax.Sub(previous.Tax)
	if taxDelta.IsPositive() {
		o.increaseTax(taxDelta)
	} else if taxDelta.IsNegative() {
		o.decreaseTax(taxDelta.Neg())
	}

	return true, nil
}

func (o *Order) modAllowed(f ItemField) bool {
	_, ok := o.allowedMods[f]
	return ok
}
