package order

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeCatalog maps productID -> priceID -> amount. priceID 0 marks a
// non-variant price.
type fakeCatalog struct {
	prices map[int64]map[int64]decimal.Decimal
}

func (c *fakeCatalog) LowestPrice(_ context.Context, productID int64) (decimal.Decimal, int64, error) {
	variants, ok := c.prices[productID]
	if !ok {
		return decimal.Zero, 0, notFoundf("product %d", productID)
	}
	var lowest decimal.Decimal
	var lowestID int64
	first := true
	for id, amount := range variants {
		if first || amount.LessThan(lowest) {
			lowest, lowestID, first = amount, id, false
		}
	}
	return lowest, lowestID, nil
}

func (c *fakeCatalog) PriceForVariant(_ context.Context, productID, priceID int64) (decimal.Decimal, error) {
	amount, ok := c.prices[productID][priceID]
	if !ok {
		return decimal.Zero, notFoundf("product %d variant %d", productID, priceID)
	}
	return amount, nil
}

func (c *fakeCatalog) HasVariants(_ context.Context, productID int64) (bool, error) {
	variants, ok := c.prices[productID]
	if !ok {
		return false, notFoundf("product %d", productID)
	}
	_, flat := variants[0]
	return !flat, nil
}

func testCatalog(t *testing.T) *fakeCatalog {
	return &fakeCatalog{prices: map[int64]map[int64]decimal.Decimal{
		1: {0: dec(t, "10")},
		2: {1: dec(t, "20"), 2: dec(t, "35")},
	}}
}

func TestAddItemResolvesCatalogPrice(t *testing.T) {
	t.Parallel()

	o := New(Options{})
	ctx := context.Background()

	li, err := o.AddItem(ctx, testCatalog(t), 1, AddItemArgs{})
	require.NoError(t, err)
	require.Equal(t, "10", li.UnitPrice.String())
	require.Nil(t, li.PriceID)
	require.EqualValues(t, 1, li.Quantity)
}

func TestAddItemVariantSelection(t *testing.T) {
	t.Parallel()

	o := New(Options{})
	ctx := context.Background()
	catalog := testCatalog(t)

	variant := int64(2)
	li, err := o.AddItem(ctx, catalog, 2, AddItemArgs{PriceID: &variant})
	require.NoError(t, err)
	require.Equal(t, "35", li.UnitPrice.String())
	require.EqualValues(t, 2, *li.PriceID)

	// A missing variant falls back to the lowest-priced one.
	missing := int64(9)
	li, err = o.AddItem(ctx, catalog, 2, AddItemArgs{PriceID: &missing})
	require.NoError(t, err)
	require.Equal(t, "20", li.UnitPrice.String())
	require.EqualValues(t, 1, *li.PriceID)
}

func TestAddItemUnknownProduct(t *testing.T) {
	t.Parallel()

	o := New(Options{})
	ctx := context.Background()

	_, err := o.AddItem(ctx, testCatalog(t), 99, AddItemArgs{})
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, o.Items)
	require.True(t, o.Total.IsZero())
	require.False(t, o.Dirty())

	_, err = o.AddItem(ctx, testCatalog(t), 0, AddItemArgs{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAddItemNoCatalogNoPrice(t *testing.T) {
	t.Parallel()

	o := New(Options{})
	_, err := o.AddItem(context.Background(), nil, 1, AddItemArgs{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestRemoveItemByVariant(t *testing.T) {
	t.Parallel()

	o := New(Options{})
	ctx := context.Background()
	catalog := testCatalog(t)

	v1, v2 := int64(1), int64(2)
	_, err := o.AddItem(ctx, catalog, 2, AddItemArgs{PriceID: &v1})
	require.NoError(t, err)
	_, err = o.AddItem(ctx, catalog, 2, AddItemArgs{PriceID: &v2})
	require.NoError(t, err)

	require.NoError(t, o.RemoveItem(2, RemoveItemArgs{PriceID: &v2}))
	require.Len(t, o.Items, 1)
	require.EqualValues(t, 1, *o.Items[0].PriceID)
}

func TestModifyItemDisallowedField(t *testing.T) {
	t.Parallel()

	o := New(Options{AllowedItemModifications: []ItemField{ItemFieldQuantity}})
	ctx := context.Background()

	_, err := o.AddItem(ctx, nil, 1, AddItemArgs{UnitPrice: decPtr(t, "10")})
	require.NoError(t, err)

	// A unit price proposal is ignored under the restricted allow-list, so
	// the merged line equals the original and nothing changes.
	changed, err := o.ModifyItem(0, ModifyItemArgs{UnitPrice: decPtr(t, "50")})
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, "10", o.Items[0].UnitPrice.String())
}
