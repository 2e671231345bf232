package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/ecommerce-orders/internal/order"
)

// Catalog is the SQLite implementation of order.PriceCatalog. Products
// without variants store a single row with price_id 0.
type Catalog struct {
	db *sql.DB
}

// SetPrice inserts or replaces one price point. Seeding and admin tooling use
// it; the aggregate only reads.
func (c *Catalog) SetPrice(ctx context.Context, productID, priceID int64, amount decimal.Decimal) error {
	const q = `
		INSERT INTO product_prices (product_id, price_id, amount) VALUES (?, ?, ?)
		ON CONFLICT (product_id, price_id) DO UPDATE SET amount = excluded.amount`

	if _, err := c.db.ExecContext(ctx, q, productID, priceID, amount.String()); err != nil {
		return fmt.Errorf("sqlite: set price for product %d: %w", productID, err)
	}
	return nil
}

func (c *Catalog) LowestPrice(ctx context.Context, productID int64) (decimal.Decimal, int64, error) {
	const q = `
		SELECT price_id, amount
		FROM   product_prices
		WHERE  product_id = ?
		ORDER  BY CAST(amount AS REAL), price_id
		LIMIT  1`

	var priceID int64
	var amount string
	err := c.db.QueryRowContext(ctx, q, productID).Scan(&priceID, &amount)
	if err == sql.ErrNoRows {
		return decimal.Zero, 0, fmt.Errorf("%w: product %d", order.ErrNotFound, productID)
	}
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("sqlite: lowest price of product %d: %w", productID, err)
	}

	d, err := parseDecimal(amount)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return d, priceID, nil
}

func (c *Catalog) PriceForVariant(ctx context.Context, productID, priceID int64) (decimal.Decimal, error) {
	var amount string
	err := c.db.QueryRowContext(ctx,
		`SELECT amount FROM product_prices WHERE product_id = ? AND price_id = ?`,
		productID, priceID,
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("%w: product %d variant %d", order.ErrNotFound, productID, priceID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlite: price of product %d variant %d: %w", productID, priceID, err)
	}
	return parseDecimal(amount)
}

func (c *Catalog) HasVariants(ctx context.Context, productID int64) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM product_prices WHERE product_id = ?`, productID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: count prices of product %d: %w", productID, err)
	}
	if n == 0 {
		return false, fmt.Errorf("%w: product %d", order.ErrNotFound, productID)
	}

	// A lone price_id 0 row means the product is not variant-priced.
	var variants int
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM product_prices WHERE product_id = ? AND price_id != 0`, productID,
	).Scan(&variants)
	if err != nil {
		return false, fmt.Errorf("sqlite: count variants of product %d: %w", productID, err)
	}
	return variants > 0, nil
}
