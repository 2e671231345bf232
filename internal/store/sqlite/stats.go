package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// StatsStore is the SQLite implementation of order.StatsReconciler.
//
// Monetary counters are TEXT columns, so the signed deltas are applied
// read-modify-write inside a transaction instead of arithmetic in SQL. The
// single-writer connection keeps this race-free.
type StatsStore struct {
	db *sql.DB
}

func (s *StatsStore) ApplyOrderDelta(ctx context.Context, customerID int64, amount decimal.Decimal) error {
	return s.addDecimal(ctx,
		`SELECT purchase_value FROM customers WHERE id = ?`,
		`UPDATE customers SET purchase_value = ? WHERE id = ?`,
		amount, customerID,
	)
}

func (s *StatsStore) ApplyStoreEarningsDelta(ctx context.Context, amount decimal.Decimal) error {
	return s.addDecimal(ctx,
		`SELECT earnings FROM store_stats WHERE id = 1`,
		`UPDATE store_stats SET earnings = ? WHERE id = 1`,
		amount,
	)
}

func (s *StatsStore) AdjustProductSales(ctx context.Context, productID, count int64) error {
	const q = `
		INSERT INTO product_stats (product_id, sales) VALUES (?, ?)
		ON CONFLICT (product_id) DO UPDATE SET sales = sales + excluded.sales`

	if _, err := s.db.ExecContext(ctx, q, productID, count); err != nil {
		return fmt.Errorf("sqlite: adjust sales of product %d: %w", productID, err)
	}
	return nil
}

func (s *StatsStore) AdjustProductEarnings(ctx context.Context, productID int64, amount decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin product earnings update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO product_stats (product_id) VALUES (?)`, productID); err != nil {
		return fmt.Errorf("sqlite: ensure stats row for product %d: %w", productID, err)
	}

	var current string
	if err := tx.QueryRowContext(ctx,
		`SELECT earnings FROM product_stats WHERE product_id = ?`, productID).Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read earnings of product %d: %w", productID, err)
	}
	d, err := parseDecimal(current)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE product_stats SET earnings = ? WHERE product_id = ?`,
		d.Add(amount).String(), productID); err != nil {
		return fmt.Errorf("sqlite: write earnings of product %d: %w", productID, err)
	}
	return tx.Commit()
}

func (s *StatsStore) AdjustCustomerOrderCount(ctx context.Context, customerID, count int64) error {
	const q = `
		UPDATE customers
		SET    purchase_count = MAX(purchase_count + ?, 0)
		WHERE  id = ?`

	if _, err := s.db.ExecContext(ctx, q, count, customerID); err != nil {
		return fmt.Errorf("sqlite: adjust order count of customer %d: %w", customerID, err)
	}
	return nil
}

func (s *StatsStore) DecrementDiscountUsage(ctx context.Context, code string) error {
	const q = `
		UPDATE discounts
		SET    use_count = MAX(use_count - 1, 0)
		WHERE  code = ?`

	if _, err := s.db.ExecContext(ctx, q, code); err != nil {
		return fmt.Errorf("sqlite: decrement usage of discount %q: %w", code, err)
	}
	return nil
}

func (s *StatsStore) addDecimal(ctx context.Context, selectQ, updateQ string, amount decimal.Decimal, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin counter update: %w", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, selectQ, args...).Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read counter: %w", err)
	}
	d, err := parseDecimal(current)
	if err != nil {
		return err
	}

	updateArgs := append([]any{d.Add(amount).String()}, args...)
	if _, err := tx.ExecContext(ctx, updateQ, updateArgs...); err != nil {
		return fmt.Errorf("sqlite: write counter: %w", err)
	}
	return tx.Commit()
}
