package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jcmexdev/ecommerce-orders/internal/order"
)

// LineItemStore is the SQLite implementation of order.LineItemStore.
type LineItemStore struct {
	db *sql.DB
}

func (s *LineItemStore) List(ctx context.Context, orderID int64) ([]order.LineItemRecord, error) {
	const q = `
		SELECT id, order_id, product_id, price_id, cart_index, quantity,
		       amount, subtotal, discount, tax, total
		FROM   order_items
		WHERE  order_id = ?
		ORDER  BY cart_index`

	rows, err := s.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list items of order %d: %w", orderID, err)
	}
	defer rows.Close()

	var out []order.LineItemRecord
	for rows.Next() {
		var rec order.LineItemRecord
		var priceID sql.NullInt64
		var amount, subtotal, discount, tax, total string
		if err := rows.Scan(
			&rec.ID, &rec.OrderID, &rec.ProductID, &priceID, &rec.CartIndex,
			&rec.Quantity, &amount, &subtotal, &discount, &tax, &total,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan item row: %w", err)
		}
		if priceID.Valid {
			v := priceID.Int64
			rec.PriceID = &v
		}
		if rec.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if rec.Subtotal, err = parseDecimal(subtotal); err != nil {
			return nil, err
		}
		if rec.Discount, err = parseDecimal(discount); err != nil {
			return nil, err
		}
		if rec.Tax, err = parseDecimal(tax); err != nil {
			return nil, err
		}
		if rec.Total, err = parseDecimal(total); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *LineItemStore) Insert(ctx context.Context, rec *order.LineItemRecord) (int64, error) {
	const q = `
		INSERT INTO order_items
			(order_id, product_id, price_id, cart_index, quantity,
			 amount, subtotal, discount, tax, total)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		rec.OrderID, rec.ProductID, nullableInt(rec.PriceID), rec.CartIndex,
		rec.Quantity, rec.Amount.String(), rec.Subtotal.String(),
		rec.Discount.String(), rec.Tax.String(), rec.Total.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert item for order %d: %w", rec.OrderID, err)
	}
	return res.LastInsertId()
}

func (s *LineItemStore) Update(ctx context.Context, id int64, rec *order.LineItemRecord) error {
	const q = `
		UPDATE order_items
		SET    product_id = ?, price_id = ?, quantity = ?,
		       amount = ?, subtotal = ?, discount = ?, tax = ?, total = ?
		WHERE  id = ?`

	res, err := s.db.ExecContext(ctx, q,
		rec.ProductID, nullableInt(rec.PriceID), rec.Quantity,
		rec.Amount.String(), rec.Subtotal.String(), rec.Discount.String(),
		rec.Tax.String(), rec.Total.String(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update item %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: item %d", order.ErrNotFound, id)
	}
	return nil
}

func (s *LineItemStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM order_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete item %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: item %d", order.ErrNotFound, id)
	}
	return nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
