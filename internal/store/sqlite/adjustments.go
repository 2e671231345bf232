package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jcmexdev/ecommerce-orders/internal/order"
)

// AdjustmentStore is the SQLite implementation of order.AdjustmentStore.
// Fee ledger metadata (key, type, scope) lives in dedicated columns rather
// than a serialized blob so the upsert-by-key listing stays a plain query.
type AdjustmentStore struct {
	db *sql.DB
}

func (s *AdjustmentStore) List(ctx context.Context, filter order.AdjustmentFilter) ([]order.AdjustmentRecord, error) {
	q := `
		SELECT id, order_id, type, description, amount,
		       fee_key, fee_type, no_tax, product_id, price_id
		FROM   order_adjustments
		WHERE  1 = 1`
	var args []any
	if filter.OrderID != 0 {
		q += " AND order_id = ?"
		args = append(args, filter.OrderID)
	}
	if filter.Type != "" {
		q += " AND type = ?"
		args = append(args, filter.Type)
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list adjustments: %w", err)
	}
	defer rows.Close()

	var out []order.AdjustmentRecord
	for rows.Next() {
		var rec order.AdjustmentRecord
		var amount string
		var noTax int
		var priceID sql.NullInt64
		if err := rows.Scan(
			&rec.ID, &rec.OrderID, &rec.Type, &rec.Description, &amount,
			&rec.Meta.FeeKey, &rec.Meta.FeeType, &noTax, &rec.Meta.ProductID,
			&priceID,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan adjustment row: %w", err)
		}
		if rec.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		rec.Meta.NoTax = noTax != 0
		if priceID.Valid {
			v := priceID.Int64
			rec.Meta.PriceID = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *AdjustmentStore) Insert(ctx context.Context, rec *order.AdjustmentRecord) (int64, error) {
	const q = `
		INSERT INTO order_adjustments
			(order_id, type, description, amount,
			 fee_key, fee_type, no_tax, product_id, price_id)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		rec.OrderID, rec.Type, rec.Description, rec.Amount.String(),
		rec.Meta.FeeKey, rec.Meta.FeeType, boolToInt(rec.Meta.NoTax),
		rec.Meta.ProductID, nullableInt(rec.Meta.PriceID),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert adjustment for order %d: %w", rec.OrderID, err)
	}
	return res.LastInsertId()
}

func (s *AdjustmentStore) Update(ctx context.Context, id int64, rec *order.AdjustmentRecord) error {
	const q = `
		UPDATE order_adjustments
		SET    type = ?, description = ?, amount = ?,
		       fee_key = ?, fee_type = ?, no_tax = ?, product_id = ?, price_id = ?
		WHERE  id = ?`

	res, err := s.db.ExecContext(ctx, q,
		rec.Type, rec.Description, rec.Amount.String(),
		rec.Meta.FeeKey, rec.Meta.FeeType, boolToInt(rec.Meta.NoTax),
		rec.Meta.ProductID, nullableInt(rec.Meta.PriceID), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update adjustment %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: adjustment %d", order.ErrNotFound, id)
	}
	return nil
}

func (s *AdjustmentStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM order_adjustments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete adjustment %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: adjustment %d", order.ErrNotFound, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
