package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/ecommerce-orders/internal/order"
)

// OrderStore is the SQLite implementation of order.OrderStore.
type OrderStore struct {
	db *sql.DB
}

func (s *OrderStore) Get(ctx context.Context, id int64) (*order.OrderRecord, error) {
	const q = `
		SELECT id, status, mode, currency, email, gateway, transaction_id,
		       payment_key, number, customer_id, user_id,
		       date_created, COALESCE(date_completed, ''),
		       subtotal, tax, discount, total
		FROM   orders
		WHERE  id = ?`

	row := s.db.QueryRowContext(ctx, q, id)

	var rec order.OrderRecord
	var created, completed string
	var subtotal, tax, discount, total string
	err := row.Scan(
		&rec.ID, &rec.Status, &rec.Mode, &rec.Currency, &rec.Email,
		&rec.Gateway, &rec.TransactionID, &rec.PaymentKey, &rec.Number,
		&rec.CustomerID, &rec.UserID,
		&created, &completed,
		&subtotal, &tax, &discount, &total,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order %d", order.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order %d: %w", id, err)
	}

	if rec.DateCreated, err = parseTime(created); err != nil {
		return nil, err
	}
	if rec.DateCompleted, err = parseTime(completed); err != nil {
		return nil, err
	}
	if rec.Subtotal, err = parseDecimal(subtotal); err != nil {
		return nil, err
	}
	if rec.Tax, err = parseDecimal(tax); err != nil {
		return nil, err
	}
	if rec.Discount, err = parseDecimal(discount); err != nil {
		return nil, err
	}
	if rec.Total, err = parseDecimal(total); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *OrderStore) Insert(ctx context.Context, rec *order.OrderRecord) (int64, error) {
	const q = `
		INSERT INTO orders
			(status, mode, currency, email, gateway, transaction_id,
			 payment_key, number, customer_id, user_id,
			 date_created, date_completed, subtotal, tax, discount, total)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		rec.Status, rec.Mode, rec.Currency, rec.Email, rec.Gateway,
		rec.TransactionID, rec.PaymentKey, rec.Number, rec.CustomerID,
		rec.UserID,
		formatTime(rec.DateCreated), nullableTime(rec.DateCompleted),
		rec.Subtotal.String(), rec.Tax.String(), rec.Discount.String(),
		rec.Total.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert order: %w", err)
	}
	return res.LastInsertId()
}

// Update writes only the non-nil fields of u. A non-nil zero completion time
// stores NULL, clearing the date.
func (s *OrderStore) Update(ctx context.Context, id int64, u order.OrderUpdate) error {
	var cols []string
	var args []any
	set := func(col string, v any) {
		cols = append(cols, col+" = ?")
		args = append(args, v)
	}

	if u.Status != nil {
		set("status", *u.Status)
	}
	if u.Mode != nil {
		set("mode", *u.Mode)
	}
	if u.Currency != nil {
		set("currency", *u.Currency)
	}
	if u.Email != nil {
		set("email", *u.Email)
	}
	if u.Gateway != nil {
		set("gateway", *u.Gateway)
	}
	if u.TransactionID != nil {
		set("transaction_id", *u.TransactionID)
	}
	if u.PaymentKey != nil {
		set("payment_key", *u.PaymentKey)
	}
	if u.Number != nil {
		set("number", *u.Number)
	}
	if u.CustomerID != nil {
		set("customer_id", *u.CustomerID)
	}
	if u.UserID != nil {
		set("user_id", *u.UserID)
	}
	if u.DateCreated != nil {
		set("date_created", formatTime(*u.DateCreated))
	}
	if u.DateCompleted != nil {
		set("date_completed", nullableTime(*u.DateCompleted))
	}
	if u.Subtotal != nil {
		set("subtotal", u.Subtotal.String())
	}
	if u.Tax != nil {
		set("tax", u.Tax.String())
	}
	if u.Discount != nil {
		set("discount", u.Discount.String())
	}
	if u.Total != nil {
		set("total", u.Total.String())
	}
	if len(cols) == 0 {
		return nil
	}

	q := "UPDATE orders SET " + strings.Join(cols, ", ") + " WHERE id = ?"
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update order %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: order %d", order.ErrNotFound, id)
	}
	return nil
}

func (s *OrderStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete order %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: order %d", order.ErrNotFound, id)
	}
	return nil
}

func (s *OrderStore) GetMeta(ctx context.Context, id int64) ([]byte, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM order_meta WHERE order_id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: metadata of order %d", order.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get metadata of order %d: %w", id, err)
	}
	return []byte(blob), nil
}

func (s *OrderStore) SetMeta(ctx context.Context, id int64, blob []byte) error {
	const q = `
		INSERT INTO order_meta (order_id, blob) VALUES (?, ?)
		ON CONFLICT (order_id) DO UPDATE SET blob = excluded.blob`

	if _, err := s.db.ExecContext(ctx, q, id, string(blob)); err != nil {
		return fmt.Errorf("sqlite: set metadata of order %d: %w", id, err)
	}
	return nil
}

// NextNumber atomically allocates the next sequential display number.
func (s *OrderStore) NextNumber(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin number allocation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sequences (name, value) VALUES ('order_number', 1)
		ON CONFLICT (name) DO UPDATE SET value = value + 1`); err != nil {
		return 0, fmt.Errorf("sqlite: advance order number: %w", err)
	}

	var n int64
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM sequences WHERE name = 'order_number'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: read order number: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit number allocation: %w", err)
	}
	return n, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlite: parse decimal %q: %w", s, err)
	}
	return d, nil
}

// nullableTime returns nil for zero times so SQLite stores NULL instead of a
// bogus epoch string.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
