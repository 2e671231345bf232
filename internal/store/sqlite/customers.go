package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jcmexdev/ecommerce-orders/internal/order"
)

// CustomerStore is the SQLite implementation of order.CustomerDirectory.
type CustomerStore struct {
	db *sql.DB
}

func (s *CustomerStore) FindByUser(ctx context.Context, userID int64) (*order.Customer, error) {
	return s.findBy(ctx, "user_id = ?", userID)
}

func (s *CustomerStore) FindByEmail(ctx context.Context, email string) (*order.Customer, error) {
	return s.findBy(ctx, "email = ? COLLATE NOCASE", email)
}

func (s *CustomerStore) findBy(ctx context.Context, where string, arg any) (*order.Customer, error) {
	q := "SELECT id, user_id, name, email FROM customers WHERE " + where + " LIMIT 1"

	var c order.Customer
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&c.ID, &c.UserID, &c.Name, &c.Email)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: customer", order.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find customer: %w", err)
	}
	return &c, nil
}

func (s *CustomerStore) Create(ctx context.Context, c *order.Customer) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (user_id, name, email) VALUES (?, ?, ?)`,
		c.UserID, c.Name, c.Email,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: create customer: %w", err)
	}
	return res.LastInsertId()
}

// AttachOrder links an order to a customer. Idempotent: re-attaching an
// already-linked order is a no-op.
func (s *CustomerStore) AttachOrder(ctx context.Context, customerID, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO customer_orders (customer_id, order_id) VALUES (?, ?)`,
		customerID, orderID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: attach order %d to customer %d: %w", orderID, customerID, err)
	}
	return nil
}
