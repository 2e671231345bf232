package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jcmexdev/ecommerce-orders/internal/order/journal"
)

// JournalStore is the SQLite implementation of journal.Recorder. The table is
// append-only: each row is an immutable event in the order's lifecycle.
type JournalStore struct {
	db *sql.DB
}

func (s *JournalStore) Record(ctx context.Context, e *journal.Entry) error {
	const q = `
		INSERT INTO order_journal
			(order_id, action, detail, trace_id, span_id, recorded_at)
		VALUES
			(?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		e.OrderID,
		string(e.Action),
		e.Detail,
		e.TraceID,
		e.SpanID,
		formatTime(e.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record journal entry for order %d: %w", e.OrderID, err)
	}
	return nil
}

// ListByOrder returns the journal rows for one order, oldest first. Used by
// the audit endpoint.
func (s *JournalStore) ListByOrder(ctx context.Context, orderID int64) ([]journal.Entry, error) {
	const q = `
		SELECT order_id, action, detail, trace_id, span_id, recorded_at
		FROM   order_journal
		WHERE  order_id = ?
		ORDER  BY recorded_at, id`

	rows, err := s.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list journal of order %d: %w", orderID, err)
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		var e journal.Entry
		var recordedAt string
		if err := rows.Scan(&e.OrderID, &e.Action, &e.Detail, &e.TraceID, &e.SpanID, &recordedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan journal row: %w", err)
		}
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
