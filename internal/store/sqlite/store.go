// Package sqlite provides SQLite-backed implementations of every storage
// port the order aggregate consumes.
//
// WAL mode is enabled on Open so that readers never block writers: flush
// writes can proceed while a status endpoint is reading. All monetary values
// are stored as TEXT in the decimal's canonical string form; SQLite's float
// affinity would silently corrupt money.
package sqlite

import (
	"database/sql"
	"fmt"

	// Register the pure-Go SQLite driver.
	// modernc.org/sqlite avoids CGO, making it easier to build and run in
	// Docker (Alpine).
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup. Idempotent due to IF NOT EXISTS.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    status          TEXT    NOT NULL DEFAULT 'pending',
    mode            TEXT    NOT NULL DEFAULT 'live',
    currency        TEXT    NOT NULL DEFAULT 'USD',
    email           TEXT    NOT NULL DEFAULT '',
    gateway         TEXT    NOT NULL DEFAULT '',
    transaction_id  TEXT    NOT NULL DEFAULT '',
    payment_key     TEXT    NOT NULL DEFAULT '',
    number          TEXT    NOT NULL DEFAULT '',
    customer_id     INTEGER NOT NULL DEFAULT 0,
    user_id         INTEGER NOT NULL DEFAULT 0,

    -- RFC3339 stored as TEXT, SQLite idiom. date_completed is NULL until
    -- the order reaches a terminal status.
    date_created    TEXT    NOT NULL,
    date_completed  TEXT,

    subtotal        TEXT    NOT NULL DEFAULT '0',
    tax             TEXT    NOT NULL DEFAULT '0',
    discount        TEXT    NOT NULL DEFAULT '0',
    total           TEXT    NOT NULL DEFAULT '0'
);

CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id);
CREATE INDEX IF NOT EXISTS idx_orders_status   ON orders(status);

-- One merged JSON blob per order; written only when its checksum changes.
CREATE TABLE IF NOT EXISTS order_meta (
    order_id  INTEGER PRIMARY KEY REFERENCES orders(id) ON DELETE CASCADE,
    blob      TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id  INTEGER NOT NULL,
    price_id    INTEGER,
    cart_index  INTEGER NOT NULL,
    quantity    INTEGER NOT NULL,
    amount      TEXT    NOT NULL DEFAULT '0',
    subtotal    TEXT    NOT NULL DEFAULT '0',
    discount    TEXT    NOT NULL DEFAULT '0',
    tax         TEXT    NOT NULL DEFAULT '0',
    total       TEXT    NOT NULL DEFAULT '0',

    -- Cart indices are stable per order; the saver upserts by this pair.
    UNIQUE (order_id, cart_index)
);

CREATE TABLE IF NOT EXISTS order_adjustments (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    type        TEXT    NOT NULL,
    description TEXT    NOT NULL DEFAULT '',
    amount      TEXT    NOT NULL DEFAULT '0',
    fee_key     INTEGER NOT NULL DEFAULT 0,
    fee_type    TEXT    NOT NULL DEFAULT '',
    no_tax      INTEGER NOT NULL DEFAULT 0,
    product_id  INTEGER NOT NULL DEFAULT 0,
    price_id    INTEGER
);

CREATE INDEX IF NOT EXISTS idx_adjustments_order ON order_adjustments(order_id, type);

CREATE TABLE IF NOT EXISTS customers (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id        INTEGER NOT NULL DEFAULT 0,
    name           TEXT    NOT NULL DEFAULT '',
    email          TEXT    NOT NULL DEFAULT '',
    purchase_count INTEGER NOT NULL DEFAULT 0,
    purchase_value TEXT    NOT NULL DEFAULT '0'
);

CREATE INDEX IF NOT EXISTS idx_customers_user  ON customers(user_id);
CREATE INDEX IF NOT EXISTS idx_customers_email ON customers(email);

CREATE TABLE IF NOT EXISTS customer_orders (
    customer_id INTEGER NOT NULL,
    order_id    INTEGER NOT NULL,
    PRIMARY KEY (customer_id, order_id)
);

-- price_id 0 is the product's single non-variant price.
CREATE TABLE IF NOT EXISTS product_prices (
    product_id  INTEGER NOT NULL,
    price_id    INTEGER NOT NULL DEFAULT 0,
    amount      TEXT    NOT NULL,
    PRIMARY KEY (product_id, price_id)
);

CREATE TABLE IF NOT EXISTS product_stats (
    product_id  INTEGER PRIMARY KEY,
    sales       INTEGER NOT NULL DEFAULT 0,
    earnings    TEXT    NOT NULL DEFAULT '0'
);

-- Single-row table holding the store-wide lifetime earnings counter.
CREATE TABLE IF NOT EXISTS store_stats (
    id        INTEGER PRIMARY KEY CHECK (id = 1),
    earnings  TEXT    NOT NULL DEFAULT '0'
);

INSERT OR IGNORE INTO store_stats (id, earnings) VALUES (1, '0');

CREATE TABLE IF NOT EXISTS discounts (
    code       TEXT    PRIMARY KEY,
    use_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sequences (
    name   TEXT    PRIMARY KEY,
    value  INTEGER NOT NULL DEFAULT 0
);

-- Append-only audit trail of flushes and status transitions.
CREATE TABLE IF NOT EXISTS order_journal (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id     INTEGER NOT NULL,
    action       TEXT    NOT NULL,
    detail       TEXT    NOT NULL DEFAULT '',

    -- W3C trace_id (32 hex chars) from the active OTel span, so a journal
    -- row joins directly with the trace that produced it.
    trace_id     TEXT    NOT NULL DEFAULT '',
    span_id      TEXT    NOT NULL DEFAULT '',

    recorded_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_order ON order_journal(order_id, recorded_at);
`

// Store owns the database handle; the typed accessors share it.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	st, err := sqlite.Open("./data/orders.db")
func Open(path string) (*Store, error) {
	// The pure-Go driver uses _pragma query parameters to configure
	// connection state. WAL enables concurrent readers. busy_timeout waits
	// for locks instead of failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// Use "sqlite", not "sqlite3" for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Orders() *OrderStore           { return &OrderStore{db: s.db} }
func (s *Store) Items() *LineItemStore         { return &LineItemStore{db: s.db} }
func (s *Store) Adjustments() *AdjustmentStore { return &AdjustmentStore{db: s.db} }
func (s *Store) Customers() *CustomerStore     { return &CustomerStore{db: s.db} }
func (s *Store) Catalog() *Catalog             { return &Catalog{db: s.db} }
func (s *Store) Stats() *StatsStore            { return &StatsStore{db: s.db} }
func (s *Store) Journal() *JournalStore        { return &JournalStore{db: s.db} }
