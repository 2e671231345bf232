package order

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// In-memory fakes for the storage ports. They count writes so tests can
// assert the flush protocol performs minimal work.

type memOrders struct {
	rows       map[int64]*OrderRecord
	meta       map[int64][]byte
	nextID     int64
	seq        int64
	gets       int
	metaWrites int
}

func newMemOrders() *memOrders {
	return &memOrders{rows: map[int64]*OrderRecord{}, meta: map[int64][]byte{}}
}

func (m *memOrders) Get(_ context.Context, id int64) (*OrderRecord, error) {
	m.gets++
	r, ok := m.rows[id]
	if !ok {
		return nil, notFoundf("order %d", id)
	}
	cp := *r
	return &cp, nil
}

func (m *memOrders) Insert(_ context.Context, rec *OrderRecord) (int64, error) {
	m.nextID++
	cp := *rec
	cp.ID = m.nextID
	m.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memOrders) Update(_ context.Context, id int64, u OrderUpdate) error {
	r, ok := m.rows[id]
	if !ok {
		return notFoundf("order %d", id)
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.Mode != nil {
		r.Mode = *u.Mode
	}
	if u.Currency != nil {
		r.Currency = *u.Currency
	}
	if u.Email != nil {
		r.Email = *u.Email
	}
	if u.Gateway != nil {
		r.Gateway = *u.Gateway
	}
	if u.TransactionID != nil {
		r.TransactionID = *u.TransactionID
	}
	if u.PaymentKey != nil {
		r.PaymentKey = *u.PaymentKey
	}
	if u.Number != nil {
		r.Number = *u.Number
	}
	if u.CustomerID != nil {
		r.CustomerID = *u.CustomerID
	}
	if u.UserID != nil {
		r.UserID = *u.UserID
	}
	if u.DateCreated != nil {
		r.DateCreated = *u.DateCreated
	}
	if u.DateCompleted != nil {
		r.DateCompleted = *u.DateCompleted
	}
	if u.Subtotal != nil {
		r.Subtotal = *u.Subtotal
	}
	if u.Tax != nil {
		r.Tax = *u.Tax
	}
	if u.Discount != nil {
		r.Discount = *u.Discount
	}
	if u.Total != nil {
		r.Total = *u.Total
	}
	return nil
}

func (m *memOrders) Delete(_ context.Context, id int64) error {
	if _, ok := m.rows[id]; !ok {
		return notFoundf("order %d", id)
	}
	delete(m.rows, id)
	return nil
}

func (m *memOrders) GetMeta(_ context.Context, id int64) ([]byte, error) {
	b, ok := m.meta[id]
	if !ok {
		return nil, notFoundf("metadata of order %d", id)
	}
	return b, nil
}

func (m *memOrders) SetMeta(_ context.Context, id int64, blob []byte) error {
	m.metaWrites++
	m.meta[id] = append([]byte(nil), blob...)
	return nil
}

func (m *memOrders) NextNumber(_ context.Context) (int64, error) {
	m.seq++
	return m.seq, nil
}

type memItems struct {
	rows           map[int64]*LineItemRecord
	nextID         int64
	inserts        int
	updates        int
	failNextInsert bool
}

func newMemItems() *memItems {
	return &memItems{rows: map[int64]*LineItemRecord{}}
}

func (m *memItems) List(_ context.Context, orderID int64) ([]LineItemRecord, error) {
	var out []LineItemRecord
	for _, r := range m.rows {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CartIndex < out[j].CartIndex })
	return out, nil
}

func (m *memItems) Insert(_ context.Context, rec *LineItemRecord) (int64, error) {
	if m.failNextInsert {
		m.failNextInsert = false
		return 0, errors.New("disk full")
	}
	m.inserts++
	m.nextID++
	cp := *rec
	cp.ID = m.nextID
	m.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memItems) Update(_ context.Context, id int64, rec *LineItemRecord) error {
	if _, ok := m.rows[id]; !ok {
		return notFoundf("item %d", id)
	}
	m.updates++
	cp := *rec
	cp.ID = id
	m.rows[id] = &cp
	return nil
}

func (m *memItems) Delete(_ context.Context, id int64) error {
	if _, ok := m.rows[id]; !ok {
		return notFoundf("item %d", id)
	}
	delete(m.rows, id)
	return nil
}

type memAdjustments struct {
	rows    map[int64]*AdjustmentRecord
	nextID  int64
	inserts int
	updates int
}

func newMemAdjustments() *memAdjustments {
	return &memAdjustments{rows: map[int64]*AdjustmentRecord{}}
}

func (m *memAdjustments) List(_ context.Context, f AdjustmentFilter) ([]AdjustmentRecord, error) {
	var out []AdjustmentRecord
	for _, r := range m.rows {
		if f.OrderID != 0 && r.OrderID != f.OrderID {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memAdjustments) Insert(_ context.Context, rec *AdjustmentRecord) (int64, error) {
	m.inserts++
	m.nextID++
	cp := *rec
	cp.ID = m.nextID
	m.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memAdjustments) Update(_ context.Context, id int64, rec *AdjustmentRecord) error {
	if _, ok := m.rows[id]; !ok {
		return notFoundf("adjustment %d", id)
	}
	m.updates++
	cp := *rec
	cp.ID = id
	m.rows[id] = &cp
	return nil
}

func (m *memAdjustments) Delete(_ context.Context, id int64) error {
	if _, ok := m.rows[id]; !ok {
		return notFoundf("adjustment %d", id)
	}
	delete(m.rows, id)
	return nil
}

type memCustomers struct {
	rows     map[int64]*Customer
	attached map[int64]map[int64]bool
	nextID   int64
	creates  int
}

func newMemCustomers() *memCustomers {
	return &memCustomers{rows: map[int64]*Customer{}, attached: map[int64]map[int64]bool{}}
}

func (m *memCustomers) FindByUser(_ context.Context, userID int64) (*Customer, error) {
	for _, c := range m.rows {
		if c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, notFoundf("customer for user %d", userID)
}

func (m *memCustomers) FindByEmail(_ context.Context, email string) (*Customer, error) {
	for _, c := range m.rows {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, notFoundf("customer %q", email)
}

func (m *memCustomers) Create(_ context.Context, c *Customer) (int64, error) {
	m.creates++
	m.nextID++
	cp := *c
	cp.ID = m.nextID
	m.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memCustomers) AttachOrder(_ context.Context, customerID, orderID int64) error {
	if m.attached[customerID] == nil {
		m.attached[customerID] = map[int64]bool{}
	}
	m.attached[customerID][orderID] = true
	return nil
}

type memStats struct {
	storeEarnings   decimal.Decimal
	customerValue   map[int64]decimal.Decimal
	productSales    map[int64]int64
	productEarnings map[int64]decimal.Decimal
	orderCounts     map[int64]int64
	discountDecrs   []string
	failSales       bool
}

func newMemStats() *memStats {
	return &memStats{
		customerValue:   map[int64]decimal.Decimal{},
		productSales:    map[int64]int64{},
		productEarnings: map[int64]decimal.Decimal{},
		orderCounts:     map[int64]int64{},
	}
}

func (m *memStats) ApplyOrderDelta(_ context.Context, customerID int64, amount decimal.Decimal) error {
	m.customerValue[customerID] = m.customerValue[customerID].Add(amount)
	return nil
}

func (m *memStats) ApplyStoreEarningsDelta(_ context.Context, amount decimal.Decimal) error {
	m.storeEarnings = m.storeEarnings.Add(amount)
	return nil
}

func (m *memStats) AdjustProductSales(_ context.Context, productID, count int64) error {
	if m.failSales {
		return errors.New("stats backend down")
	}
	m.productSales[productID] += count
	return nil
}

func (m *memStats) AdjustProductEarnings(_ context.Context, productID int64, amount decimal.Decimal) error {
	m.productEarnings[productID] = m.productEarnings[productID].Add(amount)
	return nil
}

func (m *memStats) AdjustCustomerOrderCount(_ context.Context, customerID, count int64) error {
	m.orderCounts[customerID] += count
	return nil
}

func (m *memStats) DecrementDiscountUsage(_ context.Context, code string) error {
	m.discountDecrs = append(m.discountDecrs, code)
	return nil
}

type memCache struct {
	data    map[string][]byte
	deleted []string
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return b, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	delete(m.data, key)
	return nil
}

type denyAll struct{}

func (denyAll) AllowTransition(context.Context, *Order, Status, Status) bool { return false }

type fixtures struct {
	orders      *memOrders
	items       *memItems
	adjustments *memAdjustments
	customers   *memCustomers
	stats       *memStats
	cache       *memCache
	repo        *Repository
}

func newFixtures(t *testing.T, mutate ...func(*RepositoryConfig)) *fixtures {
	t.Helper()
	f := &fixtures{
		orders:      newMemOrders(),
		items:       newMemItems(),
		adjustments: newMemAdjustments(),
		customers:   newMemCustomers(),
		stats:       newMemStats(),
		cache:       newMemCache(),
	}
	cfg := RepositoryConfig{
		Orders:      f.orders,
		Items:       f.items,
		Adjustments: f.adjustments,
		Customers:   f.customers,
		Stats:       f.stats,
		Cache:       f.cache,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.repo = NewRepository(cfg)
	return f
}

// seedOrder plants one persisted order with a single line so tests can load
// and transition it.
func (f *fixtures) seedOrder(t *testing.T, status string) {
	t.Helper()
	f.orders.rows[1] = &OrderRecord{
		ID: 1, Status: status, Mode: "live", Currency: "USD",
		Email: "buyer@example.com", CustomerID: 1,
		DateCreated: time.Now().UTC().Add(-time.Hour),
		Subtotal:    decimal.RequireFromString("20"),
		Total:       decimal.RequireFromString("20"),
	}
	f.orders.nextID = 1
	f.items.rows[10] = &LineItemRecord{
		ID: 10, OrderID: 1, ProductID: 5, CartIndex: 0, Quantity: 2,
		Amount:   decimal.RequireFromString("10"),
		Subtotal: decimal.RequireFromString("20"),
		Total:    decimal.RequireFromString("20"),
	}
	f.items.nextID = 10
	f.customers.rows[1] = &Customer{ID: 1, Email: "buyer@example.com"}
	f.customers.nextID = 1
}

func TestSaveMaterializesNewOrder(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)
	ctx := context.Background()

	o := f.repo.NewOrder("", "")
	o.SetEmail("buyer@example.com")
	o.SetName("Ada", "Lovelace")
	_, err := o.AddItem(ctx, nil, 7, AddItemArgs{Quantity: 2, UnitPrice: decPtr(t, "10"), Tax: dec(t, "1")})
	require.NoError(t, err)
	o.AddFee(Fee{Label: "handling", Amount: dec(t, "5")})

	require.NoError(t, f.repo.Save(ctx, o))

	require.EqualValues(t, 1, o.ID)
	require.Equal(t, "1", o.Number)
	require.NotEmpty(t, o.PaymentKey)
	require.True(t, o.IsNew())
	require.False(t, o.Dirty())
	require.Equal(t, "26", o.Total.String())

	row := f.orders.rows[1]
	require.Equal(t, "pending", row.Status)
	require.Equal(t, "20", row.Subtotal.String())
	require.Equal(t, "26", row.Total.String())
	require.EqualValues(t, 1, row.CustomerID)

	require.Len(t, f.items.rows, 1)
	require.Len(t, f.adjustments.rows, 1)
	require.Equal(t, 1, f.customers.creates)
	require.True(t, f.customers.attached[1][1])

	// A pending order contributes nothing to the counters.
	require.True(t, f.stats.storeEarnings.IsZero())
	require.Empty(t, f.stats.productSales)
}

func TestSequentialNumbers(t *testing.T) {
	t.Parallel()

	f := newFixtures(t, func(cfg *RepositoryConfig) {
		cfg.SequentialNumbers = true
		cfg.NumberPrefix = "STORE-"
	})
	ctx := context.Background()

	o := f.repo.NewOrder("", "")
	o.SetEmail("buyer@example.com")
	require.NoError(t, f.repo.Save(ctx, o))
	require.Equal(t, "STORE-1", o.Number)

	o2 := f.repo.NewOrder("", "")
	o2.SetEmail("buyer@example.com")
	require.NoError(t, f.repo.Save(ctx, o2))
	require.Equal(t, "STORE-2", o2.Number)
}

func TestRepeatFlushWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)
	ctx := context.Background()

	o := f.repo.NewOrder("", "")
	o.SetEmail("buyer@example.com")
	_, err := o.AddItem(ctx, nil, 7, AddItemArgs{UnitPrice: decPtr(t, "10")})
	require.NoError(t, err)
	require.NoError(t, f.repo.Save(ctx, o))

	inserts, updates := f.items.inserts, f.items.updates
	metaWrites := f.orders.metaWrites

	require.NoError(t, f.repo.Save(ctx, o))

	require.Equal(t, inserts, f.items.inserts)
	require.Equal(t, updates, f.items.updates)
	require.Equal(t, metaWrites, f.orders.metaWrites, "unchanged metadata must not be rewritten")
}

func TestFailedFlushKeepsBufferAndRetries(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)
	ctx := context.Background()

	o := f.repo.NewOrder("", "")
	o.SetEmail("buyer@example.com")
	_, err := o.AddItem(ctx, nil, 7, AddItemArgs{UnitPrice: decPtr(t, "10")})
	require.NoError(t, err)

	f.items.failNextInsert = true
	err = f.repo.Save(ctx, o)
	require.ErrorIs(t, err, ErrPersistence)
	require.True(t, o.Dirty(), "buffer must survive a failed flush")

	require.NoError(t, f.repo.Save(ctx, o))
	require.False(t, o.Dirty())
	require.Len(t, f.items.rows, 1, "retry must not duplicate rows")
}

func TestRefundDecrementsCountersOnce(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)
	ctx := context.Background()
	f.seedOrder(t, "publish")

	o, err := f.repo.Load(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, o.SetStatus("refunded"))
	require.NoError(t, f.repo.Save(ctx, o))

	require.Equal(t, "refunded", f.orders.rows[1].Status)
	require.EqualValues(t, -2, f.stats.productSales[5])
	require.Equal(t, "-20", f.stats.productEarnings[5].String())
	require.Equal(t, "-20", f.stats.storeEarnings.String())
	require.Equal(t, "-20", f.stats.customerValue[1].String())
	require.EqualValues(t, -1, f.stats.orderCounts[1])
	require.Contains(t, f.cache.deleted, PeriodEarningsKey)
}

func TestPendingToRefundedDecrementsNothing(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)
	ctx := context.Background()
	f.seedOrder(t, "pending")

	o, err := f.repo.Load(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, o.SetStatus("refunded"))
	require.NoError(t, f.repo.Save(ctx, o))

	require.Equal(t, "refunded", f.orders.rows[1].Status)
	require.Empty(t, f.stats.productSales)
	require.True(t, f.stats.storeEarnings.IsZero())
}

func TestRevertToPendingClearsCompletionDate(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)
	ctx := context.Background()
	f.seedOrder(t, "publish")
	f.orders.rows[1].DateCompleted = time.Now().UTC()

	o, err := f.repo.Load(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, o.SetStatus("pending"))
	require.NoError(t, f.repo.Save(ctx, o))

	require.Equal(t, "pending", f.orders.rows[1].Status)
	require.True(t, f.orders.rows[1].DateCompleted.IsZero())
	require.EqualValues(t, -2, f.stats.productSales[5])
}

func TestVetoedTransitionLeavesStatus(t *testing.T) {
	t.Parallel()

	f := newFixtures(t, func(cfg *RepositoryConfig) {
		cfg.Transitions = denyAll{}
	})
	ctx := context.Background()
	f.seedOrder(t, "publish")

	o, err := f.repo.Load(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, o.SetStatus("refunded"))
	require.NoError(t, f.repo.Save(ctx, o))

	require.Equal(t, "publish", f.orders.rows[1].Status)
	require.Equal(t, StatusPublish, o.Status)
	require.Empty(t, f.stats.productSales)
}

func TestFailureReleasesDiscountUsage(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)
	ctx := context.Background()
	f.seedOrder(t, "pending")

	o, err := f.repo.Load(ctx, 1)
	require.NoError(t, err)
	o.SetDiscounts([]string{"SAVE10"})
	require.NoError(t, o.SetStatus("failed"))
	require.NoError(t, f.repo.Save(ctx, o))

	require.Equal(t, []string{"SAVE10"}, f.stats.discountDecrs)
	require.Equal(t, "failed", f.orders.rows[1].Status)
}

func TestAddItemToCompletedOrderCreditsCounters(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)
	ctx := context.Background()
	f.seedOrder(t, "publish")

	o, err := f.repo.Load(ctx, 1)
	require.NoError(t, err)
	_, err = o.AddItem(ctx, nil, 9, AddItemArgs{UnitPrice: decPtr(t, "15")})
	require.NoError(t, err)
	require.NoError(t, f.repo.Save(ctx, o))

	require.EqualValues(t, 1, f.stats.productSales[9])
	require.Equal(t, "15", f.stats.productEarnings[9].String())
	require.Equal(t, "15", f.stats.storeEarnings.String())
	require.Equal(t, "15", f.stats.customerValue[1].String())
}

func TestLoadServesCachedSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)
	ctx := context.Background()

	o := f.repo.NewOrder("", "")
	o.SetEmail("buyer@example.com")
	_, err := o.AddItem(ctx, nil, 7, AddItemArgs{UnitPrice: decPtr(t, "10")})
	require.NoError(t, err)
	require.NoError(t, f.repo.Save(ctx, o))

	gets := f.orders.gets
	loaded, err := f.repo.Load(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, gets, f.orders.gets, "snapshot hit must not touch the store")
	require.Equal(t, o.Total.String(), loaded.Total.String())
	require.Len(t, loaded.Items, 1)
}

func TestDiscountCodesMaterializeAdjustments(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)
	ctx := context.Background()

	o := f.repo.NewOrder("", "")
	o.SetEmail("buyer@example.com")
	o.SetDiscounts([]string{"SAVE10"})
	require.NoError(t, f.repo.Save(ctx, o))

	rows, err := f.adjustments.List(ctx, AdjustmentFilter{OrderID: o.ID, Type: "discount"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "SAVE10", rows[0].Description)
}

func TestStrictSideEffectsFailTheFlush(t *testing.T) {
	t.Parallel()

	f := newFixtures(t, func(cfg *RepositoryConfig) {
		cfg.StrictSideEffects = true
	})
	ctx := context.Background()
	f.seedOrder(t, "publish")
	f.stats.failSales = true

	o, err := f.repo.Load(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, o.SetStatus("refunded"))
	require.ErrorIs(t, f.repo.Save(ctx, o), ErrPersistence)
}
