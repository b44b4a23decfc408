package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderrec/internal/apperr"
	"orderrec/internal/ledger"
)

// memStore is an in-memory ledger with the same locking contract as the
// database store.
type memStore struct {
	mu    sync.Mutex
	lines []ledger.OrderLine
}

type memTx struct{ s *memStore }

func (s *memStore) WithWriteLock(_ context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := append([]ledger.OrderLine(nil), s.lines...)
	if err := fn(memTx{s}); err != nil {
		s.lines = saved
		return err
	}
	return nil
}

func (s *memStore) OrderExists(_ context.Context, key ledger.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

func (t memTx) Load(context.Context) ([]ledger.OrderLine, error) {
	return append([]ledger.OrderLine(nil), t.s.lines...), nil
}

func (t memTx) Exists(_ context.Context, key ledger.Key) (bool, error) {
	for _, l := range t.s.lines {
		if l.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

func (t memTx) LastOrderDate(_ context.Context, customerID string) (time.Time, bool, error) {
	var last time.Time
	found := false
	for _, l := range t.s.lines {
		if l.CustomerID == customerID && (!found || l.OrderDate.After(last)) {
			last, found = l.OrderDate, true
		}
	}
	return last, found, nil
}

func (t memTx) Append(_ context.Context, lines ...ledger.OrderLine) error {
	t.s.lines = append(t.s.lines, lines...)
	return nil
}

func (t memTx) Remove(context.Context, ...ledger.Key) error { return errors.New("not supported") }

func (t memTx) ReplaceDerived(context.Context, ledger.Derived) error {
	return errors.New("not supported")
}

var now = time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

func newLine(orderID int64, product, sku, customer, date string) ledger.OrderLine {
	d, err := ledger.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return ledger.OrderLine{
		OrderID:     orderID,
		ProductID:   product,
		SKUID:       sku,
		CustomerID:  customer,
		WarehouseID: "WH1",
		CustomerAge: 33,
		OrderDate:   d,
		Category:    "Grocery",
		Quantity:    3,
		UnitPrice:   2.5,
	}
}

func TestIngest_AcceptsNewLine(t *testing.T) {
	store := &memStore{}
	in := New(store, store, func() time.Time { return now }, zerolog.Nop())

	out, err := in.Ingest(context.Background(), newLine(1, "Product_1", "SKU_1", "CUST1", "2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, Accepted, out.Status)
	assert.Equal(t, 0, out.Fact.OrderGap, "first order of a customer")
	assert.Equal(t, 10, out.Fact.Recency)
	assert.InDelta(t, 7.5, out.Fact.Sales, 1e-9)
	assert.Len(t, store.lines, 1)
}

func TestIngest_DuplicateKeyIsRejected(t *testing.T) {
	store := &memStore{}
	in := New(store, store, func() time.Time { return now }, zerolog.Nop())
	ctx := context.Background()

	first := newLine(1, "P1", "S1", "CUST1", "2024-03-01")
	out, err := in.Ingest(ctx, first)
	require.NoError(t, err)
	require.Equal(t, Accepted, out.Status)

	dup := newLine(1, "P1", "S1", "CUST7", "2024-03-05")
	dup.Quantity = 50
	out, err = in.Ingest(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, Rejected, out.Status)
	assert.Equal(t, DuplicateKey, out.Reason)

	require.Len(t, store.lines, 1, "ledger unchanged")
	assert.Equal(t, first, store.lines[0])
}

func TestIngest_GapAgainstLatestOrder(t *testing.T) {
	store := &memStore{}
	in := New(store, store, func() time.Time { return now }, zerolog.Nop())
	ctx := context.Background()

	for _, l := range []ledger.OrderLine{
		newLine(1, "Product_1", "SKU_1", "CUST1", "2024-02-01"),
		newLine(2, "Product_1", "SKU_1", "CUST1", "2024-02-20"),
		newLine(3, "Product_1", "SKU_1", "CUST2", "2024-03-09"),
	} {
		_, err := in.Ingest(ctx, l)
		require.NoError(t, err)
	}

	out, err := in.Ingest(ctx, newLine(4, "Product_2", "SKU_2", "CUST1", "2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 10, out.Fact.OrderGap, "measured from 2024-02-20, the latest CUST1 order")
}

func TestIngest_InvalidLine(t *testing.T) {
	store := &memStore{}
	in := New(store, store, nil, zerolog.Nop())

	bad := newLine(1, "Product_1", "SKU_1", "CUST1", "2024-03-01")
	bad.UnitPrice = 0
	_, err := in.Ingest(context.Background(), bad)
	assert.ErrorIs(t, err, apperr.ErrDataIntegrity)
	assert.Empty(t, store.lines)
}

func TestExists(t *testing.T) {
	store := &memStore{}
	in := New(store, store, nil, zerolog.Nop())
	line := newLine(1, "P1", "S1", "CUST1", "2024-03-01")
	_, err := in.Ingest(context.Background(), line)
	require.NoError(t, err)

	ok, err := in.Exists(context.Background(), line.Key())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = in.Exists(context.Background(), ledger.Key{OrderID: 1, ProductID: "P1", SKUID: "S2"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIngest_ConcurrentDuplicates(t *testing.T) {
	store := &memStore{}
	in := New(store, store, nil, zerolog.Nop())
	line := newLine(9, "Product_9", "SKU_9", "CUST9", "2024-03-01")

	var wg sync.WaitGroup
	accepted := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := in.Ingest(context.Background(), line)
			if err == nil && out.Status == Accepted {
				accepted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(accepted)

	assert.Len(t, accepted, 1)
	assert.Len(t, store.lines, 1)
}
