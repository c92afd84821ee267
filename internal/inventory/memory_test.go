package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront-orders/internal/inventory"
)

func quantity(t *testing.T, ledger *inventory.MemoryLedger, id uuid.UUID) int {
	t.Helper()
	q, ok := ledger.Quantity(id)
	require.True(t, ok)
	return q
}

func TestMemoryLedger_DecrementIsAllOrNothing(t *testing.T) {
	ledger, ids := seededLedger(t, 5, 1)
	orderID := uuid.Must(uuid.NewV4())

	err := ledger.DecrementForOrder(context.Background(), orderID, []inventory.CartLine{
		{ProductID: ids[0], Quantity: 2},
		{ProductID: ids[1], Quantity: 2},
	})

	var stockErr *inventory.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, ids[1], stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	assert.Equal(t, 5, quantity(t, ledger, ids[0]), "first line must not be applied")
	assert.Equal(t, 1, quantity(t, ledger, ids[1]))
}

func TestMemoryLedger_DecrementIsIdempotentPerOrder(t *testing.T) {
	ledger, ids := seededLedger(t, 5)
	orderID := uuid.Must(uuid.NewV4())
	lines := []inventory.CartLine{{ProductID: ids[0], Quantity: 2}}

	require.NoError(t, ledger.DecrementForOrder(context.Background(), orderID, lines))
	require.NoError(t, ledger.DecrementForOrder(context.Background(), orderID, lines))

	assert.Equal(t, 3, quantity(t, ledger, ids[0]))
}

func TestMemoryLedger_RestockRestoresOnce(t *testing.T) {
	ledger, ids := seededLedger(t, 5, 4)
	orderID := uuid.Must(uuid.NewV4())
	lines := []inventory.CartLine{
		{ProductID: ids[0], Quantity: 2},
		{ProductID: ids[1], Quantity: 1},
	}

	require.NoError(t, ledger.DecrementForOrder(context.Background(), orderID, lines))
	assert.Equal(t, 3, quantity(t, ledger, ids[0]))
	assert.Equal(t, 3, quantity(t, ledger, ids[1]))

	require.NoError(t, ledger.RestockForOrder(context.Background(), orderID, lines))
	require.NoError(t, ledger.RestockForOrder(context.Background(), orderID, lines))

	assert.Equal(t, 5, quantity(t, ledger, ids[0]))
	assert.Equal(t, 4, quantity(t, ledger, ids[1]))
}

func TestMemoryLedger_RestockWithoutDecrementIsNoop(t *testing.T) {
	ledger, ids := seededLedger(t, 5)

	err := ledger.RestockForOrder(context.Background(), uuid.Must(uuid.NewV4()), []inventory.CartLine{{ProductID: ids[0], Quantity: 3}})
	require.NoError(t, err)

	assert.Equal(t, 5, quantity(t, ledger, ids[0]))
}

func TestMemoryLedger_DecrementAfterReleaseIsRefused(t *testing.T) {
	ledger, ids := seededLedger(t, 5)
	ctx := context.Background()
	orderID := uuid.Must(uuid.NewV4())
	lines := []inventory.CartLine{{ProductID: ids[0], Quantity: 2}}

	require.NoError(t, ledger.RestockForOrder(ctx, orderID, lines))

	err := ledger.DecrementForOrder(ctx, orderID, lines)
	require.ErrorIs(t, err, inventory.ErrOrderReleased)
	assert.Equal(t, 5, quantity(t, ledger, ids[0]))

	require.NoError(t, ledger.RestockForOrder(ctx, orderID, lines))
	assert.Equal(t, 5, quantity(t, ledger, ids[0]))

	other := uuid.Must(uuid.NewV4())
	require.NoError(t, ledger.DecrementForOrder(ctx, other, lines), "other orders are unaffected")
	assert.Equal(t, 3, quantity(t, ledger, ids[0]))
}

func TestMemoryLedger_InactiveProductCannotBeDecremented(t *testing.T) {
	ledger, ids := seededLedger(t, 5)
	ledger.SetActive(ids[0], false)

	err := ledger.DecrementForOrder(context.Background(), uuid.Must(uuid.NewV4()), []inventory.CartLine{{ProductID: ids[0], Quantity: 1}})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestMemoryLedger_ConcurrentOrdersForLastUnit(t *testing.T) {
	ledger, ids := seededLedger(t, 1)
	lines := []inventory.CartLine{{ProductID: ids[0], Quantity: 1}}

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ledger.DecrementForOrder(context.Background(), uuid.Must(uuid.NewV4()), lines)
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, quantity(t, ledger, ids[0]))
}

func TestMergeLines(t *testing.T) {
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	merged, err := inventory.MergeLines([]inventory.CartLine{
		{ProductID: b, Quantity: 1},
		{ProductID: a, Quantity: 2},
		{ProductID: b, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []inventory.CartLine{{ProductID: b, Quantity: 4}, {ProductID: a, Quantity: 2}}, merged)

	_, err = inventory.MergeLines([]inventory.CartLine{{ProductID: uuid.Nil, Quantity: 1}})
	assert.ErrorIs(t, err, inventory.ErrInvalidProductID)

	_, err = inventory.MergeLines([]inventory.CartLine{{ProductID: a, Quantity: -1}})
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}
