package catalog_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront-orders/internal/catalog"
	"github.com/vasiliy-maslov/storefront-orders/internal/inventory"
)

type mapCache struct {
	mu       sync.Mutex
	products map[uuid.UUID]catalog.Product
}

func newMapCache() *mapCache {
	return &mapCache{products: make(map[uuid.UUID]catalog.Product)}
}

func (c *mapCache) Get(_ context.Context, id uuid.UUID) (*catalog.Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *mapCache) Set(_ context.Context, product *catalog.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[product.ID] = *product
	return nil
}

func (c *mapCache) Delete(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
	return nil
}

func TestCacheInvalidatingLedger_DropsCachedProducts(t *testing.T) {
	memory := inventory.NewMemoryLedger()
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	memory.Seed(inventory.StockLevel{ProductID: a, Name: "A", Price: decimal.RequireFromString("10"), Quantity: 5})
	memory.Seed(inventory.StockLevel{ProductID: b, Name: "B", Price: decimal.RequireFromString("20"), Quantity: 5})

	cache := new(MockCache)
	cache.On("Delete", mock.Anything, a).Return(nil).Twice()
	cache.On("Delete", mock.Anything, b).Return(errors.New("redis down")).Twice()

	ledger := catalog.NewCacheInvalidatingLedger(memory, cache)
	orderID := uuid.Must(uuid.NewV4())
	lines := []inventory.CartLine{
		{ProductID: a, Quantity: 1},
		{ProductID: b, Quantity: 2},
		{ProductID: a, Quantity: 1},
	}

	require.NoError(t, ledger.DecrementForOrder(context.Background(), orderID, lines))
	quantity, _ := memory.Quantity(a)
	assert.Equal(t, 3, quantity)

	require.NoError(t, ledger.RestockForOrder(context.Background(), orderID, lines))
	quantity, _ = memory.Quantity(a)
	assert.Equal(t, 5, quantity)

	cache.AssertExpectations(t)
}

func TestCacheInvalidatingLedger_KeepsCacheOnRefusal(t *testing.T) {
	memory := inventory.NewMemoryLedger()
	a := uuid.Must(uuid.NewV4())
	memory.Seed(inventory.StockLevel{ProductID: a, Name: "A", Price: decimal.RequireFromString("10"), Quantity: 1})

	cache := new(MockCache)
	ledger := catalog.NewCacheInvalidatingLedger(memory, cache)

	err := ledger.DecrementForOrder(context.Background(), uuid.Must(uuid.NewV4()), []inventory.CartLine{{ProductID: a, Quantity: 2}})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	levels, err := ledger.ReadStock(context.Background(), []uuid.UUID{a})
	require.NoError(t, err)
	assert.Equal(t, 1, levels[a].Quantity)
	cache.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestCacheInvalidatingLedger_GetProductSeesNewStock(t *testing.T) {
	memory := inventory.NewMemoryLedger()
	id := uuid.Must(uuid.NewV4())
	memory.Seed(inventory.StockLevel{ProductID: id, Name: "A", Price: decimal.RequireFromString("10"), Quantity: 4})

	cache := newMapCache()
	repo := new(MockRepository)
	repo.On("GetByID", mock.Anything, id).Return(&catalog.Product{ID: id, Name: "A", StockQuantity: 4, IsActive: true}, nil).Once()
	repo.On("GetByID", mock.Anything, id).Return(&catalog.Product{ID: id, Name: "A", StockQuantity: 1, IsActive: true}, nil).Once()
	svc := catalog.NewService(repo, cache, nil, settings)

	before, err := svc.GetProduct(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 4, before.StockQuantity)

	ledger := catalog.NewCacheInvalidatingLedger(memory, cache)
	require.NoError(t, ledger.DecrementForOrder(context.Background(), uuid.Must(uuid.NewV4()), []inventory.CartLine{{ProductID: id, Quantity: 3}}))

	after, err := svc.GetProduct(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, after.StockQuantity)
	repo.AssertExpectations(t)
}
