package catalog_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront-orders/internal/catalog"
	"github.com/vasiliy-maslov/storefront-orders/internal/notify"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, product *catalog.Product) error {
	return m.Called(ctx, product).Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}

func (m *MockRepository) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	return m.Called(ctx, id, price).Error(0)
}

func (m *MockRepository) AddStock(ctx context.Context, id uuid.UUID, quantity int) (int, error) {
	args := m.Called(ctx, id, quantity)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) ListLowStock(ctx context.Context, threshold int) ([]catalog.Product, error) {
	args := m.Called(ctx, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]catalog.Product), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, id uuid.UUID) (*catalog.Product, bool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*catalog.Product), args.Bool(1), args.Error(2)
}

func (m *MockCache) Set(ctx context.Context, product *catalog.Product) error {
	return m.Called(ctx, product).Error(0)
}

func (m *MockCache) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Notify(ctx context.Context, kind notify.Kind, payload any) error {
	return m.Called(ctx, kind, payload).Error(0)
}

var settings = catalog.Settings{LowStockThreshold: 5, AdminRecipient: "admin@example.com"}

func TestService_CreateProduct(t *testing.T) {
	repo := new(MockRepository)
	svc := catalog.NewService(repo, nil, nil, settings)

	repo.On("Create", mock.Anything, mock.MatchedBy(func(p *catalog.Product) bool {
		return p.Name == "Mug" && p.IsActive && p.ID == uuid.Nil
	})).Return(nil).Once()

	created, err := svc.CreateProduct(context.Background(), &catalog.Product{
		ID:            uuid.Must(uuid.NewV4()),
		Name:          "  Mug ",
		Price:         decimal.RequireFromString("12.50"),
		StockQuantity: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Mug", created.Name)
	repo.AssertExpectations(t)
}

func TestService_CreateProduct_Validation(t *testing.T) {
	tests := []struct {
		name    string
		product catalog.Product
		wantErr error
	}{
		{name: "empty_name", product: catalog.Product{Name: " "}, wantErr: catalog.ErrNameRequired},
		{name: "negative_price", product: catalog.Product{Name: "Mug", Price: decimal.NewFromInt(-1)}, wantErr: catalog.ErrInvalidPrice},
		{name: "negative_stock", product: catalog.Product{Name: "Mug", StockQuantity: -1}, wantErr: catalog.ErrInvalidProduct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			svc := catalog.NewService(repo, nil, nil, settings)

			_, err := svc.CreateProduct(context.Background(), &tt.product)
			assert.ErrorIs(t, err, tt.wantErr)
			repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestService_GetProduct_CacheHit(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := catalog.NewService(repo, cache, nil, settings)
	id := uuid.Must(uuid.NewV4())
	cached := &catalog.Product{ID: id, Name: "Cached"}

	cache.On("Get", mock.Anything, id).Return(cached, true, nil).Once()

	product, err := svc.GetProduct(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Cached", product.Name)
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	cache.AssertExpectations(t)
}

func TestService_GetProduct_CacheMissFillsCache(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := catalog.NewService(repo, cache, nil, settings)
	id := uuid.Must(uuid.NewV4())
	stored := &catalog.Product{ID: id, Name: "Stored"}

	cache.On("Get", mock.Anything, id).Return(nil, false, errors.New("redis down")).Once()
	repo.On("GetByID", mock.Anything, id).Return(stored, nil).Once()
	cache.On("Set", mock.Anything, stored).Return(nil).Once()

	product, err := svc.GetProduct(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Stored", product.Name)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestService_GetProduct_ConcurrentMissesShareOneLoad(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	var loads atomic.Int32
	release := make(chan struct{})

	repo := new(MockRepository)
	repo.On("GetByID", mock.Anything, id).
		Run(func(mock.Arguments) {
			loads.Add(1)
			<-release
		}).
		Return(&catalog.Product{ID: id, Name: "Shared"}, nil)

	svc := catalog.NewService(repo, catalog.NoopCache{}, nil, settings)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			product, err := svc.GetProduct(context.Background(), id)
			assert.NoError(t, err)
			assert.Equal(t, "Shared", product.Name)
		}()
	}

	require.Eventually(t, func() bool { return loads.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, loads.Load(), int32(callers))
	assert.GreaterOrEqual(t, loads.Load(), int32(1))
}

func TestService_GetProduct_NotFound(t *testing.T) {
	repo := new(MockRepository)
	svc := catalog.NewService(repo, nil, nil, settings)
	id := uuid.Must(uuid.NewV4())

	repo.On("GetByID", mock.Anything, id).Return(nil, catalog.ErrProductNotFound).Once()

	_, err := svc.GetProduct(context.Background(), id)
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestService_ChangePrice_InvalidatesCache(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := catalog.NewService(repo, cache, nil, settings)
	id := uuid.Must(uuid.NewV4())
	price := decimal.NewFromInt(15)

	repo.On("UpdatePrice", mock.Anything, id, price).Return(nil).Once()
	cache.On("Delete", mock.Anything, id).Return(nil).Once()

	require.NoError(t, svc.ChangePrice(context.Background(), id, price))
	assert.ErrorIs(t, svc.ChangePrice(context.Background(), id, decimal.NewFromInt(-1)), catalog.ErrInvalidPrice)

	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestService_ReceiveStock(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := catalog.NewService(repo, cache, nil, settings)
	id := uuid.Must(uuid.NewV4())

	repo.On("AddStock", mock.Anything, id, 4).Return(9, nil).Once()
	cache.On("Delete", mock.Anything, id).Return(nil).Once()

	quantity, err := svc.ReceiveStock(context.Background(), id, 4)
	require.NoError(t, err)
	assert.Equal(t, 9, quantity)

	_, err = svc.ReceiveStock(context.Background(), id, 0)
	assert.ErrorIs(t, err, catalog.ErrInvalidQuantity)

	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestService_Deactivate(t *testing.T) {
	repo := new(MockRepository)
	svc := catalog.NewService(repo, nil, nil, settings)
	id := uuid.Must(uuid.NewV4())

	repo.On("Deactivate", mock.Anything, id).Return(catalog.ErrProductNotFound).Once()

	assert.ErrorIs(t, svc.Deactivate(context.Background(), id), catalog.ErrProductNotFound)
	repo.AssertExpectations(t)
}

func TestService_AlertLowStock(t *testing.T) {
	repo := new(MockRepository)
	dispatcher := new(MockDispatcher)
	svc := catalog.NewService(repo, nil, dispatcher, settings)

	low := []catalog.Product{
		{ID: uuid.Must(uuid.NewV4()), Name: "Mug", StockQuantity: 0},
		{ID: uuid.Must(uuid.NewV4()), Name: "Cup", StockQuantity: 5},
	}
	repo.On("ListLowStock", mock.Anything, 5).Return(low, nil).Once()
	dispatcher.On("Notify", mock.Anything, notify.KindLowStock, mock.MatchedBy(func(e notify.LowStockEvent) bool {
		return e.Threshold == 5 && len(e.Products) == 2 && e.Recipient == "admin@example.com"
	})).Return(errors.New("broker unavailable")).Once()

	products, err := svc.AlertLowStock(context.Background(), 0)
	require.NoError(t, err, "notification failures are not returned")
	assert.Len(t, products, 2)
	repo.AssertExpectations(t)
	dispatcher.AssertExpectations(t)
}

func TestService_AlertLowStock_NothingLow(t *testing.T) {
	repo := new(MockRepository)
	dispatcher := new(MockDispatcher)
	svc := catalog.NewService(repo, nil, dispatcher, settings)

	repo.On("ListLowStock", mock.Anything, 2).Return([]catalog.Product{}, nil).Once()

	products, err := svc.AlertLowStock(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, products)
	dispatcher.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}
