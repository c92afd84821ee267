package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/vasiliy-maslov/storefront-orders/internal/notify"
)

var (
	ErrInvalidPrice    = errors.New("price cannot be negative")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrNameRequired    = errors.New("product name is required")
)

type Service interface {
	CreateProduct(ctx context.Context, product *Product) (*Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	ChangePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error
	ReceiveStock(ctx context.Context, id uuid.UUID, quantity int) (int, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	LowStock(ctx context.Context, threshold int) ([]Product, error)
	AlertLowStock(ctx context.Context, threshold int) ([]Product, error)
}

type Settings struct {
	LowStockThreshold int
	AdminRecipient    string
}

type service struct {
	repo       Repository
	cache      Cache
	dispatcher notify.Dispatcher
	settings   Settings
	group      singleflight.Group
}

func NewService(repo Repository, cache Cache, dispatcher notify.Dispatcher, settings Settings) Service {
	if cache == nil {
		cache = NoopCache{}
	}
	return &service{
		repo:       repo,
		cache:      cache,
		dispatcher: dispatcher,
		settings:   settings,
	}
}

func (s *service) CreateProduct(ctx context.Context, product *Product) (*Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return nil, ErrNameRequired
	}
	if product.Price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if product.StockQuantity < 0 {
		return nil, fmt.Errorf("%w: stock cannot be negative", ErrInvalidProduct)
	}

	product.ID = uuid.Nil
	product.IsActive = true

	if err := s.repo.Create(ctx, product); err != nil {
		if errors.Is(err, ErrCategoryNotFound) || errors.Is(err, ErrInvalidProduct) {
			return nil, err
		}
		log.Error().Err(err).Msg("service: failed to create product in repository")
		return nil, fmt.Errorf("service: failed to create product: %w", err)
	}

	log.Info().Stringer("product_id", product.ID).Str("name", product.Name).Msg("service: product created")
	return product, nil
}

// GetProduct reads through the cache. Concurrent misses for the same
// product share one repository call.
func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	cached, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		log.Warn().Err(err).Stringer("product_id", id).Msg("service: product cache read failed")
	}
	if ok {
		return cached, nil
	}

	v, err, _ := s.group.Do(id.String(), func() (any, error) {
		product, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, product); err != nil {
			log.Warn().Err(err).Stringer("product_id", id).Msg("service: product cache write failed")
		}
		return product, nil
	})
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Stringer("product_id", id).Msg("service: failed to fetch product")
		return nil, fmt.Errorf("service: failed to fetch product: %w", err)
	}

	product := *v.(*Product)
	return &product, nil
}

// ChangePrice affects future orders only: stored order items keep the price
// they were bought at.
func (s *service) ChangePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	if price.IsNegative() {
		return ErrInvalidPrice
	}

	if err := s.repo.UpdatePrice(ctx, id, price); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return ErrProductNotFound
		}
		return fmt.Errorf("service: failed to change price: %w", err)
	}
	s.invalidate(ctx, id)

	log.Info().Stringer("product_id", id).Str("price", price.String()).Msg("service: product price changed")
	return nil
}

func (s *service) ReceiveStock(ctx context.Context, id uuid.UUID, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}

	newQuantity, err := s.repo.AddStock(ctx, id, quantity)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("service: failed to receive stock: %w", err)
	}
	s.invalidate(ctx, id)

	log.Info().Stringer("product_id", id).Int("received", quantity).Int("stock_quantity", newQuantity).Msg("service: stock received")
	return newQuantity, nil
}

func (s *service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return ErrProductNotFound
		}
		return fmt.Errorf("service: failed to deactivate product: %w", err)
	}
	s.invalidate(ctx, id)

	log.Info().Stringer("product_id", id).Msg("service: product deactivated")
	return nil
}

func (s *service) LowStock(ctx context.Context, threshold int) ([]Product, error) {
	if threshold <= 0 {
		threshold = s.settings.LowStockThreshold
	}

	products, err := s.repo.ListLowStock(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list low stock products: %w", err)
	}
	return products, nil
}

// AlertLowStock sends one low-stock notification listing every product at
// or below threshold. Nothing is sent when no product qualifies.
func (s *service) AlertLowStock(ctx context.Context, threshold int) ([]Product, error) {
	if threshold <= 0 {
		threshold = s.settings.LowStockThreshold
	}

	products, err := s.LowStock(ctx, threshold)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return products, nil
	}

	event := notify.LowStockEvent{
		Recipient: s.settings.AdminRecipient,
		Threshold: threshold,
		Products:  make([]notify.LowStockProduct, 0, len(products)),
	}
	for _, p := range products {
		event.Products = append(event.Products, notify.LowStockProduct{
			ProductID:     p.ID,
			Name:          p.Name,
			StockQuantity: p.StockQuantity,
		})
	}
	notify.Send(ctx, s.dispatcher, notify.KindLowStock, event)

	return products, nil
}

func (s *service) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.cache.Delete(ctx, id); err != nil {
		log.Warn().Err(err).Stringer("product_id", id).Msg("service: product cache invalidation failed")
	}
}
