package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-orders/internal/config"
	"github.com/vasiliy-maslov/storefront-orders/internal/inventory"
	"github.com/vasiliy-maslov/storefront-orders/internal/notify"
	"github.com/vasiliy-maslov/storefront-orders/internal/payment"
)

// Terminal statuses have no outgoing transitions. Any other status may move
// to any status.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusShipping:   true,
		StatusDelivered:  true,
		StatusCanceled:   true,
	},
	StatusProcessing: {
		StatusPending:   true,
		StatusShipping:  true,
		StatusDelivered: true,
		StatusCanceled:  true,
	},
	StatusShipping: {
		StatusPending:    true,
		StatusProcessing: true,
		StatusDelivered:  true,
		StatusCanceled:   true,
	},
	StatusDelivered: {},
	StatusCanceled:  {},
}

type PlaceOrderInput struct {
	UserID          uuid.UUID
	Lines           []inventory.CartLine
	ShippingAddress ShippingAddress
	PaymentMethod   payment.Method
}

type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus Status) (*Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID) (*Order, error)
	ReconcileStock(ctx context.Context, orderID uuid.UUID) (*Order, error)
	ListAwaitingStock(ctx context.Context) ([]Order, error)
}

type Options struct {
	Store          config.StoreSettings
	AdminRecipient string
}

type service struct {
	orderRepo      Repository
	ledger         inventory.Ledger
	verifier       *inventory.Verifier
	payments       payment.Authorizer
	dispatcher     notify.Dispatcher
	pricing        Pricing
	currency       string
	adminRecipient string
}

func NewService(orderRepo Repository, ledger inventory.Ledger, payments payment.Authorizer, dispatcher notify.Dispatcher, opts Options) Service {
	return &service{
		orderRepo:      orderRepo,
		ledger:         ledger,
		verifier:       inventory.NewVerifier(ledger),
		payments:       payments,
		dispatcher:     dispatcher,
		pricing:        NewPricing(opts.Store),
		currency:       opts.Store.Currency,
		adminRecipient: opts.AdminRecipient,
	}
}

func validatePlaceOrder(input PlaceOrderInput) ([]inventory.CartLine, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if len(input.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	if !input.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrInvalidInput, input.PaymentMethod)
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	lines, err := inventory.MergeLines(input.Lines)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return lines, nil
}

// PlaceOrder runs checkout: re-verify stock, price the cart from current
// product prices, authorize payment, persist the order as awaiting stock,
// decrement the ledger and notify. An order is only placed once the ledger
// confirmed the decrement.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*Order, error) {
	lines, err := validatePlaceOrder(input)
	if err != nil {
		log.Warn().Err(err).Stringer("user_id", input.UserID).Msg("service: rejected order input")
		return nil, err
	}

	check, err := s.verifier.CheckStock(ctx, lines)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", input.UserID).Msg("service: failed to verify stock")
		return nil, fmt.Errorf("service: failed to verify stock: %w", err)
	}
	if !check.AllInStock {
		stockErr := &StockUnavailableError{Lines: shortfallsFromCheck(check.Shortfalls())}
		log.Info().Err(stockErr).Stringer("user_id", input.UserID).Msg("service: order refused, stock unavailable")
		return nil, stockErr
	}

	items := make([]OrderItem, 0, len(check.Items))
	for _, line := range check.Items {
		items = append(items, OrderItem{
			ProductID:       line.ProductID,
			Quantity:        line.Requested,
			PriceAtPurchase: line.UnitPrice,
		})
	}
	quote := s.pricing.Quote(items)

	authorization, err := s.payments.Authorize(ctx, payment.Request{
		UserID:   input.UserID,
		Method:   input.PaymentMethod,
		Amount:   quote.Total,
		Currency: s.currency,
	})
	if err != nil {
		log.Warn().Err(err).Stringer("user_id", input.UserID).Str("amount", quote.Total.String()).Msg("service: payment authorization failed")
		return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	order := &Order{
		UserID:          input.UserID,
		Status:          StatusPending,
		StockStatus:     StockAwaiting,
		PaymentMethod:   input.PaymentMethod,
		PaymentStatus:   authorization.Status,
		PaymentIntentID: authorization.IntentID,
		Subtotal:        quote.Subtotal,
		ShippingCost:    quote.Shipping,
		TaxAmount:       quote.Tax,
		TotalAmount:     quote.Total,
		ShippingAddress: input.ShippingAddress,
		Items:           items,
	}

	if _, err := s.orderRepo.CreateOrder(ctx, order); err != nil {
		log.Error().Err(err).Stringer("user_id", input.UserID).Str("payment_intent_id", authorization.IntentID).Msg("service: failed to persist order")
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	if err := s.ledger.DecrementForOrder(ctx, order.ID, order.Lines()); err != nil {
		return nil, s.decrementFailed(ctx, order, check, err)
	}

	if err := s.orderRepo.UpdateStockStatus(ctx, order.ID, StockAwaiting, StockReserved); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			log.Warn().Err(err).Stringer("order_id", order.ID).Msg("service: order changed during checkout, not placed")
			return nil, fmt.Errorf("%w: order %s changed during checkout", ErrStatusConflict, order.ID)
		}
		// The stock is held. ReconcileStock finishes the order later.
		log.Error().Err(err).Stringer("order_id", order.ID).Msg("service: stock decremented but order still awaiting, reconciliation required")
		return order, nil
	}
	order.StockStatus = StockReserved

	log.Info().Stringer("order_id", order.ID).Stringer("user_id", order.UserID).Str("total", order.TotalAmount.String()).Msg("service: order placed")

	s.notifyPlaced(ctx, order)
	return order, nil
}

func (s *service) decrementFailed(ctx context.Context, order *Order, check *inventory.StockCheckResult, err error) error {
	if errors.Is(err, inventory.ErrOrderReleased) {
		log.Warn().Err(err).Stringer("order_id", order.ID).Msg("service: order released before its decrement, not placed")
		return &LedgerDecrementError{OrderID: order.ID, Err: fmt.Errorf("%w: %w", ErrStatusConflict, err)}
	}

	var insufficient *inventory.InsufficientStockError
	if !errors.As(err, &insufficient) {
		log.Error().Err(err).Stringer("order_id", order.ID).Msg("service: ledger decrement not confirmed, order left awaiting stock")
		return &LedgerDecrementError{OrderID: order.ID, Err: err}
	}

	if markErr := s.orderRepo.UpdateStockStatus(ctx, order.ID, StockAwaiting, StockFailed); markErr != nil {
		log.Error().Err(markErr).Stringer("order_id", order.ID).Msg("service: failed to mark order stock as failed")
	}
	order.StockStatus = StockFailed

	name := inventory.UnknownProductName
	if check != nil {
		for _, item := range check.Items {
			if item.ProductID == insufficient.ProductID {
				name = item.Name
				break
			}
		}
	}

	log.Warn().Err(err).Stringer("order_id", order.ID).Msg("service: ledger refused decrement, order not placed")
	return &LedgerDecrementError{
		OrderID: order.ID,
		Lines: []StockShortfall{{
			ProductID: insufficient.ProductID,
			Name:      name,
			Requested: insufficient.Requested,
			Available: insufficient.Available,
		}},
		Err: err,
	}
}

func shortfallsFromCheck(lines []inventory.LineCheck) []StockShortfall {
	out := make([]StockShortfall, 0, len(lines))
	for _, l := range lines {
		out = append(out, StockShortfall{
			ProductID: l.ProductID,
			Name:      l.Name,
			Requested: l.Requested,
			Available: l.Available,
		})
	}
	return out
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}

		log.Error().Err(err).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	return order, nil
}

func (s *service) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.orderRepo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders in repository")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}

	return orders, nil
}

func (s *service) ListAwaitingStock(ctx context.Context) ([]Order, error) {
	orders, err := s.orderRepo.ListByStockStatus(ctx, StockAwaiting)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders awaiting stock")
		return nil, fmt.Errorf("service: failed to list orders awaiting stock: %w", err)
	}
	return orders, nil
}

// UpdateOrderStatus applies an admin status change. Setting the current
// status again is a no-op. Canceling an order that holds stock returns the
// stock to the ledger exactly once.
func (s *service) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus Status) (*Order, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	order, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == newStatus {
		log.Info().Stringer("order_id", orderID).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
		return order, nil
	}

	if !allowedTransitions[order.Status][newStatus] {
		log.Warn().Stringer("order_id", orderID).Stringer("current_status", order.Status).Stringer("new_status", newStatus).Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, order.Status, newStatus)
	}

	if newStatus != StatusCanceled && order.StockStatus != StockReserved {
		return nil, fmt.Errorf("%w: order %s stock is %s", ErrStockNotReserved, orderID, order.StockStatus)
	}

	oldStatus := order.Status
	if err := s.orderRepo.UpdateOrderStatus(ctx, orderID, oldStatus, newStatus); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", newStatus).Msg("service: failed to update order status in repository")
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrStatusConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}
	order.Status = newStatus
	order.UpdatedAt = time.Now().UTC()

	log.Info().Stringer("order_id", orderID).Stringer("old_status", oldStatus).Stringer("new_status", newStatus).Msg("service: order status updated successfully")

	var restockErr error
	if newStatus == StatusCanceled {
		restockErr = s.releaseStock(ctx, order)
	}

	s.notifyStatusChanged(ctx, order, oldStatus)

	if restockErr != nil {
		return order, restockErr
	}
	return order, nil
}

// releaseStock returns the stock of a canceled order. For an awaiting order
// the ledger records the release without touching stock, which also blocks
// a checkout decrement still in flight for it.
func (s *service) releaseStock(ctx context.Context, order *Order) error {
	if order.StockStatus != StockReserved && order.StockStatus != StockAwaiting {
		return nil
	}

	if err := s.ledger.RestockForOrder(ctx, order.ID, order.Lines()); err != nil {
		log.Error().Err(err).Stringer("order_id", order.ID).Msg("service: failed to restock canceled order")
		return fmt.Errorf("%w: order %s: %w", ErrLedgerRestockFailed, order.ID, err)
	}

	from := order.StockStatus
	err := s.orderRepo.UpdateStockStatus(ctx, order.ID, from, StockReleased)
	if errors.Is(err, ErrStatusConflict) {
		// checkout moved the order to reserved after we read it
		current, getErr := s.orderRepo.GetOrderByID(ctx, order.ID)
		if getErr != nil {
			err = getErr
		} else if current.StockStatus == StockReleased {
			err = nil
		} else if current.StockStatus == StockReserved || current.StockStatus == StockAwaiting {
			from = current.StockStatus
			err = s.orderRepo.UpdateStockStatus(ctx, order.ID, from, StockReleased)
		}
	}
	if err != nil {
		log.Error().Err(err).Stringer("order_id", order.ID).Msg("service: stock restocked but order not marked released")
		return nil
	}
	order.StockStatus = StockReleased
	log.Info().Stringer("order_id", order.ID).Msg("service: stock released for canceled order")
	return nil
}

// MarkPaid records settlement of a deferred payment.
func (s *service) MarkPaid(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == payment.StatusPaid {
		return order, nil
	}
	if order.Status == StatusCanceled || order.StockStatus != StockReserved {
		return nil, fmt.Errorf("%w: order %s cannot be marked paid", ErrInvalidStatusTransition, orderID)
	}

	if err := s.orderRepo.UpdatePaymentStatus(ctx, orderID, payment.StatusPaid); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to mark order paid")
		if errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to mark order paid: %w", err)
	}
	order.PaymentStatus = payment.StatusPaid
	order.UpdatedAt = time.Now().UTC()

	log.Info().Stringer("order_id", orderID).Msg("service: order marked paid")
	return order, nil
}

// ReconcileStock brings an order whose ledger outcome was never recorded to
// a consistent state. Both ledger operations are idempotent per order, so
// retrying is safe.
func (s *service) ReconcileStock(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch {
	case order.Status == StatusCanceled:
		if err := s.releaseStock(ctx, order); err != nil {
			return nil, err
		}
		return order, nil

	case order.StockStatus == StockAwaiting:
		if err := s.ledger.DecrementForOrder(ctx, order.ID, order.Lines()); err != nil {
			return nil, s.decrementFailed(ctx, order, s.namesFor(ctx, order), err)
		}
		if err := s.orderRepo.UpdateStockStatus(ctx, order.ID, StockAwaiting, StockReserved); err != nil {
			log.Error().Err(err).Stringer("order_id", order.ID).Msg("service: failed to mark reconciled order reserved")
			return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
		}
		order.StockStatus = StockReserved

		log.Info().Stringer("order_id", order.ID).Msg("service: order stock reconciled")
		s.notifyPlaced(ctx, order)
		return order, nil
	}

	log.Info().Stringer("order_id", order.ID).Stringer("stock_status", order.StockStatus).Msg("service: nothing to reconcile")
	return order, nil
}

// namesFor looks up product names for error reporting. A failed lookup only
// costs the names.
func (s *service) namesFor(ctx context.Context, order *Order) *inventory.StockCheckResult {
	check, err := s.verifier.CheckStock(ctx, order.Lines())
	if err != nil {
		return nil
	}
	return check
}

func (s *service) orderEvent(order *Order) notify.OrderEvent {
	itemCount := 0
	for _, item := range order.Items {
		itemCount += item.Quantity
	}
	return notify.OrderEvent{
		OrderID:       order.ID,
		OrderNumber:   order.Number(),
		UserID:        order.UserID,
		Recipient:     order.UserID.String(),
		Status:        order.Status.String(),
		PaymentMethod: order.PaymentMethod.String(),
		PaymentStatus: order.PaymentStatus.String(),
		TotalAmount:   order.TotalAmount,
		ItemCount:     itemCount,
	}
}

func (s *service) notifyPlaced(ctx context.Context, order *Order) {
	event := s.orderEvent(order)
	notify.Send(ctx, s.dispatcher, notify.KindOrderConfirmation, event)

	admin := event
	admin.Recipient = s.adminRecipient
	notify.Send(ctx, s.dispatcher, notify.KindAdminNewOrder, admin)
}

func (s *service) notifyStatusChanged(ctx context.Context, order *Order, previous Status) {
	event := s.orderEvent(order)
	event.PreviousState = previous.String()
	notify.Send(ctx, s.dispatcher, notify.KindStatusUpdate, event)
}
