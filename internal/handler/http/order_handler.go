package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-orders/internal/inventory"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
	"github.com/vasiliy-maslov/storefront-orders/internal/payment"
)

type StockChecker interface {
	CheckStock(ctx context.Context, lines []inventory.CartLine) (*inventory.StockCheckResult, error)
}

type CartLineRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

type StockCheckRequest struct {
	Items []CartLineRequest `json:"items" validate:"required,min=1,dive"`
}

type ShippingAddressRequest struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

type PlaceOrderRequest struct {
	Items           []CartLineRequest      `json:"items" validate:"required,min=1,dive"`
	ShippingAddress ShippingAddressRequest `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method" validate:"required,payment_method"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipping delivered canceled"`
}

type OrderResponse struct {
	order.Order
	OrderNumber string `json:"order_number"`
	Warning     string `json:"warning,omitempty"`
}

func newOrderResponse(o *order.Order) OrderResponse {
	return OrderResponse{Order: *o, OrderNumber: o.Number()}
}

func newOrderResponses(orders []order.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}
	return out
}

type OrderPageResponse struct {
	Orders     []OrderResponse `json:"orders"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
}

func toCartLines(items []CartLineRequest) []inventory.CartLine {
	lines := make([]inventory.CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, inventory.CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

type OrderHandler struct {
	service  order.Service
	reporter order.Reporter
	stock    StockChecker
	validate *validator.Validate
	now      func() time.Time
}

func NewOrderHandler(service order.Service, reporter order.Reporter, stock StockChecker) *OrderHandler {
	return &OrderHandler{
		service:  service,
		reporter: reporter,
		stock:    stock,
		validate: newValidator(),
		now:      time.Now,
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/stock/check", h.handleCheckStock)
	router.Post("/orders", h.handlePlaceOrder)
	router.Get("/orders/{id}", h.handleGetOrderByID)
	router.Get("/users/{userID}/orders", h.handleGetUserOrders)

	router.Route("/admin/orders", func(r chi.Router) {
		r.Get("/", h.handleListOrders)
		r.Get("/stats", h.handleStats)
		r.Get("/awaiting-stock", h.handleListAwaitingStock)
		r.Patch("/{id}/status", h.handleUpdateStatus)
		r.Post("/{id}/pay", h.handleMarkPaid)
		r.Post("/{id}/reconcile", h.handleReconcile)
	})
}

func (h *OrderHandler) handleCheckStock(w http.ResponseWriter, r *http.Request) {
	var requestPayload StockCheckRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	result, err := h.stock.CheckStock(r.Context(), toCartLines(requestPayload.Items))
	if err != nil {
		log.Error().Err(err).Msg("Failed to check stock")
		respondWithServiceError(w, err, "Failed to check stock")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *OrderHandler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserHeader(w, r)
	if !ok {
		return
	}

	var requestPayload PlaceOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	placed, err := h.service.PlaceOrder(r.Context(), order.PlaceOrderInput{
		UserID: userID,
		Lines:  toCartLines(requestPayload.Items),
		ShippingAddress: order.ShippingAddress{
			Street:     requestPayload.ShippingAddress.Street,
			City:       requestPayload.ShippingAddress.City,
			State:      requestPayload.ShippingAddress.State,
			PostalCode: requestPayload.ShippingAddress.PostalCode,
			Country:    requestPayload.ShippingAddress.Country,
		},
		PaymentMethod: payment.Method(requestPayload.PaymentMethod),
	})
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to place order via service")
		respondWithServiceError(w, err, "Failed to place order")
		return
	}

	respondWithJSON(w, http.StatusCreated, newOrderResponse(placed))
}

// handleGetOrderByID hides other users' orders when the caller identifies
// itself with X-User-ID.
func (h *OrderHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	found, err := h.service.GetOrderByID(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get order by id via service")
		respondWithServiceError(w, err, "Failed to get order by id")
		return
	}

	if header := r.Header.Get(userIDHeader); header != "" {
		if userID, err := uuid.FromString(header); err != nil || userID != found.UserID {
			respondWithError(w, http.StatusNotFound, order.ErrOrderNotFound.Error())
			return
		}
	}

	respondWithJSON(w, http.StatusOK, newOrderResponse(found))
}

func (h *OrderHandler) handleGetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, r, "userID")
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByUserID(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get user orders via service")
		respondWithServiceError(w, err, "Failed to get user orders")
		return
	}

	respondWithJSON(w, http.StatusOK, newOrderResponses(orders))
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", order.DefaultPageLimit)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := order.ListFilter{
		Status:      order.Status(r.URL.Query().Get("status")),
		StockStatus: order.StockStatus(r.URL.Query().Get("stock_status")),
		Page:        page,
		Limit:       limit,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondWithError(w, http.StatusBadRequest, order.ErrInvalidStatus.Error())
		return
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := uuid.FromString(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid user_id query parameter")
			return
		}
		filter.UserID = userID
	}

	result, err := h.reporter.ListOrders(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders")
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, OrderPageResponse{
		Orders:     newOrderResponses(result.Orders),
		Page:       result.Page,
		Limit:      result.Limit,
		Total:      result.Total,
		TotalPages: result.TotalPages,
	})
}

func (h *OrderHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reporter.Stats(r.Context(), h.now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute order stats")
		respondWithServiceError(w, err, "Failed to compute order stats")
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

func (h *OrderHandler) handleListAwaitingStock(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListAwaitingStock(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders awaiting stock")
		respondWithServiceError(w, err, "Failed to list orders awaiting stock")
		return
	}

	respondWithJSON(w, http.StatusOK, newOrderResponses(orders))
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var requestPayload UpdateStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	updated, err := h.service.UpdateOrderStatus(r.Context(), orderID, order.Status(requestPayload.Status))
	if err != nil && updated != nil && errors.Is(err, order.ErrLedgerRestockFailed) {
		// canceled, stock still held until reconciliation
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("Order canceled but stock not yet restored")
		response := newOrderResponse(updated)
		response.Warning = "Order canceled; stock will be restored by reconciliation"
		respondWithJSON(w, http.StatusAccepted, response)
		return
	}
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to update order status via service")
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, newOrderResponse(updated))
}

func (h *OrderHandler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	updated, err := h.service.MarkPaid(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to mark order paid via service")
		respondWithServiceError(w, err, "Failed to mark order paid")
		return
	}

	respondWithJSON(w, http.StatusOK, newOrderResponse(updated))
}

func (h *OrderHandler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	reconciled, err := h.service.ReconcileStock(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to reconcile order stock via service")
		respondWithServiceError(w, err, "Failed to reconcile order stock")
		return
	}

	respondWithJSON(w, http.StatusOK, newOrderResponse(reconciled))
}
