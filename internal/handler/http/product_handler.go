package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/storefront-orders/internal/catalog"
)

type CreateProductRequest struct {
	Name          string          `json:"name" validate:"required,max=255"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity" validate:"min=0"`
	CategoryID    *uuid.UUID      `json:"category_id,omitempty"`
}

type ChangePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type ReceiveStockRequest struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

type StockLevelResponse struct {
	ProductID     uuid.UUID `json:"product_id"`
	StockQuantity int       `json:"stock_quantity"`
}

type ProductHandler struct {
	service  catalog.Service
	validate *validator.Validate
}

func NewProductHandler(service catalog.Service) *ProductHandler {
	return &ProductHandler{
		service:  service,
		validate: newValidator(),
	}
}

func (h *ProductHandler) RegisterRoutes(router chi.Router) {
	router.Get("/products/{id}", h.handleGetProduct)

	router.Route("/admin/products", func(r chi.Router) {
		r.Post("/", h.handleCreateProduct)
		r.Get("/low-stock", h.handleLowStock)
		r.Post("/low-stock/alert", h.handleAlertLowStock)
		r.Patch("/{id}/price", h.handleChangePrice)
		r.Post("/{id}/stock", h.handleReceiveStock)
		r.Delete("/{id}", h.handleDeactivate)
	})
}

func (h *ProductHandler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateProductRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	product := &catalog.Product{
		Name:          requestPayload.Name,
		Description:   requestPayload.Description,
		Price:         requestPayload.Price,
		StockQuantity: requestPayload.StockQuantity,
	}
	if requestPayload.CategoryID != nil {
		product.CategoryID = uuid.NullUUID{UUID: *requestPayload.CategoryID, Valid: true}
	}

	created, err := h.service.CreateProduct(r.Context(), product)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create product via service")
		respondWithServiceError(w, err, "Failed to create product")
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *ProductHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	product, err := h.service.GetProduct(r.Context(), productID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get product via service")
		respondWithServiceError(w, err, "Failed to get product")
		return
	}

	respondWithJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) handleChangePrice(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var requestPayload ChangePriceRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	if err := h.service.ChangePrice(r.Context(), productID, requestPayload.Price); err != nil {
		log.Error().Err(err).Stringer("product_id", productID).Msg("Failed to change price via service")
		respondWithServiceError(w, err, "Failed to change price")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandler) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var requestPayload ReceiveStockRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	quantity, err := h.service.ReceiveStock(r.Context(), productID, requestPayload.Quantity)
	if err != nil {
		log.Error().Err(err).Stringer("product_id", productID).Msg("Failed to receive stock via service")
		respondWithServiceError(w, err, "Failed to receive stock")
		return
	}

	respondWithJSON(w, http.StatusOK, StockLevelResponse{ProductID: productID, StockQuantity: quantity})
}

func (h *ProductHandler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Deactivate(r.Context(), productID); err != nil {
		log.Error().Err(err).Stringer("product_id", productID).Msg("Failed to deactivate product via service")
		respondWithServiceError(w, err, "Failed to deactivate product")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	threshold, err := queryInt(r, "threshold", 0)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	products, err := h.service.LowStock(r.Context(), threshold)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list low stock products via service")
		respondWithServiceError(w, err, "Failed to list low stock products")
		return
	}

	respondWithJSON(w, http.StatusOK, products)
}

func (h *ProductHandler) handleAlertLowStock(w http.ResponseWriter, r *http.Request) {
	threshold, err := queryInt(r, "threshold", 0)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	products, err := h.service.AlertLowStock(r.Context(), threshold)
	if err != nil {
		log.Error().Err(err).Msg("Failed to send low stock alert via service")
		respondWithServiceError(w, err, "Failed to send low stock alert")
		return
	}

	respondWithJSON(w, http.StatusOK, products)
}
