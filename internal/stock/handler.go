package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/costing"
	"github.com/comptoir-erp/comptoir/internal/platform/httpx"
	"github.com/comptoir-erp/comptoir/internal/shared"
)

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.handleRestock)
	r.Post("/consume", h.handleConsume)
	r.Post("/batches/{batchID}/mark", h.handleMark)
	r.Get("/products/{productID}/batches", h.handleListBatches)
	r.Get("/products/{productID}/movements", h.handleListMovements)
	r.Get("/products/{productID}/value", h.handleValue)
}

type restockRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,gte=1"`
	CostPrice string `json:"cost_price" validate:"required"`
	Note      string `json:"note"`
}

type batchResponse struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Quantity   int64  `json:"quantity"`
	Remaining  int64  `json:"remaining"`
	CostPrice  string `json:"cost_price"`
	AcquiredAt string `json:"acquired_at"`
	Status     string `json:"status"`
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	price, err := decimal.NewFromString(req.CostPrice)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cost_price must be a decimal number")
		return
	}
	batch, err := h.service.Restock(r.Context(), RestockInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		CostPrice: price,
		Note:      req.Note,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.respondError(w, "restock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBatchResponse(batch))
}

type consumeRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,gte=1"`
	Method    string `json:"method" validate:"required,oneof=FIFO LIFO CMUP"`
	RefModule string `json:"ref_module"`
	RefID     string `json:"ref_id"`
	Note      string `json:"note"`
}

type consumptionResponse struct {
	BatchID   string `json:"batch_id"`
	CostPrice string `json:"cost_price"`
	Quantity  int64  `json:"quantity"`
	Remaining int64  `json:"remaining"`
}

type consumeResponse struct {
	MovementID     string                `json:"movement_id"`
	Consumed       []consumptionResponse `json:"consumed"`
	TotalCost      string                `json:"total_cost"`
	AverageCost    string                `json:"average_cost"`
	PrimaryBatchID string                `json:"primary_batch_id"`
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Consume(r.Context(), ConsumeInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Method:    costing.Method(req.Method),
		RefModule: req.RefModule,
		RefID:     req.RefID,
		Note:      req.Note,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.respondError(w, "consume", err)
		return
	}
	resp := consumeResponse{
		MovementID:     result.MovementID,
		TotalCost:      result.Allocation.TotalCost.String(),
		AverageCost:    result.Allocation.AverageCost.String(),
		PrimaryBatchID: result.Allocation.PrimaryBatchID,
	}
	for _, c := range result.Allocation.Consumed {
		resp.Consumed = append(resp.Consumed, consumptionResponse{
			BatchID:   c.BatchID,
			CostPrice: c.CostPrice.String(),
			Quantity:  c.Quantity,
			Remaining: c.Remaining,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type markRequest struct {
	Status string `json:"status" validate:"required,oneof=corrected deleted"`
}

func (h *Handler) handleMark(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batchID := chi.URLParam(r, "batchID")
	if err := h.service.MarkBatch(r.Context(), batchID, costing.BatchStatus(req.Status), actorID(r)); err != nil {
		h.respondError(w, "mark batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"id": batchID, "status": req.Status})
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ListBatches(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.respondError(w, "list batches", err)
		return
	}
	resp := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		resp = append(resp, toBatchResponse(b))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	movements, err := h.service.ListMovements(r.Context(), chi.URLParam(r, "productID"), limit)
	if err != nil {
		h.respondError(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleValue(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	value, err := h.service.Value(r.Context(), productID)
	if err != nil {
		h.respondError(w, "stock value", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"product_id": productID, "value": value})
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	var insufficient *costing.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.JSON(w, http.StatusConflict, map[string]any{
			"title":     "Insufficient Stock",
			"status":    http.StatusConflict,
			"detail":    insufficient.Error(),
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.Is(err, costing.ErrNoStock):
		httpx.Problem(w, http.StatusConflict, "No Stock Available", err.Error())
	case errors.Is(err, costing.ErrInvalidQuantity), errors.Is(err, costing.ErrInvalidMethod),
		errors.Is(err, ErrProductRequired), errors.Is(err, ErrInvalidStatus):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	default:
		h.logger.Error(action+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toBatchResponse(b Batch) batchResponse {
	return batchResponse{
		ID:         b.ID,
		ProductID:  b.ProductID,
		Quantity:   b.Quantity,
		Remaining:  b.Remaining,
		CostPrice:  b.CostPrice.String(),
		AcquiredAt: b.AcquiredAt.Format("2006-01-02T15:04:05Z07:00"),
		Status:     string(b.Status),
	}
}

// actorID pulls the acting user from the request when the fronting proxy
// injects it. Authentication itself happens upstream.
func actorID(r *http.Request) string {
	return r.Header.Get("X-Actor-ID")
}
