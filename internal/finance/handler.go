package finance

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the finance module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the finance handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers finance routes. The summary endpoint fans out ten
// queries per cache miss, so it gets the same rate limit treatment the
// export endpoints would.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/entries", h.handleRecordEntry)
	r.Get("/entries", h.handleListEntries)
	r.Group(func(gr chi.Router) {
		gr.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		gr.Get("/summary", h.handleSummary)
	})
}

type entryRequest struct {
	Source         string `json:"source" validate:"required,oneof=sale expense manual supplier"`
	Type           string `json:"type" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	RefundedDebtID string `json:"refunded_debt_id"`
	Label          string `json:"label"`
}

func (h *Handler) handleRecordEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal number")
		return
	}
	entry, err := h.service.RecordEntry(r.Context(), EntryInput{
		Source:         req.Source,
		Type:           req.Type,
		Amount:         amount,
		RefundedDebtID: req.RefundedDebtID,
		Label:          req.Label,
		ActorID:        r.Header.Get("X-Actor-ID"),
	})
	if err != nil {
		h.respondError(w, "record entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{
		"id":          entry.ID,
		"recorded_at": entry.RecordedAt.Format(time.RFC3339),
	})
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	window, err := parseRange(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entries, err := h.service.ListEntries(r.Context(), window)
	if err != nil {
		h.respondError(w, "list entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	window, err := parseRange(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	summary, err := h.service.Summary(r.Context(), window)
	if err != nil {
		h.respondError(w, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrUnknownSource), errors.Is(err, ErrAmountRequired), errors.Is(err, ErrDebtReferenceRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(action+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseRange(r *http.Request) (Range, error) {
	var window Range
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Range{}, errors.New("from must be YYYY-MM-DD")
		}
		window.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Range{}, errors.New("to must be YYYY-MM-DD")
		}
		// End of day
		window.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	return window, nil
}
