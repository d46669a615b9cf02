package sales

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/inventory"
	"github.com/galenica/galenica/internal/platform/httpx"
	"github.com/galenica/galenica/internal/shared"
)

// Handler wires HTTP endpoints for sales.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.handleProcessSale)
	r.Get("/sales/{saleID}", h.handleGetSale)
}

func (h *Handler) handleProcessSale(w http.ResponseWriter, r *http.Request) {
	var input SaleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	input.CashierID = shared.ActorFromContext(r.Context())

	sale, err := h.service.ProcessSale(r.Context(), input)
	if err != nil {
		h.respondSaleError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "saleID")
	sale, err := h.service.GetSale(r.Context(), id)
	if errors.Is(err, ErrSaleNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "sale not found")
		return
	}
	if err != nil {
		h.logger.Error("get sale failed", slog.String("sale_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

// saleProblem carries the disposition so clients can tell an aborted sale from
// one that was rolled back or left inconsistent.
type saleProblem struct {
	httpx.ProblemDetail
	Disposition Disposition `json:"disposition"`
}

func (h *Handler) respondSaleError(w http.ResponseWriter, err error) {
	var saleErr *SaleError
	if !errors.As(err, &saleErr) {
		h.logger.Error("process sale failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	var insufficient *inventory.InsufficientStockError
	status := http.StatusUnprocessableEntity
	title := "Sale Failed"
	switch {
	case saleErr.Disposition == DispositionNeedsReview:
		h.logger.Error("sale compensation incomplete", slog.Any("error", saleErr.Compensation))
		status = http.StatusInternalServerError
		title = "Sale Needs Review"
	case errors.As(saleErr.Err, &insufficient):
		status = http.StatusConflict
		title = "Insufficient Stock"
	case errors.Is(saleErr.Err, inventory.ErrExpiredStock):
		status = http.StatusConflict
		title = "Expired Stock"
	case errors.Is(saleErr.Err, ErrProductInactive):
		status = http.StatusConflict
		title = "Product Inactive"
	case errors.Is(saleErr.Err, catalog.ErrProductNotFound):
		status = http.StatusNotFound
		title = "Not Found"
	case errors.Is(saleErr.Err, shared.ErrIdempotencyConflict):
		status = http.StatusConflict
		title = "Duplicate Request"
	case saleErr.State == StatePlanning || saleErr.State == StateAllocating:
		status = http.StatusBadRequest
		title = "Validation Failed"
	}

	httpx.JSONProblem(w, status, saleProblem{
		ProblemDetail: httpx.ProblemDetail{
			Type:   "about:blank",
			Title:  title,
			Status: status,
			Detail: saleErr.Error(),
		},
		Disposition: saleErr.Disposition,
	})
}
