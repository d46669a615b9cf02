package alerts

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/galenica/galenica/internal/platform/httpx"
	"github.com/galenica/galenica/internal/shared"
)

// Handler wires HTTP endpoints for the alerts module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs alerts handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers alert routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/alerts", h.listAlerts)
	r.Get("/alerts/unread-count", h.unreadCount)
	r.Post("/alerts/{id}/read", h.markRead)
	r.Post("/alerts/refresh", h.refresh)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unreadOnly := q.Get("unread") == "true"
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	result, err := h.service.List(r.Context(), unreadOnly, shared.Page{Limit: limit, Offset: offset})
	if err != nil {
		h.logger.Error("list alerts failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.UnreadCount(r.Context())
	if err != nil {
		h.logger.Error("unread count failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"unread": count})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid alert id")
		return
	}
	if err := h.service.MarkRead(r.Context(), id); err != nil {
		if errors.Is(err, ErrAlertNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("mark read failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refresh re-evaluates one product (?product_id=N) or every active product.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var raised int
	var err error
	if v := r.URL.Query().Get("product_id"); v != "" {
		productID, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil || productID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
			return
		}
		raised, err = h.service.RefreshProduct(r.Context(), productID)
	} else {
		raised, err = h.service.RefreshAll(r.Context())
	}
	if err != nil {
		h.logger.Error("alert refresh failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"raised": raised})
}
