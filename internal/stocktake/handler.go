package stocktake

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/platform/httpx"
	"github.com/galenica/galenica/internal/shared"
)

// Handler wires HTTP endpoints for stocktakes.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs stocktake handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stocktake routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stocktakes", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{sessionID}", h.handleGet)
		r.Put("/{sessionID}/items", h.handleCount)
		r.Post("/{sessionID}/approve", h.handleApprove)
		r.Post("/{sessionID}/cancel", h.handleCancel)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input CreateSessionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	session, err := h.service.CreateSession(r.Context(), input)
	if err != nil {
		h.respondDomainError(w, err, "create stocktake failed")
		return
	}
	httpx.JSON(w, http.StatusCreated, session)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.Page{}
	page.Limit, _ = strconv.Atoi(q.Get("limit"))
	page.Offset, _ = strconv.Atoi(q.Get("offset"))
	sessions, err := h.service.ListSessions(r.Context(), page)
	if err != nil {
		h.logger.Error("list stocktakes failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		h.respondDomainError(w, err, "get stocktake failed")
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var input CountInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	input.SessionID = sessionID
	input.ActorID = shared.ActorFromContext(r.Context())
	item, err := h.service.RecordCount(r.Context(), input)
	if err != nil {
		h.respondDomainError(w, err, "record count failed")
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	result, err := h.service.Approve(r.Context(), sessionID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondDomainError(w, err, "approve stocktake failed")
		return
	}
	status := http.StatusOK
	if len(result.Failures) > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), sessionID, shared.ActorFromContext(r.Context())); err != nil {
		h.respondDomainError(w, err, "cancel stocktake failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid session id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error, msg string) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, catalog.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSessionClosed):
		httpx.Problem(w, http.StatusConflict, "Session Closed", err.Error())
	default:
		h.logger.Error(msg, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
