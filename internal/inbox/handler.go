package inbox

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/travilink/travilink/internal/platform/httpx"
	"github.com/travilink/travilink/internal/shared"
)

// Handler serves inbox queries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the inbox handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inbox routes under /inbox.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/count", h.count)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	role, actorID, ok := h.params(w, r)
	if !ok {
		return
	}
	items, err := h.service.List(r.Context(), role, actorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":    role,
		"actorId": actorID,
		"items":   items,
	})
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	role, actorID, ok := h.params(w, r)
	if !ok {
		return
	}
	n, err := h.service.Count(r.Context(), role, actorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":    role,
		"actorId": actorID,
		"count":   n,
	})
}

func (h *Handler) params(w http.ResponseWriter, r *http.Request) (Role, int64, bool) {
	role, err := ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role must be one of head, parent_head, admin, comptroller, hr, vp, president")
		return "", 0, false
	}
	var queryActor int64
	if raw := r.URL.Query().Get("actorId"); raw != "" {
		queryActor, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || queryActor <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "actorId must be a positive integer")
			return "", 0, false
		}
	}
	ctxActor, authenticated := shared.ActorFromContext(r.Context())
	switch {
	case authenticated && queryActor != 0 && queryActor != ctxActor:
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "inbox of another actor is not accessible")
		return "", 0, false
	case authenticated:
		return role, ctxActor, true
	case queryActor > 0:
		return role, queryActor, true
	}
	httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "actorId is required")
	return "", 0, false
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrUnknownRole) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown inbox role")
		return
	}
	h.logger.Error("inbox query failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}
