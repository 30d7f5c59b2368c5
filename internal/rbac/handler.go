package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/travilink/travilink/internal/platform/httpx"
	"github.com/travilink/travilink/internal/shared"
)

// Handler reports the current actor's capabilities.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers GET / for the acting person.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.current)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "an acting person is required")
		return
	}
	caps, err := h.service.EffectiveCapabilities(r.Context(), actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "actor not found")
			return
		}
		h.logger.Error("list capabilities", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"actorId": actorID, "capabilities": caps})
}
