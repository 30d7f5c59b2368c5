package rolesync

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/travilink/travilink/internal/platform/httpx"
	"github.com/travilink/travilink/internal/shared"
)

// Handler exposes the synchronizer over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers write routes under /people.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{id}/role", h.applyRole)
	r.Delete("/{id}", h.deactivate)
}

type roleChangeRequest struct {
	ActorID int64 `json:"actorId"`
	Change
}

type deactivateRequest struct {
	ActorID int64  `json:"actorId"`
	Reason  string `json:"reason"`
}

func (h *Handler) applyRole(w http.ResponseWriter, r *http.Request) {
	personID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body roleChangeRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, ok := resolveActor(w, r, body.ActorID)
	if !ok {
		return
	}
	result, err := h.service.ApplyRoleChange(r.Context(), personID, body.Change, actorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	personID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body deactivateRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	actorID, ok := resolveActor(w, r, body.ActorID)
	if !ok {
		return
	}
	result, err := h.service.Deactivate(r.Context(), personID, actorID, body.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var se httpx.StatusError
	if !errors.As(err, &se) {
		h.logger.Error("role sync failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func resolveActor(w http.ResponseWriter, r *http.Request, bodyActor int64) (int64, bool) {
	ctxActor, ok := shared.ActorFromContext(r.Context())
	switch {
	case ok && bodyActor != 0 && bodyActor != ctxActor:
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "actorId does not match the authenticated actor")
		return 0, false
	case ok:
		return ctxActor, true
	case bodyActor > 0:
		return bodyActor, true
	}
	httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "actorId is required")
	return 0, false
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return 0, false
	}
	return id, true
}
