package requests

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/travilink/travilink/internal/notify"
	"github.com/travilink/travilink/internal/platform/httpx"
	"github.com/travilink/travilink/internal/shared"
)

const (
	nudgeRateLimit  = 5
	nudgeRateWindow = time.Hour
)

// Handler exposes request lifecycle endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers request routes under /requests.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/transition", h.transition)
	r.Get("/{id}/history", h.history)
	r.Get("/{id}/next-approvers", h.nextApprovers)
	r.Group(func(gr chi.Router) {
		gr.Use(httprate.Limit(nudgeRateLimit, nudgeRateWindow,
			httprate.WithKeyFuncs(actorKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "nudge limit reached, try again later")
			}),
		))
		gr.Post("/{id}/nudge", h.nudge)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, ok := resolveActor(w, r, in.RequesterID)
	if !ok {
		return
	}
	in.RequesterID = actorID
	req, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

type actorBody struct {
	ActorID int64 `json:"actorId"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body actorBody
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
	result, err := h.service.Submit(r.Context(), id, actorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in TransitionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.Action = Action(strings.ToLower(strings.TrimSpace(string(in.Action))))
	if _, err := ParseAction(string(in.Action)); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "action must be approve, reject or cancel")
		return
	}
	actorID, ok := resolveActor(w, r, in.ActorID)
	if !ok {
		return
	}
	in.ActorID = actorID
	in.RequestID = id
	result, err := h.service.Transition(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.History(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": logs})
}

func (h *Handler) nextApprovers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	next, err := h.service.NextApprovers(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, next)
}

func (h *Handler) nudge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body actorBody
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
	sent, err := h.service.Nudge(r.Context(), id, actorID)
	if err != nil {
		if errors.Is(err, notify.ErrNudgeTooSoon) {
			var tooSoon *notify.TooSoonError
			if errors.As(err, &tooSoon) && tooSoon.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(tooSoon.RetryAfter.Seconds()))))
			}
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "this request was nudged recently")
			return
		}
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"requestId": id, "notified": sent})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "request not found")
		return
	}
	var se httpx.StatusError
	if !errors.As(err, &se) {
		h.logger.Error("request operation failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// resolveActor prefers the authenticated actor and rejects a mismatching body value.
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

func actorKey(r *http.Request) (string, error) {
	if id, ok := shared.ActorFromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(id, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return 0, false
	}
	return id, true
}
