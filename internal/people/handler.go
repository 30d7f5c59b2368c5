package people

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/travilink/travilink/internal/platform/httpx"
	"github.com/travilink/travilink/internal/shared"
)

// Handler exposes read endpoints of the identity store.
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

// MountRoutes registers person routes under /people.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.getPerson)
	r.Get("/{id}/grants", h.listPersonGrants)
	r.Get("/{id}/audit", h.listAudit)
}

// MountGrantRoutes registers the ledger listing under /role-grants.
func (h *Handler) MountGrantRoutes(r chi.Router) {
	r.Get("/", h.listGrants)
}

func (h *Handler) getPerson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	profile, err := h.service.Profile(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) listPersonGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	grants, err := h.service.Grants(r.Context(), GrantFilter{PersonID: &id, OpenOnly: r.URL.Query().Get("open") == "true"})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": nonNil(grants)})
}

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := GrantFilter{Role: GrantRole(q.Get("role")), OpenOnly: q.Get("open") == "true"}
	if raw := q.Get("personId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "personId must be a positive integer")
			return
		}
		f.PersonID = &id
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	grants, err := h.service.Grants(r.Context(), f)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": nonNil(grants)})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.service.AuditTrail(r.Context(), id, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if logs == nil {
		logs = []shared.AuditLog{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": logs})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "person not found")
		return
	}
	h.logger.Error("people request failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func nonNil(grants []RoleGrant) []RoleGrant {
	if grants == nil {
		return []RoleGrant{}
	}
	return grants
}
