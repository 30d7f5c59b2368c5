package approvers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/travilink/travilink/internal/platform/httpx"
)

// CandidateResolver is implemented by Resolver.
type CandidateResolver interface {
	Resolve(ctx context.Context, q Query) (Candidates, error)
}

// Handler serves the approver lookup endpoint.
type Handler struct {
	logger   *slog.Logger
	resolver CandidateResolver
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, resolver CandidateResolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolver: resolver}
}

// MountRoutes registers approver routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
}

type listResponse struct {
	Role        Role       `json:"role"`
	Candidates  Candidates `json:"candidates"`
	Placeholder string     `json:"placeholder,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	role, err := ParseRole(q.Get("role"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role must be one of head, parent_head, admin, comptroller, hr, vp, president")
		return
	}
	query := Query{Role: role, Parent: q.Get("parent") == "true" || q.Get("role") == "parent_head"}
	if raw := q.Get("departmentId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "departmentId must be a positive integer")
			return
		}
		query.DepartmentID = &id
	} else if role == RoleHead {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "departmentId is required for head lookups")
		return
	}
	cands, err := h.resolver.Resolve(r.Context(), query)
	if err != nil {
		if errors.Is(err, ErrUnknownRole) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown role")
			return
		}
		h.logger.Error("resolve approvers", slog.String("role", string(role)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if cands == nil {
		cands = Candidates{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Role: role, Candidates: cands, Placeholder: cands.Placeholder()})
}
