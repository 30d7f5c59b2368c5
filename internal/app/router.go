package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/travilink/travilink/internal/approvers"
	"github.com/travilink/travilink/internal/inbox"
	"github.com/travilink/travilink/internal/observability"
	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/platform/httpx"
	"github.com/travilink/travilink/internal/rbac"
	"github.com/travilink/travilink/internal/requests"
	"github.com/travilink/travilink/internal/rolesync"
	"github.com/travilink/travilink/jobs"
)

// Pinger reports backing store reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Metrics          *observability.Metrics
	RBACMiddleware   rbac.Middleware
	RequestsHandler  *requests.Handler
	InboxHandler     *inbox.Handler
	ApproversHandler *approvers.Handler
	PeopleHandler    *people.Handler
	RoleSyncHandler  *rolesync.Handler
	RBACHandler      *rbac.Handler
	JobHandler       *jobs.Handler
	Health           map[string]Pinger
}

// NewRouter constructs the chi.Router with Travilink defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Health))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.RequestsHandler != nil {
		r.Route("/requests", params.RequestsHandler.MountRoutes)
	}
	if params.InboxHandler != nil {
		r.Route("/inbox", params.InboxHandler.MountRoutes)
	}
	if params.ApproversHandler != nil {
		r.Route("/approvers", params.ApproversHandler.MountRoutes)
	}
	r.Route("/people", func(r chi.Router) {
		if params.PeopleHandler != nil {
			params.PeopleHandler.MountRoutes(r)
		}
		if params.RoleSyncHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(rbac.CapAdmin))
				params.RoleSyncHandler.MountRoutes(r)
			})
		}
	})
	if params.PeopleHandler != nil {
		r.Route("/role-grants", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAll(rbac.CapAdmin, rbac.CapSuperAdmin))
			params.PeopleHandler.MountGrantRoutes(r)
		})
	}
	if params.RBACHandler != nil {
		r.Route("/capabilities", params.RBACHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	return r
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, p := range checks {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				status[name] = "down"
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "up"
		}
		httpx.JSON(w, code, status)
	}
}
