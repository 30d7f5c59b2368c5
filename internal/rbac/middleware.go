package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/travilink/travilink/internal/platform/httpx"
	"github.com/travilink/travilink/internal/shared"
)

// Middleware wires capability checks for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireAny ensures the current actor holds at least one capability.
func (m Middleware) RequireAny(caps ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", " or ", normalizeCapabilities(caps), hasAnyCapability)
}

// RequireAll ensures the current actor holds every capability.
func (m Middleware) RequireAll(caps ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", " and ", normalizeCapabilities(caps), hasAllCapabilities)
}

func (m Middleware) require(op, joiner string, required []string, check func([]string, []string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actorID, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "an acting person is required")
				return
			}
			granted, err := m.Service.EffectiveCapabilities(r.Context(), actorID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					httpx.Problem(w, http.StatusForbidden, "Forbidden", "unknown actor")
					return
				}
				if m.Logger != nil {
					m.Logger.Error(op, slog.Int64("actor_id", actorID), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "capability lookup failed")
				return
			}
			if check(granted, required) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "requires "+strings.Join(required, joiner))
		})
	}
}

func normalizeCapabilities(caps []string) []string {
	unique := make(map[string]struct{}, len(caps))
	normalized := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}
		if _, dup := unique[c]; dup {
			continue
		}
		unique[c] = struct{}{}
		normalized = append(normalized, c)
	}
	return normalized
}

func hasAnyCapability(granted []string, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, c := range granted {
		set[strings.ToLower(c)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllCapabilities(granted []string, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, c := range granted {
		set[strings.ToLower(c)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
