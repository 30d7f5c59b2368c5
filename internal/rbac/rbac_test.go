package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/people/peopletest"
	"github.com/travilink/travilink/internal/shared"
)

func newDirectory() *peopletest.Directory {
	revoked := time.Now()
	return peopletest.New().
		AddPerson(people.Person{ID: 1, Name: "root", Role: people.RoleAdmin, Flags: people.Flags{Admin: true}, SuperAdmin: true}).
		AddPerson(people.Person{ID: 2, Name: "hr", Role: people.RoleHR, Flags: people.Flags{HR: true}}).
		AddPerson(people.Person{ID: 3, Name: "gone", Role: people.RoleAdmin, Flags: people.Flags{Admin: true}, Status: people.StatusInactive}).
		AddGrant(people.RoleGrant{PersonID: 1, Role: people.GrantAdmin}).
		AddGrant(people.RoleGrant{PersonID: 2, Role: people.GrantHR}).
		AddGrant(people.RoleGrant{PersonID: 2, Role: people.GrantAdmin, RevokedAt: &revoked}).
		AddGrant(people.RoleGrant{PersonID: 3, Role: people.GrantAdmin})
}

func TestEffectiveCapabilities(t *testing.T) {
	svc := NewService(newDirectory())
	ctx := context.Background()

	caps, err := svc.EffectiveCapabilities(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{CapAdmin, CapSuperAdmin}, caps)

	caps, err = svc.EffectiveCapabilities(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{CapHR}, caps, "revoked rows do not count")

	caps, err = svc.EffectiveCapabilities(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, caps)

	_, err = svc.EffectiveCapabilities(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMiddlewareRequireAny(t *testing.T) {
	mw := Middleware{Service: NewService(newDirectory())}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := mw.RequireAny(" Admin ", "hr", "admin")(ok)

	cases := []struct {
		name  string
		actor int64
		want  int
	}{
		{"admin", 1, http.StatusNoContent},
		{"hr", 2, http.StatusNoContent},
		{"inactive", 3, http.StatusForbidden},
		{"unknown", 99, http.StatusForbidden},
		{"anonymous", 0, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.actor > 0 {
				req = req.WithContext(shared.ContextWithActor(req.Context(), tc.actor))
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestMiddlewareRequireAll(t *testing.T) {
	mw := Middleware{Service: NewService(newDirectory())}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := mw.RequireAll(CapAdmin, CapSuperAdmin)(ok)

	for actor, want := range map[int64]int{1: http.StatusNoContent, 2: http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, want, rr.Code, "actor %d", actor)
	}
}

func TestHandlerListsCapabilities(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/capabilities", NewHandler(nil, NewService(newDirectory())).MountRoutes)

	req := httptest.NewRequest(http.MethodGet, "/capabilities", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), 2))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		ActorID      int64    `json:"actorId"`
		Capabilities []string `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.ActorID)
	assert.Equal(t, []string{"hr"}, body.Capabilities)
}
