package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travilink/travilink/internal/approvers"
	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/people/peopletest"
	"github.com/travilink/travilink/internal/platform/cache"
	"github.com/travilink/travilink/internal/requests"
	"github.com/travilink/travilink/internal/shared"
)

const (
	deptCollege   = int64(1)
	deptPhysics   = int64(2)
	deptChemistry = int64(3)

	chemHeadID    = int64(101)
	physHeadID    = int64(103)
	collegeHeadID = int64(104)
	comptrollerID = int64(106)
	vp1ID         = int64(108)
	vp2ID         = int64(109)
	retiredVPID   = int64(112)
)

type memorySource struct {
	mu    sync.Mutex
	rows  []requests.Request
	calls int
	err   error
}

func (m *memorySource) ListByStatus(_ context.Context, statuses []requests.Status) ([]requests.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []requests.Request
	for _, r := range m.rows {
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memorySource) put(r requests.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == r.ID {
			m.rows[i] = r
			return
		}
	}
	m.rows = append(m.rows, r)
}

func newDirectory() *peopletest.Directory {
	p := peopletest.Ptr
	return peopletest.New().
		AddDepartment(people.Department{ID: deptCollege, Name: "College of Science", Code: "COS"}).
		AddDepartment(people.Department{ID: deptPhysics, Name: "Physics", Code: "PHY", ParentID: p(deptCollege)}).
		AddDepartment(people.Department{ID: deptChemistry, Name: "Chemistry", Code: "CHE"}).
		AddPerson(people.Person{ID: chemHeadID, Name: "chemhead", Role: people.RoleHead, Flags: people.Flags{Head: true}, DepartmentID: p(deptChemistry)}).
		AddPerson(people.Person{ID: physHeadID, Name: "physhead", Role: people.RoleHead, Flags: people.Flags{Head: true}, DepartmentID: p(deptPhysics)}).
		AddPerson(people.Person{ID: collegeHeadID, Name: "collegehead", Role: people.RoleHead, Flags: people.Flags{Head: true}, DepartmentID: p(deptCollege)}).
		AddPerson(people.Person{ID: comptrollerID, Name: "comptroller", Role: people.RoleComptroller}).
		AddPerson(people.Person{ID: vp1ID, Name: "vp1", Role: people.RoleExecVP, Flags: people.Flags{VP: true}}).
		AddPerson(people.Person{ID: vp2ID, Name: "vp2", Role: people.RoleExecVP, Flags: people.Flags{VP: true}}).
		AddPerson(people.Person{ID: retiredVPID, Name: "retired", Role: people.RoleExecVP, Flags: people.Flags{VP: true}, Status: people.StatusInactive})
}

func newTestService(src *memorySource) *Service {
	return NewService(src, approvers.NewResolver(newDirectory(), nil), nil)
}

func execRequest(id int64, routing requests.Routing, signed ...int64) requests.Request {
	r := requests.Request{ID: id, Status: requests.StatusPendingExec, DepartmentID: deptChemistry, Routing: routing, Stages: map[requests.Stage]requests.StageApproval{}}
	slots := []requests.Stage{requests.StageVP, requests.StageVP2}
	for i, by := range signed {
		r.Stages[slots[i]] = requests.StageApproval{ApprovedBy: by, ApprovedAt: time.Now()}
	}
	return r
}

func ids(items []Item, actionable bool) []int64 {
	var out []int64
	for _, it := range items {
		if it.Actionable == actionable {
			out = append(out, it.Request.ID)
		}
	}
	return out
}

func TestExecutiveVisibility(t *testing.T) {
	multiAll, err := requests.MultiTarget([]int64{vp1ID, vp2ID}, true)
	require.NoError(t, err)

	src := &memorySource{}
	src.put(execRequest(1, requests.SingleTarget(vp1ID)))
	src.put(execRequest(2, multiAll, vp1ID))
	src.put(execRequest(3, requests.Unassigned(false)))
	src.put(execRequest(4, requests.Unassigned(false), vp2ID))
	src.put(execRequest(5, requests.Unassigned(true), vp2ID))
	bypass := execRequest(6, requests.Unassigned(false))
	bypass.ParentHeadIsExec = true
	src.put(bypass)
	svc := newTestService(src)
	ctx := context.Background()

	items, err := svc.List(ctx, RoleExec, vp1ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5}, ids(items, true))

	items, err = svc.List(ctx, RoleExec, vp2ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(items, true))

	items, err = svc.List(ctx, RoleExec, retiredVPID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestExecutiveFilterIsIdempotent(t *testing.T) {
	src := &memorySource{}
	src.put(execRequest(1, requests.Unassigned(true)))
	svc := newTestService(src)
	ctx := context.Background()

	first, err := svc.List(ctx, RoleExec, vp1ID)
	require.NoError(t, err)
	second, err := svc.List(ctx, RoleExec, vp1ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUpcomingItemsForNamedExecutive(t *testing.T) {
	src := &memorySource{}
	src.put(requests.Request{ID: 7, Status: requests.StatusPendingComptroller, Routing: requests.SingleTarget(vp2ID)})
	direct := requests.Request{ID: 8, Status: requests.StatusPendingComptroller, Routing: requests.SingleTarget(vp2ID), DirectToPresident: true}
	src.put(direct)
	svc := newTestService(src)
	ctx := context.Background()

	items, err := svc.List(ctx, RoleExec, vp2ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids(items, false))
	assert.Empty(t, ids(items, true))

	n, err := svc.Count(ctx, RoleExec, vp2ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	items, err = svc.List(ctx, RoleExec, vp1ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHeadQueuesFollowResolver(t *testing.T) {
	src := &memorySource{}
	src.put(requests.Request{ID: 10, Status: requests.StatusPendingHead, DepartmentID: deptChemistry})
	src.put(requests.Request{ID: 11, Status: requests.StatusPendingHead, DepartmentID: deptPhysics})
	src.put(requests.Request{ID: 12, Status: requests.StatusPendingParentHead, DepartmentID: deptPhysics})
	svc := newTestService(src)
	ctx := context.Background()

	cases := []struct {
		role  Role
		actor int64
		want  []int64
	}{
		{RoleHead, chemHeadID, []int64{10}},
		{RoleHead, physHeadID, []int64{11}},
		{RoleHead, collegeHeadID, []int64{12}},
		{RoleParentHead, collegeHeadID, []int64{12}},
		{RoleParentHead, physHeadID, nil},
		{RoleComptroller, comptrollerID, nil},
	}
	for _, tc := range cases {
		items, err := svc.List(ctx, tc.role, tc.actor)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ids(items, true), "role %s actor %d", tc.role, tc.actor)
	}
}

func TestCountUsesVersionedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	counts := cache.NewVersioned(client, "inbox", time.Minute)

	src := &memorySource{}
	src.put(requests.Request{ID: 20, Status: requests.StatusPendingComptroller})
	svc := newTestService(src).WithCache(counts)
	ctx := context.Background()

	n, err := svc.Count(ctx, RoleComptroller, comptrollerID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	src.put(requests.Request{ID: 21, Status: requests.StatusPendingComptroller})
	n, err = svc.Count(ctx, RoleComptroller, comptrollerID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "served from cache")

	require.NoError(t, counts.Bump(ctx))
	n, err = svc.Count(ctx, RoleComptroller, comptrollerID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("db down")
	svc := newTestService(&memorySource{err: boom})
	_, err := svc.List(context.Background(), RoleExec, vp1ID)
	require.ErrorIs(t, err, boom)
	_, err = svc.List(context.Background(), RoleHR, vp1ID)
	require.ErrorIs(t, err, boom)
	_, err = svc.List(context.Background(), Role("driver"), vp1ID)
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestParseRoleAliases(t *testing.T) {
	for raw, want := range map[string]Role{"VP": RoleExec, "exec-president": RolePresident, "parent-head": RoleParentHead} {
		got, err := ParseRole(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseRole("driver")
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestHandlerInbox(t *testing.T) {
	src := &memorySource{}
	src.put(execRequest(1, requests.SingleTarget(vp1ID)))
	r := chi.NewRouter()
	r.Route("/inbox", NewHandler(nil, newTestService(src)).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inbox?role=vp&actorId=108", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Items []Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, int64(1), body.Items[0].Request.ID)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inbox/count?role=vp&actorId=109", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"role":"vp","actorId":109,"count":0}`, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inbox?role=driver&actorId=1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/inbox?role=vp&actorId=109", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), vp1ID))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
