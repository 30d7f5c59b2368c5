package requests

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(stages ...Stage) map[Stage]StageApproval {
	out := map[Stage]StageApproval{}
	for i, s := range stages {
		out[s] = StageApproval{ApprovedBy: int64(i + 1), ApprovedAt: time.Now()}
	}
	return out
}

func TestNextStatusBranches(t *testing.T) {
	parent := int64(9)
	cases := []struct {
		name string
		req  Request
		want []Status
	}{
		{
			name: "minimal route",
			req:  Request{},
			want: []Status{StatusPendingHead, StatusPendingExec, StatusPendingPresident},
		},
		{
			name: "every stage",
			req:  Request{ParentDepartmentID: &parent, NeedsVehicle: true, TotalBudget: decimal.NewFromInt(10), RequiresHR: true},
			want: PendingStatuses,
		},
		{
			name: "head requester direct to president",
			req:  Request{RequesterIsHead: true, DirectToPresident: true},
			want: []Status{StatusPendingPresident},
		},
		{
			name: "executive parent head",
			req:  Request{ParentDepartmentID: &parent, ParentHeadIsExec: true},
			want: []Status{StatusPendingHead, StatusPendingParentHead, StatusPendingPresident},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Route(tc.req))
		})
	}
	assert.Equal(t, StatusApproved, NextStatus(Request{}, StatusPendingPresident))
}

func TestMultiTarget(t *testing.T) {
	r, err := MultiTarget([]int64{4, 4}, false)
	require.NoError(t, err)
	assert.Equal(t, RoutingSingle, r.Kind)

	_, err = MultiTarget([]int64{1, 2, 3}, true)
	require.Error(t, err)

	_, err = MultiTarget(nil, false)
	require.Error(t, err)

	r, err = MultiTarget([]int64{1, 2}, true)
	require.NoError(t, err)
	assert.True(t, r.TwoSignatures())
}

func TestExecSlotOpenFor(t *testing.T) {
	pending := func(r Routing, st map[Stage]StageApproval) Request {
		return Request{Status: StatusPendingExec, Routing: r, Stages: st}
	}
	multiAll, _ := MultiTarget([]int64{1, 2}, true)
	multiAny, _ := MultiTarget([]int64{1, 2}, false)

	cases := []struct {
		name string
		req  Request
		exec int64
		want bool
	}{
		{"unassigned open", pending(Unassigned(false), nil), 5, true},
		{"unassigned closed after one", pending(Unassigned(false), signed(StageVP)), 5, false},
		{"dual open for another", pending(Unassigned(true), signed(StageVP)), 5, true},
		{"dual closed for first signer", pending(Unassigned(true), signed(StageVP)), 1, false},
		{"single named", pending(SingleTarget(3), nil), 3, true},
		{"single other", pending(SingleTarget(3), nil), 4, false},
		{"multi all second slot", pending(multiAll, signed(StageVP)), 2, true},
		{"multi all not listed", pending(multiAll, nil), 7, false},
		{"multi any closes", pending(multiAny, signed(StageVP)), 2, false},
		{"exec parent head", Request{Status: StatusPendingExec, ParentHeadIsExec: true}, 5, false},
		{"other status", Request{Status: StatusPendingPresident}, 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.req.ExecSlotOpenFor(tc.exec))
			assert.Equal(t, tc.want, tc.req.ExecSlotOpenFor(tc.exec), "filter must be idempotent")
		})
	}
}

func TestRoutingJSONDefaultsKind(t *testing.T) {
	var r Routing
	require.NoError(t, json.Unmarshal([]byte(`{}`), &r))
	assert.Equal(t, RoutingUnassigned, r.Kind)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("reject")
	require.NoError(t, err)
	assert.Equal(t, ActionReject, a)
	_, err = ParseAction("escalate")
	require.Error(t, err)
}
