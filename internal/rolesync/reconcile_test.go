package rolesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/shared"
)

func boolPtr(v bool) *bool { return &v }

func rolePtr(r people.Role) *people.Role { return &r }

func deptPtr(v int64) *int64 { return &v }

func TestReconcile(t *testing.T) {
	dept := deptPtr(3)
	cases := []struct {
		name    string
		current State
		change  Change
		want    State
	}{
		{
			name:    "admin flag promotes faculty",
			current: State{Role: people.RoleFaculty},
			change:  Change{Flags: FlagChanges{Admin: boolPtr(true)}},
			want:    State{Role: people.RoleAdmin, Flags: people.Flags{Admin: true}},
		},
		{
			name:    "role faculty clears executive flags",
			current: State{Role: people.RoleExecVP, Flags: people.Flags{VP: true, Head: true}, DepartmentID: dept},
			change:  Change{Role: rolePtr(people.RoleFaculty)},
			want:    State{Role: people.RoleFaculty, Flags: people.Flags{Head: true}, DepartmentID: dept},
		},
		{
			name:    "explicit role implies its flag",
			current: State{Role: people.RoleStaff},
			change:  Change{Role: rolePtr(people.RoleHR)},
			want:    State{Role: people.RoleHR, Flags: people.Flags{HR: true}},
		},
		{
			name:    "compatible flag keeps role",
			current: State{Role: people.RoleExecVP, Flags: people.Flags{VP: true}, DepartmentID: dept},
			change:  Change{Flags: FlagChanges{Head: boolPtr(true)}},
			want:    State{Role: people.RoleExecVP, Flags: people.Flags{VP: true, Head: true}, DepartmentID: dept},
		},
		{
			name:    "vp flag moves head to executive and keeps head flag",
			current: State{Role: people.RoleHead, Flags: people.Flags{Head: true}, DepartmentID: dept},
			change:  Change{Flags: FlagChanges{VP: boolPtr(true)}},
			want:    State{Role: people.RoleExecVP, Flags: people.Flags{Head: true, VP: true}, DepartmentID: dept},
		},
		{
			name:    "president flag moves vp to president",
			current: State{Role: people.RoleExecVP, Flags: people.Flags{VP: true, Head: true}, DepartmentID: dept},
			change:  Change{Flags: FlagChanges{President: boolPtr(true)}},
			want:    State{Role: people.RoleExecPresident, Flags: people.Flags{Head: true, President: true}, DepartmentID: dept},
		},
		{
			name:    "incompatible flag moves role and clears others",
			current: State{Role: people.RoleHead, Flags: people.Flags{Head: true}, DepartmentID: dept},
			change:  Change{Flags: FlagChanges{HR: boolPtr(true)}},
			want:    State{Role: people.RoleHR, Flags: people.Flags{HR: true}, DepartmentID: dept},
		},
		{
			name:    "clearing role flag falls back to strongest remaining",
			current: State{Role: people.RoleExecVP, Flags: people.Flags{VP: true, Head: true}, DepartmentID: dept},
			change:  Change{Flags: FlagChanges{VP: boolPtr(false)}},
			want:    State{Role: people.RoleHead, Flags: people.Flags{Head: true}, DepartmentID: dept},
		},
		{
			name:    "clearing last flag falls back to faculty",
			current: State{Role: people.RoleAdmin, Flags: people.Flags{Admin: true}, SuperAdmin: true},
			change:  Change{Flags: FlagChanges{Admin: boolPtr(false)}},
			want:    State{Role: people.RoleFaculty},
		},
		{
			name:    "clearing a secondary flag keeps role",
			current: State{Role: people.RoleExecPresident, Flags: people.Flags{President: true, Head: true}, DepartmentID: dept},
			change:  Change{Flags: FlagChanges{Head: boolPtr(false)}},
			want:    State{Role: people.RoleExecPresident, Flags: people.Flags{President: true}, DepartmentID: dept},
		},
		{
			name:    "super admin with admin flag",
			current: State{Role: people.RoleAdmin, Flags: people.Flags{Admin: true}},
			change:  Change{SuperAdmin: boolPtr(true)},
			want:    State{Role: people.RoleAdmin, Flags: people.Flags{Admin: true}, SuperAdmin: true},
		},
		{
			name:    "department zero clears",
			current: State{Role: people.RoleFaculty, DepartmentID: dept},
			change:  Change{DepartmentID: deptPtr(0)},
			want:    State{Role: people.RoleFaculty},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Reconcile(tc.current, tc.change)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReconcileRejectsConflicts(t *testing.T) {
	cases := []struct {
		name    string
		current State
		change  Change
	}{
		{"role without its flag", State{Role: people.RoleFaculty}, Change{Role: rolePtr(people.RoleAdmin), Flags: FlagChanges{Admin: boolPtr(false)}}},
		{"flag incompatible with role", State{Role: people.RoleFaculty}, Change{Role: rolePtr(people.RoleHR), Flags: FlagChanges{VP: boolPtr(true)}}},
		{"two incompatible flags", State{Role: people.RoleFaculty}, Change{Flags: FlagChanges{HR: boolPtr(true), VP: boolPtr(true)}}},
		{"super admin without admin", State{Role: people.RoleFaculty}, Change{SuperAdmin: boolPtr(true)}},
		{"unknown role", State{Role: people.RoleFaculty}, Change{Role: rolePtr("janitor")}},
		{"head without department", State{Role: people.RoleFaculty}, Change{Flags: FlagChanges{Head: boolPtr(true)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Reconcile(tc.current, tc.change)
			var ve *shared.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	ch := Change{Role: rolePtr(people.RoleExecVP), Flags: FlagChanges{Head: boolPtr(true)}, DepartmentID: deptPtr(4)}
	once, err := Reconcile(State{Role: people.RoleFaculty}, ch)
	require.NoError(t, err)
	twice, err := Reconcile(once, ch)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
	assert.Empty(t, Diff(once, twice))
}

func TestDiffListsFieldDeltas(t *testing.T) {
	before := State{Role: people.RoleFaculty, DepartmentID: deptPtr(1), Status: people.StatusActive}
	after := State{Role: people.RoleAdmin, Flags: people.Flags{Admin: true}, Status: people.StatusActive}
	changes := Diff(before, after)
	fields := make([]string, 0, len(changes))
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	assert.Equal(t, []string{"role", "is_admin", "department_id"}, fields)
	assert.Equal(t, int64(1), changes[2].Old)
	assert.Nil(t, changes[2].New)
}

func TestSubtableFor(t *testing.T) {
	assert.Equal(t, SubtableAdmins, SubtableFor(State{Role: people.RoleAdmin, Status: people.StatusActive}))
	assert.Equal(t, SubtableFaculty, SubtableFor(State{Role: people.RoleFaculty, Status: people.StatusActive}))
	assert.Equal(t, SubtableDrivers, SubtableFor(State{Role: people.RoleDriver, Status: people.StatusActive}))
	assert.Equal(t, SubtableNone, SubtableFor(State{Role: people.RoleHead, Status: people.StatusActive}))
	assert.Equal(t, SubtableNone, SubtableFor(State{Role: people.RoleAdmin, Status: people.StatusInactive}))
}
