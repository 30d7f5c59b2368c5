package rolesync

import (
	"context"
	"sync"
	"time"

	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/shared"
)

type grantRow struct {
	personID  int64
	role      people.GrantRole
	grantedBy int64
	revokedBy int64
	reason    string
	open      bool
}

type auditRow struct {
	actorID  int64
	action   string
	personID int64
	change   shared.FieldChange
}

// memoryState is copied per transaction and swapped in on commit.
type memoryState struct {
	people   map[int64]people.Person
	rows     map[Subtable]map[int64]bool
	mappings []people.HeadMapping
	grants   []grantRow
	audit    []auditRow
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		people:   make(map[int64]people.Person, len(s.people)),
		rows:     map[Subtable]map[int64]bool{},
		mappings: append([]people.HeadMapping(nil), s.mappings...),
		grants:   append([]grantRow(nil), s.grants...),
		audit:    append([]auditRow(nil), s.audit...),
	}
	for id, p := range s.people {
		out.people[id] = p
	}
	for _, table := range Subtables {
		out.rows[table] = map[int64]bool{}
		for id, v := range s.rows[table] {
			out.rows[table][id] = v
		}
	}
	return out
}

type memoryStore struct {
	mu    sync.Mutex
	state memoryState
	// corrupt runs before Snapshot to simulate a broken write.
	corrupt func(*memoryState)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{state: memoryState{people: map[int64]people.Person{}}.clone()}
}

func (m *memoryStore) add(p people.Person) *memoryStore {
	if p.Status == "" {
		p.Status = people.StatusActive
	}
	m.state.people[p.ID] = p
	if table := SubtableFor(StateOf(p)); table != SubtableNone {
		m.state.rows[table][p.ID] = true
	}
	for _, role := range people.GrantRoles {
		if StateOf(p).Holds(role) {
			m.state.grants = append(m.state.grants, grantRow{personID: p.ID, role: role, open: true})
		}
	}
	if p.Flags.Head && p.DepartmentID != nil {
		m.state.mappings = append(m.state.mappings, people.HeadMapping{ID: int64(len(m.state.mappings) + 1), PersonID: p.ID, DepartmentID: *p.DepartmentID})
	}
	return m
}

func (m *memoryStore) GetPerson(_ context.Context, id int64) (people.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.people[id]
	if !ok {
		return people.Person{}, people.ErrNotFound
	}
	return p, nil
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{store: m, state: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memoryStore) openGrants(personID int64) []people.GrantRole {
	var out []people.GrantRole
	for _, g := range m.state.grants {
		if g.personID == personID && g.open {
			out = append(out, g.role)
		}
	}
	return out
}

func (m *memoryStore) revokeReasons(personID int64) []string {
	var out []string
	for _, g := range m.state.grants {
		if g.personID == personID && !g.open {
			out = append(out, g.reason)
		}
	}
	return out
}

func (m *memoryStore) activeMappings(personID int64) []people.HeadMapping {
	var out []people.HeadMapping
	for _, hm := range m.state.mappings {
		if hm.PersonID == personID && hm.ValidTo == nil {
			out = append(out, hm)
		}
	}
	return out
}

type memoryTx struct {
	store    *memoryStore
	state    memoryState
	deferred bool
}

func (t *memoryTx) DeferConstraints(context.Context) error {
	t.deferred = true
	return nil
}

func (t *memoryTx) LockPerson(_ context.Context, id int64) (people.Person, error) {
	p, ok := t.state.people[id]
	if !ok {
		return people.Person{}, people.ErrNotFound
	}
	return p, nil
}

func (t *memoryTx) UpsertSubtable(_ context.Context, p people.Person) error {
	if table := SubtableFor(StateOf(p)); table != SubtableNone {
		t.state.rows[table][p.ID] = true
	}
	return nil
}

func (t *memoryTx) DeleteSubtables(_ context.Context, personID int64, keep Subtable) error {
	for _, table := range Subtables {
		if table != keep {
			delete(t.state.rows[table], personID)
		}
	}
	return nil
}

func (t *memoryTx) UpdatePerson(_ context.Context, p people.Person, at time.Time) error {
	if _, ok := t.state.people[p.ID]; !ok {
		return people.ErrNotFound
	}
	p.UpdatedAt = at
	t.state.people[p.ID] = p
	return nil
}

func (t *memoryTx) ActiveMapping(_ context.Context, personID int64) (*people.HeadMapping, error) {
	for _, hm := range t.state.mappings {
		if hm.PersonID == personID && hm.ValidTo == nil {
			found := hm
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) CloseMappings(_ context.Context, personID int64, at time.Time) (int64, error) {
	var n int64
	for i := range t.state.mappings {
		if t.state.mappings[i].PersonID == personID && t.state.mappings[i].ValidTo == nil {
			end := at
			t.state.mappings[i].ValidTo = &end
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) OpenMapping(_ context.Context, personID, departmentID int64, at time.Time) error {
	t.state.mappings = append(t.state.mappings, people.HeadMapping{
		ID: int64(len(t.state.mappings) + 1), PersonID: personID, DepartmentID: departmentID, ValidFrom: at,
	})
	return nil
}

func (t *memoryTx) OpenGrant(_ context.Context, personID int64, role people.GrantRole, by int64, _ string, _ time.Time) (bool, error) {
	for _, g := range t.state.grants {
		if g.personID == personID && g.role == role && g.open {
			return false, nil
		}
	}
	t.state.grants = append(t.state.grants, grantRow{personID: personID, role: role, grantedBy: by, open: true})
	return true, nil
}

func (t *memoryTx) RevokeGrant(_ context.Context, personID int64, role people.GrantRole, by int64, reason string, _ time.Time) (bool, error) {
	revoked := false
	for i := range t.state.grants {
		g := &t.state.grants[i]
		if g.personID == personID && g.role == role && g.open {
			g.open = false
			g.revokedBy = by
			g.reason = reason
			revoked = true
		}
	}
	return revoked, nil
}

func (t *memoryTx) RecordChanges(_ context.Context, actorID int64, action string, personID int64, changes []shared.FieldChange) error {
	for _, c := range changes {
		t.state.audit = append(t.state.audit, auditRow{actorID: actorID, action: action, personID: personID, change: c})
	}
	return nil
}

func (t *memoryTx) Snapshot(_ context.Context, personID int64) (Snapshot, error) {
	if t.store.corrupt != nil {
		t.store.corrupt(&t.state)
	}
	p, ok := t.state.people[personID]
	if !ok {
		return Snapshot{}, people.ErrNotFound
	}
	snap := Snapshot{Role: p.Role, Status: p.Status, IsHead: p.Flags.Head, Rows: map[Subtable]bool{}}
	for _, table := range Subtables {
		snap.Rows[table] = t.state.rows[table][personID]
	}
	counts := map[people.GrantRole]int{}
	for _, g := range t.state.grants {
		if g.personID == personID && g.open {
			counts[g.role]++
			if counts[g.role] > snap.MaxOpenGrants {
				snap.MaxOpenGrants = counts[g.role]
			}
		}
	}
	for _, hm := range t.state.mappings {
		if hm.PersonID == personID && hm.ValidTo == nil {
			snap.ActiveMappings++
		}
	}
	return snap, nil
}
