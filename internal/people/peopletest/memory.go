// Package peopletest provides an in-memory identity store for tests.
package peopletest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/travilink/travilink/internal/people"
)

// Directory is an in-memory people store.
type Directory struct {
	mu       sync.RWMutex
	people   map[int64]people.Person
	depts    map[int64]people.Department
	mappings []people.HeadMapping
	grants   []people.RoleGrant
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{people: map[int64]people.Person{}, depts: map[int64]people.Department{}}
}

// Ptr returns a pointer to v.
func Ptr(v int64) *int64 { return &v }

// AddDepartment stores d.
func (d *Directory) AddDepartment(dept people.Department) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depts[dept.ID] = dept
	return d
}

// AddPerson stores p, defaulting status to active.
func (d *Directory) AddPerson(p people.Person) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.Status == "" {
		p.Status = people.StatusActive
	}
	if p.Email == "" {
		p.Email = p.Name + "@example.edu"
	}
	d.people[p.ID] = p
	return d
}

// AddMapping opens a head mapping for personID in departmentID.
func (d *Directory) AddMapping(personID, departmentID int64) *Directory {
	return d.AddMappingFrom(personID, departmentID, time.Now())
}

// AddMappingFrom opens a head mapping that takes effect at from.
func (d *Directory) AddMappingFrom(personID, departmentID int64, from time.Time) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mappings = append(d.mappings, people.HeadMapping{
		ID:           int64(len(d.mappings) + 1),
		PersonID:     personID,
		DepartmentID: departmentID,
		ValidFrom:    from,
	})
	return d
}

// AddGrant appends a ledger row.
func (d *Directory) AddGrant(g people.RoleGrant) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g.ID == 0 {
		g.ID = int64(len(d.grants) + 1)
	}
	d.grants = append(d.grants, g)
	return d
}

// GetPerson implements people.Store.
func (d *Directory) GetPerson(_ context.Context, id int64) (people.Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.people[id]
	if !ok {
		return people.Person{}, people.ErrNotFound
	}
	return p, nil
}

// GetPeople returns the known persons among ids ordered by id.
func (d *Directory) GetPeople(_ context.Context, ids []int64) ([]people.Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []people.Person
	for _, id := range ids {
		if p, ok := d.people[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetDepartment implements people.Store.
func (d *Directory) GetDepartment(_ context.Context, id int64) (people.Department, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dept, ok := d.depts[id]
	if !ok {
		return people.Department{}, people.ErrNotFound
	}
	return dept, nil
}

// MappedHeads returns active persons with an open mapping for departmentID.
func (d *Directory) MappedHeads(_ context.Context, departmentID int64) ([]people.Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	now := time.Now()
	var out []people.Person
	for _, m := range d.mappings {
		if m.DepartmentID != departmentID || m.ValidTo != nil || m.ValidFrom.After(now) {
			continue
		}
		if p, ok := d.people[m.PersonID]; ok && p.Active() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindPeople applies f over the stored persons ordered by id.
func (d *Directory) FindPeople(_ context.Context, f people.Filter) ([]people.Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []people.Person
	for _, p := range d.people {
		if f.Role != "" && p.Role != f.Role {
			continue
		}
		if f.Flag != "" && !p.Flags.Get(f.Flag) {
			continue
		}
		if f.DepartmentID != nil && !p.InDepartment(*f.DepartmentID) {
			continue
		}
		if f.ActiveOnly && !p.Active() {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LegacyHeads returns active head-capable persons with a free-text department.
func (d *Directory) LegacyHeads(_ context.Context) ([]people.Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []people.Person
	for _, p := range d.people {
		if p.Active() && p.DepartmentText != "" && (p.Flags.Head || p.Role == people.RoleHead) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ActiveMapping implements people.Store.
func (d *Directory) ActiveMapping(_ context.Context, personID int64) (*people.HeadMapping, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.mappings {
		if m.PersonID == personID && m.ValidTo == nil {
			mapping := m
			return &mapping, nil
		}
	}
	return nil, nil
}

// ListGrants implements people.Store.
func (d *Directory) ListGrants(_ context.Context, f people.GrantFilter) ([]people.RoleGrant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []people.RoleGrant
	for i := len(d.grants) - 1; i >= 0; i-- {
		g := d.grants[i]
		if f.PersonID != nil && g.PersonID != *f.PersonID {
			continue
		}
		if f.Role != "" && g.Role != f.Role {
			continue
		}
		if f.OpenOnly && !g.Open() {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}
