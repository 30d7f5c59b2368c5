package requests

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/travilink/travilink/internal/notify"
	"github.com/travilink/travilink/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]Request
	history []shared.ApprovalLog
	// beforeCAS runs inside WithTx before the swap, used to simulate races.
	beforeCAS func()
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: map[int64]Request{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range tx.inserts {
		m.rows[r.ID] = r
	}
	for _, u := range tx.updates {
		cur, ok := m.rows[u.next.ID]
		if !ok || cur.Status != u.expected || cur.Version != u.version {
			return &shared.ConflictError{Entity: "request", ID: u.next.ID}
		}
		m.rows[u.next.ID] = u.next.clone()
	}
	m.history = append(m.history, tx.history...)
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r.clone(), nil
}

func (m *memoryRepo) ListByStatus(_ context.Context, statuses []Status) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.rows {
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, r.clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) ListStale(_ context.Context, before time.Time, limit int) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.rows {
		if r.Status.Pending() && r.UpdatedAt.Before(before) {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepo) History(_ context.Context, id int64) ([]shared.ApprovalLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shared.ApprovalLog
	for _, h := range m.history {
		if h.RequestID == id {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memoryRepo) age(id int64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.UpdatedAt = r.UpdatedAt.Add(-d)
	m.rows[id] = r
}

type pendingUpdate struct {
	next     Request
	expected Status
	version  int
}

type memoryTx struct {
	repo    *memoryRepo
	inserts []Request
	updates []pendingUpdate
	history []shared.ApprovalLog
}

func (t *memoryTx) Insert(_ context.Context, r Request) (int64, error) {
	t.repo.mu.Lock()
	t.repo.nextID++
	id := t.repo.nextID
	t.repo.mu.Unlock()
	r.ID = id
	t.inserts = append(t.inserts, r.clone())
	return id, nil
}

func (t *memoryTx) CompareAndSwap(_ context.Context, next Request, expected Status, version int) (bool, error) {
	if t.repo.beforeCAS != nil {
		t.repo.beforeCAS()
	}
	t.repo.mu.Lock()
	cur, ok := t.repo.rows[next.ID]
	t.repo.mu.Unlock()
	if !ok || cur.Status != expected || cur.Version != version {
		return false, nil
	}
	t.updates = append(t.updates, pendingUpdate{next: next.clone(), expected: expected, version: version})
	return true, nil
}

func (t *memoryTx) RecordHistory(_ context.Context, log shared.ApprovalLog) error {
	t.history = append(t.history, log)
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	events  []notify.Event
	nudges  []notify.Event
	nudgeFn func() error
}

func (n *recordingNotifier) Publish(_ context.Context, ev notify.Event) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return len(ev.Recipients), nil
}

func (n *recordingNotifier) Nudge(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nudgeFn != nil {
		if err := n.nudgeFn(); err != nil {
			return err
		}
	}
	n.nudges = append(n.nudges, ev)
	return nil
}

func (n *recordingNotifier) last() notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return notify.Event{}
	}
	return n.events[len(n.events)-1]
}

type countingObserver struct {
	mu          sync.Mutex
	transitions int
	conflicts   int
}

func (o *countingObserver) ObserveTransition(from, to, action string) {
	o.mu.Lock()
	o.transitions++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveConflict(entity string) {
	o.mu.Lock()
	o.conflicts++
	o.mu.Unlock()
}
