package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/travilink/travilink/internal/approvers"
	"github.com/travilink/travilink/internal/requests"
)

const resolveConcurrency = 4

// RequestSource lists requests by status.
type RequestSource interface {
	ListByStatus(ctx context.Context, statuses []requests.Status) ([]requests.Request, error)
}

// CandidateResolver resolves approvers for a stage.
type CandidateResolver interface {
	Resolve(ctx context.Context, q approvers.Query) (approvers.Candidates, error)
}

// Cache stores computed counts.
type Cache interface {
	Key(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// Item is one inbox row. Upcoming rows are shown to named executives
// before their stage opens and cannot be acted on yet.
type Item struct {
	Request    requests.Request `json:"request"`
	Actionable bool             `json:"actionable"`
}

// Service computes inbox views. Every call recomputes visibility from the
// stored requests; nothing is persisted.
type Service struct {
	source   RequestSource
	resolver CandidateResolver
	cache    Cache
	logger   *slog.Logger
}

// NewService builds the inbox service.
func NewService(source RequestSource, resolver CandidateResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, resolver: resolver, logger: logger}
}

// WithCache enables cached counts.
func (s *Service) WithCache(c Cache) *Service {
	s.cache = c
	return s
}

// List returns the requests visible to actorID acting as role, actionable
// items first.
func (s *Service) List(ctx context.Context, role Role, actorID int64) ([]Item, error) {
	statuses := role.statuses()
	if statuses == nil {
		return nil, ErrUnknownRole
	}
	if role == RoleExec {
		return s.listExecutive(ctx, actorID)
	}

	pending, err := s.source.ListByStatus(ctx, statuses)
	if err != nil {
		return nil, fmt.Errorf("inbox: load %s queue: %w", role, err)
	}
	candidates, err := s.resolveAll(ctx, pending)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(pending))
	for _, req := range pending {
		q, ok := requests.ApproverQuery(req)
		if !ok {
			continue
		}
		if candidates[queryKey(q)].Contains(actorID) {
			items = append(items, Item{Request: req, Actionable: true})
		}
	}
	return items, nil
}

// Count returns the number of actionable items for actorID.
func (s *Service) Count(ctx context.Context, role Role, actorID int64) (int, error) {
	if role.statuses() == nil {
		return 0, ErrUnknownRole
	}
	load := func(ctx context.Context) (any, error) {
		items, err := s.List(ctx, role, actorID)
		if err != nil {
			return nil, err
		}
		n := 0
		for _, it := range items {
			if it.Actionable {
				n++
			}
		}
		return n, nil
	}
	if s.cache == nil {
		n, err := load(ctx)
		if err != nil {
			return 0, err
		}
		return n.(int), nil
	}
	key, err := s.cache.Key(ctx, "count", string(role), strconv.FormatInt(actorID, 10))
	if err != nil {
		return 0, fmt.Errorf("inbox: cache key: %w", err)
	}
	var n int
	if err := s.cache.FetchJSON(ctx, key, &n, load); err != nil {
		return 0, err
	}
	return n, nil
}

// listExecutive loads the executive queue, upcoming requests and the
// executive roster concurrently.
func (s *Service) listExecutive(ctx context.Context, actorID int64) ([]Item, error) {
	var (
		pending  []requests.Request
		upcoming []requests.Request
		execs    approvers.Candidates
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := s.source.ListByStatus(gctx, RoleExec.statuses())
		if err != nil {
			return fmt.Errorf("inbox: load executive queue: %w", err)
		}
		pending = list
		return nil
	})
	g.Go(func() error {
		list, err := s.source.ListByStatus(gctx, upcomingStatuses)
		if err != nil {
			return fmt.Errorf("inbox: load upcoming: %w", err)
		}
		upcoming = list
		return nil
	})
	g.Go(func() error {
		c, err := s.resolver.Resolve(gctx, approvers.Query{Role: approvers.RoleExec})
		if err != nil {
			return fmt.Errorf("inbox: resolve executives: %w", err)
		}
		execs = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(pending))
	for _, req := range pending {
		if VisibleToExecutive(req, actorID, execs) {
			items = append(items, Item{Request: req, Actionable: true})
		}
	}
	for _, req := range upcoming {
		if UpcomingForExecutive(req, actorID, execs) {
			items = append(items, Item{Request: req})
		}
	}
	return items, nil
}

// resolveAll resolves each distinct stage query once.
func (s *Service) resolveAll(ctx context.Context, pending []requests.Request) (map[string]approvers.Candidates, error) {
	queries := make(map[string]approvers.Query)
	for _, req := range pending {
		if q, ok := requests.ApproverQuery(req); ok {
			queries[queryKey(q)] = q
		}
	}
	out := make(map[string]approvers.Candidates, len(queries))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for key, q := range queries {
		g.Go(func() error {
			cands, err := s.resolver.Resolve(gctx, q)
			if err != nil {
				return fmt.Errorf("inbox: resolve %s: %w", key, err)
			}
			mu.Lock()
			out[key] = cands
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func queryKey(q approvers.Query) string {
	dept := "-"
	if q.DepartmentID != nil {
		dept = strconv.FormatInt(*q.DepartmentID, 10)
	}
	return fmt.Sprintf("%s:%s:%t", q.Role, dept, q.Parent)
}
