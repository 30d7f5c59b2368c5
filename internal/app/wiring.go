package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/travilink/travilink/internal/approvers"
	"github.com/travilink/travilink/internal/inbox"
	"github.com/travilink/travilink/internal/notify"
	"github.com/travilink/travilink/internal/observability"
	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/platform/cache"
	"github.com/travilink/travilink/internal/rbac"
	"github.com/travilink/travilink/internal/requests"
	"github.com/travilink/travilink/internal/rolesync"
	"github.com/travilink/travilink/internal/shared"
)

// Services is the wired domain layer shared by the API and the worker.
type Services struct {
	People    *people.Service
	Directory *people.Repository
	Resolver  *approvers.Resolver
	Requests  *requests.Service
	Inbox     *inbox.Service
	RoleSync  *rolesync.Service
	RBAC      *rbac.Service
}

// BuildServices wires repositories and services over one pool and redis client.
// metrics may be nil.
func BuildServices(cfg *Config, pool *pgxpool.Pool, rdb *redis.Client, queue notify.Enqueuer, metrics *observability.Metrics, logger *slog.Logger) *Services {
	audit := shared.NewAuditLogger(pool)
	directory := people.NewRepository(pool)
	resolver := approvers.NewResolver(directory, logger)
	notifier := notify.New(rdb, queue, notify.Config{DedupeTTL: cfg.NotifyDedupeTTL, NudgeWindow: cfg.NudgeWindow}, logger)

	inboxCache := cache.NewVersioned(rdb, "inbox", cfg.InboxCountTTL)
	reqRepo := requests.NewRepository(pool, shared.NewApprovalRecorder(pool, logger))
	reqService := requests.NewService(reqRepo, resolver, directory, notifier, requests.Policy{HRRequiredRoles: cfg.HRRoles()}, logger).
		WithInvalidator(inboxCache)
	inboxService := inbox.NewService(reqRepo, resolver, logger).WithCache(inboxCache)
	syncService := rolesync.NewService(rolesync.NewRepository(pool, audit), directory, logger)
	if metrics != nil {
		reqService = reqService.WithObserver(metrics)
		syncService = syncService.WithObserver(metrics)
	}

	return &Services{
		People:    people.NewService(directory, audit),
		Directory: directory,
		Resolver:  resolver,
		Requests:  reqService,
		Inbox:     inboxService,
		RoleSync:  syncService,
		RBAC:      rbac.NewService(directory),
	}
}
