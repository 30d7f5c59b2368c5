package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/travilink/travilink/internal/app"
	jobmetrics "github.com/travilink/travilink/internal/jobs"
	"github.com/travilink/travilink/internal/platform/cache"
	"github.com/travilink/travilink/internal/platform/db"
	"github.com/travilink/travilink/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	services := app.BuildServices(cfg, pool, redisClient, jobClient, nil, logger)
	metrics := jobmetrics.NewMetrics(nil)

	mailer := jobs.NewSMTPMailer(jobs.MailerConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		UseTLS:   cfg.SMTPUseTLS,
	})
	noticeJob := jobs.NewApprovalNoticeJob(mailer, cfg.AppBaseURL, logger, metrics)
	reminderJob := jobs.NewStaleReminderJob(services.Requests, logger, metrics)

	var cron []jobs.CronRegistration
	if cfg.StaleReminderHours > 0 {
		reminderTask, err := jobs.NewStaleReminderTask(cfg.StaleReminderHours)
		if err != nil {
			logger.Error("build stale reminder task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    fmt.Sprintf("0 */%d * * *", reminderInterval(cfg.StaleReminderHours)),
			Task:    reminderTask,
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskApprovalNotice, Handler: noticeJob.Handle},
			{Type: jobs.TaskStaleReminder, Handler: reminderJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// reminderInterval returns the sweep period in hours, about four sweeps per threshold.
func reminderInterval(hours int) int {
	every := hours / 4
	if every < 1 {
		every = 1
	}
	if every > 23 {
		every = 23
	}
	return every
}
