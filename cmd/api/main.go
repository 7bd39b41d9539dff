package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deptportal/internal/api"
	"deptportal/internal/attendance"
	"deptportal/internal/auth"
	"deptportal/internal/cloudinary"
	"deptportal/internal/config"
	"deptportal/internal/course"
	"deptportal/internal/events"
	"deptportal/internal/logging"
	"deptportal/internal/queue"
	"deptportal/internal/session"
	"deptportal/internal/store"
	"deptportal/internal/student"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

// backends are the storage implementations chosen by STORE_BACKEND.
type backends struct {
	students student.Repository
	dir      auth.Directory
	courses  course.Repository
	jobs     attendance.JobStore
	health   map[string]api.HealthCheck
	close    func()
}

func openStore(ctx context.Context, cfg config.App, logger *zap.Logger) (backends, error) {
	if cfg.StoreBackend == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		repo := student.NewMemoryRepository()
		return backends{
			students: repo,
			dir:      auth.NewMemoryDirectory(repo),
			courses:  course.NewMemoryRepository(),
			jobs:     attendance.NewMemoryJobs(),
			health:   map[string]api.HealthCheck{},
			close:    func() {},
		}, nil
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return backends{}, err
	}
	if cfg.Migrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return backends{}, err
		}
		logger.Info("schema applied")
	}
	return backends{
		students: student.NewPostgresRepository(db.Client),
		dir:      auth.NewPostgresDirectory(db.Client),
		courses:  course.NewPostgresRepository(db.Client),
		jobs:     attendance.NewRepository(db.Client),
		health:   map[string]api.HealthCheck{"db": db.Healthy},
		close:    func() { _ = db.Close() },
	}, nil
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	var rdb *store.Redis
	if cfg.SessionBackend == "redis" || cfg.EventsBackend == "redis" || cfg.QueueBackend == "redis" {
		rdb = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() { _ = rdb.Close() }()
		b.health["redis"] = rdb.Healthy
	}

	var sessions session.Store = session.NewMemoryStore()
	if cfg.SessionBackend == "redis" {
		sessions = session.NewRedisStore(rdb.Client, "")
	}
	var bus events.Bus = events.NewInMemory(16)
	if cfg.EventsBackend == "redis" {
		bus = events.NewRedisBus(rdb.Client, "")
	}
	var q queue.Queue = queue.NewInMemory(64)
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(rdb.Client, "")
	}

	students := student.NewService(b.students, bus, logger)
	roster := student.NewRoster(students, bus, logger)
	authSvc := auth.NewService(b.dir, b.students, sessions, bus, auth.Config{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		SessionTTL: cfg.SessionTTL,
	}, logger)
	courses := course.NewService(b.courses, logger)
	att := attendance.NewService(students, roster, logger)

	if cfg.AdminEmail != "" {
		if err := authSvc.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			logger.Error("admin bootstrap failed", zap.Error(err))
		}
	}

	if cfg.VerifiedRosterFile != "" {
		if err := seedVerifiedRoster(ctx, authSvc, cfg.VerifiedRosterFile, logger); err != nil {
			logger.Error("verified roster seed failed", zap.String("file", cfg.VerifiedRosterFile), zap.Error(err))
		}
	}

	if err := roster.Start(ctx); err != nil {
		// The roster keeps its last error for /healthz; the next change notification retries the fetch.
		logger.Warn("initial roster load failed", zap.Error(err))
	}

	if cfg.QueueBackend == "memory" {
		go func() {
			if err := attendance.NewWorker(q, b.jobs, att, logger).Run(ctx); err != nil {
				logger.Error("in-process worker stopped", zap.Error(err))
			}
		}()
	}

	var offsite *cloudinary.Client
	if cfg.CloudinaryConfigured() {
		offsite = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("offsite backups enabled", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Info("offsite backups disabled (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	router := api.New(api.Deps{
		Log:                 logger,
		Auth:                authSvc,
		Students:            students,
		Roster:              roster,
		Attendance:          att,
		Jobs:                b.jobs,
		Queue:               q,
		Courses:             courses,
		Offsite:             offsite,
		Health:              b.health,
		RateLimitPerMin:     cfg.RateLimitPerMin,
		AuthRateLimitPerMin: cfg.AuthRateLimitPerMin,
		CORSOrigins:         cfg.CORSOrigins,
		TrustedProxies:      cfg.TrustedProxies,
		Release:             cfg.Production(),
	})

	// No write timeout: the roster event stream holds its response open. Request contexts
	// derive from ctx so open streams end when a shutdown signal arrives.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

func seedVerifiedRoster(ctx context.Context, svc *auth.Service, path string, logger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	res, err := svc.ImportRoster(ctx, f)
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		logger.Warn("verified roster row skipped", zap.String("detail", e))
	}
	return nil
}
