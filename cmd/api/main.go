package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agenda/api/internal/agenda"
	"agenda/api/internal/app"
	"agenda/api/internal/archive"
	"agenda/api/internal/closure"
	"agenda/api/internal/config"
	"agenda/api/internal/coord"
	"agenda/api/internal/deadline"
	"agenda/api/internal/email"
	"agenda/api/internal/engine"
	"agenda/api/internal/gate"
	"agenda/api/internal/logger"
	"agenda/api/internal/notify"
	"agenda/api/internal/rbac"
	"agenda/api/internal/scheduler"
	"agenda/api/internal/search"
	"agenda/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.Setup(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.Database.URL, store.Pool{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.Database.MigrationsDir); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	dataStore := store.NewPostgresStore(db)

	// Without Redis, locks are process-local and redelivery is not
	// suppressed across restarts.
	var (
		locker  engine.Locker = coord.NewLocalLocker()
		deduper notify.Deduper
	)
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		redisStore, err := coord.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		redisStore.WithLockTTL(cfg.Redis.LockTTL)
		locker, deduper = redisStore, redisStore
		log.Info("using redis for proposal locks and delivery dedupe")
	} else {
		log.Warn("REDIS_URL not set, using process-local locks")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.Search.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.Search.MeiliURL, cfg.Search.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(context.Background())
	}

	levels, err := agenda.NewEngine(agenda.DefaultBands())
	if err != nil {
		log.Error("invalid level table", "error", err)
		os.Exit(1)
	}
	deadlines := deadline.NewManager(deadline.DefaultPolicy())
	responsibility := gate.New(deadlines)
	closer := closure.NewService()
	resolver := rbac.NewResolver(levels, rbac.DefaultBands())
	targeting := notify.NewTargeting(levels, dataStore)

	sinks := []notify.Sink{notify.NewStoreSink(dataStore), notify.NewLogSink(log.With("component", "notify"))}
	emailService := email.NewService(email.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
		FromName: cfg.Email.SMTPFromName,
		AppName:  cfg.Email.AppName,
	})
	if emailService.IsConfigured() {
		sinks = append(sinks, email.NewSink(emailService))
	} else {
		log.Info("SMTP not configured, email delivery disabled")
	}
	dispatcher := notify.NewDispatcher(targeting, cfg.Server.BaseURL, sinks...)
	if deduper != nil {
		dispatcher.WithDeduper(deduper, cfg.Governance.DedupTTL)
	}

	evaluator := engine.NewEvaluator(levels, deadlines, responsibility, resolver, closer, engine.Options{
		NotifyIntermediateLevels: cfg.Governance.NotifyIntermediateLevels,
		ExpiryGraceDays:          cfg.Governance.ExpiryGraceDays,
	})
	coordinator := engine.NewCoordinator(dataStore, locker, evaluator, deadlines, closer, dispatcher).
		WithIndexer(searchService).
		WithSweepWorkers(cfg.Scheduler.SweepWorkers).
		WithLockTimeout(cfg.Governance.LockTimeout)

	archiving := false
	if cfg.Archive.Enabled {
		archiver, err := archive.New(ctx, archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			log.Error("archive storage unavailable", "error", err)
			os.Exit(1)
		}
		coordinator.WithArchiver(archiver)
		archiving = true
	}

	jobs := scheduler.NewScheduler(coordinator, cfg.Scheduler, archiving)
	jobs.Start()

	service := app.New(dataStore, coordinator, app.Governance{
		Levels:    levels,
		Deadlines: deadlines,
		Gate:      responsibility,
		Resolver:  resolver,
		Targeting: targeting,
	}, searchService)

	httpServer := app.NewHTTPServer(service, cfg.Server.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Agenda API listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	jobs.Stop()

	// Let in-flight notification dispatch finish before closing the stores
	// it writes to.
	drained := make(chan struct{})
	go func() {
		coordinator.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn("notification dispatch still running at shutdown")
	}
	log.Info("Agenda API stopped")
}
