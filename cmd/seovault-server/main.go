// Command seovault-server serves the seovault HTTP API, the audit event
// stream and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/persistorai/seovault/internal/api"
	"github.com/persistorai/seovault/internal/app"
	"github.com/persistorai/seovault/internal/config"
	"github.com/persistorai/seovault/internal/db"
	"github.com/persistorai/seovault/internal/models"
	"github.com/persistorai/seovault/internal/ws"
)

const (
	shutdownTimeout   = 10 * time.Second
	retentionInterval = 24 * time.Hour
	retentionActor    = "system:retention"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seovault-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := app.NewLogger(cfg)

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}

	hub := ws.NewHub(log, a.Audit)

	if a.PublishesOwnNotices() {
		if err := db.NewNotifyBridge(log, a.Pool, hub, a.Audit).Start(ctx); err != nil {
			return err
		}
	} else {
		a.Audit.WithPublisher(hub)
	}

	router := api.NewRouter(ctx, &api.RouterDeps{
		Log:           log,
		Store:         a.Storage,
		Hub:           hub,
		Gateway:       a.Gateway,
		Settings:      a.Settings,
		Actors:        a.APIKeys,
		Limiter:       a.Limiter,
		Throttle:      a.Throttle,
		CORSOrigins:   cfg.CORSOrigins,
		Version:       config.Version,
		RetentionDays: cfg.AuditRetentionDays,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr(),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The audit worker outlives the HTTP server so events queued by
	// in-flight requests are still written.
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorker()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Worker.Run(workerCtx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		retentionLoop(gctx, a, log)
		return nil
	})
	g.Go(func() error { return serve(srv, "api", log) })
	g.Go(func() error { return serve(metricsSrv, "metrics", log) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("api server shutdown")
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("metrics server shutdown")
		}

		stopWorker()
		return nil
	})

	log.WithFields(logrus.Fields{
		"addr":    cfg.Addr(),
		"metrics": cfg.MetricsAddr(),
		"storage": cfg.StorageDriver,
		"limiter": cfg.RateLimitBackend,
		"version": config.Version,
	}).Info("seovault-server starting")

	return g.Wait()
}

func serve(srv *http.Server, name string, log *logrus.Logger) error {
	log.WithField("addr", srv.Addr).Infof("%s server listening", name)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// retentionLoop purges audit events older than AUDIT_RETENTION_DAYS once at
// startup and then daily.
func retentionLoop(ctx context.Context, a *app.App, log *logrus.Logger) {
	purge := func() {
		days := a.Config.AuditRetentionDays

		deleted, err := a.Audit.Purge(ctx, days)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warn("retention purge failed")
			}
			return
		}
		if deleted == 0 {
			return
		}

		_, err = a.Audit.Append(ctx, models.NewAuditEvent{
			EventType: models.EventAuditPurged,
			Actor:     retentionActor,
			Details:   map[string]any{"retention_days": days, "deleted": deleted},
		})
		if err != nil {
			log.WithError(err).Warn("recording retention purge")
		}
	}

	purge()

	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}
