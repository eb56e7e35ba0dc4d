// Command server runs the dispatch API: request ledger, visit reports, the
// staff chat and the realtime websocket bridge.
//
//	@title			Dispatch API
//	@version		1.0
//	@description	Storefront request coordination: quota-limited status requests, visit reports and staff chat.
//	@BasePath		/api/v1
//	@schemes		http https
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/config"
	httpapi "github.com/tbourn/go-dispatch-backend/internal/http"
	"github.com/tbourn/go-dispatch-backend/internal/observability"
	"github.com/tbourn/go-dispatch-backend/internal/realtime"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
	"github.com/tbourn/go-dispatch-backend/internal/sysutil"
)

// version is stamped with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Build{Version: version, Role: "server"})
	if err != nil {
		log.Fatal().Err(err).Msg("otel")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	coord := config.NewLive(cfg.Coordination)
	if cfg.CoordinationFile != "" {
		if err := coord.Watch(ctx, cfg.CoordinationFile, log.With().Str("component", "coordination").Logger()); err != nil {
			log.Warn().Err(err).Str("path", cfg.CoordinationFile).Msg("coordination hot reload disabled")
		}
	}

	go purgeIdempotencyKeys(ctx, db, time.Hour)

	hub := realtime.NewHub(log.With().Str("component", "hub").Logger())

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{DB: db, Hub: hub, Coord: coord}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("business_tz", cfg.BusinessTZ).
			Str("quota_period", cfg.QuotaPeriod).
			Str("coordination", coord.Current().String()).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("listen")
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Close websocket subscriptions first; Shutdown does not wait for hijacked conns.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}

// purgeIdempotencyKeys deletes expired replay keys every interval until ctx ends.
func purgeIdempotencyKeys(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeIdempotencyKeys(ctx, db, now)
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("expired idempotency keys purged")
			}
		}
	}
}
