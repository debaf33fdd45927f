// Command server runs the multi-tenant WhatsApp agent backend: webhook
// intake, tenant provisioning, and campaign sends.
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

	"github.com/vendra-ai/go-agent-backend/internal/config"
	httpapi "github.com/vendra-ai/go-agent-backend/internal/http"
	"github.com/vendra-ai/go-agent-backend/internal/observability"
	"github.com/vendra-ai/go-agent-backend/internal/repo"
	"github.com/vendra-ai/go-agent-backend/internal/services"
	"github.com/vendra-ai/go-agent-backend/internal/sysutil"
	"github.com/vendra-ai/go-agent-backend/internal/vault"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// fallbackDecider stands in when no agent decision layer is attached: it
// acknowledges the customer with a fixed reply and invokes no tools. Real
// deployments inject their own services.Decider here.
type fallbackDecider struct {
	reply string
}

func (d fallbackDecider) Decide(context.Context, services.DecisionInput) (services.Decision, error) {
	return services.Decision{Reply: d.reply}, nil
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	v, err := vault.New(cfg.VaultKey)
	if err != nil {
		log.Fatal().Err(err).Msg("vault key invalid")
	}

	// Processed-message rows expire after DedupTTL; sweep them hourly.
	go purgeDedupLoop(ctx, db)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, v, fallbackDecider{
		reply: sysutil.FirstNonEmpty(os.Getenv("AGENT_FALLBACK_REPLY"),
			"Recebemos sua mensagem! Em instantes um atendente continua a conversa."),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
}

// purgeDedupLoop deletes expired processed-message rows until ctx ends.
func purgeDedupLoop(ctx context.Context, db *gorm.DB) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := repo.PurgeExpiredMessages(ctx, db, time.Now()); err != nil {
				log.Warn().Err(err).Msg("dedup purge failed")
			}
		}
	}
}
