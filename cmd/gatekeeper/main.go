// cmd/gatekeeper/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gatekeeper/internal/catalog"
	"gatekeeper/internal/common/config"
	"gatekeeper/internal/common/database"
	"gatekeeper/internal/common/logger"
	"gatekeeper/internal/common/observability"
	"gatekeeper/internal/decision"
	"gatekeeper/internal/intake"
	"gatekeeper/internal/platform"
	"gatekeeper/internal/review"
	"gatekeeper/internal/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting gatekeeper...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("gatekeeper")
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if err := store.Migrate(ctx, pg.DB); err != nil {
		zapLog.Fatal("schema migration failed", zap.Error(err))
	}

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Gateway with retry ---
	var gateway *platform.Client
	requestTimeout := time.Duration(cfg.Gateway.RequestTimeout) * time.Millisecond
	err = retryWithBackoff(func() error {
		var err error
		gateway, err = platform.Dial(cfg.Gateway.Address, requestTimeout, log)
		return err
	}, 10, 2*time.Second, zapLog, "Gateway connection")

	if err != nil {
		zapLog.Fatal("gateway failed after retries", zap.Error(err))
	}
	defer gateway.Close()
	zapLog.Info("Gateway connected successfully")

	// --- Assemble the engine ---
	formCatalog, err := catalog.NewFileCatalog(cfg.Catalog.Path, log)
	if err != nil {
		zapLog.Fatal("catalog init failed", zap.Error(err))
	}

	appStore := store.NewPostgresStore(pg.DB, log)
	reviewService := review.NewService(appStore, formCatalog, log)

	guard := intake.NewSessionGuard(redis.Client, time.Duration(cfg.Intake.SessionLeaseTTL)*time.Second)
	runner := intake.NewRunner(
		formCatalog,
		appStore,
		gateway,
		gateway,
		time.Duration(cfg.Intake.QuestionTimeout)*time.Second,
		cfg.Intake.CancelKeyword,
		log,
		intake.WithSessionGuard(guard),
		intake.WithObservability(obs),
	)

	processor := decision.NewProcessor(
		appStore,
		formCatalog,
		gateway,
		log,
		decision.WithRoleGranter(gateway),
		decision.WithCandidateNotifier(gateway),
		decision.WithObservability(obs),
	)
	commands := decision.NewCommandAdapter(processor)
	controls := decision.NewControlAdapter(processor, gateway, gateway, log)

	router := platform.NewRouter(
		cfg.Gateway.CommandPrefix,
		cfg.App.OwnerID,
		runner,
		commands,
		reviewService,
		formCatalog,
		gateway,
		gateway,
		gateway,
		log,
	)

	gateway.OnMessage(router.HandleMessage)
	gateway.OnControl(func(ctx context.Context, ev platform.ControlEvent) {
		if err := controls.HandleClick(ctx, decision.ControlClick{
			InteractionID: ev.InteractionID,
			Token:         ev.Token,
			ReviewerID:    ev.UserID,
			SurfaceID:     ev.ChannelID,
		}); err != nil {
			zapLog.Error("control click failed", zap.Error(err))
		}
	})

	// --- Health & Metrics Server ---
	if cfg.Metrics.Enabled {
		go func() {
			http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "healthy",
					"time":   time.Now().Format(time.RFC3339),
				})
			})
			http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "ready",
					"time":   time.Now().Format(time.RFC3339),
				})
			})
			http.Handle("/metrics", promhttp.Handler())
			zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
			if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
				zapLog.Error("Health/Metrics server failed", zap.Error(err))
			}
		}()
	}

	zapLog.Info("Gatekeeper running",
		zap.String("prefix", cfg.Gateway.CommandPrefix),
		zap.Int("questionTimeout_s", cfg.Intake.QuestionTimeout),
	)

	// Run blocks on the gateway read loop until shutdown or disconnect.
	if err := gateway.Run(ctx); err != nil && ctx.Err() == nil {
		zapLog.Error("gateway connection lost", zap.Error(err))
	}

	zapLog.Info("Gatekeeper stopped gracefully")
}
