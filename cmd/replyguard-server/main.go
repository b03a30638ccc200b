package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/triage-ai/replyguard/internal/api"
	"github.com/triage-ai/replyguard/internal/auth"
	"github.com/triage-ai/replyguard/internal/escalation"
	"github.com/triage-ai/replyguard/internal/model"
	"github.com/triage-ai/replyguard/internal/pipeline"
	"github.com/triage-ai/replyguard/internal/policy"
	"github.com/triage-ai/replyguard/internal/telemetry"
	"github.com/triage-ai/replyguard/internal/verify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("REPLYGUARD_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("REPLYGUARD_HTTP_PORT", "8080")
	policyFile := os.Getenv("REPLYGUARD_POLICY_FILE")
	telemetrySecret := os.Getenv("REPLYGUARD_TELEMETRY_SECRET")
	apiKeys := os.Getenv("REPLYGUARD_API_KEYS")
	cacheTTL := envOrDefaultInt("REPLYGUARD_AUTH_CACHE_TTL_S", 30)
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	webhookURL := os.Getenv("ESCALATION_WEBHOOK_URL")
	outboxRetries := envOrDefaultInt("ESCALATION_OUTBOX_MAX_RETRIES", 5)

	// Policy: a ConfigurationError stops the process before any message.
	cfg, err := policy.LoadConfig(policyFile)
	if err != nil {
		logger.Fatal("invalid policy configuration", zap.String("file", policyFile), zap.Error(err))
	}
	engine, err := policy.NewEngine(cfg)
	if err != nil {
		logger.Fatal("invalid policy configuration", zap.Error(err))
	}

	logger.Info("starting replyguard server",
		zap.String("http_port", httpPort),
		zap.String("policy_version", cfg.Version),
		zap.Int("round_budget", cfg.RoundBudget),
		zap.Duration("message_timeout", time.Duration(cfg.MessageTimeout)),
	)

	collab, closeCollab := mustBuildCollaborator(logger)
	defer closeCollab()

	// Telemetry: ClickHouse, or LogSink fallback
	var sink telemetry.Sink
	if clickhouseDSN != "" {
		chSink, err := telemetry.NewClickHouseSink(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log sink",
				zap.Error(err),
			)
			sink = telemetry.NewLogSink(logger)
		} else {
			sink = chSink
			logger.Info("clickhouse sink connected")
		}
	} else {
		sink = telemetry.NewLogSink(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log sink")
	}

	// History reads use their own connection.
	var history api.HistoryReader
	if clickhouseDSN != "" {
		reader, err := telemetry.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader unavailable, history disabled", zap.Error(err))
		} else {
			defer func() { _ = reader.Close() }()
			history = reader
		}
	}

	if telemetrySecret == "" {
		logger.Warn("no REPLYGUARD_TELEMETRY_SECRET set, session buckets will not survive a restart")
	}
	pseudo, err := telemetry.NewPseudonymizer([]byte(telemetrySecret), time.Duration(cfg.Telemetry.EpochLength))
	if err != nil {
		logger.Fatal("failed to create pseudonymizer", zap.Error(err))
	}
	emitter := telemetry.NewEmitter(
		telemetry.NewAggregator(time.Duration(cfg.Telemetry.TimeBucket)),
		pseudo, sink, logger,
	)

	// Postgres pool (escalation outbox and API key lookup)
	var db *sql.DB
	if postgresDSN != "" {
		db, err = sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, escalations are not persisted")
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Escalation: every notice is logged; with Postgres it goes through the
	// outbox and the relay delivers it to the webhook.
	notifiers := escalation.Fanout{escalation.NewLogNotifier(logger)}
	var webhook escalation.Notifier
	if webhookURL != "" {
		webhook = escalation.NewWebhookNotifier(webhookURL)
	}
	switch {
	case db != nil:
		store := escalation.NewSQLOutboxStore(db)
		notifiers = append(notifiers, escalation.NewPostgresOutbox(store))
		if webhook != nil {
			relay := escalation.NewRelay(store, webhook, outboxRetries, logger)
			go relay.Run(bgCtx, 2*time.Second)
			logger.Info("escalation outbox relay started")
		}
	case webhook != nil:
		notifiers = append(notifiers, webhook)
	}

	orch, err := pipeline.New(pipeline.Deps{
		Engine:        engine,
		Collaborator:  collab,
		Limiter:       verify.NewLimiter(cfg.Model.MaxConcurrent, cfg.Model.PerSecond, cfg.Model.Burst),
		Telemetry:     emitter,
		Pseudonymizer: pseudo,
		Notifier:      escalation.WithTimeout(notifiers, time.Duration(cfg.NotifyTimeout)),
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to create pipeline", zap.Error(err))
	}

	// Periodic aggregate flush
	if interval := time.Duration(cfg.Telemetry.FlushInterval); interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-bgCtx.Done():
					return
				case <-ticker.C:
					emitter.Flush()
				}
			}
		}()
	}

	// API key auth: static hashes from env, else the api_clients table
	var authenticator auth.Authenticator
	ttl := time.Duration(cacheTTL) * time.Second
	switch {
	case apiKeys != "":
		hashes, err := auth.ParseKeyHashes(apiKeys)
		if err != nil {
			logger.Fatal("invalid REPLYGUARD_API_KEYS", zap.Error(err))
		}
		authenticator = auth.NewStaticAuthenticator(hashes, ttl)
		logger.Info("static api keys loaded", zap.Int("clients", len(hashes)))
	case db != nil:
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: ttl,
			Logger:   logger,
		})
		logger.Info("api keys verified against postgres")
	default:
		logger.Fatal("REPLYGUARD_API_KEYS or POSTGRES_DSN is required")
	}

	deps := &api.Dependencies{
		Pipeline: orch,
		Auth:     authenticator,
		Counts:   emitter.Aggregator().Snapshot,
		History:  history,
		Logger:   logger,
	}
	writeTimeout := time.Duration(cfg.MessageTimeout) + 10*time.Second
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown: stop intake, drain sessions, flush telemetry.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown error", zap.Error(err))
	}
	stopBackground()
	emitter.Close()

	logger.Info("replyguard server stopped")
}

// mustBuildCollaborator picks the model backend: OpenAI, then a gRPC model
// service, then the offline static collaborator.
func mustBuildCollaborator(logger *zap.Logger) (verify.Collaborator, func()) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c, err := model.NewOpenAI(model.OpenAIConfig{
			APIKey:  key,
			Model:   os.Getenv("OPENAI_MODEL"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal("failed to create openai collaborator", zap.Error(err))
		}
		logger.Info("openai collaborator enabled")
		return c, func() {}
	}

	if endpoint := os.Getenv("MODEL_GRPC_ENDPOINT"); endpoint != "" {
		c, err := model.NewGRPC(endpoint, logger)
		if err != nil {
			logger.Fatal("failed to create grpc collaborator",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
		}
		return c, func() { _ = c.Close() }
	}

	logger.Warn("no model configured, using the offline static collaborator")
	return model.NewStatic("", nil), func() {}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
