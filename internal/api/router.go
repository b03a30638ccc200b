package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/triage-ai/replyguard/internal/auth"
	"github.com/triage-ai/replyguard/internal/pipeline"
	"github.com/triage-ai/replyguard/internal/telemetry"
	"go.uber.org/zap"
)

// Pipeline is the part of the orchestrator the HTTP layer drives.
type Pipeline interface {
	Submit(ctx context.Context, msg pipeline.InboundMessage) (pipeline.Outcome, error)
	CloseSession(id string) bool
}

// HistoryReader serves persisted aggregate counts.
type HistoryReader interface {
	History(ctx context.Context, p telemetry.HistoryParams) ([]telemetry.Count, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Pipeline Pipeline
	Auth     auth.Authenticator
	Counts   func() []telemetry.Count // nil disables GET /v1/decisions/counts
	History  HistoryReader            // nil disables GET /v1/decisions/history
	Logger   *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Intake (auth required via Bearer rgk_ key)
	mux.HandleFunc("POST /v1/messages", deps.authMiddleware(deps.handleMessage))
	mux.HandleFunc("DELETE /v1/sessions/{session_id}", deps.authMiddleware(deps.handleCloseSession))
	mux.HandleFunc("GET /v1/decisions/counts", deps.authMiddleware(deps.handleCounts))
	mux.HandleFunc("GET /v1/decisions/history", deps.authMiddleware(deps.handleHistory))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
