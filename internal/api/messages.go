package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/triage-ai/replyguard/internal/pipeline"
	"github.com/triage-ai/replyguard/internal/telemetry"
	"go.uber.org/zap"
)

// maxSessionIDLen bounds the opaque session identifier.
const maxSessionIDLen = 256

// scopedSessionID namespaces a caller's session id by the authenticated
// client, so two integrations can never share a session queue.
func scopedSessionID(r *http.Request, id string) string {
	if c := clientFromContext(r.Context()); c != nil {
		return c.ID + "/" + id
	}
	return id
}

// handleMessage implements POST /v1/messages. It blocks until the message
// reaches a terminal outcome; every accepted message gets exactly one.
func (d *Dependencies) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "session_id is required"})
		return
	}
	if len(req.SessionID) > maxSessionIDLen {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "session_id is too long"})
		return
	}

	out, err := d.Pipeline.Submit(r.Context(), pipeline.InboundMessage{
		SessionID: scopedSessionID(r, req.SessionID),
		Text:      req.Text,
		AgeBand:   req.AgeBand,
		ArrivedAt: time.Now(),
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrClosed) {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Service is shutting down"})
			return
		}
		d.Logger.Error("submit failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Outcome:   out.Decision.String(),
		Text:      out.Text,
		TraceID:   out.TraceID,
		Severity:  out.Severity.String(),
		Rule:      out.Rule,
		LatencyMs: float64(out.Latency) / float64(time.Millisecond),
	})
}

// handleCloseSession implements DELETE /v1/sessions/{session_id}. Queued and
// in-flight messages of the session resolve as escalations.
func (d *Dependencies) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "session_id is required"})
		return
	}
	closed := d.Pipeline.CloseSession(scopedSessionID(r, id))
	if !closed {
		writeJSON(w, http.StatusNotFound, CloseSessionResponse{SessionID: id})
		return
	}
	writeJSON(w, http.StatusOK, CloseSessionResponse{SessionID: id, Closed: true})
}

// handleCounts implements GET /v1/decisions/counts: the live aggregate
// counters, without draining them.
func (d *Dependencies) handleCounts(w http.ResponseWriter, _ *http.Request) {
	if d.Counts == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "counts are not available"})
		return
	}
	writeJSON(w, http.StatusOK, toCountsResponse(d.Counts()))
}

// handleHistory implements GET /v1/decisions/history?from=&to=, reading
// persisted counts. Optional outcome, severity and language_mix filters.
func (d *Dependencies) handleHistory(w http.ResponseWriter, r *http.Request) {
	if d.History == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "history is not available"})
		return
	}
	q := r.URL.Query()

	var params telemetry.HistoryParams
	var err error
	if params.From, err = time.Parse(time.RFC3339, q.Get("from")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "from must be an RFC 3339 timestamp"})
		return
	}
	if params.To, err = time.Parse(time.RFC3339, q.Get("to")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "to must be an RFC 3339 timestamp"})
		return
	}
	params.Outcome = optionalParam(q.Get("outcome"))
	params.Severity = optionalParam(q.Get("severity"))
	params.Mixture = optionalParam(q.Get("language_mix"))
	if err := params.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	counts, err := d.History.History(r.Context(), params)
	if err != nil {
		d.Logger.Error("history query failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, ErrorResp{Detail: "history query failed"})
		return
	}
	writeJSON(w, http.StatusOK, toCountsResponse(counts))
}

func optionalParam(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func toCountsResponse(counts []telemetry.Count) CountsResponse {
	resp := CountsResponse{Counts: make([]DecisionCount, 0, len(counts))}
	for _, c := range counts {
		resp.Counts = append(resp.Counts, DecisionCount{
			Outcome:  c.Outcome,
			Severity: c.Severity,
			Mixture:  c.Mixture,
			Bucket:   c.Bucket.Format(time.RFC3339),
			Count:    c.N,
		})
	}
	return resp
}
