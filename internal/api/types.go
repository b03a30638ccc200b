package api

// MessageRequest is the request body for POST /v1/messages.
type MessageRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	AgeBand   string `json:"age_band,omitempty"`
}

// MessageResponse is the terminal outcome for one message. Text is the
// verified reply for deliver, otherwise the configured refusal or hold text.
type MessageResponse struct {
	Outcome   string  `json:"outcome"`
	Text      string  `json:"text"`
	TraceID   string  `json:"trace_id"`
	Severity  string  `json:"severity"`
	Rule      string  `json:"rule"`
	LatencyMs float64 `json:"latency_ms"`
}

// CloseSessionResponse is returned by DELETE /v1/sessions/{session_id}.
type CloseSessionResponse struct {
	SessionID string `json:"session_id"`
	Closed    bool   `json:"closed"`
}

// DecisionCount is one aggregate bucket.
type DecisionCount struct {
	Outcome  string `json:"outcome"`
	Severity string `json:"severity"`
	Mixture  string `json:"language_mix"`
	Bucket   string `json:"time_bucket"`
	Count    uint64 `json:"count"`
}

// CountsResponse is returned by GET /v1/decisions/counts and /history.
type CountsResponse struct {
	Counts []DecisionCount `json:"counts"`
}

// ErrorResp is the standard error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
