package model

import (
	"context"
	"fmt"
	"time"

	"github.com/triage-ai/replyguard/internal/signals"
	"github.com/triage-ai/replyguard/internal/verify"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names of the remote model service. Requests and responses are
// google.protobuf.Struct messages.
const (
	MethodGenerate = "/replyguard.model.v1.ModelService/Generate"
	MethodVerify   = "/replyguard.model.v1.ModelService/Verify"
)

// GRPC is a verify.Collaborator that calls a remote model service.
type GRPC struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// NewGRPC dials the model service. endpoint is a gRPC target
// (e.g. "model-gateway:50051").
func NewGRPC(endpoint string, logger *zap.Logger, opts ...grpc.DialOption) (*GRPC, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	conn, err := grpc.NewClient(endpoint, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("NewGRPC: %w", err)
	}

	logger.Info("grpc model collaborator configured",
		zap.String("endpoint", endpoint),
	)
	return &GRPC{conn: conn, logger: logger}, nil
}

func (g *GRPC) Generate(ctx context.Context, session verify.SessionContext, prompt string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"trace_id": session.TraceID,
		"age_band": session.AgeBand,
		"mixture":  session.Mixture,
		"prompt":   prompt,
	})
	if err != nil {
		return "", fmt.Errorf("GRPC.Generate: %w", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, MethodGenerate, req, resp); err != nil {
		return "", classifyGRPC("GRPC.Generate", err)
	}
	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", fmt.Errorf("GRPC.Generate: response has no text field")
	}
	return text.GetStringValue(), nil
}

func (g *GRPC) Verify(ctx context.Context, candidate string, policy verify.PolicyContext) (verify.Judgment, error) {
	categories := make([]any, len(policy.Categories))
	for i, c := range policy.Categories {
		categories[i] = c
	}
	req, err := structpb.NewStruct(map[string]any{
		"candidate":        candidate,
		"prompt":           policy.Prompt,
		"precheck_verdict": policy.PreCheckVerdict,
		"categories":       categories,
		"age_band":         policy.AgeBand,
		"mixture":          policy.Mixture,
	})
	if err != nil {
		return verify.Judgment{}, fmt.Errorf("GRPC.Verify: %w", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, MethodVerify, req, resp); err != nil {
		return verify.Judgment{}, classifyGRPC("GRPC.Verify", err)
	}

	fields := resp.GetFields()
	var j verify.Judgment
	switch fields["verdict"].GetStringValue() {
	case "PASS":
		j.Verdict = verify.JudgmentPass
	case "FAIL":
		j.Verdict = verify.JudgmentFail
	default:
		return verify.Judgment{}, fmt.Errorf("GRPC.Verify: %w: verdict %q",
			verify.ErrMalformedJudgment, fields["verdict"].GetStringValue())
	}
	if sev, ok := signals.ParseSeverity(fields["severity"].GetStringValue()); ok {
		j.Severity = sev
	}
	j.Reason = fields["reason"].GetStringValue()
	return j, nil
}

// Close shuts down the gRPC connection.
func (g *GRPC) Close() error {
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}

func classifyGRPC(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return verify.Transient(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
