package model

import (
	"context"
	"strings"

	"github.com/triage-ai/replyguard/internal/precheck"
	"github.com/triage-ai/replyguard/internal/verify"
)

const staticReply = "Thanks for your message! Let's keep practising together. / شكراً لرسالتك! لنواصل التدريب معاً."

// Static is an offline collaborator for local development. It always proposes
// the same reply and judges candidates with the local pre-check stage.
type Static struct {
	Reply string
	stage *precheck.Stage
}

// NewStatic creates a Static collaborator. An empty reply uses a built-in
// bilingual one.
func NewStatic(reply string, stage *precheck.Stage) *Static {
	if reply == "" {
		reply = staticReply
	}
	if stage == nil {
		stage = precheck.NewStage(precheck.DefaultConfig(), nil)
	}
	return &Static{Reply: reply, stage: stage}
}

func (s *Static) Generate(ctx context.Context, _ verify.SessionContext, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Reply, nil
}

func (s *Static) Verify(ctx context.Context, candidate string, _ verify.PolicyContext) (verify.Judgment, error) {
	if err := ctx.Err(); err != nil {
		return verify.Judgment{}, err
	}
	res := s.stage.Check(candidate)
	if res.Verdict == precheck.VerdictSafe {
		return verify.Judgment{Verdict: verify.JudgmentPass, Severity: res.Severity, Reason: "local check clean"}, nil
	}
	return verify.Judgment{
		Verdict:  verify.JudgmentFail,
		Severity: res.Severity,
		Reason:   "local check: " + strings.Join(res.CategoryNames(), ","),
	}, nil
}
