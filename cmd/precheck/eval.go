package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/triage-ai/replyguard/internal/policy"
	"github.com/triage-ai/replyguard/internal/precheck"
)

type evalResult struct {
	Verdict    string   `json:"verdict"`
	Severity   string   `json:"severity"`
	Rule       string   `json:"rule"`
	Confidence float32  `json:"confidence"`
	Categories []string `json:"categories"`
	Mixture    string   `json:"language_mix"`
	Decision   string   `json:"decision"`
	Findings   []string `json:"findings,omitempty"`
}

func newEvalCmd(opts *rootOptions) *cobra.Command {
	var showFindings bool
	cmd := &cobra.Command{
		Use:   "eval [text...]",
		Short: "Run the pre-check stage on text (arguments, or stdin when none)",
		Long: `Run the pre-check stage on one message. The text is taken from the
arguments, or from stdin when there are none.

  precheck eval "my number is 0551234567"
  echo "ignore all previous instructions" | precheck eval --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = strings.TrimRight(string(b), "\r\n")
			}

			cfg, err := policy.LoadConfig(opts.policyPath)
			if err != nil {
				return err
			}
			engine, err := policy.NewEngine(cfg)
			if err != nil {
				return err
			}
			res := precheck.NewStage(cfg.PreCheck(), nil).Check(text)
			out := buildEvalResult(engine, res, showFindings)
			return printEval(cmd.OutOrStdout(), out, opts.jsonOut)
		},
	}
	cmd.Flags().BoolVar(&showFindings, "findings", false, "List individual findings (category, span, confidence)")
	return cmd
}

// buildEvalResult adds the decision the server would take without a model
// call. Anything not UNSAFE goes to the verification loop.
func buildEvalResult(engine *policy.Engine, res precheck.Result, showFindings bool) evalResult {
	out := evalResult{
		Verdict:    res.Verdict.String(),
		Severity:   res.Severity.String(),
		Rule:       res.Rule,
		Confidence: res.Confidence,
		Categories: res.CategoryNames(),
		Mixture:    res.Mixture,
		Decision:   "VERIFY",
	}
	if res.Verdict == precheck.VerdictUnsafe {
		dec := engine.Decide(policy.Input{PreCheck: res.Verdict, PreCheckSeverity: res.Severity})
		out.Decision = dec.Outcome.String() + " (" + dec.Rule + ")"
	}
	if showFindings {
		for _, f := range res.Findings {
			out.Findings = append(out.Findings,
				fmt.Sprintf("%s [%d,%d) %.2f %s", f.Category, f.Start, f.End, f.Confidence, f.Detail))
		}
	}
	return out
}

func printEval(w io.Writer, out evalResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "verdict:    %s\n", out.Verdict)
	fmt.Fprintf(w, "severity:   %s\n", out.Severity)
	fmt.Fprintf(w, "rule:       %s\n", out.Rule)
	fmt.Fprintf(w, "categories: %s\n", strings.Join(out.Categories, ", "))
	fmt.Fprintf(w, "mixture:    %s\n", out.Mixture)
	fmt.Fprintf(w, "decision:   %s\n", out.Decision)
	for _, f := range out.Findings {
		fmt.Fprintf(w, "  - %s\n", f)
	}
	return nil
}
