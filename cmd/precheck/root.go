package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	policyPath string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "precheck",
		Short: "replyguard pre-check - local safety verdicts without a model",
		Long: `precheck runs the replyguard signal extractors and pre-check rule table
against text, the same way the server does before any model call, and
validates policy files before they are deployed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.policyPath, "policy", "", "Path to policy YAML file (default: built-in policy)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Print machine-readable JSON")

	root.AddCommand(
		newEvalCmd(opts),
		newValidateCmd(opts),
		newDefaultsCmd(),
	)
	return root
}
