package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/triage-ai/replyguard/internal/policy"
	"gopkg.in/yaml.v3"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-policy [file]",
		Short: "Check a policy YAML file and list every problem",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.policyPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("validate-policy: no policy file given")
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("validate-policy: %w", err)
			}

			w := cmd.OutOrStdout()
			cfg, err := policy.ParseConfig(data)
			if err != nil {
				var cerr *policy.ConfigurationError
				if errors.As(err, &cerr) {
					for _, p := range cerr.Problems {
						fmt.Fprintf(w, "  - %s\n", p)
					}
				}
				return fmt.Errorf("%s: invalid policy", path)
			}
			fmt.Fprintf(w, "%s: ok (version %q)\n", path, cfg.Version)
			return nil
		},
	}
}

func newDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Print the built-in policy as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(policy.DefaultConfig()); err != nil {
				return fmt.Errorf("defaults: %w", err)
			}
			return enc.Close()
		},
	}
}
