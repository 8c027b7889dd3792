package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/steprunner/pkg/config"
)

func (a *app) newValidateCmd() *cobra.Command {
	var configs []string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate configuration, then list steps and sub-steps",
		Args:  cobra.NoArgs,
		RunE: a.command(func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(configs)
			if err != nil {
				return err
			}
			impls, err := a.implementers()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			steps := cfg.StepNames()
			fmt.Fprintf(out, "✓ configuration is valid (%d steps)\n", len(steps))
			var unresolved int
			for _, name := range steps {
				fmt.Fprintf(out, "\n  %s\n", name)
				for _, ss := range cfg.StepConfig(name).SubSteps() {
					qualified, _, err := impls.Lookup(name, ss.Implementer())
					mark := "✓"
					if err != nil {
						mark = "?"
						unresolved++
					}
					fmt.Fprintf(out, "    %s %s → %s\n", mark, ss.Name(), qualified)
				}
			}
			if unresolved > 0 {
				fmt.Fprintf(out, "\n  ? %d sub-step implementer(s) are not built into this binary\n", unresolved)
			}
			return nil
		}),
	}
	cmd.Flags().StringArrayVarP(&configs, "config", "c", nil, "Configuration file or directory, repeatable (required)")
	cmd.MarkFlagRequired("config")
	return cmd
}

func (a *app) newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema [document|sub-step]",
		Short:     "Print the configuration JSON Schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"document", "sub-step"},
		RunE: a.command(func(cmd *cobra.Command, args []string) error {
			kind := "document"
			if len(args) == 1 {
				kind = args[0]
			}
			generate := config.GenerateDocumentJSONSchema
			if kind == "sub-step" {
				generate = config.GenerateSubStepJSONSchema
			}
			data, err := generate()
			if err != nil {
				return fmt.Errorf("generate schema: %w", err)
			}
			var out json.RawMessage = data
			formatted, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("format schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
			return nil
		}),
	}
}

func (a *app) newImplementersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "implementers",
		Short: "List the implementers built into this binary",
		Args:  cobra.NoArgs,
		RunE: a.command(func(cmd *cobra.Command, _ []string) error {
			impls, err := a.implementers()
			if err != nil {
				return err
			}
			for _, name := range impls.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}),
	}
}
