package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/airq/pkg/manifest"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and validate cleaning rules",
}

var rulesShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Print the effective cleaning rules",
	Long: `Print the cleaning rules a run would use.

Without a file argument the built-in rules are printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesShow,
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a cleaning rules file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesValidate,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesShowCmd)
	rulesCmd.AddCommand(rulesValidateCmd)

	rulesShowCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRulesShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	rules, err := manifest.Load(path)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cleaning rules", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rules)
	}

	out, err := manifest.Marshal(rules)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err != nil {
		return exitError(foundry.ExitFileNotFound, "Rules file not found", err)
	}
	if _, err := manifest.Load(path); err != nil {
		var verrs manifest.ValidationErrors
		if errors.As(err, &verrs) {
			for _, v := range verrs {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", v.Error())
			}
		}
		return exitError(foundry.ExitInvalidArgument, "Invalid cleaning rules", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", path)
	return nil
}
