// Package cmd implements the airq command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/airq/internal/config"
	"github.com/3leaps/airq/internal/observability"
	"github.com/3leaps/airq/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var appIdentity *config.Identity

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "airq",
	Short: "Air-quality ETL service",
	Long: `airq cleans public air-quality exports.

A job takes three sources (an AQI history CSV, a measures workbook and an
indicator JSON document), normalizes them, and writes three cleaned CSV
artifacts. Jobs run in the background behind an HTTP API ('airq serve') or
synchronously from the command line ('airq run').`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initCLI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./airq.yaml or ~/.config/airq/airq.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command and exits with the error's exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		observability.CLILogger.Error(err.Error())
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeOf(err))
	}
}

// SetVersionInfo records build metadata for the version command and endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set during CLI initialization.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

func initCLI(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("airq", verbose)
	id := config.DefaultIdentity
	appIdentity = &id
	config.SetConfigFile(cfgFile)
	return nil
}

// loadConfig loads configuration for commands that need it.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return cfg, nil
}

// exitCodeError carries a process exit code through cobra.
type exitCodeError struct {
	code    int
	message string
	err     error
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &exitCodeError{code: code, message: message, err: err}
}

func exitCodeOf(err error) int {
	var ee *exitCodeError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// ExitWithCode logs and exits immediately. Reserved for checks that cannot
// return an error through cobra.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	_ = logger.Sync()
	os.Exit(code)
}
