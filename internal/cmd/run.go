package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/airq/internal/observability"
	"github.com/3leaps/airq/pkg/extract"
	"github.com/3leaps/airq/pkg/load"
	"github.com/3leaps/airq/pkg/output"
	"github.com/3leaps/airq/pkg/pipeline"
)

var (
	runHistory    string
	runMeasures   string
	runIndicators string
	runDir        string
	runOut        string
	runRules      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ETL pipeline synchronously",
	Long: `Run the extract, transform and load stages once and print a JSONL summary.

Sources and the output base may be local paths or s3:// URIs.

Examples:
  airq run --history aqi.csv --measures measures.xlsx --json indicators.json --out clean_data/run_clean.csv
  airq run --dir ./raw --out s3://bucket/clean/run_clean.csv`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runHistory, "history", "", "History CSV source")
	runCmd.Flags().StringVar(&runMeasures, "measures", "", "Measures workbook source")
	runCmd.Flags().StringVar(&runIndicators, "json", "", "Indicator JSON source")
	runCmd.Flags().StringVar(&runDir, "dir", "", "Discover the three sources under this directory or prefix")
	runCmd.Flags().StringVar(&runOut, "out", "", "Artifact base, e.g. clean_data/run_clean.csv (required)")
	runCmd.Flags().StringVar(&runRules, "rules", "", "Cleaning rules file (overrides config)")
	_ = runCmd.MarkFlagRequired("out")
	runCmd.MarkFlagsMutuallyExclusive("dir", "history")
	runCmd.MarkFlagsMutuallyExclusive("dir", "measures")
	runCmd.MarkFlagsMutuallyExclusive("dir", "json")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	rulesPath := cfg.Pipeline.RulesPath
	if runRules != "" {
		rulesPath = runRules
	}

	logger := observability.CLILogger
	p, resolver, err := newPipeline(cfg, rulesPath, logger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cleaning rules", err)
	}
	defer func() { _ = resolver.Close() }()

	runID := uuid.NewString()
	w := output.NewJSONLWriter(os.Stdout, "airq.run")
	defer func() { _ = w.Close() }()

	return runPipeline(ctx, p, w, runID, pipeline.Locations{
		History:    runHistory,
		Measures:   runMeasures,
		Indicators: runIndicators,
	}, runDir, runOut, logger)
}

// runPipeline resolves sources, runs p and reports the outcome on w.
func runPipeline(ctx context.Context, p *pipeline.Pipeline, w output.Writer, runID string, locs pipeline.Locations, dir, out string, logger *zap.Logger) error {
	if dir != "" {
		found, err := p.Discover(ctx, dir)
		if err != nil {
			return reportRunError(ctx, w, runID, err)
		}
		locs = found
		logger.Info("Discovered sources",
			zap.String("history", locs.History),
			zap.String("measures", locs.Measures),
			zap.String("json", locs.Indicators))
	}

	sources, err := p.Sources(ctx, locs)
	if err != nil {
		return reportRunError(ctx, w, runID, err)
	}

	res, err := p.Run(ctx, sources, out)
	if err != nil {
		return reportRunError(ctx, w, runID, err)
	}

	summary := &output.SummaryRecord{
		Artifacts: map[string]string{
			"history":  res.Artifacts.History,
			"measures": res.Artifacts.Measures,
			"json":     res.Artifacts.Indicators,
		},
		Rows: map[string]int{
			"history":  res.Statistics.HistoryRows,
			"measures": res.Statistics.MeasuresRows,
			"json":     res.Statistics.IndicatorRows,
		},
		Warnings:      res.WarningMessages(),
		Duration:      res.Duration,
		DurationHuman: res.Duration.String(),
	}
	if err := w.WriteSummary(ctx, runID, summary); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write summary", err)
	}
	return nil
}

// reportRunError writes err as an error record and maps it to an exit code.
func reportRunError(ctx context.Context, w output.Writer, runID string, err error) error {
	rec, code, message := describeRunError(err)
	if werr := w.WriteError(ctx, runID, rec); werr != nil {
		observability.CLILogger.Warn("Failed to write error record", zap.Error(werr))
	}
	return exitError(code, message, err)
}

func describeRunError(err error) (*output.ErrorRecord, int, string) {
	rec := &output.ErrorRecord{Code: output.ErrCodeInternal, Message: err.Error()}

	var se *pipeline.StageError
	if errors.As(err, &se) {
		rec.Stage = string(se.Stage)
	}

	var ee *extract.ExtractionError
	var le *load.LoadError
	switch {
	case errors.As(err, &ee):
		rec.Dataset = ee.Dataset.String()
		if rec.Stage == "" {
			rec.Stage = string(pipeline.StageExtract)
		}
		if ee.Kind == extract.KindParseFailure {
			rec.Code = output.ErrCodeParseFailure
			return rec, foundry.ExitFileReadError, "Failed to parse source"
		}
		rec.Code = output.ErrCodeNotFound
		return rec, foundry.ExitFileNotFound, "Source not found"
	case errors.As(err, &le):
		rec.Code = output.ErrCodeIOFailure
		rec.Dataset = le.Dataset.String()
		if len(le.Written) > 0 {
			rec.Details = map[string]any{"written": le.Written}
		}
		return rec, foundry.ExitFileWriteError, "Failed to write artifacts"
	case errors.Is(err, context.Canceled):
		return rec, foundry.ExitSignalInt, "Run cancelled"
	}
	return rec, 1, "Run failed"
}
