// Package pipeline sequences the Extract, Transform and Load stages for one
// job.
//
// Extraction and load failures end the run. Transform warnings are collected
// on the Result and never fail it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/airq/pkg/extract"
	"github.com/3leaps/airq/pkg/load"
	"github.com/3leaps/airq/pkg/manifest"
	"github.com/3leaps/airq/pkg/storage"
	"github.com/3leaps/airq/pkg/table"
	"github.com/3leaps/airq/pkg/transform"
)

// Statistics counts the rows of each cleaned table.
type Statistics struct {
	HistoryRows   int `json:"history_rows"`
	MeasuresRows  int `json:"measures_rows"`
	IndicatorRows int `json:"json_rows"`
}

// Result is the outcome of a successful run.
type Result struct {
	Artifacts  load.Artifacts
	Statistics Statistics
	Warnings   []transform.TransformWarning
	Duration   time.Duration
}

// WarningMessages renders the transform warnings as strings.
func (r *Result) WarningMessages() []string {
	if r == nil || len(r.Warnings) == 0 {
		return nil
	}
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.Error()
	}
	return out
}

// Pipeline runs the three stages with a shared rule set.
//
// A Pipeline holds no per-run state and is safe for concurrent use.
type Pipeline struct {
	rules       *manifest.Rules
	resolver    *storage.Resolver
	extractor   *extract.Extractor
	transformer *transform.Transformer
	loader      *load.Loader
	logger      *zap.Logger
}

// New builds a Pipeline. Nil rules select the defaults and a nil logger
// disables logging.
func New(rules *manifest.Rules, resolver *storage.Resolver, logger *zap.Logger) (*Pipeline, error) {
	if rules == nil {
		rules = manifest.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = storage.NewResolver(storage.Config{}, logger)
	}
	ex, err := extract.New(rules, logger)
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}
	return &Pipeline{
		rules:       rules,
		resolver:    resolver,
		extractor:   ex,
		transformer: transform.New(rules, logger),
		loader:      load.New(resolver, logger),
		logger:      logger,
	}, nil
}

// Rules returns the rule set the pipeline applies.
func (p *Pipeline) Rules() *manifest.Rules { return p.rules }

// Run extracts sources, cleans each table and writes the artifacts derived
// from output. Fatal errors are returned as *StageError wrapping an
// *extract.ExtractionError or *load.LoadError.
func (p *Pipeline) Run(ctx context.Context, sources extract.Sources, output string) (*Result, error) {
	if err := sources.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	tables, err := p.extractor.ExtractAll(ctx, sources)
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}

	res := &Result{}
	cleaned := make(map[table.Dataset]*table.Table, len(tables))
	for _, d := range table.Datasets {
		sr := p.transformer.Apply(d, tables[d])
		cleaned[d] = sr.Table
		res.Warnings = append(res.Warnings, sr.Warnings...)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifacts, err := p.loader.Load(ctx, cleaned, output)
	if err != nil {
		return nil, &StageError{Stage: StageLoad, Err: err}
	}

	res.Artifacts = artifacts
	res.Statistics = Statistics{
		HistoryRows:   cleaned[table.History].Len(),
		MeasuresRows:  cleaned[table.Measures].Len(),
		IndicatorRows: cleaned[table.Indicators].Len(),
	}
	res.Duration = time.Since(start)

	p.logger.Info("Pipeline completed",
		zap.String("output", output),
		zap.Int("history_rows", res.Statistics.HistoryRows),
		zap.Int("measures_rows", res.Statistics.MeasuresRows),
		zap.Int("json_rows", res.Statistics.IndicatorRows),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("duration", res.Duration))
	return res, nil
}
