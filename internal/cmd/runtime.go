package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/3leaps/airq/internal/config"
	"github.com/3leaps/airq/pkg/jobregistry"
	"github.com/3leaps/airq/pkg/manifest"
	"github.com/3leaps/airq/pkg/output"
	"github.com/3leaps/airq/pkg/pipeline"
	"github.com/3leaps/airq/pkg/storage"
)

// newPipeline builds a pipeline and the resolver it reads and writes through.
// The caller closes the resolver.
func newPipeline(cfg *config.Config, rulesPath string, logger *zap.Logger) (*pipeline.Pipeline, *storage.Resolver, error) {
	rules, err := manifest.Load(rulesPath)
	if err != nil {
		return nil, nil, err
	}
	resolver := storage.NewResolver(cfg.StorageResolverConfig(), logger)
	p, err := pipeline.New(rules, resolver, logger)
	if err != nil {
		_ = resolver.Close()
		return nil, nil, err
	}
	return p, resolver, nil
}

// newJobStore selects the configured job store backend. The returned func
// releases the store.
func newJobStore(ctx context.Context, cfg *config.Config) (jobregistry.Store, func(), error) {
	switch cfg.Jobs.Backend {
	case config.JobsBackendFile:
		return jobregistry.NewFileStore(cfg.Jobs.Dir), func() {}, nil
	case config.JobsBackendSQLite:
		db, err := jobregistry.OpenSQLStore(ctx, cfg.Jobs.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	case config.JobsBackendMemory:
		return jobregistry.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown jobs backend %q", cfg.Jobs.Backend)
	}
}

// openEvents opens the job-event log for appending. An empty path discards
// events.
func openEvents(path, source string) (output.Writer, func(), error) {
	if path == "" {
		return output.Discard, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create events dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open events file: %w", err)
	}
	w := output.NewJSONLWriter(f, source)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}
