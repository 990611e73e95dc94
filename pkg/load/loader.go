// Package load implements the Load stage: cleaned tables are serialized to
// UTF-8 CSV artifacts whose names derive from a single output location.
package load

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/airq/pkg/provider"
	"github.com/3leaps/airq/pkg/storage"
	"github.com/3leaps/airq/pkg/table"
)

// ObjectResolver maps a location to a bucket and key.
// *storage.Resolver satisfies it.
type ObjectResolver interface {
	Object(ctx context.Context, loc storage.Location) (provider.Bucket, string, error)
}

// writeAttempts bounds retries of throttled or unavailable writes.
const writeAttempts = 3

// Loader persists cleaned tables.
type Loader struct {
	resolver ObjectResolver
	logger   *zap.Logger
	backoff  time.Duration
}

// New returns a Loader writing through resolver. A nil logger disables
// logging.
func New(resolver ObjectResolver, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{resolver: resolver, logger: logger, backoff: 200 * time.Millisecond}
}

// Load writes the history, measures and indicator tables in that order and
// returns their locations. The first failure stops the stage.
func (l *Loader) Load(ctx context.Context, tables map[table.Dataset]*table.Table, output string) (Artifacts, error) {
	artifacts := ArtifactsFor(output)
	var written []string
	for _, d := range table.Datasets {
		dest := artifacts.Get(d)
		tbl, ok := tables[d]
		if !ok || tbl == nil {
			return Artifacts{}, &LoadError{Dataset: d, Location: dest, Written: written, Err: fmt.Errorf("no table")}
		}
		if err := l.write(ctx, tbl, dest); err != nil {
			return Artifacts{}, &LoadError{Dataset: d, Location: dest, Written: written, Err: err}
		}
		written = append(written, dest)
		l.logger.Debug("Artifact written",
			zap.String("dataset", d.String()),
			zap.String("location", dest),
			zap.Int("rows", tbl.Len()))
	}
	return artifacts, nil
}

func (l *Loader) write(ctx context.Context, tbl *table.Table, dest string) error {
	loc, err := storage.ParseLocation(dest)
	if err != nil {
		return err
	}
	body, err := Encode(tbl)
	if err != nil {
		return err
	}
	b, key, err := l.resolver.Object(ctx, loc)
	if err != nil {
		return err
	}

	delay := l.backoff
	for attempt := 1; ; attempt++ {
		err = b.Write(ctx, key, body)
		if err == nil || attempt == writeAttempts || !provider.IsRetryable(err) {
			return err
		}
		l.logger.Warn("Artifact write failed, retrying",
			zap.String("location", dest),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Encode renders tbl as CSV with a header row.
func Encode(tbl *table.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(tbl.Columns); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if err := w.WriteAll(tbl.Records()); err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return buf.Bytes(), nil
}
