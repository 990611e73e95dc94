package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/airq/pkg/provider"
	"github.com/3leaps/airq/pkg/provider/file"
	"github.com/3leaps/airq/pkg/provider/s3"
)

// S3Options configures providers created for s3:// locations.
type S3Options struct {
	Region         string
	Endpoint       string
	Profile        string
	ForcePathStyle bool
}

// Config configures a Resolver.
type Config struct {
	S3 S3Options

	// RateLimit caps object store requests per second across all providers
	// handed out by the resolver. Zero means unlimited.
	RateLimit float64
}

// Resolver maps locations to buckets. S3 buckets are cached by name.
//
// It is safe for concurrent use.
type Resolver struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger

	mu      sync.Mutex
	buckets map[string]provider.Bucket
}

// NewResolver returns a Resolver. A nil logger disables logging.
func NewResolver(cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cfg:     cfg,
		limiter: provider.NewLimiter(cfg.RateLimit),
		logger:  logger,
		buckets: make(map[string]provider.Bucket),
	}
}

// Root returns a bucket for dir and the key prefix addressing dir within
// it. Buckets are owned by the resolver; callers release them with Close.
func (r *Resolver) Root(ctx context.Context, dir Location) (provider.Bucket, string, error) {
	switch dir.Scheme {
	case provider.SchemeFile:
		b, err := file.New(dir.Path)
		if err != nil {
			return nil, "", err
		}
		return provider.Limit(b, r.limiter), "", nil
	case provider.SchemeS3:
		b, err := r.s3Bucket(ctx, dir.Bucket)
		if err != nil {
			return nil, "", err
		}
		prefix := strings.Trim(dir.Path, "/")
		if prefix != "" {
			prefix += "/"
		}
		return provider.Limit(b, r.limiter), prefix, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, dir.Scheme)
}

// Object returns a bucket and the key addressing loc within it.
func (r *Resolver) Object(ctx context.Context, loc Location) (provider.Bucket, string, error) {
	b, prefix, err := r.Root(ctx, loc.Dir())
	if err != nil {
		return nil, "", err
	}
	return b, prefix + loc.Base(), nil
}

func (r *Resolver) s3Bucket(ctx context.Context, name string) (provider.Bucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[name]; ok {
		return b, nil
	}
	b, err := s3.New(ctx, s3.Config{
		Bucket:         name,
		Region:         r.cfg.S3.Region,
		Endpoint:       r.cfg.S3.Endpoint,
		Profile:        r.cfg.S3.Profile,
		ForcePathStyle: r.cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Opened S3 bucket", zap.String("bucket", name))
	r.buckets[name] = b
	return b, nil
}

// Close releases cached buckets.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, b := range r.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.buckets, name)
	}
	return errors.Join(errs...)
}
