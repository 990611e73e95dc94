// Package s3 serves an S3 (or S3-compatible) bucket as a provider.Bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/airq/pkg/provider"
)

// defaultRegion applies to AWS endpoints when neither the config nor the
// AWS environment names a region.
const defaultRegion = "us-east-1"

// Config selects the bucket and how to reach it. Credentials always come
// from the AWS default chain (environment, shared files, instance role).
type Config struct {
	Bucket string
	Region string

	// Endpoint targets an S3-compatible store such as MinIO.
	Endpoint string

	// Profile selects a shared-config profile.
	Profile string

	// ForcePathStyle puts the bucket in the URL path. Most S3-compatible
	// stores need it.
	ForcePathStyle bool
}

// api is the subset of the S3 client the bucket calls.
type api interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Bucket reads and writes one S3 bucket.
type Bucket struct {
	client api
	name   string
}

var _ provider.Bucket = (*Bucket)(nil)

// New builds a client for cfg. No request is made until first use.
func New(ctx context.Context, cfg Config) (*Bucket, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &provider.OpError{Op: "configure", Scheme: provider.SchemeS3, Bucket: cfg.Bucket, Err: err}
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = defaultRegion
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Bucket{client: client, name: cfg.Bucket}, nil
}

func (b *Bucket) Name() string { return b.name }

func (b *Bucket) Close() error { return nil }

func (b *Bucket) Walk(ctx context.Context, prefix string, fn func(provider.Object) error) error {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(b.name)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	pages := s3.NewListObjectsV2Paginator(b.client, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return b.fail("walk", prefix, err)
		}
		for _, obj := range page.Contents {
			err := fn(provider.Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)})
			if errors.Is(err, provider.ErrStopWalk) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Bucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.fail("open", key, err)
	}
	return out.Body, nil
}

func (b *Bucket) Write(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.name),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(key)),
	})
	if err != nil {
		return b.fail("write", key, err)
	}
	return nil
}

func contentType(key string) string {
	if strings.HasSuffix(strings.ToLower(key), ".csv") {
		return "text/csv; charset=utf-8"
	}
	return "application/octet-stream"
}

// errorCodes maps S3 API error codes to provider sentinels.
var errorCodes = map[string]error{
	"NoSuchKey":             provider.ErrNotFound,
	"NotFound":              provider.ErrNotFound,
	"NoSuchBucket":          provider.ErrBucketNotFound,
	"AccessDenied":          provider.ErrAccessDenied,
	"Forbidden":             provider.ErrAccessDenied,
	"InvalidAccessKeyId":    provider.ErrInvalidCredentials,
	"SignatureDoesNotMatch": provider.ErrInvalidCredentials,
	"ExpiredToken":          provider.ErrInvalidCredentials,
	"SlowDown":              provider.ErrThrottled,
	"Throttling":            provider.ErrThrottled,
	"RequestLimitExceeded":  provider.ErrThrottled,
	"ServiceUnavailable":    provider.ErrUnavailable,
	"InternalError":         provider.ErrUnavailable,
}

// classify maps an SDK error to a provider sentinel, or returns nil when the
// error has no known meaning.
func classify(err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound):
		return provider.ErrNotFound
	case errors.As(err, &noBucket):
		return provider.ErrBucketNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return errorCodes[apiErr.ErrorCode()]
	}
	return nil
}

func (b *Bucket) fail(op, key string, err error) error {
	if sentinel := classify(err); sentinel != nil {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return &provider.OpError{Op: op, Scheme: provider.SchemeS3, Bucket: b.name, Key: key, Err: err}
}
