// Package cloudtest gives cloudintegration-tagged tests a scratch bucket on
// a local moto S3 server. Tests skip when moto is not running.
//
//	cloudtest.SkipIfUnavailable(t)
//	cloudtest.UseTestCredentials(t)
//	bucket := cloudtest.CreateBucket(t, ctx)
//	cloudtest.PutObject(t, ctx, bucket, "raw/aqi.csv", data)
//	resolver := storage.NewResolver(cloudtest.StorageConfig(), nil)
package cloudtest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/airq/pkg/storage"
)

const (
	DefaultEndpoint = "http://localhost:5555"
	DefaultRegion   = "us-east-1"

	// moto accepts any key pair.
	motoKey = "testing"
)

var (
	Endpoint = getenv("MOTO_ENDPOINT", DefaultEndpoint)
	Region   = getenv("MOTO_REGION", DefaultRegion)
)

func getenv(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

// Available probes the moto management API.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("no moto server at %s", Endpoint)
	}
}

// UseTestCredentials makes the default AWS credential chain resolve to the
// moto key pair until the test ends.
func UseTestCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", motoKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", motoKey)
	t.Setenv("AWS_REGION", Region)
}

// StorageConfig points a storage.Resolver at moto.
func StorageConfig() storage.Config {
	return storage.Config{S3: storage.S3Options{Region: Region, Endpoint: Endpoint, ForcePathStyle: true}}
}

// Client is the shared S3 client the fixtures use.
var Client = sync.OnceValues(func() (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(motoKey, motoKey, "")),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(Endpoint)
		o.UsePathStyle = true
	}), nil
})

func mustClient(t *testing.T) *s3.Client {
	t.Helper()
	c, err := Client()
	require.NoError(t, err, "moto S3 client")
	return c
}

// CreateBucket makes a fresh bucket and removes it, contents included, in
// test cleanup.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()
	c := mustClient(t)

	name := "airq-" + uuid.NewString()
	_, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	require.NoError(t, err, "create bucket %s", name)

	t.Cleanup(func() { removeBucket(t, c, name) })
	return name
}

// removeBucket is best effort; failures are logged, not fatal.
func removeBucket(t *testing.T, c *s3.Client, bucket string) {
	ctx := context.Background()
	pages := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			t.Logf("cleanup %s: %v", bucket, err)
			return
		}
		for _, o := range page.Contents {
			if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: o.Key}); err != nil {
				t.Logf("cleanup %s/%s: %v", bucket, aws.ToString(o.Key), err)
			}
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("cleanup %s: %v", bucket, err)
	}
}

func PutObject(t *testing.T, ctx context.Context, bucket, key string, content []byte) {
	t.Helper()
	_, err := mustClient(t).PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	require.NoError(t, err, "put s3://%s/%s", bucket, key)
}

func GetObject(t *testing.T, ctx context.Context, bucket, key string) []byte {
	t.Helper()
	out, err := mustClient(t).GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	require.NoError(t, err, "get s3://%s/%s", bucket, key)
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	return data
}
