package provider

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewLimiter returns a limiter allowing rps requests per second, or nil
// when rps is not positive.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// Limited is a Bucket whose calls wait on a shared limiter. A walk costs one
// token regardless of how many pages it reads.
type Limited struct {
	Bucket
	limiter *rate.Limiter
}

var _ Bucket = (*Limited)(nil)

// Limit wraps b. A nil limiter passes calls straight through.
func Limit(b Bucket, limiter *rate.Limiter) *Limited {
	return &Limited{Bucket: b, limiter: limiter}
}

func (l *Limited) wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

func (l *Limited) Walk(ctx context.Context, prefix string, fn func(Object) error) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	return l.Bucket.Walk(ctx, prefix, fn)
}

func (l *Limited) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.Bucket.Open(ctx, key)
}

func (l *Limited) Write(ctx context.Context, key string, data []byte) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	return l.Bucket.Write(ctx, key, data)
}
