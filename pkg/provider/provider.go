// Package provider is the object store layer under storage locations.
//
// A Bucket is a flat key space: a local directory or an S3 bucket. Sources
// are opened from it, artifacts are written to it and discovery walks it.
// Credentials come from the AWS default chain; nothing here handles secrets.
package provider

import (
	"context"
	"errors"
	"io"
)

// Scheme names a bucket implementation.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeS3   Scheme = "s3"
)

func (s Scheme) String() string { return string(s) }

// Object is one entry seen while walking a bucket.
type Object struct {
	Key  string
	Size int64
}

// ErrStopWalk ends a Walk early without error.
var ErrStopWalk = errors.New("stop walk")

// Bucket is the object store surface the pipeline needs.
//
// Implementations are safe for concurrent use.
type Bucket interface {
	// Walk calls fn for every object whose key starts with prefix, in key
	// order. Returning ErrStopWalk from fn ends the walk; any other error
	// aborts it and is returned.
	Walk(ctx context.Context, prefix string, fn func(Object) error) error

	// Open streams the object at key. The caller closes the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Write replaces the object at key with data.
	Write(ctx context.Context, key string, data []byte) error

	Close() error
}

// First returns the first object under prefix, or false when there is none.
func First(ctx context.Context, b Bucket, prefix string) (Object, bool, error) {
	var first Object
	found := false
	err := b.Walk(ctx, prefix, func(o Object) error {
		first, found = o, true
		return ErrStopWalk
	})
	return first, found, err
}

// Keys collects every key under prefix.
func Keys(ctx context.Context, b Bucket, prefix string) ([]string, error) {
	var keys []string
	err := b.Walk(ctx, prefix, func(o Object) error {
		keys = append(keys, o.Key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
