package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by providers. Callers match them with errors.Is.
var (
	// ErrNotFound reports a missing object.
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound reports a missing bucket or container.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied reports that the credentials lack permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials reports rejected or malformed credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrThrottled reports that the backend rate-limited the request.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable reports that the backend could not be reached.
	ErrUnavailable = errors.New("object store unavailable")
)

// OpError describes a failed bucket operation.
type OpError struct {
	Op     string
	Scheme Scheme
	Bucket string
	Key    string
	Err    error
}

func (e *OpError) Error() string {
	target := e.Bucket
	if e.Key != "" {
		if target != "" {
			target += "/"
		}
		target += e.Key
	}
	if target == "" {
		return fmt.Sprintf("%s %s: %v", e.Scheme, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Scheme, e.Op, target, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound)
}

// IsRetryable reports errors that may succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}
