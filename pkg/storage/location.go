// Package storage resolves job input and output locations to providers.
//
// A location is either a local filesystem path (optionally file://) or an
// s3://bucket/key URI. The Resolver hands out providers rooted so that the
// location's final element is the object key.
package storage

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/3leaps/airq/pkg/provider"
)

// Location parsing errors
var (
	// ErrInvalidLocation indicates the location could not be parsed.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrUnsupportedScheme indicates the URI scheme is not supported.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

// Location is a parsed input or output location.
//
// Example locations:
//   - /var/lib/airq/clean_data/1234_clean.csv
//   - file:///tmp/inputs/history.csv
//   - s3://bucket/clean/1234_clean.csv
type Location struct {
	// Scheme is the provider type: file or s3.
	Scheme provider.Scheme

	// Bucket is set for s3 locations.
	Bucket string

	// Path is the object key (s3) or the cleaned filesystem path (file).
	Path string
}

// ParseLocation parses a filesystem path or URI.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty location", ErrInvalidLocation)
	}

	schemeEnd := strings.Index(raw, "://")
	if schemeEnd == -1 {
		return Location{Scheme: provider.SchemeFile, Path: filepath.Clean(raw)}, nil
	}

	scheme := strings.ToLower(raw[:schemeEnd])
	remainder := raw[schemeEnd+3:]
	switch provider.Scheme(scheme) {
	case provider.SchemeFile:
		if remainder == "" {
			return Location{}, fmt.Errorf("%w: %s", ErrInvalidLocation, raw)
		}
		return Location{Scheme: provider.SchemeFile, Path: filepath.Clean(filepath.FromSlash(remainder))}, nil
	case provider.SchemeS3:
	default:
		return Location{}, fmt.Errorf("%w: %s (supported: file, s3)", ErrUnsupportedScheme, scheme)
	}

	bucket, key, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("%w: missing bucket in %s", ErrInvalidLocation, raw)
	}
	if strings.ContainsAny(bucket, " ?#") {
		return Location{}, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidLocation, bucket)
	}
	return Location{Scheme: provider.SchemeS3, Bucket: bucket, Path: key}, nil
}

// String returns the location in canonical form. File locations render as
// plain paths.
func (l Location) String() string {
	if l.Scheme == provider.SchemeS3 {
		return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Path)
	}
	return l.Path
}

// Dir returns the parent location.
func (l Location) Dir() Location {
	out := l
	if l.Scheme == provider.SchemeS3 {
		d := path.Dir(l.Path)
		if d == "." || d == "/" {
			d = ""
		}
		out.Path = d
		return out
	}
	out.Path = filepath.Dir(l.Path)
	return out
}

// Base returns the final path element.
func (l Location) Base() string {
	if l.Scheme == provider.SchemeS3 {
		return path.Base(l.Path)
	}
	return filepath.Base(l.Path)
}

// Join appends name to the location.
func (l Location) Join(name string) Location {
	out := l
	if l.Scheme == provider.SchemeS3 {
		out.Path = strings.TrimPrefix(path.Join(l.Path, name), "/")
		return out
	}
	out.Path = filepath.Join(l.Path, name)
	return out
}

// IsRemote reports whether the location lives in an object store.
func (l Location) IsRemote() bool { return l.Scheme == provider.SchemeS3 }
