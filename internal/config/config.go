// Package config loads airq configuration.
//
// Precedence, highest first: runtime overrides, environment variables,
// config file, defaults.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/airq/pkg/provider"
	"github.com/3leaps/airq/pkg/storage"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Health   HealthConfig   `mapstructure:"health"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxUploadBytes caps the size of a submission request body.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`

	// Profile is "structured" (JSON) or "console".
	Profile string `mapstructure:"profile"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type StorageConfig struct {
	// UploadDir holds staged uploads, one directory per job.
	UploadDir string `mapstructure:"upload_dir"`

	// OutputDir receives artifacts when OutputURI is empty.
	OutputDir string `mapstructure:"output_dir"`

	// OutputURI is an s3:// prefix that receives artifacts.
	OutputURI string `mapstructure:"output_uri"`

	// RateLimit caps object store requests per second. Zero is unlimited.
	RateLimit float64 `mapstructure:"rate_limit"`

	// KeepUploads retains staged uploads after a job finishes.
	KeepUploads bool `mapstructure:"keep_uploads"`

	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

const (
	JobsBackendMemory = "memory"
	JobsBackendFile   = "file"
	JobsBackendSQLite = "sqlite"
)

type JobsConfig struct {
	// Backend is "memory", "file" or "sqlite".
	Backend string `mapstructure:"backend"`

	// Dir is the file backend root.
	Dir string `mapstructure:"dir"`

	// DBPath is the sqlite backend database file.
	DBPath string `mapstructure:"db_path"`

	// EventsPath, when set, receives JSONL job lifecycle events.
	EventsPath string `mapstructure:"events_path"`
}

type PipelineConfig struct {
	// RulesPath points at a cleaning-rules file. Empty uses the built-in rules.
	RulesPath string `mapstructure:"rules_path"`
}

// OutputBase returns the location job artifacts derive from.
func (c *Config) OutputBase(jobID string) string {
	name := jobID + "_clean.csv"
	if uri := strings.TrimSuffix(strings.TrimSpace(c.Storage.OutputURI), "/"); uri != "" {
		return uri + "/" + name
	}
	loc := storage.Location{Scheme: provider.SchemeFile, Path: c.Storage.OutputDir}
	return loc.Join(name).String()
}

// StorageResolverConfig converts the storage section for storage.NewResolver.
func (c *Config) StorageResolverConfig() storage.Config {
	return storage.Config{
		RateLimit: c.Storage.RateLimit,
		S3: storage.S3Options{
			Region:         c.Storage.S3.Region,
			Endpoint:       c.Storage.S3.Endpoint,
			Profile:        c.Storage.S3.Profile,
			ForcePathStyle: c.Storage.S3.ForcePathStyle,
		},
	}
}

// Validate checks values that defaults cannot make safe.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	switch c.Jobs.Backend {
	case JobsBackendMemory:
	case JobsBackendFile:
		if strings.TrimSpace(c.Jobs.Dir) == "" {
			return fmt.Errorf("jobs.dir is required for the file backend")
		}
	case JobsBackendSQLite:
		if strings.TrimSpace(c.Jobs.DBPath) == "" {
			return fmt.Errorf("jobs.db_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("jobs.backend must be one of %q, %q, %q, got %q",
			JobsBackendMemory, JobsBackendFile, JobsBackendSQLite, c.Jobs.Backend)
	}
	if strings.TrimSpace(c.Storage.UploadDir) == "" {
		return fmt.Errorf("storage.upload_dir is required")
	}
	// Staged uploads are removed per job directory, which would take job.json with them.
	if c.Jobs.Backend == JobsBackendFile && filepath.Clean(c.Jobs.Dir) == filepath.Clean(c.Storage.UploadDir) {
		return fmt.Errorf("jobs.dir must differ from storage.upload_dir: both are %s", c.Jobs.Dir)
	}
	if c.Storage.OutputURI != "" {
		loc, err := storage.ParseLocation(c.Storage.OutputURI)
		if err != nil {
			return fmt.Errorf("storage.output_uri: %w", err)
		}
		if !loc.IsRemote() {
			return fmt.Errorf("storage.output_uri must be an s3:// URI")
		}
	} else if strings.TrimSpace(c.Storage.OutputDir) == "" {
		return fmt.Errorf("storage.output_dir or storage.output_uri is required")
	}
	if c.Storage.RateLimit < 0 {
		return fmt.Errorf("storage.rate_limit must not be negative")
	}
	return nil
}
