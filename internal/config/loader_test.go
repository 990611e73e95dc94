package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ServerConfig{
		Host:            "localhost",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadBytes:  64 << 20,
	}, cfg.Server)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "structured", cfg.Logging.Profile)
	assert.True(t, cfg.Health.Enabled)
	assert.Equal(t, "clean_data", cfg.Storage.OutputDir)
	assert.Empty(t, cfg.Storage.OutputURI)
	assert.NotEmpty(t, cfg.Storage.UploadDir)
	assert.Equal(t, JobsBackendMemory, cfg.Jobs.Backend)
	assert.Empty(t, cfg.Pipeline.RulesPath)
}

func TestLoad_Layers(t *testing.T) {
	ctx := context.Background()

	t.Run("environment", func(t *testing.T) {
		t.Setenv("AIRQ_PORT", "3000")
		t.Setenv("AIRQ_LOG_LEVEL", "warn")
		t.Setenv("AIRQ_OUTPUT_DIR", "/srv/clean")
		t.Setenv("AIRQ_HEALTH_ENABLED", "false")
		t.Setenv("AIRQ_READ_TIMEOUT", "45s")
		t.Setenv("AIRQ_SHUTDOWN_TIMEOUT", "5m")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, "/srv/clean", cfg.Storage.OutputDir)
		assert.False(t, cfg.Health.Enabled)
		assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	})

	t.Run("overrides beat environment", func(t *testing.T) {
		t.Setenv("AIRQ_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server":  map[string]any{"port": 5000, "host": "0.0.0.0"},
			"logging": map[string]any{"level": "debug"},
		})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile, "untouched keys keep defaults")
	})

	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "airq.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`server:
  port: 7070
storage:
  output_uri: s3://clean-bucket/air
jobs:
  backend: sqlite
  db_path: /var/lib/airq/jobs.db
`), 0o644))
		SetConfigFile(path)
		t.Cleanup(func() { SetConfigFile("") })

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, "s3://clean-bucket/air", cfg.Storage.OutputURI)
		assert.Equal(t, JobsBackendSQLite, cfg.Jobs.Backend)
		assert.Equal(t, "/var/lib/airq/jobs.db", cfg.Jobs.DBPath)
	})

	t.Run("explicit file missing", func(t *testing.T) {
		SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
		t.Cleanup(func() { SetConfigFile("") })

		_, err := Load(ctx)
		assert.Error(t, err)
	})
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		override map[string]any
		mention  string
	}{
		{map[string]any{"jobs": map[string]any{"backend": "redis"}}, "jobs.backend"},
		{map[string]any{"jobs": map[string]any{"backend": "file"}}, "jobs.dir"},
		{map[string]any{"jobs": map[string]any{"backend": "sqlite"}}, "jobs.db_path"},
		{map[string]any{"storage": map[string]any{"output_uri": "/local/path"}}, "s3://"},
		{map[string]any{"server": map[string]any{"max_upload_bytes": 0}}, "max_upload_bytes"},
		{map[string]any{
			"jobs":    map[string]any{"backend": "file", "dir": "/tmp/airq/shared"},
			"storage": map[string]any{"upload_dir": "/tmp/airq/shared/"},
		}, "must differ from storage.upload_dir"},
	}
	for _, tc := range cases {
		t.Run(tc.mention, func(t *testing.T) {
			_, err := Load(context.Background(), tc.override)
			assert.ErrorContains(t, err, tc.mention)
		})
	}
}

func TestGetConfig_TracksLastLoad(t *testing.T) {
	ctx := context.Background()

	first, err := Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Server.Port, GetConfig().Server.Port)

	second, err := Load(ctx, map[string]any{"server": map[string]any{"port": first.Server.Port + 1}})
	require.NoError(t, err)
	assert.Equal(t, second.Server.Port, GetConfig().Server.Port)
}

func TestOutputBase(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{OutputDir: "/srv/clean"}}
	assert.Equal(t, "/srv/clean/job-1_clean.csv", cfg.OutputBase("job-1"))

	cfg.Storage.OutputURI = "s3://bucket/prefix/"
	assert.Equal(t, "s3://bucket/prefix/job-1_clean.csv", cfg.OutputBase("job-1"))
}

func TestEnvSpecs(t *testing.T) {
	_, err := Load(context.Background())
	require.NoError(t, err)

	mapped := map[string]string{}
	for _, s := range getEnvSpecs() {
		mapped[s.Name] = s.Path
	}
	for _, name := range []string{"AIRQ_LOG_LEVEL", "AIRQ_PORT", "AIRQ_HOST", "AIRQ_OUTPUT_DIR", "AIRQ_UPLOAD_DIR", "AIRQ_JOBS_DB"} {
		assert.NotEmpty(t, mapped[name], "%s must map to a config path", name)
	}
}

func TestLoad_WithoutIdentity(t *testing.T) {
	configMu.Lock()
	appIdentity, appConfig = nil, nil
	configMu.Unlock()
	t.Cleanup(func() { _, _ = Load(context.Background()) })

	assert.Empty(t, getUserConfigPaths())
	assert.Empty(t, getEnvSpecs())
	assert.Nil(t, GetConfig())
}
