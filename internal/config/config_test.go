package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderrec/internal/apperr"
)

// isolate points the config file lookup at an empty temp dir so a stray
// config.yaml in the working directory cannot leak into a test.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(ConfigPathEnvVar, filepath.Join(dir, "missing.yaml"))
	old := DefaultConfigPaths
	DefaultConfigPaths = nil
	t.Cleanup(func() { DefaultConfigPaths = old })
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Serving.TopK)
	assert.Equal(t, int64(42), cfg.Segmentation.Seed)
	assert.Equal(t, time.Hour, cfg.Schedule.DeriveInterval)
	assert.Equal(t, 72*time.Hour, cfg.Schedule.RetrainInterval)
	assert.Equal(t, 100, cfg.Factorization.Factors)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("ORDERREC_CLUSTER_NUMBER", "4")
	t.Setenv("ORDERREC_TOP_K", "10")
	t.Setenv("ORDERREC_RETRAIN_INTERVAL", "24h")
	t.Setenv("ORDERREC_DATABASE_URL", "postgres://u:p@localhost:5432/orders")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Segmentation.ClusterNumber)
	assert.Equal(t, 10, cfg.Serving.TopK)
	assert.Equal(t, 24*time.Hour, cfg.Schedule.RetrainInterval)
	assert.Equal(t, "postgres://u:p@localhost:5432/orders", cfg.DatabaseURL)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
segmentation:
  cluster_number: 6
serving:
  top_k: 3
`), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("ORDERREC_TOP_K", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Segmentation.ClusterNumber)
	assert.Equal(t, 7, cfg.Serving.TopK, "environment wins over the file")
}

func TestLoad_InvalidClusterNumber(t *testing.T) {
	isolate(t)
	t.Setenv("ORDERREC_CLUSTER_NUMBER", "1")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Contains(t, err.Error(), "ClusterNumber")
}

func TestValidate_DatabaseScheme(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "mysql://localhost/orders"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)

	cfg.DatabaseURL = "file:orders.db?cache=shared"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_TopKMustBePositive(t *testing.T) {
	cfg := Default()
	cfg.Serving.TopK = 0
	assert.ErrorIs(t, cfg.Validate(), apperr.ErrConfiguration)
}
