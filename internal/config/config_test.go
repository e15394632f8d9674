package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smartacus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultPassesValidation(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://api.keepa.com", cfg.Keepa.BaseURL)
	assert.Equal(t, 200, cfg.Keepa.BucketCapacity)
	assert.Equal(t, int64(2230642011), cfg.Ingestion.CategoryID)
	assert.Equal(t, 30.0, cfg.Gates.DQThresholdPct)
	assert.Equal(t, 50, cfg.Shortlist.MinScore)
	assert.Equal(t, 900000, cfg.Budget.MonthlyLimit)
	assert.Equal(t, "out/runs", cfg.OutputDir)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Ingestion, cfg.Ingestion)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := writeConfig(t, `
keepa:
  max_retries: 5
ingestion:
  max_products: 50
shortlist:
  min_score: 60
server:
  addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Keepa.MaxRetries)
	assert.Equal(t, 50, cfg.Ingestion.MaxProducts)
	assert.Equal(t, 60, cfg.Shortlist.MinScore)
	assert.Equal(t, ":9090", cfg.Server.Addr)

	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Ingestion.BatchSize)
	assert.Equal(t, 10, cfg.Shortlist.MaxItems)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
ingestion:
  max_products: 50
`)
	t.Setenv("KEEPA_API_KEY", "k-secret")
	t.Setenv("DATABASE_PASSWORD", "p-secret")
	t.Setenv("INGEST_MAX_PRODUCTS", "25")
	t.Setenv("OUTPUT_DIR", "/tmp/probe-runs")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "k-secret", cfg.Keepa.APIKey)
	assert.Equal(t, "p-secret", cfg.Database.Password)
	assert.Equal(t, 25, cfg.Ingestion.MaxProducts)
	assert.Equal(t, "/tmp/probe-runs", cfg.OutputDir)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
gates:
  dq_threshold_pct: 150
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "gates: [not a map")
	_, err := Load(path)
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		Name:     "smartacus",
		User:     "probe",
		Password: "hunter2",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 dbname=smartacus user=probe password=hunter2 sslmode=require",
		d.DSN())
}

func TestKeepaTimeout(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "30s", cfg.KeepaTimeout().String())
}
