package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "schoolsearch.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.Pool.MinConns)
	assert.Equal(t, 50, cfg.Search.DefaultLimit)
	assert.Equal(t, 500, cfg.Search.MaxLimit)
	assert.InDelta(t, 35, cfg.Scorer.DistanceWeight, 0.001)
	assert.InDelta(t, 30, cfg.Scorer.RatingWeight, 0.001)
	assert.InDelta(t, 20, cfg.Scorer.FeeWeight, 0.001)
	assert.InDelta(t, 15, cfg.Scorer.ClubsWeight, 0.001)
	assert.Equal(t, 500, cfg.Import.BatchSize)
	assert.Equal(t, 4, cfg.Import.Concurrency)
	assert.Equal(t, "https://api.postcodes.io", cfg.Postcode.BaseURL)
	assert.InDelta(t, 10, cfg.Postcode.RateLimit, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/schools
log:
  level: debug
  format: console
server:
  port: 9090
scorer:
  distance_weight: 60
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/schools", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 60, cfg.Scorer.DistanceWeight, 0.001)
	// Defaults still apply for unset values
	assert.InDelta(t, 30, cfg.Scorer.RatingWeight, 0.001)
	assert.Equal(t, 50, cfg.Search.DefaultLimit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SCHOOLSEARCH_STORE_DRIVER", "sqlite")
	t.Setenv("SCHOOLSEARCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("SCHOOLSEARCH_SERVER_PORT", "3000")
	t.Setenv("SCHOOLSEARCH_STORE_SQLITE_PATH", "/tmp/schools.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/tmp/schools.db", cfg.Store.SQLitePath)
}

func TestScorerConfigWeights(t *testing.T) {
	c := ScorerConfig{DistanceWeight: 35, RatingWeight: 30, FeeWeight: 20, ClubsWeight: 15}

	w := c.Weights()
	assert.Equal(t, 35.0, w["distance"])
	assert.Equal(t, 30.0, w["rating"])
	assert.Equal(t, 20.0, w["fee"])
	assert.Equal(t, 15.0, w["clubs"])
}

func TestValidateScorerConfig(t *testing.T) {
	assert.NoError(t, ValidateScorerConfig(ScorerConfig{DistanceWeight: 35, RatingWeight: 30}))
	assert.NoError(t, ValidateScorerConfig(ScorerConfig{ClubsWeight: 1}))

	err := ValidateScorerConfig(ScorerConfig{DistanceWeight: -5, RatingWeight: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "distance_weight must be >= 0")

	err = ValidateScorerConfig(ScorerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weight sum must be > 0")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
