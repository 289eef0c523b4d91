package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.7, cfg.Retrieval.DenseWeight)
	assert.Equal(t, 0.3, cfg.Retrieval.SparseWeight)
	assert.Equal(t, 60, cfg.Retrieval.K0)
	assert.Equal(t, 20, cfg.Retrieval.RerankPool)
	assert.Equal(t, 10, cfg.Retrieval.MaxTopK)
}

func TestValidateWeightSum(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.DenseWeight = 0.6
	cfg.Retrieval.SparseWeight = 0.3

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, sibylerr.ErrCodeWeightSum, sibylerr.GetCode(err))
	assert.True(t, sibylerr.IsFatal(err))
}

func TestValidateNegativeWeight(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.DenseWeight = 1.2
	cfg.Retrieval.SparseWeight = -0.2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, sibylerr.ErrCodeWeightSum, sibylerr.GetCode(err))
}

func TestValidateK0(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.K0 = 0
	require.Error(t, cfg.Validate())
}

func TestValidateTransport(t *testing.T) {
	cfg := Default()
	cfg.Server.Transport = "grpc"
	require.Error(t, cfg.Validate())
}

func TestLoadMergesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sibyl.yaml")
	content := `
retrieval:
  dense_weight: 0.5
  sparse_weight: 0.5
  k0: 30
server:
  log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Retrieval.DenseWeight)
	assert.Equal(t, 30, cfg.Retrieval.K0)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	// Untouched fields keep defaults.
	assert.Equal(t, 20, cfg.Retrieval.RerankPool)
}

func TestLoadParsesDurationStrings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sibyl.yaml")
	content := `
timeouts:
  adapter: 1500ms
  pipeline: 10s
cache:
  backend: redis
  result_ttl: 30m
  redis_addr: localhost:6380
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeouts.Adapter)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Pipeline)
	assert.Equal(t, 30*time.Minute, cfg.Cache.ResultTTL)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "localhost:6380", cfg.Cache.RedisAddr)
	// Absent fields keep defaults.
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Rerank)
	assert.Equal(t, 72*time.Hour, cfg.Cache.EmbeddingTTL)
	assert.Equal(t, 4096, cfg.Cache.ResultSize)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sibyl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeouts:\n  adapter: soon\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, sibylerr.IsFatal(err))
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sibyl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, sibylerr.IsFatal(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIBYL_DENSE_WEIGHT", "0.8")
	t.Setenv("SIBYL_SPARSE_WEIGHT", "0.2")
	t.Setenv("SIBYL_K0", "10")
	t.Setenv("SIBYL_CACHE_BACKEND", "redis")
	t.Setenv("SIBYL_REDIS_ADDR", "localhost:6380")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Retrieval.DenseWeight)
	assert.Equal(t, 0.2, cfg.Retrieval.SparseWeight)
	assert.Equal(t, 10, cfg.Retrieval.K0)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "localhost:6380", cfg.Cache.RedisAddr)
}

func TestFingerprintStability(t *testing.T) {
	a := Default()
	b := Default()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintChangesWithRankingKnobs(t *testing.T) {
	base := Default().Fingerprint()

	weights := Default()
	weights.Retrieval.DenseWeight = 0.6
	weights.Retrieval.SparseWeight = 0.4
	assert.NotEqual(t, base, weights.Fingerprint())

	model := Default()
	model.Embeddings.Model = "other-model"
	assert.NotEqual(t, base, model.Fingerprint())

	rerank := Default()
	rerank.Reranker.Enabled = false
	assert.NotEqual(t, base, rerank.Fingerprint())
}

func TestFingerprintIgnoresNonRankingKnobs(t *testing.T) {
	base := Default().Fingerprint()

	cfg := Default()
	cfg.Server.HTTPAddr = ":9999"
	cfg.Cache.ResultSize = 1
	assert.Equal(t, base, cfg.Fingerprint())
}
