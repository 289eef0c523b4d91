// Package config loads and validates Sibyl configuration.
//
// Configuration is resolved in priority order:
//  1. Environment variables (SIBYL_*) - highest priority
//  2. Project config (./sibyl.yaml)
//  3. User config (~/.config/sibyl/config.yaml)
//  4. Built-in defaults
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

// Config represents the complete Sibyl configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" json:"retrieval"`
	Timeouts    TimeoutConfig     `yaml:"timeouts" json:"timeouts"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Reranker    RerankerConfig    `yaml:"reranker" json:"reranker"`
	Attachments AttachmentsConfig `yaml:"attachments" json:"attachments"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Sessions    SessionsConfig    `yaml:"sessions" json:"sessions"`
}

// RetrievalConfig configures hybrid retrieval and fusion.
type RetrievalConfig struct {
	// DenseWeight is the fusion weight for vector search (0.0-1.0).
	// Must sum to 1.0 with SparseWeight.
	DenseWeight float64 `yaml:"dense_weight" json:"dense_weight"`

	// SparseWeight is the fusion weight for lexical search (0.0-1.0).
	SparseWeight float64 `yaml:"sparse_weight" json:"sparse_weight"`

	// K0 is the reciprocal-rank fusion smoothing constant.
	// Default: 60. Higher values reduce the impact of rank differences.
	K0 int `yaml:"k0" json:"k0"`

	// CandidateK bounds how many hits each adapter returns.
	CandidateK int `yaml:"candidate_k" json:"candidate_k"`

	// MinSimilarity excludes dense hits below this cosine similarity.
	MinSimilarity float64 `yaml:"min_similarity" json:"min_similarity"`

	// MinSparseScore excludes lexical hits below this score.
	MinSparseScore float64 `yaml:"min_sparse_score" json:"min_sparse_score"`

	// RerankPool is how many fused candidates are passed to the reranker.
	RerankPool int `yaml:"rerank_pool" json:"rerank_pool"`

	// DefaultTopK is the default number of final results.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`

	// MaxTopK caps the caller-supplied top_k.
	MaxTopK int `yaml:"max_top_k" json:"max_top_k"`
}

// TimeoutConfig configures per-stage latency budgets.
type TimeoutConfig struct {
	// Adapter is the per-call timeout for each index adapter.
	Adapter time.Duration `yaml:"adapter" json:"adapter"`

	// AdapterRetries is the retry budget per adapter (spec: at most one).
	AdapterRetries int `yaml:"adapter_retries" json:"adapter_retries"`

	// AdapterBackoff is the fixed delay before an adapter retry.
	AdapterBackoff time.Duration `yaml:"adapter_backoff" json:"adapter_backoff"`

	// Rerank is the reranker call timeout; overrun bypasses reranking.
	Rerank time.Duration `yaml:"rerank" json:"rerank"`

	// CacheWait bounds how long a caller waits on another in-flight
	// computation for the same cache key before computing independently.
	CacheWait time.Duration `yaml:"cache_wait" json:"cache_wait"`

	// Pipeline is the overall query deadline.
	Pipeline time.Duration `yaml:"pipeline" json:"pipeline"`
}

// UnmarshalYAML accepts Go duration strings ("3s", "200ms") for the
// timeout fields. Absent fields keep their current values.
func (t *TimeoutConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Adapter        string `yaml:"adapter"`
		AdapterRetries *int   `yaml:"adapter_retries"`
		AdapterBackoff string `yaml:"adapter_backoff"`
		Rerank         string `yaml:"rerank"`
		CacheWait      string `yaml:"cache_wait"`
		Pipeline       string `yaml:"pipeline"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.AdapterRetries != nil {
		t.AdapterRetries = *raw.AdapterRetries
	}
	for _, f := range []struct {
		src string
		dst *time.Duration
	}{
		{raw.Adapter, &t.Adapter},
		{raw.AdapterBackoff, &t.AdapterBackoff},
		{raw.Rerank, &t.Rerank},
		{raw.CacheWait, &t.CacheWait},
		{raw.Pipeline, &t.Pipeline},
	} {
		if err := setDuration(f.dst, f.src); err != nil {
			return err
		}
	}
	return nil
}

// CacheConfig configures the embedding and result caches.
type CacheConfig struct {
	// Backend selects the result cache backend: "memory" or "redis".
	Backend string `yaml:"backend" json:"backend"`

	// ResultTTL bounds staleness of whole-query result entries.
	ResultTTL time.Duration `yaml:"result_ttl" json:"result_ttl"`

	// ResultSize is the in-memory result cache capacity (entries).
	ResultSize int `yaml:"result_size" json:"result_size"`

	// EmbeddingTTL bounds embedding cache entries. Embeddings for fixed
	// text never change under a fixed model, so this is day-scale.
	EmbeddingTTL time.Duration `yaml:"embedding_ttl" json:"embedding_ttl"`

	// EmbeddingSize is the embedding cache capacity (entries).
	EmbeddingSize int `yaml:"embedding_size" json:"embedding_size"`

	// RedisAddr is the redis address (host:port or redis:// URL).
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`

	// RedisPassword is the redis auth password.
	RedisPassword string `yaml:"redis_password" json:"redis_password"`

	// RedisDB is the redis database number.
	RedisDB int `yaml:"redis_db" json:"redis_db"`
}

// UnmarshalYAML accepts Go duration strings for the TTL fields. Absent
// fields keep their current values.
func (c *CacheConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Backend       string `yaml:"backend"`
		ResultTTL     string `yaml:"result_ttl"`
		ResultSize    *int   `yaml:"result_size"`
		EmbeddingTTL  string `yaml:"embedding_ttl"`
		EmbeddingSize *int   `yaml:"embedding_size"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       *int   `yaml:"redis_db"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Backend != "" {
		c.Backend = raw.Backend
	}
	if raw.ResultSize != nil {
		c.ResultSize = *raw.ResultSize
	}
	if raw.EmbeddingSize != nil {
		c.EmbeddingSize = *raw.EmbeddingSize
	}
	if raw.RedisAddr != "" {
		c.RedisAddr = raw.RedisAddr
	}
	if raw.RedisPassword != "" {
		c.RedisPassword = raw.RedisPassword
	}
	if raw.RedisDB != nil {
		c.RedisDB = *raw.RedisDB
	}
	if err := setDuration(&c.ResultTTL, raw.ResultTTL); err != nil {
		return err
	}
	return setDuration(&c.EmbeddingTTL, raw.EmbeddingTTL)
}

func setDuration(dst *time.Duration, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*dst = d
	return nil
}

// EmbeddingsConfig configures the query embedding provider.
type EmbeddingsConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "static".
	Provider string `yaml:"provider" json:"provider"`

	// Endpoint is the OpenAI-compatible base URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is the embedding model identifier.
	Model string `yaml:"model" json:"model"`

	// Dimensions is the embedding dimension; must match the corpus snapshot.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
}

// RerankerConfig configures the cross-encoder reranker.
type RerankerConfig struct {
	// Enabled toggles reranking; when false fused order passes through.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Endpoint is the reranker server URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is the reranker model alias.
	Model string `yaml:"model" json:"model"`

	// RequestsPerSecond rate-limits reranker calls.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// Burst is the rate limiter burst size.
	Burst int `yaml:"burst" json:"burst"`
}

// AttachmentsConfig configures attachment matching.
type AttachmentsConfig struct {
	// MaxResults caps surfaced attachments per response.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// KeywordCap bounds the keyword-overlap contribution to relevance.
	KeywordCap float64 `yaml:"keyword_cap" json:"keyword_cap"`
}

// StorageConfig configures on-disk locations.
type StorageConfig struct {
	// DataDir is the root data directory.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// CorpusPath is the SQLite corpus database written by ingestion.
	CorpusPath string `yaml:"corpus_path" json:"corpus_path"`

	// VectorIndexPath is the persisted HNSW graph.
	VectorIndexPath string `yaml:"vector_index_path" json:"vector_index_path"`

	// LexicalIndexPath is the bleve index directory.
	LexicalIndexPath string `yaml:"lexical_index_path" json:"lexical_index_path"`

	// SnapshotMarker is the file ingestion touches after a reindex.
	// Watching it drives automatic cache invalidation.
	SnapshotMarker string `yaml:"snapshot_marker" json:"snapshot_marker"`
}

// ServerConfig configures the serving surface.
type ServerConfig struct {
	// Transport is "http" or "mcp".
	Transport string `yaml:"transport" json:"transport"`

	// HTTPAddr is the listen address for the HTTP API.
	HTTPAddr string `yaml:"http_addr" json:"http_addr"`

	// LogLevel is the minimum log level.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogFile is the log file path; empty logs to stderr only.
	LogFile string `yaml:"log_file" json:"log_file"`
}

// SessionsConfig configures conversational session storage.
type SessionsConfig struct {
	// Dir is the session storage directory.
	Dir string `yaml:"dir" json:"dir"`

	// MaxTurns bounds how many prior turns are kept per session.
	MaxTurns int `yaml:"max_turns" json:"max_turns"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			DenseWeight:    0.7,
			SparseWeight:   0.3,
			K0:             60,
			CandidateK:     50,
			MinSimilarity:  0.0,
			MinSparseScore: 0.0,
			RerankPool:     20,
			DefaultTopK:    5,
			MaxTopK:        10,
		},
		Timeouts: TimeoutConfig{
			Adapter:        3 * time.Second,
			AdapterRetries: 1,
			AdapterBackoff: 200 * time.Millisecond,
			Rerank:         2 * time.Second,
			CacheWait:      2 * time.Second,
			Pipeline:       8 * time.Second,
		},
		Cache: CacheConfig{
			Backend:       "memory",
			ResultTTL:     time.Hour,
			ResultSize:    4096,
			EmbeddingTTL:  72 * time.Hour,
			EmbeddingSize: 2048,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "openai",
			Endpoint:   "http://localhost:11434/v1",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		Reranker: RerankerConfig{
			Enabled:           true,
			Endpoint:          "http://localhost:9659",
			Model:             "reranker-small",
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Attachments: AttachmentsConfig{
			MaxResults: 3,
			KeywordCap: 0.5,
		},
		Storage: StorageConfig{
			DataDir:          dataDir,
			CorpusPath:       filepath.Join(dataDir, "corpus.db"),
			VectorIndexPath:  filepath.Join(dataDir, "vectors.hnsw"),
			LexicalIndexPath: filepath.Join(dataDir, "lexical.bleve"),
			SnapshotMarker:   filepath.Join(dataDir, "SNAPSHOT"),
		},
		Server: ServerConfig{
			Transport: "http",
			HTTPAddr:  ":8787",
			LogLevel:  "info",
		},
		Sessions: SessionsConfig{
			Dir:      filepath.Join(dataDir, "sessions"),
			MaxTurns: 20,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "sibyl")
	}
	return filepath.Join(home, ".sibyl")
}

// Load resolves configuration from the given explicit path (may be empty),
// standard config files, and environment overrides. Validation errors are
// fatal configuration errors.
func Load(explicitPath string) (*Config, error) {
	cfg := Default()

	paths := candidatePaths(explicitPath)
	for _, p := range paths {
		if err := mergeFile(cfg, p); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func candidatePaths(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sibyl", "config.yaml"))
	}
	paths = append(paths, "sibyl.yaml")
	return paths
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sibylerr.ConfigError(fmt.Sprintf("cannot read config %s", path), err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return sibylerr.ConfigError(fmt.Sprintf("cannot parse config %s", path), err)
	}
	return nil
}

// applyEnvOverrides applies SIBYL_* environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envFloat("SIBYL_DENSE_WEIGHT"); ok {
		cfg.Retrieval.DenseWeight = v
	}
	if v, ok := envFloat("SIBYL_SPARSE_WEIGHT"); ok {
		cfg.Retrieval.SparseWeight = v
	}
	if v, ok := envInt("SIBYL_K0"); ok {
		cfg.Retrieval.K0 = v
	}
	if v := os.Getenv("SIBYL_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("SIBYL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("SIBYL_EMBED_ENDPOINT"); v != "" {
		cfg.Embeddings.Endpoint = v
	}
	if v := os.Getenv("SIBYL_EMBED_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("SIBYL_RERANK_ENDPOINT"); v != "" {
		cfg.Reranker.Endpoint = v
	}
	if v := os.Getenv("SIBYL_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
		cfg.Storage.CorpusPath = filepath.Join(v, "corpus.db")
		cfg.Storage.VectorIndexPath = filepath.Join(v, "vectors.hnsw")
		cfg.Storage.LexicalIndexPath = filepath.Join(v, "lexical.bleve")
		cfg.Storage.SnapshotMarker = filepath.Join(v, "SNAPSHOT")
		cfg.Sessions.Dir = filepath.Join(v, "sessions")
	}
	if v := os.Getenv("SIBYL_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

// weightSumTolerance allows for float rounding in configured weights.
const weightSumTolerance = 1e-9

// Validate checks invariants that make queries unanswerable when broken.
// All violations are fatal configuration errors.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.DenseWeight < 0 || r.SparseWeight < 0 {
		return sibylerr.New(sibylerr.ErrCodeWeightSum,
			fmt.Sprintf("fusion weights must be non-negative (dense=%.3f sparse=%.3f)", r.DenseWeight, r.SparseWeight), nil)
	}
	if math.Abs(r.DenseWeight+r.SparseWeight-1.0) > weightSumTolerance {
		return sibylerr.New(sibylerr.ErrCodeWeightSum,
			fmt.Sprintf("fusion weights must sum to 1.0 (got %.3f)", r.DenseWeight+r.SparseWeight), nil).
			WithSuggestion("set retrieval.dense_weight and retrieval.sparse_weight so they sum to 1.0")
	}
	if r.K0 <= 0 {
		return sibylerr.ConfigError(fmt.Sprintf("retrieval.k0 must be positive (got %d)", r.K0), nil)
	}
	if r.RerankPool <= 0 {
		return sibylerr.ConfigError("retrieval.rerank_pool must be positive", nil)
	}
	if r.DefaultTopK < 1 || r.DefaultTopK > r.MaxTopK {
		return sibylerr.ConfigError(
			fmt.Sprintf("retrieval.default_top_k must be in [1, %d]", r.MaxTopK), nil)
	}
	if r.MinSimilarity < -1 || r.MinSimilarity > 1 {
		return sibylerr.ConfigError("retrieval.min_similarity must be in [-1, 1]", nil)
	}
	if c.Embeddings.Dimensions <= 0 {
		return sibylerr.ConfigError("embeddings.dimensions must be positive", nil)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return sibylerr.ConfigError(
			fmt.Sprintf("cache.backend must be memory or redis (got %q)", c.Cache.Backend), nil)
	}
	if c.Cache.ResultTTL <= 0 || c.Cache.EmbeddingTTL <= 0 {
		return sibylerr.ConfigError("cache TTLs must be positive", nil)
	}
	if c.Attachments.MaxResults < 0 {
		return sibylerr.ConfigError("attachments.max_results must be non-negative", nil)
	}
	switch c.Server.Transport {
	case "http", "mcp":
	default:
		return sibylerr.ConfigError(
			fmt.Sprintf("server.transport must be http or mcp (got %q)", c.Server.Transport), nil)
	}
	return nil
}

// Fingerprint returns a stable hash of every knob that changes ranking.
// Result cache entries keyed with a stale fingerprint are treated as misses,
// so ranking-relevant config changes invalidate implicitly.
func (c *Config) Fingerprint() string {
	canonical := fmt.Sprintf(
		"dw=%.6f|sw=%.6f|k0=%d|ck=%d|ms=%.6f|mss=%.6f|pool=%d|embed=%s/%d|rerank=%s:%v",
		c.Retrieval.DenseWeight,
		c.Retrieval.SparseWeight,
		c.Retrieval.K0,
		c.Retrieval.CandidateK,
		c.Retrieval.MinSimilarity,
		c.Retrieval.MinSparseScore,
		c.Retrieval.RerankPool,
		c.Embeddings.Model,
		c.Embeddings.Dimensions,
		c.Reranker.Model,
		c.Reranker.Enabled,
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}
