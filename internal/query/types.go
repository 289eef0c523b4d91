// Package query orchestrates the hybrid retrieval pipeline: normalize,
// cache lookup, parallel dense and sparse retrieval, fusion, reranking,
// attachment matching, and response assembly.
package query

import (
	"time"

	"github.com/sibyl-search/sibyl/internal/attach"
)

// State names a pipeline stage, used for logging and failure reporting.
type State string

const (
	StateReceived    State = "received"
	StateNormalizing State = "normalizing"
	StateRetrieving  State = "retrieving"
	StateFusing      State = "fusing"
	StateReranking   State = "reranking"
	StateMatching    State = "matching"
	StateCompleted   State = "completed"
	StateDegraded    State = "degraded"
	StateFailed      State = "failed"
)

// Request is a user query.
type Request struct {
	// Text is the raw query text.
	Text string `json:"text"`

	// TopK is the number of results to return. Zero means the configured
	// default; values above the maximum are clamped.
	TopK int `json:"top_k,omitempty"`

	// SessionID scopes the query to a conversational session. Empty means
	// no session: the result is shared across all unscoped callers.
	SessionID string `json:"session_id,omitempty"`
}

// Evidence is one ranked chunk in a response.
type Evidence struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	HeadingPath string  `json:"heading_path,omitempty"`
	Page        int     `json:"page,omitempty"`
}

// Timings breaks down where a query spent its time. On a cache hit every
// pipeline stage is zero and AdapterCalls is zero.
type Timings struct {
	Total        time.Duration `json:"total"`
	Embed        time.Duration `json:"embed"`
	Retrieval    time.Duration `json:"retrieval"`
	Rerank       time.Duration `json:"rerank"`
	Attach       time.Duration `json:"attach"`
	AdapterCalls int           `json:"adapter_calls"`
	CacheStatus  string        `json:"cache_status"`
}

// Response is a completed query result.
type Response struct {
	// Query is the normalized query text that was served.
	Query string `json:"query"`

	// Results are ranked evidence chunks, best first, at most TopK.
	Results []Evidence `json:"results"`

	// Attachments are relevant non-text artifacts, strongest first.
	Attachments []attach.Match `json:"attachments,omitempty"`

	// Degraded is true when any sub-component was skipped or substituted.
	// A degraded response is still a successful response.
	Degraded bool `json:"degraded"`

	// DegradedReasons names the degraded sub-components.
	DegradedReasons []string `json:"degraded_reasons,omitempty"`

	// Timings is the latency breakdown.
	Timings Timings `json:"timings"`
}

// rankedItem is one entry of the cacheable ranking.
type rankedItem struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// cachedResult is the cache entry payload: the ranked pool plus degradation
// state. Evidence text and attachments are re-read from the local corpus at
// assembly, so entries stay small and chunk edits never serve stale text
// past invalidation.
type cachedResult struct {
	Items    []rankedItem `json:"items"`
	DocIDs   []string     `json:"doc_ids,omitempty"`
	Degraded bool         `json:"degraded"`
	Reasons  []string     `json:"reasons,omitempty"`
}
