package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sibyl-search/sibyl/internal/attach"
	"github.com/sibyl-search/sibyl/internal/query"
)

func TestFormatQueryResultsEmpty(t *testing.T) {
	out := FormatQueryResults(&query.Response{Query: "nothing"})
	assert.Contains(t, out, `No results found for "nothing"`)
}

func TestFormatQueryResults(t *testing.T) {
	resp := &query.Response{
		Query: "fusion",
		Results: []query.Evidence{
			{ChunkID: "c1", DocumentID: "guide.md", Text: "fused lists", Score: 1.0, HeadingPath: "Design > Fusion"},
		},
		Attachments: []attach.Match{
			{ID: "a1", Name: "diagram", URI: "files/d.png", Relevance: 0.75},
		},
		Timings: query.Timings{Total: 12 * time.Millisecond, CacheStatus: "hit"},
	}

	out := FormatQueryResults(resp)
	assert.Contains(t, out, `## Results for "fusion"`)
	assert.Contains(t, out, "Found 1 result\n")
	assert.Contains(t, out, "guide.md")
	assert.Contains(t, out, "Design > Fusion")
	assert.Contains(t, out, "fused lists")
	assert.Contains(t, out, "diagram")
	assert.Contains(t, out, "cache: hit")
}

func TestFormatQueryResultsDegraded(t *testing.T) {
	resp := &query.Response{
		Query:           "q",
		Results:         []query.Evidence{{ChunkID: "c1", DocumentID: "d", Text: "t", Score: 1.0}},
		Degraded:        true,
		DegradedReasons: []string{"sparse_unavailable"},
	}

	out := FormatQueryResults(resp)
	assert.Contains(t, out, "degraded: sparse_unavailable")
}
