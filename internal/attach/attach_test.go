package attach

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibyl-search/sibyl/internal/corpus"
)

func newStore(t *testing.T) *corpus.SQLiteStore {
	t.Helper()
	s, err := corpus.OpenSQLite(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *corpus.SQLiteStore, attachments ...*corpus.Attachment) {
	t.Helper()
	ctx := context.Background()
	for _, a := range attachments {
		require.NoError(t, s.PutAttachment(ctx, a))
	}
}

func TestMatchDirectLinkScoresMaxRelevance(t *testing.T) {
	s := newStore(t)
	seed(t, s, &corpus.Attachment{
		ID: "att1", Name: "diagram", URI: "u",
		Links: []corpus.ChunkLink{
			{ChunkID: "c1", Relevance: 0.9},
			{ChunkID: "c2", Relevance: 0.4},
		},
	})

	m := NewMatcher(s, 3, 0.5)
	got, err := m.Match(context.Background(), nil, []string{"c1", "c2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "att1", got[0].ID)
	assert.InDelta(t, 0.9, got[0].Relevance, 1e-9)
}

func TestMatchKeywordBonusIsCapped(t *testing.T) {
	s := newStore(t)
	seed(t, s, &corpus.Attachment{
		ID: "att1", Name: "wiring diagram", URI: "u",
		Keywords: []string{"wiring", "diagram"},
		Links:    []corpus.ChunkLink{{ChunkID: "c1", Relevance: 0.5}},
	})

	m := NewMatcher(s, 3, 0.5)
	got, err := m.Match(context.Background(),
		QueryTerms("show the wiring diagram"), []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	// 0.5 link + full keyword overlap capped at 0.5.
	assert.InDelta(t, 1.0, got[0].Relevance, 1e-9)
}

func TestMatchHardFilterExcludesUnrelated(t *testing.T) {
	s := newStore(t)
	seed(t, s,
		&corpus.Attachment{
			ID: "linked", Name: "n", URI: "u",
			Links: []corpus.ChunkLink{{ChunkID: "c1", Relevance: 0.8}},
		},
		&corpus.Attachment{
			ID: "orphan", Name: "n", URI: "u",
			Keywords: []string{"unrelated"},
			Links:    []corpus.ChunkLink{{ChunkID: "gone", Relevance: 1.0}},
		})

	m := NewMatcher(s, 3, 0.5)
	got, err := m.Match(context.Background(),
		QueryTerms("query about wiring"), []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "linked", got[0].ID)
}

func TestMatchLinkToUnrankedChunkDoesNotCount(t *testing.T) {
	s := newStore(t)
	// Only the link to the surviving chunk counts; the stronger link to a
	// chunk that fell out of ranking contributes nothing.
	seed(t, s,
		&corpus.Attachment{
			ID: "partial", Name: "n", URI: "u",
			Keywords: []string{"wiring"},
			Links:    []corpus.ChunkLink{{ChunkID: "c1", Relevance: 0.9}, {ChunkID: "gone", Relevance: 1.0}},
		})

	m := NewMatcher(s, 3, 0.5)
	got, err := m.Match(context.Background(), QueryTerms("wiring"), []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	// Direct link 0.9 plus keyword cap 0.5.
	assert.InDelta(t, 1.4, got[0].Relevance, 1e-9)
}

func TestMatchKeywordOnlySurfaces(t *testing.T) {
	s := newStore(t)
	// Linked only to a chunk that fell out of ranking; keywords still match.
	seed(t, s,
		&corpus.Attachment{
			ID: "by-keyword", Name: "wiring schematic", URI: "u",
			Keywords: []string{"wiring"},
			Links:    []corpus.ChunkLink{{ChunkID: "gone", Relevance: 0.9}},
		},
		&corpus.Attachment{
			ID: "unlinked", Name: "wiring notes", URI: "u",
			Keywords: []string{"wiring", "legacy"},
		})

	m := NewMatcher(s, 3, 0.5)
	got, err := m.Match(context.Background(), QueryTerms("show the wiring"), []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Full overlap beats half overlap; neither gets link credit.
	assert.Equal(t, "by-keyword", got[0].ID)
	assert.InDelta(t, 0.5, got[0].Relevance, 1e-9)
	assert.Equal(t, "unlinked", got[1].ID)
	assert.InDelta(t, 0.25, got[1].Relevance, 1e-9)
}

func TestMatchCapsResults(t *testing.T) {
	s := newStore(t)
	seed(t, s,
		&corpus.Attachment{ID: "a", Name: "n", URI: "u", Links: []corpus.ChunkLink{{ChunkID: "c1", Relevance: 0.9}}},
		&corpus.Attachment{ID: "b", Name: "n", URI: "u", Links: []corpus.ChunkLink{{ChunkID: "c1", Relevance: 0.8}}},
		&corpus.Attachment{ID: "c", Name: "n", URI: "u", Links: []corpus.ChunkLink{{ChunkID: "c1", Relevance: 0.7}}},
		&corpus.Attachment{ID: "d", Name: "n", URI: "u", Links: []corpus.ChunkLink{{ChunkID: "c1", Relevance: 0.6}}},
	)

	m := NewMatcher(s, 3, 0.5)
	got, err := m.Match(context.Background(), nil, []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[2].ID)
}

func TestMatchDeterministicTieBreak(t *testing.T) {
	s := newStore(t)
	seed(t, s,
		&corpus.Attachment{ID: "zed", Name: "n", URI: "u", Links: []corpus.ChunkLink{{ChunkID: "c1", Relevance: 0.5}}},
		&corpus.Attachment{ID: "abc", Name: "n", URI: "u", Links: []corpus.ChunkLink{{ChunkID: "c1", Relevance: 0.5}}},
	)

	m := NewMatcher(s, 3, 0.5)
	for i := 0; i < 5; i++ {
		got, err := m.Match(context.Background(), nil, []string{"c1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "abc", got[0].ID)
	}
}

func TestMatchEmptyChunkList(t *testing.T) {
	s := newStore(t)
	m := NewMatcher(s, 3, 0.5)
	got, err := m.Match(context.Background(), QueryTerms("anything"), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
