// Package attach surfaces non-text artifacts (images, tables, files) that
// are relevant to a ranked answer, either through ingestion-time links to
// the surviving chunks or through keyword overlap with the query.
package attach

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/sibyl-search/sibyl/internal/corpus"
)

// Match is an attachment surfaced with a response.
type Match struct {
	// ID identifies the attachment.
	ID string `json:"id"`

	// Name is the human-readable attachment name.
	Name string `json:"name"`

	// URI locates the attachment content.
	URI string `json:"uri"`

	// Relevance is the match strength in (0, 1.5]; link relevance plus a
	// capped keyword-overlap bonus.
	Relevance float64 `json:"relevance"`
}

// Matcher selects attachments for a ranked result set.
type Matcher struct {
	store      corpus.Store
	maxResults int
	keywordCap float64
}

// NewMatcher creates a matcher over the given corpus store.
func NewMatcher(store corpus.Store, maxResults int, keywordCap float64) *Matcher {
	if maxResults <= 0 {
		maxResults = 3
	}
	if keywordCap <= 0 {
		keywordCap = 0.5
	}
	return &Matcher{store: store, maxResults: maxResults, keywordCap: keywordCap}
}

// Match returns attachments relevant to the ranked chunks, strongest first.
// Candidates come from two independent sources: attachments linked to a
// surviving chunk, and attachments whose keywords overlap the query even
// when none of their linked chunks survived ranking. An attachment scores
// the maximum link relevance over surviving chunks plus a keyword-overlap
// bonus capped so keywords alone cannot outrank a strong direct link.
// Attachments with no surviving link and no keyword overlap never appear.
func (m *Matcher) Match(ctx context.Context, queryTerms []string, chunkIDs []string) ([]Match, error) {
	byID := make(map[string]*corpus.Attachment)

	if len(chunkIDs) > 0 {
		linked, err := m.store.AttachmentsForChunks(ctx, chunkIDs)
		if err != nil {
			return nil, err
		}
		for _, a := range linked {
			byID[a.ID] = a
		}
	}
	if len(queryTerms) > 0 {
		keyworded, err := m.store.AttachmentsByKeywords(ctx, queryTerms)
		if err != nil {
			return nil, err
		}
		for _, a := range keyworded {
			if _, ok := byID[a.ID]; !ok {
				byID[a.ID] = a
			}
		}
	}
	if len(byID) == 0 {
		return nil, nil
	}

	surviving := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		surviving[id] = struct{}{}
	}

	terms := make(map[string]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		terms[strings.ToLower(t)] = struct{}{}
	}

	matches := make([]Match, 0, len(byID))
	for _, a := range byID {
		linkScore := 0.0
		for _, l := range a.Links {
			if _, ok := surviving[l.ChunkID]; !ok {
				continue
			}
			if l.Relevance > linkScore {
				linkScore = l.Relevance
			}
		}

		kwScore := m.keywordScore(a.Keywords, terms)

		score := linkScore + kwScore
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{
			ID:        a.ID,
			Name:      a.Name,
			URI:       a.URI,
			Relevance: score,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Relevance != matches[j].Relevance {
			return matches[i].Relevance > matches[j].Relevance
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > m.maxResults {
		matches = matches[:m.maxResults]
	}
	return matches, nil
}

// keywordScore is the overlap fraction of attachment keywords matched by
// query terms, scaled into [0, keywordCap].
func (m *Matcher) keywordScore(keywords []string, terms map[string]struct{}) float64 {
	if len(keywords) == 0 || len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, kw := range keywords {
		if _, ok := terms[strings.ToLower(kw)]; ok {
			matched++
		}
	}
	return m.keywordCap * float64(matched) / float64(len(keywords))
}

// QueryTerms tokenizes query text for keyword matching.
func QueryTerms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
