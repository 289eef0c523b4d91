package index

import (
	"context"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

// BleveIndex implements LexicalIndex on bleve with BM25-style scoring.
type BleveIndex struct {
	mu       sync.RWMutex
	index    bleve.Index
	minScore float64
	closed   bool
}

var _ LexicalIndex = (*BleveIndex)(nil)

// chunkDoc is the indexed document shape.
type chunkDoc struct {
	Content string `json:"content"`
}

// NewBleveIndex opens or creates a lexical index at path.
// An empty path creates an in-memory index for tests.
func NewBleveIndex(path string, minScore float64) (*BleveIndex, error) {
	im, err := indexMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		} else if err != nil {
			return nil, sibylerr.New(sibylerr.ErrCodeCorruptIndex, "open lexical index", err)
		}
	}
	if err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "create lexical index", err)
	}

	return &BleveIndex{index: idx, minScore: minScore}, nil
}

// indexMapping builds a mapping with the English analyzer, which handles
// stemming and stop words for natural-language queries.
func indexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = en.AnalyzerName

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	im.DefaultMapping = docMapping

	return im, nil
}

// Index adds chunks to the index.
func (b *BleveIndex) Index(_ context.Context, ids []string, contents []string) error {
	if len(ids) != len(contents) {
		return sibylerr.New(sibylerr.ErrCodeInternal, "ids and contents length mismatch", nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return sibylerr.IndexUnavailable("sparse", nil)
	}

	batch := b.index.NewBatch()
	for i, id := range ids {
		if err := batch.Index(id, chunkDoc{Content: contents[i]}); err != nil {
			return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "index chunk", err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "execute index batch", err)
	}
	return nil
}

// Search returns up to k keyword matches, best first.
func (b *BleveIndex) Search(ctx context.Context, queryStr string, k int) ([]SparseHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, sibylerr.IndexUnavailable("sparse", nil)
	}
	if strings.TrimSpace(queryStr) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = k
	req.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, sibylerr.IndexUnavailable("sparse", err)
	}

	hits := make([]SparseHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if hit.Score < b.minScore {
			continue
		}
		hits = append(hits, SparseHit{
			ChunkID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return hits, nil
}

// matchedTerms extracts the matched query terms from hit locations.
func matchedTerms(hit *search.DocumentMatch) []string {
	if len(hit.Locations) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var terms []string
	for _, fieldLocs := range hit.Locations {
		for term := range fieldLocs {
			if _, dup := seen[term]; dup {
				continue
			}
			seen[term] = struct{}{}
			terms = append(terms, term)
		}
	}
	return terms
}

// Count returns the number of indexed documents.
func (b *BleveIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n, _ := b.index.DocCount()
	return int(n)
}

// Close releases the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
