// Package search maintains a bleve index over the catalog so paths can be
// found by name fragments, MIME label, or digest. The index is derived state:
// it is rebuilt from the store's tables and never consulted by the scanner.
package search

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/chenz/idxscan/store"
)

// Index is a disk-persisted bleve index keyed by catalog path.
type Index struct {
	index bleve.Index
	path  string
}

// pathDocument is the document shape stored per cataloged path.
type pathDocument struct {
	Path   string  `json:"path"`
	MIME   string  `json:"mime"`
	SHA256 string  `json:"sha256"`
	Size   float64 `json:"size"`
}

// Open opens the search index at path, creating it when absent.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}
	return &Index{index: idx, path: path}, nil
}

// Close releases the index.
func (ix *Index) Close() error {
	return ix.index.Close()
}

// buildIndexMapping maps path and MIME as searchable text, the digest as an
// exact keyword, and the size as a stored number.
func buildIndexMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	pathFieldMapping := bleve.NewTextFieldMapping()
	pathFieldMapping.Store = true
	pathFieldMapping.IncludeInAll = true
	docMapping.AddFieldMappingsAt("path", pathFieldMapping)

	mimeFieldMapping := bleve.NewTextFieldMapping()
	mimeFieldMapping.Store = true
	mimeFieldMapping.IncludeInAll = true
	docMapping.AddFieldMappingsAt("mime", mimeFieldMapping)

	digestFieldMapping := bleve.NewKeywordFieldMapping()
	digestFieldMapping.Store = true
	digestFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("sha256", digestFieldMapping)

	sizeFieldMapping := bleve.NewNumericFieldMapping()
	sizeFieldMapping.Store = true
	sizeFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("size", sizeFieldMapping)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Rebuild drops the index and re-derives it from the catalog. Returns the
// number of documents indexed.
func (ix *Index) Rebuild(ctx context.Context, st *store.Store) (int, error) {
	if err := ix.index.Close(); err != nil {
		return 0, fmt.Errorf("closing search index: %w", err)
	}
	if err := os.RemoveAll(ix.path); err != nil {
		return 0, fmt.Errorf("dropping search index: %w", err)
	}
	fresh, err := bleve.New(ix.path, buildIndexMapping())
	if err != nil {
		return 0, fmt.Errorf("recreating search index: %w", err)
	}
	ix.index = fresh

	const batchSize = 500
	batch := ix.index.NewBatch()
	count := 0

	err = st.EachPath(ctx, func(entry store.PathEntry) error {
		doc := pathDocument{
			Path:   entry.Path,
			MIME:   entry.MIME,
			SHA256: entry.SHA256,
			Size:   float64(entry.Size),
		}
		if err := batch.Index(entry.Path, doc); err != nil {
			return err
		}
		count++
		if batch.Size() >= batchSize {
			if err := ix.index.Batch(batch); err != nil {
				return err
			}
			batch = ix.index.NewBatch()
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("feeding search index: %w", err)
	}
	if batch.Size() > 0 {
		if err := ix.index.Batch(batch); err != nil {
			return count, fmt.Errorf("flushing search index: %w", err)
		}
	}
	return count, nil
}

// Result is one matching catalog entry.
type Result struct {
	Path   string
	MIME   string
	SHA256 string
	Size   int64
}

// Options configures one query.
type Options struct {
	Query      string // plain text, "quoted phrase", or /regex/
	Glob       string // doublestar filter applied to matched paths
	MaxResults int
}

// Search runs a query against the index.
func (ix *Index) Search(options Options) ([]Result, error) {
	if options.MaxResults <= 0 {
		options.MaxResults = 50
	}

	searchRequest := bleve.NewSearchRequest(buildQuery(options.Query))
	// Over-fetch so a glob filter still fills the page.
	searchRequest.Size = options.MaxResults * 5
	searchRequest.Fields = []string{"path", "mime", "sha256", "size"}

	searchResults, err := ix.index.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	var results []Result
	for _, hit := range searchResults.Hits {
		if len(results) >= options.MaxResults {
			break
		}
		if options.Glob != "" {
			matched, matchErr := doublestar.Match(options.Glob, strings.TrimPrefix(hit.ID, "/"))
			if matchErr != nil {
				return nil, fmt.Errorf("invalid glob %q: %w", options.Glob, matchErr)
			}
			if !matched {
				// Also try the absolute form so rooted globs work.
				if ok, _ := doublestar.Match(options.Glob, hit.ID); !ok {
					continue
				}
			}
		}
		results = append(results, resultFromHit(hit.ID, hit.Fields))
	}
	return results, nil
}

func resultFromHit(id string, fields map[string]interface{}) Result {
	result := Result{Path: id}
	if mime, ok := fields["mime"].(string); ok {
		result.MIME = mime
	}
	if sha, ok := fields["sha256"].(string); ok {
		result.SHA256 = sha
	}
	if size, ok := fields["size"].(float64); ok {
		result.Size = int64(size)
	}
	return result
}

// buildQuery parses the query string:
//   - plain text: match query
//   - "quoted text": phrase query
//   - /regex/: regexp query
//   - empty: match everything (useful with -glob)
func buildQuery(queryString string) query.Query {
	queryString = strings.TrimSpace(queryString)

	if queryString == "" {
		return bleve.NewMatchAllQuery()
	}
	if strings.HasPrefix(queryString, "/") && strings.HasSuffix(queryString, "/") && len(queryString) > 2 {
		return bleve.NewRegexpQuery(queryString[1 : len(queryString)-1])
	}
	if strings.HasPrefix(queryString, "\"") && strings.HasSuffix(queryString, "\"") && len(queryString) > 2 {
		return bleve.NewMatchPhraseQuery(queryString[1 : len(queryString)-1])
	}
	return bleve.NewMatchQuery(queryString)
}
