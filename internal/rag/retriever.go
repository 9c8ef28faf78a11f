// Package rag connects the documentation knowledge base to the agent: it
// ingests documentation pages into the knowledge store and exposes the store
// as a Genkit retriever.
package rag

import (
	"context"
	"strconv"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ember0/ember/internal/knowledge"
)

// VectorDimension is the embedding dimension used by the pgvector schema.
// gemini-embedding-001 vectors are truncated to this size.
const VectorDimension = knowledge.Dimension

// Context budget applied to retrieved documents before they reach the
// prompt. Excerpts keep answers grounded without flooding the context
// window.
const (
	MaxExcerptChars = 500
	MaxContextChars = 2000
)

// Searcher is the subset of knowledge.Store the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Retriever bridges the knowledge store to the Genkit ai.Retriever interface.
type Retriever struct {
	store Searcher
}

// New creates a Retriever backed by the given store.
func New(store Searcher) *Retriever {
	return &Retriever{store: store}
}

// DefineDocs registers a Genkit retriever over the ingested documentation
// (source_type="docs"). Request options may carry {"k": n} to override the
// default retrieval depth.
func (r *Retriever) DefineDocs(g *genkit.Genkit, name string) ai.Retriever {
	return genkit.DefineRetriever(
		g, name, nil,
		func(ctx context.Context, req *ai.RetrieverRequest) (*ai.RetrieverResponse, error) {
			queryText := extractQueryText(req)
			topK := extractTopK(req, 5)

			results, err := r.store.Search(ctx, queryText,
				knowledge.WithTopK(topK),
				knowledge.WithFilter("source_type", knowledge.SourceTypeDocs),
			)
			if err != nil {
				return nil, err
			}

			return &ai.RetrieverResponse{
				Documents: convertToGenkitDocuments(results),
			}, nil
		},
	)
}

// extractQueryText extracts text from RetrieverRequest.Query.
func extractQueryText(req *ai.RetrieverRequest) string {
	if req.Query != nil && len(req.Query.Content) > 0 {
		return req.Query.Content[0].Text
	}
	return ""
}

// extractTopK reads "k" from request options, accepting the numeric types
// JSON decoding may produce. Values outside [1, 20] fall back to defaultK.
func extractTopK(req *ai.RetrieverRequest, defaultK int) int {
	opts, ok := req.Options.(map[string]any)
	if !ok {
		return defaultK
	}
	raw, exists := opts["k"]
	if !exists {
		return defaultK
	}

	var k int
	switch v := raw.(type) {
	case int:
		k = v
	case int32:
		k = int(v)
	case int64:
		k = int(v)
	case float64:
		k = int(v)
	case float32:
		k = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return defaultK
		}
		k = parsed
	default:
		return defaultK
	}

	if k < 1 || k > 20 {
		return defaultK
	}
	return k
}

// convertToGenkitDocuments converts search results into prompt documents,
// applying the excerpt and total context budgets. Results arrive ordered by
// similarity, so truncation drops the least relevant tail first.
func convertToGenkitDocuments(results []knowledge.Result) []*ai.Document {
	docs := make([]*ai.Document, 0, len(results))
	used := 0

	for _, result := range results {
		if used >= MaxContextChars {
			break
		}

		excerpt := truncateRunes(result.Document.Content, MaxExcerptChars)
		if remaining := MaxContextChars - used; utf8.RuneCountInString(excerpt) > remaining {
			excerpt = truncateRunes(excerpt, remaining)
		}
		used += utf8.RuneCountInString(excerpt)

		metadata := make(map[string]any, len(result.Document.Metadata)+1)
		for k, v := range result.Document.Metadata {
			metadata[k] = v
		}
		metadata["similarity"] = result.Similarity

		docs = append(docs, ai.DocumentFromText(excerpt, metadata))
	}
	return docs
}

// truncateRunes limits s to n runes without splitting multi-byte characters.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
