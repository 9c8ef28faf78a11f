package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"

	"github.com/ember0/ember/internal/knowledge"
)

func retrieverRequest(query string, options any) *ai.RetrieverRequest {
	return &ai.RetrieverRequest{
		Query:   ai.DocumentFromText(query, nil),
		Options: options,
	}
}

func TestExtractQueryText(t *testing.T) {
	if got := extractQueryText(retrieverRequest("verify a domain", nil)); got != "verify a domain" {
		t.Errorf("extractQueryText() = %q, want query text", got)
	}
	if got := extractQueryText(&ai.RetrieverRequest{}); got != "" {
		t.Errorf("extractQueryText() on empty request = %q, want empty", got)
	}
}

func TestExtractTopK(t *testing.T) {
	tests := []struct {
		name    string
		options any
		want    int
	}{
		{"no options", nil, 5},
		{"not a map", "k=3", 5},
		{"missing key", map[string]any{"n": 3}, 5},
		{"int", map[string]any{"k": 3}, 3},
		{"float64 from JSON", map[string]any{"k": float64(7)}, 7},
		{"string number", map[string]any{"k": "4"}, 4},
		{"string garbage", map[string]any{"k": "four"}, 5},
		{"zero rejected", map[string]any{"k": 0}, 5},
		{"negative rejected", map[string]any{"k": -2}, 5},
		{"above cap rejected", map[string]any{"k": 50}, 5},
		{"boolean rejected", map[string]any{"k": true}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTopK(retrieverRequest("q", tt.options), 5)
			if got != tt.want {
				t.Errorf("extractTopK() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConvertToGenkitDocuments(t *testing.T) {
	results := []knowledge.Result{
		{
			Document: knowledge.Document{
				ID:       "a_chunk_0",
				Content:  "Domains must be verified before sending.",
				Metadata: map[string]string{"title": "Domains", "source_url": "https://example.com/docs/domains"},
			},
			Similarity: 0.91,
		},
		{
			Document: knowledge.Document{
				ID:      "b_chunk_1",
				Content: strings.Repeat("x", MaxExcerptChars+200),
			},
			Similarity: 0.82,
		},
	}

	docs := convertToGenkitDocuments(results)
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].Content[0].Text != results[0].Document.Content {
		t.Errorf("short content should pass through unmodified")
	}
	if docs[0].Metadata["title"] != "Domains" {
		t.Errorf("metadata missing: %v", docs[0].Metadata)
	}
	if docs[0].Metadata["similarity"] != float32(0.91) {
		t.Errorf("similarity = %v, want 0.91", docs[0].Metadata["similarity"])
	}
	if got := utf8.RuneCountInString(docs[1].Content[0].Text); got != MaxExcerptChars {
		t.Errorf("long excerpt length = %d, want %d", got, MaxExcerptChars)
	}
}

func TestConvertToGenkitDocuments_ContextBudget(t *testing.T) {
	// Six max-size excerpts exceed the total budget; only four fit.
	var results []knowledge.Result
	for range 6 {
		results = append(results, knowledge.Result{
			Document: knowledge.Document{Content: strings.Repeat("y", MaxExcerptChars)},
		})
	}

	docs := convertToGenkitDocuments(results)
	if want := MaxContextChars / MaxExcerptChars; len(docs) != want {
		t.Fatalf("got %d documents, want %d", len(docs), want)
	}

	total := 0
	for _, doc := range docs {
		total += utf8.RuneCountInString(doc.Content[0].Text)
	}
	if total > MaxContextChars {
		t.Errorf("total context = %d runes, exceeds budget %d", total, MaxContextChars)
	}
}

func TestConvertToGenkitDocuments_PartialTailExcerpt(t *testing.T) {
	results := []knowledge.Result{
		{Document: knowledge.Document{Content: strings.Repeat("a", MaxExcerptChars)}},
		{Document: knowledge.Document{Content: strings.Repeat("b", MaxExcerptChars)}},
		{Document: knowledge.Document{Content: strings.Repeat("c", MaxExcerptChars)}},
		{Document: knowledge.Document{Content: strings.Repeat("d", 300)}},
		{Document: knowledge.Document{Content: strings.Repeat("e", 300)}},
	}

	docs := convertToGenkitDocuments(results)
	if len(docs) != 4 {
		t.Fatalf("got %d documents, want 4", len(docs))
	}
	// The fourth excerpt still fits within the remaining budget.
	if got := utf8.RuneCountInString(docs[3].Content[0].Text); got != 300 {
		t.Errorf("fourth excerpt length = %d, want 300", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("truncateRunes() = %q, want unchanged", got)
	}
	got := truncateRunes(strings.Repeat("測", 10), 4)
	if utf8.RuneCountInString(got) != 4 {
		t.Errorf("truncated to %d runes, want 4", utf8.RuneCountInString(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncation produced invalid UTF-8")
	}
}
