package rag

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ember0/ember/internal/chunker"
	"github.com/ember0/ember/internal/knowledge"
)

type captureStore struct {
	docs   []knowledge.Document
	addErr error
}

func (c *captureStore) Add(_ context.Context, doc knowledge.Document) error {
	if c.addErr != nil {
		return c.addErr
	}
	c.docs = append(c.docs, doc)
	return nil
}

func newTestIngestor(t *testing.T, store IndexerStore) *Ingestor {
	t.Helper()
	ch, err := chunker.New()
	if err != nil {
		t.Fatalf("chunker.New() failed: %v", err)
	}
	return NewIngestor(store, ch, nil)
}

const docsPage = `<!DOCTYPE html>
<html>
<head>
  <title>Send Emails - Docs</title>
  <style>body { color: red; }</style>
  <script>console.log("tracker");</script>
</head>
<body>
  <nav><a href="/">Home</a></nav>
  <h1>Send Emails</h1>
  <p>Send your first email with a single API call.</p>
  <h2>Prerequisites</h2>
  <ul>
    <li>An API key</li>
    <li>A verified domain</li>
  </ul>
  <footer>Copyright</footer>
</body>
</html>`

func TestIngestURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/docs/send-emails" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(docsPage))
	}))
	defer srv.Close()

	store := &captureStore{}
	ing := newTestIngestor(t, store)

	pageURL := srv.URL + "/docs/send-emails"
	chunks, err := ing.IngestURL(context.Background(), pageURL)
	if err != nil {
		t.Fatalf("IngestURL() failed: %v", err)
	}
	if chunks != 1 {
		t.Fatalf("got %d chunks, want 1 for a small page", chunks)
	}
	if len(store.docs) != 1 {
		t.Fatalf("stored %d documents, want 1", len(store.docs))
	}

	doc := store.docs[0]
	if !strings.HasSuffix(doc.ID, "-docs-send-emails") {
		t.Errorf("document ID = %q, want URL-derived slug", doc.ID)
	}
	if !strings.Contains(doc.Content, "# Send Emails") {
		t.Errorf("h1 not converted to markdown header:\n%s", doc.Content)
	}
	if !strings.Contains(doc.Content, "## Prerequisites") {
		t.Errorf("h2 not converted to markdown header:\n%s", doc.Content)
	}
	if !strings.Contains(doc.Content, "- An API key") {
		t.Errorf("list item not rendered:\n%s", doc.Content)
	}
	if strings.Contains(doc.Content, "console.log") || strings.Contains(doc.Content, "color: red") {
		t.Errorf("script/style content leaked into text:\n%s", doc.Content)
	}
	if strings.Contains(doc.Content, "Copyright") || strings.Contains(doc.Content, "Home") {
		t.Errorf("navigation/footer content leaked into text:\n%s", doc.Content)
	}

	if doc.Metadata["source_url"] != pageURL {
		t.Errorf("source_url = %q, want %q", doc.Metadata["source_url"], pageURL)
	}
	if doc.Metadata["title"] != "Send Emails - Docs" {
		t.Errorf("title = %q", doc.Metadata["title"])
	}
	if doc.Metadata["source_type"] != knowledge.SourceTypeDocs {
		t.Errorf("source_type = %q", doc.Metadata["source_type"])
	}
	if doc.Metadata["chunk_index"] != "0" || doc.Metadata["total_chunks"] != "1" {
		t.Errorf("chunk counters = %q/%q", doc.Metadata["chunk_index"], doc.Metadata["total_chunks"])
	}
}

func TestIngestURL_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ing := newTestIngestor(t, &captureStore{})
	if _, err := ing.IngestURL(context.Background(), srv.URL+"/docs/x"); err == nil {
		t.Fatal("IngestURL() should fail on HTTP 500")
	}
}

func TestIngestURL_StoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(docsPage))
	}))
	defer srv.Close()

	ing := newTestIngestor(t, &captureStore{addErr: errors.New("db down")})
	if _, err := ing.IngestURL(context.Background(), srv.URL+"/docs/x"); err == nil {
		t.Fatal("IngestURL() should propagate store errors")
	}
}

func TestIngestURLs_ContinuesPastFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(docsPage))
	}))
	defer srv.Close()

	store := &captureStore{}
	ing := newTestIngestor(t, store)

	result, err := ing.IngestURLs(context.Background(),
		[]string{srv.URL + "/good", srv.URL + "/bad", srv.URL + "/also-good"})
	if err != nil {
		t.Fatalf("IngestURLs() failed: %v", err)
	}
	if result.Pages != 2 || result.Failed != 1 {
		t.Errorf("pages=%d failed=%d, want 2/1", result.Pages, result.Failed)
	}
	if result.Chunks != len(store.docs) {
		t.Errorf("chunk count %d does not match stored docs %d", result.Chunks, len(store.docs))
	}
}

func TestIngestURLs_AllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ing := newTestIngestor(t, &captureStore{})
	result, err := ing.IngestURLs(context.Background(), []string{srv.URL + "/a", srv.URL + "/b"})
	if err == nil {
		t.Fatal("IngestURLs() should fail when every page fails")
	}
	if result.Failed != 2 {
		t.Errorf("failed = %d, want 2", result.Failed)
	}
}

func TestDocIDFromURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"docs page", "https://resend.com/docs/introduction", "resend.com-docs-introduction", false},
		{"trailing slash", "https://resend.com/docs/send/", "resend.com-docs-send", false},
		{"root", "https://resend.com/", "resend.com", false},
		{"uppercase host", "https://Resend.com/Docs", "resend.com-docs", false},
		{"no host", "/docs/introduction", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := docIDFromURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("docIDFromURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("docIDFromURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestMetadataStrings(t *testing.T) {
	got := metadataStrings(map[string]any{
		"title":        "Domains",
		"chunk_index":  2,
		"total_chunks": 5,
	})
	want := map[string]string{"title": "Domains", "chunk_index": "2", "total_chunks": "5"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("metadataStrings()[%q] = %q, want %q", k, got[k], v)
		}
	}
}
