package rag

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/ember0/ember/internal/chunker"
	"github.com/ember0/ember/internal/knowledge"
	"github.com/ember0/ember/internal/log"
)

// fetchTimeout bounds each documentation page download.
const fetchTimeout = 30 * time.Second

// IndexerStore is the subset of knowledge.Store the ingestor needs.
type IndexerStore interface {
	Add(ctx context.Context, doc knowledge.Document) error
}

// IngestResult summarizes an ingestion run.
type IngestResult struct {
	Pages    int
	Chunks   int
	Failed   int
	Duration time.Duration
}

// Ingestor downloads documentation pages, extracts their text, chunks it and
// stores every chunk in the knowledge base. Document IDs derive from the
// page URL, so re-running ingestion upserts instead of duplicating.
type Ingestor struct {
	store   IndexerStore
	chunker *chunker.Chunker
	http    *resty.Client
	logger  log.Logger
}

// NewIngestor creates an Ingestor. A nil logger falls back to a nop logger.
func NewIngestor(store IndexerStore, ch *chunker.Chunker, logger log.Logger) *Ingestor {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Ingestor{
		store:   store,
		chunker: ch,
		http: resty.New().
			SetTimeout(fetchTimeout).
			SetHeader("User-Agent", "ember-ingest/1.0"),
		logger: logger,
	}
}

// IngestURLs ingests every URL, continuing past per-page failures. It
// returns an error only when no page could be ingested at all.
func (i *Ingestor) IngestURLs(ctx context.Context, urls []string) (*IngestResult, error) {
	start := time.Now()
	result := &IngestResult{}

	for _, pageURL := range urls {
		chunks, err := i.IngestURL(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			i.logger.Warn("failed to ingest page", "url", pageURL, "error", err)
			result.Failed++
			continue
		}
		result.Pages++
		result.Chunks += chunks
	}

	result.Duration = time.Since(start)
	if result.Pages == 0 && result.Failed > 0 {
		return result, fmt.Errorf("all %d pages failed to ingest", result.Failed)
	}

	i.logger.Info("ingestion finished",
		"pages", result.Pages,
		"chunks", result.Chunks,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

// IngestURL ingests a single documentation page and returns the number of
// chunks stored.
func (i *Ingestor) IngestURL(ctx context.Context, pageURL string) (int, error) {
	resp, err := i.http.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("fetching %s: HTTP %d", pageURL, resp.StatusCode())
	}

	title, text, err := extractText(resp.Body())
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", pageURL, err)
	}

	docID, err := docIDFromURL(pageURL)
	if err != nil {
		return 0, err
	}

	chunks, err := i.chunker.Chunk(text, docID, map[string]any{
		"source_url":  pageURL,
		"title":       title,
		"source_type": knowledge.SourceTypeDocs,
	})
	if err != nil {
		return 0, fmt.Errorf("chunking %s: %w", pageURL, err)
	}

	for _, ch := range chunks {
		doc := knowledge.Document{
			ID:       ch.ID,
			Content:  ch.Content,
			Metadata: metadataStrings(ch.Metadata),
		}
		if err := i.store.Add(ctx, doc); err != nil {
			return 0, fmt.Errorf("storing chunk %s: %w", ch.ID, err)
		}
	}

	i.logger.Debug("ingested page", "url", pageURL, "title", title, "chunks", len(chunks))
	return len(chunks), nil
}

// extractText turns a documentation HTML page into markdown-ish plain text.
// Headings become markdown headers so the chunker can split at section
// boundaries; script/style/navigation content is dropped.
func extractText(html []byte) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", "", err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	var blocks []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.Text())
		if content == "" {
			return
		}
		switch tag := goquery.NodeName(s); tag {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(tag[1] - '0')
			blocks = append(blocks, strings.Repeat("#", level)+" "+content)
		case "li":
			blocks = append(blocks, "- "+content)
		default:
			blocks = append(blocks, content)
		}
	})

	return title, strings.Join(blocks, "\n\n"), nil
}

// docIDFromURL derives a stable document ID from the page URL, e.g.
// https://resend.com/docs/introduction -> resend.com-docs-introduction.
func docIDFromURL(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parsing URL %q: %w", pageURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("URL %q has no host", pageURL)
	}

	slug := u.Host + strings.ReplaceAll(strings.TrimSuffix(u.Path, "/"), "/", "-")
	return strings.ToLower(slug), nil
}

// metadataStrings flattens chunk metadata for the knowledge store, which
// keeps metadata as string key/value pairs in JSONB.
func metadataStrings(metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
