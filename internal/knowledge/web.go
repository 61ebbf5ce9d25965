package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// urlValidator is the slice of security.URL the web indexer depends on.
type urlValidator interface {
	Validate(rawURL string) error
}

// maxFetchBytes caps how much of a response body the indexer reads. Pages
// larger than this are rejected rather than truncated.
const maxFetchBytes int64 = 5 << 20

// IndexURL fetches a web page, extracts the readable article text, and
// indexes it with the URL as its source. The URL is validated before any
// request goes out (scheme allow-list, private and link-local addresses
// blocked) and the response body is capped at maxFetchBytes.
// Returns the number of chunks stored.
func (idx *Indexer) IndexURL(ctx context.Context, rawURL string) (int, error) {
	if err := idx.web.Validate(rawURL); err != nil {
		return 0, fmt.Errorf("url validation failed: %w", err)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("failed to parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := idx.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return 0, fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}
	if int64(len(body)) == maxFetchBytes {
		// Probe one byte to tell an exact-size response from an oversized one.
		probe := make([]byte, 1)
		if n, _ := resp.Body.Read(probe); n > 0 {
			return 0, fmt.Errorf("response from %s exceeds %d byte limit", rawURL, maxFetchBytes)
		}
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return 0, fmt.Errorf("failed to extract article from %s: %w", rawURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return 0, fmt.Errorf("no readable content at %s", rawURL)
	}

	extra := map[string]string{"url": rawURL}
	if title := strings.TrimSpace(article.Title); title != "" {
		extra["title"] = title
	}

	return idx.indexContent(ctx, rawURL, SourceTypeURL, text, extra)
}
