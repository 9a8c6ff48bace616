package catalog

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// minBodyLen is the shortest extracted text treated as a real article body.
const minBodyLen = 100

// Fetcher downloads article pages and extracts their readable text.
// Hosts that answer with an HTTP error are not contacted again.
type Fetcher struct {
	client    *http.Client
	userAgent string

	mu          sync.Mutex
	failedHosts map[string]struct{}
}

// NewFetcher creates a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent:   "lestari/1.0 (article catalog)",
		failedHosts: make(map[string]struct{}),
	}
}

// FetchText returns the readable text of the page at pageURL, or "" when
// nothing usable could be extracted.
func (f *Fetcher) FetchText(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	host := strings.ToLower(u.Host)
	if f.hostFailed(host) {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		f.markFailed(host)
		log.Printf("HTTP %d for %s, skipping remaining pages from %s", resp.StatusCode, pageURL, host)
		return "", nil
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return "", nil
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) < minBodyLen {
		return "", nil
	}
	return text, nil
}

func (f *Fetcher) hostFailed(host string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.failedHosts[host]
	return ok
}

func (f *Fetcher) markFailed(host string) {
	if host == "" {
		return
	}
	f.mu.Lock()
	f.failedHosts[host] = struct{}{}
	f.mu.Unlock()
}
