package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	appLog "eventannouncer/internal/log"
)

// cacheEntry holds the last good body for a feed and its validators.
type cacheEntry struct {
	ETag         string
	LastModified string
	Body         []byte
	UpdatedAt    time.Time
}

// Fetcher downloads ICS feeds with conditional GET (ETag / Last-Modified).
// The last good body per URL is kept in memory to answer a 304. Any other
// failure is returned as an error; a stale body is never served in its place.
type Fetcher struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewFetcher creates a Fetcher. A nil client gets a 15s timeout client.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{
		client: client,
		cache:  make(map[string]cacheEntry),
	}
}

// Fetch returns the body of the feed at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("ics: feed URL is empty")
	}

	f.mu.Lock()
	cached, haveCache := f.cache[url]
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if haveCache {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ics: fetch %s: %w", redactURL(url), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[url] = cacheEntry{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
			UpdatedAt:    time.Now().UTC(),
		}
		f.mu.Unlock()
		appLog.Debug("ics fetch success", "url", redactURL(url), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if !haveCache {
			return nil, errors.New("ics: 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "url", redactURL(url))
		return cached.Body, nil

	default:
		appLog.Warn("ics fetch non-OK", "url", redactURL(url), "status", resp.StatusCode, "cached", haveCache)
		return nil, fmt.Errorf("ics: unexpected status %s", resp.Status)
	}
}

// redactURL hides path and query of a feed URL; private feeds carry their
// secret there.
//
//	https://example.com/path/to/private.ics?token=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "ics://...(redacted)"
	}
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, "?")
	return scheme + "://" + host + "/...(redacted)"
}
