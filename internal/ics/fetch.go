package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "alarmclock/internal/log"
)

// Source identifies the ICS subscription the controller follows.
type Source struct {
	// ID is an internal identifier used in logs.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchError is returned when the feed could not be retrieved or read.
// The scheduler recovers from it by keeping the previous schedule.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", RedactURL(e.URL), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchResult contains the outcome of fetching the ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (freshly fetched or from cache)
	FromCache bool   // true if the cached body was reused
}

// cacheEntry holds HTTP cache metadata for the ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves the ICS feed with HTTP caching (ETag/Last-Modified)
// backed by a small on-disk cache. The client timeout bounds every fetch
// so a hung feed can never stall the scheduler's tick loop.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

const defaultFetchTimeout = 15 * time.Second

// NewFetcher creates an ICS Fetcher. cacheDir is where per-URL cache
// directories are kept, e.g. "/var/lib/alarmclock/ics-cache".
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		// Relative fallback so development runs without root permissions.
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: defaultFetchTimeout,
		},
		cacheDir: cacheDir,
	}
}

// Fetch retrieves the source body, honoring ETag and Last-Modified. On
// network errors or non-OK statuses a previously cached body is served
// instead; only when no cached body exists does Fetch fail, with a
// *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, &FetchError{URL: src.URL, Err: errors.New("source URL is empty")}
	}

	cachePath := f.cachePathForURL(src.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, &FetchError{URL: src.URL, Err: err}
	}

	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, &FetchError{URL: src.URL, Err: err}
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", RedactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "id", src.ID, "url", RedactURL(src.URL))
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, &FetchError{URL: src.URL, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, &FetchError{URL: src.URL, Err: readErr}
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := saveCache(cachePath, newMeta, body); err != nil {
			// The freshly fetched body is still usable.
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", RedactURL(src.URL))
		}

		appLog.Debug("ics fetch success", "id", src.ID, "url", RedactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, &FetchError{URL: src.URL, Err: errors.New("304 Not Modified but no cached body available")}
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID, "url", RedactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "id", src.ID, "url", RedactURL(src.URL), "status", resp.StatusCode)
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, &FetchError{URL: src.URL, Err: errors.New(resp.Status)}
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// First 16 hex chars are plenty for a single-feed cache.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// RedactURL hides path and query of a feed URL for logging. Private ICS
// URLs routinely carry secret tokens.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
