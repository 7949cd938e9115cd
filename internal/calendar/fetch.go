package calendar

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
	"strings"
	"sync"
	"time"

	appLog "evremind/internal/log"
)

// Fetcher downloads feeds with conditional requests. Validators and bodies
// are kept in memory and, when a cache directory is set, on disk so that a
// restart can still answer from the last good copy.
type Fetcher struct {
	client   *http.Client
	cacheDir string

	mu      sync.Mutex
	entries map[string]feedCache
}

type feedCache struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	body         []byte
}

// Feed is one fetched payload.
type Feed struct {
	Body  []byte
	Stale bool // served from cache after a 304 or a failed request
}

func NewFetcher(client *http.Client, cacheDir string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir, entries: make(map[string]feedCache)}
}

// Fetch returns the body at rawURL. Plain paths and file:// URLs are read
// from disk.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Feed, error) {
	if rawURL == "" {
		return Feed{}, errors.New("calendar: empty feed url")
	}
	if path, ok := localPath(rawURL); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return Feed{}, fmt.Errorf("calendar: read %s: %w", path, err)
		}
		return Feed{Body: b}, nil
	}

	prev, havePrev := f.lookup(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Feed{}, err
	}
	if havePrev {
		if prev.ETag != "" {
			req.Header.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			req.Header.Set("If-Modified-Since", prev.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if havePrev {
			appLog.Warn("feed request failed; serving cached copy", "url", redactURL(rawURL), "error", err.Error())
			return Feed{Body: prev.body, Stale: true}, nil
		}
		return Feed{}, fmt.Errorf("calendar: fetch %s: %w", redactURL(rawURL), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Feed{}, fmt.Errorf("calendar: read %s: %w", redactURL(rawURL), err)
		}
		f.store(rawURL, feedCache{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
			body:         body,
		})
		appLog.Debug("feed fetched", "url", redactURL(rawURL), "bytes", len(body))
		return Feed{Body: body}, nil
	case resp.StatusCode == http.StatusNotModified && havePrev:
		appLog.Debug("feed not modified", "url", redactURL(rawURL))
		return Feed{Body: prev.body, Stale: true}, nil
	case havePrev:
		appLog.Warn("feed returned non-OK; serving cached copy", "url", redactURL(rawURL), "status", resp.StatusCode)
		return Feed{Body: prev.body, Stale: true}, nil
	default:
		return Feed{}, fmt.Errorf("calendar: fetch %s: %s", redactURL(rawURL), resp.Status)
	}
}

func (f *Fetcher) lookup(rawURL string) (feedCache, bool) {
	f.mu.Lock()
	e, ok := f.entries[rawURL]
	f.mu.Unlock()
	if ok {
		return e, true
	}
	if f.cacheDir == "" {
		return feedCache{}, false
	}
	dir := f.dirFor(rawURL)
	meta, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return feedCache{}, false
	}
	if err := json.Unmarshal(meta, &e); err != nil {
		return feedCache{}, false
	}
	if e.body, err = os.ReadFile(filepath.Join(dir, "body")); err != nil {
		return feedCache{}, false
	}
	f.mu.Lock()
	f.entries[rawURL] = e
	f.mu.Unlock()
	return e, true
}

func (f *Fetcher) store(rawURL string, e feedCache) {
	f.mu.Lock()
	f.entries[rawURL] = e
	f.mu.Unlock()
	if f.cacheDir == "" {
		return
	}
	if err := f.persist(f.dirFor(rawURL), e); err != nil {
		appLog.Error("feed cache save failed", err, "url", redactURL(rawURL))
	}
}

func (f *Fetcher) persist(dir string, e feedCache) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	// body first so meta never points at a missing body
	if err := os.WriteFile(filepath.Join(dir, "body"), e.body, 0o600); err != nil {
		return err
	}
	meta, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), meta, 0o600)
}

func (f *Fetcher) dirFor(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func localPath(raw string) (string, bool) {
	if strings.HasPrefix(raw, "file://") {
		return strings.TrimPrefix(raw, "file://"), true
	}
	if !strings.Contains(raw, "://") {
		return raw, true
	}
	return "", false
}

// redactURL keeps only scheme and host; feed URLs often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
