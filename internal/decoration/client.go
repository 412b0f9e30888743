// Package decoration looks up item thumbnails for notifications. Lookups are
// best-effort: callers treat every error as "no thumbnail".
package decoration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	ErrDisabled = errors.New("decoration: disabled")
	ErrNotFound = errors.New("decoration: no image")
)

const (
	DefaultAPIBase  = "https://api.warframestat.us"
	DefaultCDNBase  = "https://cdn.warframestat.us/"
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = 6 * time.Hour

	maxCacheEntries = 2048
)

type Config struct {
	Enabled  bool
	APIBase  string
	CDNBase  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.APIBase) == "" {
		c.APIBase = DefaultAPIBase
	}
	if strings.TrimSpace(c.CDNBase) == "" {
		c.CDNBase = DefaultCDNBase
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	if !strings.HasSuffix(c.CDNBase, "/") {
		c.CDNBase += "/"
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

type searchResult struct {
	ImageName string `json:"imageName"`
}

type cacheEntry struct {
	url     string
	expires time.Time
}

// Client resolves thumbnails through the item search API and verifies the
// image exists on the CDN. Results, misses included, are cached.
type Client struct {
	mu    sync.RWMutex
	cfg   Config
	cache map[string]cacheEntry

	http *http.Client
	sf   singleflight.Group
	now  func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

func New(cfg Config, opts ...Option) *Client {
	c := &Client{cfg: cfg.withDefaults(), cache: map[string]cacheEntry{}, http: http.DefaultClient, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Reconfigure swaps settings and drops the cache.
func (c *Client) Reconfigure(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg.withDefaults()
	c.cache = map[string]cacheEntry{}
	c.mu.Unlock()
}

// Thumbnail returns an image URL for query. Boss names are searched as is.
func (c *Client) Thumbnail(ctx context.Context, query string, boss bool) (string, error) {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()
	if !cfg.Enabled {
		return "", ErrDisabled
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if !boss {
		q = NormalizeQuery(query)
	}
	if q == "" {
		return "", ErrNotFound
	}

	if u, ok := c.cached(q); ok {
		if u == "" {
			return "", ErrNotFound
		}
		return u, nil
	}

	v, err, _ := c.sf.Do(q, func() (any, error) {
		lctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		u, err := c.lookup(lctx, cfg, q)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
		c.store(q, u, cfg.CacheTTL)
		return u, nil
	})
	if err != nil {
		return "", err
	}
	u := v.(string)
	if u == "" {
		return "", ErrNotFound
	}
	return u, nil
}

func (c *Client) lookup(ctx context.Context, cfg Config, q string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.APIBase+"/items/search/"+url.PathEscape(q), nil)
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned %s", resp.Status)
	}
	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}
	if len(results) == 0 || results[0].ImageName == "" {
		return "", ErrNotFound
	}

	img := cfg.CDNBase + "img/" + url.PathEscape(results[0].ImageName)
	head, err := http.NewRequestWithContext(ctx, http.MethodHead, img, nil)
	if err != nil {
		return "", fmt.Errorf("build head request: %w", err)
	}
	hresp, err := c.http.Do(head)
	if err != nil {
		return "", fmt.Errorf("head image: %w", err)
	}
	hresp.Body.Close()
	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		return "", ErrNotFound
	}
	return img, nil
}

func (c *Client) cached(q string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[q]
	if !ok || !c.now().Before(e.expires) {
		return "", false
	}
	return e.url, true
}

func (c *Client) store(q, u string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.cache) >= maxCacheEntries {
		for k, e := range c.cache {
			if !now.Before(e.expires) {
				delete(c.cache, k)
			}
		}
		if len(c.cache) >= maxCacheEntries {
			c.cache = map[string]cacheEntry{}
		}
	}
	c.cache[q] = cacheEntry{url: u, expires: now.Add(ttl)}
}
