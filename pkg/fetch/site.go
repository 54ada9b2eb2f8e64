package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/site-mirror/pkg/mirror"
	"github.com/Sriram-PR/site-mirror/pkg/sitepath"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// SiteClient fetches Site Paths from a single origin over HTTP and saves them through a mirror.Writer.
// At most maxRequests fetches are in flight at once across all callers.
type SiteClient struct {
	origin    string
	fetcher   *Fetcher
	sem       *semaphore.Weighted
	userAgent string
	policy    sitepath.Policy
	writer    *mirror.Writer
	log       *logrus.Entry

	bytesFetched atomic.Int64
}

// NewSiteClient creates a live client for origin, e.g. "http://books.toscrape.com".
func NewSiteClient(origin string, fetcher *Fetcher, maxRequests int, userAgent string, policy sitepath.Policy, writer *mirror.Writer, log *logrus.Entry) (*SiteClient, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid origin '%s': %w", utils.ErrRequestCreation, origin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: origin '%s' must be absolute", utils.ErrRequestCreation, origin)
	}
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &SiteClient{
		origin:    strings.TrimRight(origin, "/"),
		fetcher:   fetcher,
		sem:       semaphore.NewWeighted(int64(maxRequests)),
		userAgent: userAgent,
		policy:    policy,
		writer:    writer,
		log:       log,
	}, nil
}

// URLFor joins a Site Path onto the origin. Percent-escapes in the path, such as %3F, are kept as-is.
func (c *SiteClient) URLFor(path string) (string, error) {
	raw := c.origin + "/" + strings.TrimLeft(path, "/")
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: building URL for '%s': %w", utils.ErrRequestCreation, path, err)
	}
	return u.String(), nil
}

// CanParseAsText reports whether path is a text document to scan for links
func (c *SiteClient) CanParseAsText(path string) bool {
	return c.policy.CanParseAsText(path)
}

// FetchText downloads path and returns its body as text
func (c *SiteClient) FetchText(ctx context.Context, path string) (string, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchBinary downloads path and returns the raw bytes
func (c *SiteClient) FetchBinary(ctx context.Context, path string) ([]byte, error) {
	return c.get(ctx, path)
}

// SaveText stores text at path in the mirror
func (c *SiteClient) SaveText(path, text string) error {
	if err := c.writer.SaveText(path, text); err != nil {
		return fmt.Errorf("%w: '%s': %w", utils.ErrSave, path, err)
	}
	return nil
}

// SaveBinary stores data at path in the mirror
func (c *SiteClient) SaveBinary(path string, data []byte) error {
	if err := c.writer.SaveBinary(path, data); err != nil {
		return fmt.Errorf("%w: '%s': %w", utils.ErrSave, path, err)
	}
	return nil
}

// BytesFetched returns the total number of bytes downloaded
func (c *SiteClient) BytesFetched() int64 { return c.bytesFetched.Load() }

func (c *SiteClient) get(ctx context.Context, path string) ([]byte, error) {
	target, err := c.URLFor(path)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", utils.ErrFetch, path, err)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: '%s': waiting for request slot: %w", utils.ErrFetch, path, err)
	}
	defer c.sem.Release(1)

	body, err := c.fetcher.Get(ctx, target, c.userAgent)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", utils.ErrFetch, path, err)
	}
	c.bytesFetched.Add(int64(len(body)))
	c.log.WithField("path", path).Debugf("Fetched %d bytes from %s", len(body), target)
	return body, nil
}

// CachedClient serves Site Paths from the mirror when a copy is already stored and falls back to a live client
// otherwise. Saves always go through the live client.
type CachedClient struct {
	live   *SiteClient
	writer *mirror.Writer
	policy sitepath.Policy
	log    *logrus.Entry

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedClient wraps live with a cache-first lookup against writer
func NewCachedClient(live *SiteClient, writer *mirror.Writer, policy sitepath.Policy, log *logrus.Entry) *CachedClient {
	return &CachedClient{
		live:   live,
		writer: writer,
		policy: policy,
		log:    log,
	}
}

// CanParseAsText reports whether path is a text document to scan for links
func (c *CachedClient) CanParseAsText(path string) bool {
	return c.policy.CanParseAsText(path)
}

// FetchText returns the stored document for path, or downloads it if none is stored.
func (c *CachedClient) FetchText(ctx context.Context, path string) (string, error) {
	if data, ok := c.lookup(path); ok {
		return string(data), nil
	}
	return c.live.FetchText(ctx, path)
}

// FetchBinary returns the stored bytes for path, or downloads them if none are stored.
// Binaries are stored without the version suffix, so the lookup strips it first.
func (c *CachedClient) FetchBinary(ctx context.Context, path string) ([]byte, error) {
	if data, ok := c.lookup(c.policy.StripVersionSuffix(path)); ok {
		return data, nil
	}
	return c.live.FetchBinary(ctx, path)
}

// SaveText stores text at path in the mirror
func (c *CachedClient) SaveText(path, text string) error {
	return c.live.SaveText(path, text)
}

// SaveBinary stores data at path in the mirror
func (c *CachedClient) SaveBinary(path string, data []byte) error {
	return c.live.SaveBinary(path, data)
}

// Stats returns the cache hit and miss counts
func (c *CachedClient) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedClient) lookup(path string) ([]byte, bool) {
	if !c.writer.Exists(path) {
		c.misses.Add(1)
		return nil, false
	}
	data, err := c.writer.ReadFile(path)
	if err != nil {
		c.log.WithField("path", path).Warnf("Cached copy unreadable, fetching live: %v", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.log.WithField("path", path).Debug("Serving from mirror cache")
	return data, true
}
