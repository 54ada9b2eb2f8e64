package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/Sriram-PR/site-mirror/pkg/sitepath"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

const defaultUserAgent = "site-mirror/1.0"

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 16")
		c.NumWorkers = 16
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	// IdleRetryDelay
	if c.IdleRetryDelay < 0 {
		warnings = append(warnings, "idle_retry_delay cannot be negative, defaulting to 100ms")
		c.IdleRetryDelay = 0
	}
	if c.IdleRetryDelay == 0 {
		c.IdleRetryDelay = 100 * time.Millisecond
	}

	// ProgressInterval
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 5 * time.Second
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './mirror'")
		c.OutputBaseDir = "./mirror"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './mirror_state'")
		c.StateDir = "./mirror_state"
	}

	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = defaultUserAgent
	}

	// MaxRetries: 0 keeps transport retries disabled
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil // AppConfig validation never fails fatally
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		// All requests go to one origin, so allow as many idle conns as in-flight requests.
		h.MaxIdleConnsPerHost = c.MaxRequests
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (e.g., extension normalization).
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: SiteURL
	if c.SiteURL == "" {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "site has no site_url")
	}
	u, parseErr := url.Parse(c.SiteURL)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: invalid site_url '%s': %w", utils.ErrConfigValidation, c.SiteURL, parseErr)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "site_url '%s' must use http or https", c.SiteURL)
	}
	if u.Host == "" {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "site_url '%s' has no host", c.SiteURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		warnings = append(warnings, fmt.Sprintf("site_url query/fragment is ignored, using origin %s://%s%s", u.Scheme, u.Host, u.Path))
		u.RawQuery, u.Fragment = "", ""
	}
	c.SiteURL = strings.TrimRight(u.String(), "/")

	// SeedPath
	if strings.HasPrefix(c.SeedPath, "/") {
		warnings = append(warnings, fmt.Sprintf("seed_path '%s' has a leading '/', trimming it", c.SeedPath))
		c.SeedPath = strings.TrimLeft(c.SeedPath, "/")
	}
	if c.SeedPath == "" {
		c.SeedPath = "index.html"
	}

	// Extension lists
	if len(c.TextExtensions) == 0 {
		c.TextExtensions = slices.Clone(sitepath.DefaultTextExtensions)
	}
	if len(c.BinaryExtensions) == 0 {
		c.BinaryExtensions = slices.Clone(sitepath.DefaultBinaryExtensions)
	}
	c.TextExtensions = normalizeExtensions(c.TextExtensions)
	c.BinaryExtensions = normalizeExtensions(c.BinaryExtensions)
	for _, ext := range c.TextExtensions {
		if slices.Contains(c.BinaryExtensions, ext) {
			return nil, utils.WrapErrorf(utils.ErrConfigValidation, "extension '%s' listed as both text and binary", ext)
		}
	}

	// VersionSuffix
	if c.VersionSuffix == "" {
		c.VersionSuffix = sitepath.DefaultVersionSuffix
	}

	if !c.Policy().IsEligibleLink(c.SeedPath) {
		warnings = append(warnings, fmt.Sprintf("seed_path '%s' does not match any configured extension", c.SeedPath))
	}

	return warnings, nil
}

// normalizeExtensions lower-cases entries, adds a missing leading '.', and drops duplicates.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !slices.Contains(out, ext) {
			out = append(out, ext)
		}
	}
	return out
}
