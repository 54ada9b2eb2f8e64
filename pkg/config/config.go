package config

import (
	"time"

	"github.com/Sriram-PR/site-mirror/pkg/sitepath"
)

// SiteConfig holds configuration specific to a single mirrored site
type SiteConfig struct {
	SiteURL          string   `yaml:"site_url"`  // Absolute http/https origin, e.g. http://books.toscrape.com
	SeedPath         string   `yaml:"seed_path"` // First Site Path fetched, defaults to index.html
	TextExtensions   []string `yaml:"text_extensions,omitempty"`
	BinaryExtensions []string `yaml:"binary_extensions,omitempty"`
	VersionSuffix    string   `yaml:"version_suffix,omitempty"`
	CacheFirst       *bool    `yaml:"cache_first,omitempty"`
	UserAgent        string   `yaml:"user_agent,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent   string                `yaml:"default_user_agent"`
	NumWorkers         int                   `yaml:"num_workers"`
	MaxRequests        int                   `yaml:"max_requests"` // Global limit on in-flight HTTP requests
	IdleRetryDelay     time.Duration         `yaml:"idle_retry_delay,omitempty"`
	ProgressInterval   time.Duration         `yaml:"progress_interval,omitempty"`
	OutputBaseDir      string                `yaml:"output_base_dir"`
	StateDir           string                `yaml:"state_dir"`
	CacheFirst         bool                  `yaml:"cache_first,omitempty"`
	MaxRetries         int                   `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration         `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration         `yaml:"max_retry_delay,omitempty"`
	GlobalCrawlTimeout time.Duration         `yaml:"global_crawl_timeout,omitempty"`
	HTTPClientSettings HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites              map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// GetEffectiveCacheFirst determines whether previously saved copies are preferred over the network
func GetEffectiveCacheFirst(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.CacheFirst != nil {
		return *siteCfg.CacheFirst
	}
	return appCfg.CacheFirst
}

// GetEffectiveUserAgent returns the site's user agent, falling back to the global default
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// Policy builds the link classification policy for a validated site.
func (c SiteConfig) Policy() sitepath.Policy {
	return sitepath.Policy{
		TextExtensions:   c.TextExtensions,
		BinaryExtensions: c.BinaryExtensions,
		VersionSuffix:    c.VersionSuffix,
	}
}
