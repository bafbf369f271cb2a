package jleague

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"

	"github.com/fortuna/jstats/internal/logging"
)

const (
	// BaseURL of the J.League site
	BaseURL = "https://www.jleague.jp"

	// UserAgent for requests
	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// MinRequestInterval between two requests to the site
	MinRequestInterval = 300 * time.Millisecond

	DefaultTimeout    = 20 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryWait  = time.Second
)

// ErrUnexpectedStatus is returned for any non-200 response.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// PageCache stores fetched pages by URL.
type PageCache interface {
	GetPage(ctx context.Context, url string) (string, bool, error)
	PutPage(ctx context.Context, url, body string, ttl time.Duration) error
}

// Renderer fetches a fully rendered page body. ChromeRenderer implements it.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// ClientOptions configures a Client. Zero values select the defaults.
type ClientOptions struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	RetryWait   time.Duration
	MinInterval time.Duration

	// Cache and CacheTTL enable page caching when both are set.
	Cache    PageCache
	CacheTTL time.Duration

	// Renderer replaces the plain HTTP GET when set.
	Renderer Renderer

	Logger *logging.Logger
}

// Client fetches pages from the J.League site with rate limiting, retries on
// 429 and 5xx responses, and an optional page cache.
type Client struct {
	http     *resty.Client
	baseURL  *url.URL
	cache    PageCache
	cacheTTL time.Duration
	renderer Renderer
	logger   *logging.Logger

	mu          sync.Mutex
	lastRequest time.Time
	interval    time.Duration
}

// NewClient creates a new J.League site client
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse base url %q", opts.BaseURL)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("base url %q must be absolute", opts.BaseURL)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = UserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = DefaultRetryWait
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}

	client := resty.New()
	client.SetBaseURL(base.String())
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetHeader("accept-language", "ja,en;q=0.8")
	client.SetTimeout(opts.Timeout)
	client.SetRetryCount(opts.MaxRetries)
	client.SetRetryWaitTime(opts.RetryWait)
	client.SetRetryMaxWaitTime(4 * opts.RetryWait)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
	})

	return &Client{
		http:     client,
		baseURL:  base,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		renderer: opts.Renderer,
		logger:   logging.OrDefault(opts.Logger).Named("jleague"),
		interval: opts.MinInterval,
	}, nil
}

// BaseURL returns the site root every path is resolved against.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Resolve turns a site path into an absolute URL.
func (c *Client) Resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.baseURL.String() + path
	}
	return c.baseURL.ResolveReference(ref).String()
}

// Get returns the body of the page at path.
func (c *Client) Get(ctx context.Context, path string) (string, error) {
	target := c.Resolve(path)

	if c.cache != nil && c.cacheTTL > 0 {
		body, ok, err := c.cache.GetPage(ctx, target)
		if err != nil {
			c.logger.Warn("page cache lookup failed", "url", target, "error", err)
		} else if ok {
			c.logger.Debug("page cache hit", "url", target)
			return body, nil
		}
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}

	var (
		body string
		err  error
	)
	if c.renderer != nil {
		body, err = c.renderer.Render(ctx, target)
	} else {
		body, err = c.fetch(ctx, target)
	}
	if err != nil {
		return "", err
	}

	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.PutPage(ctx, target, body, c.cacheTTL); err != nil {
			c.logger.Warn("page cache store failed", "url", target, "error", err)
		}
	}
	return body, nil
}

func (c *Client) fetch(ctx context.Context, target string) (string, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(target)
	if err != nil {
		return "", errors.Wrapf(err, "GET %s", target)
	}
	if res.StatusCode() != http.StatusOK {
		return "", errors.Wrapf(ErrUnexpectedStatus, "GET %s: %s", target, res.Status())
	}
	c.logger.Debug("fetched page", "url", target, "bytes", len(res.Body()), "elapsed", res.Time())
	return string(res.Body()), nil
}

// wait enforces the minimum interval between requests.
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	var delay time.Duration
	now := time.Now()
	if !c.lastRequest.IsZero() {
		if elapsed := now.Sub(c.lastRequest); elapsed < c.interval {
			delay = c.interval - elapsed
		}
	}
	c.lastRequest = now.Add(delay)
	c.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	c.logger.Debug("rate limiting", "wait", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
