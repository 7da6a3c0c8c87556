package vast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client fetches ad tags and fires tracking pixels
type Client struct {
	resty      *resty.Client
	pixels     *resty.Client
	maxRetries int
	timeout    time.Duration
	logger     *slog.Logger
}

// ClientConfig holds configuration for the HTTP client
type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
	Debug      bool
	Logger     *slog.Logger
}

// DefaultClientConfig returns the defaults used for ad servers
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		UserAgent:  "cuepoint/1.0",
	}
}

// NewClient creates a client with retries on network errors, 5xx and 429
func NewClient(config ClientConfig) *Client {
	defaults := DefaultClientConfig()
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}

	restyClient := newResty(config).
		SetRetryCount(config.MaxRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)

	restyClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500 || r.StatusCode() == 429
	})

	client := &Client{
		resty:      restyClient,
		pixels:     newResty(config),
		maxRetries: config.MaxRetries,
		timeout:    config.Timeout,
		logger:     config.Logger,
	}

	if config.Debug && config.Logger != nil {
		restyClient.OnAfterResponse(func(c *resty.Client, r *resty.Response) error {
			client.logResponse(r)
			return nil
		})
	}

	return client
}

func newResty(config ClientConfig) *resty.Client {
	return resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent).
		SetHeader("Accept", "application/xml, text/xml, */*")
}

// Fetch downloads an ad tag document
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.resty.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET request failed for %s: %w", url, err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("HTTP error %d for %s", resp.StatusCode(), url)
	}
	return resp.Body(), nil
}

// Ping fires a tracking pixel. Pixels are not retried.
func (c *Client) Ping(ctx context.Context, url string) error {
	resp, err := c.pixels.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("tracking request failed for %s: %w", url, err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("HTTP error %d for %s", resp.StatusCode(), url)
	}
	return nil
}

// GetTimeout returns the configured timeout
func (c *Client) GetTimeout() time.Duration {
	return c.timeout
}

// GetMaxRetries returns the configured max retries
func (c *Client) GetMaxRetries() int {
	return c.maxRetries
}

func (c *Client) logResponse(r *resty.Response) {
	body := r.String()
	if len(body) > 1000 {
		body = body[:1000] + "... (truncated)"
	}
	c.logger.Debug("ad server response",
		"status", r.StatusCode(),
		"url", r.Request.URL,
		"time", r.Time(),
		"body", body,
	)
}
