// Package agent provides a client for pull agents that serve their section output over HTTP.
package agent

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"checkengine/internal/config"
)

// Client fetches agent output from monitored hosts.
type Client struct {
	scheme     string             // http 或 https
	port       int                // agent 端口
	path       string             // 输出路径
	timeout    time.Duration      // Request timeout
	retry      config.RetryConfig // Retry configuration
	httpClient *resty.Client      // HTTP client
	logger     zerolog.Logger     // Logger
}

// NewClient creates a new agent client.
func NewClient(cfg *config.AgentConfig, retryCfg *config.RetryConfig, logger zerolog.Logger) *Client {
	// Set default timeout if not specified
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	// Set default retry config if not specified
	retry := config.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
	}
	if retryCfg != nil {
		retry = *retryCfg
	}

	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	path := cfg.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "text/plain").
		SetRetryCount(retry.MaxRetries).
		SetRetryWaitTime(retry.BaseDelay).
		SetRetryMaxWaitTime(retry.BaseDelay * 8). // Max wait time for exponential backoff
		AddRetryCondition(retryCondition)

	if scheme == "https" {
		httpClient.SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in
			MinVersion:         tls.VersionTLS12,
		})
		if cfg.CAFile != "" {
			httpClient.SetRootCertificate(cfg.CAFile)
		}
	}

	return &Client{
		scheme:     scheme,
		port:       cfg.Port,
		path:       path,
		timeout:    timeout,
		retry:      retry,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "agent-client").Logger(),
	}
}

// retryCondition determines whether a request should be retried.
// Only retry on timeout, 5xx errors, or connection failures.
// Do not retry on 4xx errors.
func retryCondition(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp != nil && resp.StatusCode() >= 500 {
		return true
	}
	return false
}

// URL returns the address the agent of ip is queried at.
func (c *Client) URL(ip string) string {
	return c.scheme + "://" + net.JoinHostPort(ip, strconv.Itoa(c.port)) + c.path
}

// Fetch retrieves the raw agent output of the host at ip.
func (c *Client) Fetch(ctx context.Context, ip string) ([]byte, error) {
	url := c.URL(ip)
	c.logger.Debug().Str("url", url).Msg("fetching agent output")

	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(url)

	if err != nil {
		c.logger.Error().Err(err).Str("url", url).Msg("failed to fetch agent output")
		return nil, fmt.Errorf("failed to fetch agent output from %s: %w", url, err)
	}

	if resp.StatusCode() != http.StatusOK {
		c.logger.Error().
			Int("status_code", resp.StatusCode()).
			Str("url", url).
			Msg("agent returned non-200 status")
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	c.logger.Debug().Str("url", url).Int("bytes", len(resp.Body())).Msg("fetched agent output")
	return resp.Body(), nil
}
