package client

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AltaraLabs/mq/models"
)

const (
	defaultTimeout = 10 * time.Second
)

var (
	ErrQueueNotFound   = errors.New("queue not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrRateLimited     = errors.New("rate limited")
)

// RateLimitError carries the server's backoff hints alongside the
// ErrRateLimited sentinel, so errors.Is(err, ErrRateLimited) still matches.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	Limit      float64
	Burst      int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s (retry after %v, limit: %g, burst: %d)",
		ErrRateLimited.Error(), e.Message, e.RetryAfter, e.Limit, e.Burst)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

type Config struct {
	// HostPort is the server's listen address, e.g. "127.0.0.1:8080".
	HostPort string
	// ClientDomain overrides the host used in request URLs, for when the
	// server's TLS certificate is issued for a domain rather than the
	// address being dialed.
	ClientDomain string
	UseTLS       bool
	SkipVerify   bool
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Client is the API client for the mq service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	skipVerify bool
	logger     *slog.Logger
}

// NewClient creates a new mq API client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.HostPort == "" {
		return nil, fmt.Errorf("hostPort cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be empty")
	}
	clientLogger := cfg.Logger.WithGroup("mq_client")

	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}

	connectAddress := cfg.HostPort
	if cfg.ClientDomain != "" {
		connectAddress = cfg.ClientDomain
		clientLogger.Debug("Using ClientDomain for connection URL host", "domain", cfg.ClientDomain)
	}

	baseURLStr := fmt.Sprintf("%s://%s", scheme, connectAddress)
	baseURL, err := url.Parse(baseURLStr)
	if err != nil {
		clientLogger.Error("Failed to parse base URL", "url", baseURLStr, "error", err)
		return nil, fmt.Errorf("failed to parse base URL '%s': %w", baseURLStr, err)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipVerify,
		},
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	clientLogger.Debug("mq client initialized", "base_url", baseURL.String(), "tls_skip_verify", cfg.SkipVerify)

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		skipVerify: cfg.SkipVerify,
		logger:     clientLogger,
	}, nil
}

// internal request helper
func (c *Client) doRequest(method, path string, queryParams map[string]string, body interface{}, target interface{}) error {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	if len(queryParams) > 0 {
		q := reqURL.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		reqURL.RawQuery = q.Encode()
	}

	var reqBodyBytes []byte
	if body != nil {
		var err error
		reqBodyBytes, err = json.Marshal(body)
		if err != nil {
			c.logger.Error("Failed to marshal request body", "path", path, "method", method, "error", err)
			return fmt.Errorf("failed to marshal request body for %s %s: %w", method, path, err)
		}
	}

	req, err := http.NewRequest(method, reqURL.String(), bytes.NewReader(reqBodyBytes))
	if err != nil {
		c.logger.Error("Failed to create new HTTP request", "method", method, "url", reqURL.String(), "error", err)
		return fmt.Errorf("failed to create request %s %s: %w", method, reqURL.String(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending request", "method", method, "url", reqURL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "method", method, "url", reqURL.String(), "error", err)
		return fmt.Errorf("http request %s %s failed: %w", method, reqURL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("Received non-2xx status code", "method", method, "url", reqURL.String(), "status_code", resp.StatusCode)
		return c.statusToError(resp)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			c.logger.Error("Failed to decode response body", "method", method, "url", reqURL.String(), "status_code", resp.StatusCode, "error", err)
			return fmt.Errorf("failed to decode response body for %s %s (status %d): %w", method, reqURL.String(), resp.StatusCode, err)
		}
	}
	return nil
}

// statusToError maps an error response onto the client's sentinel errors so
// callers can test with errors.Is. The server's descriptive message is kept
// in the wrapped error text.
func (c *Client) statusToError(resp *http.Response) error {
	message := resp.Status
	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr == nil {
		var errorResp models.ErrorResponse
		if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil && errorResp.Error != "" {
			message = errorResp.Error
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrQueueNotFound, message)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, message)
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", ErrPayloadTooLarge, message)
	case http.StatusTooManyRequests:
		return &RateLimitError{
			Message:    message,
			RetryAfter: headerSeconds(resp.Header.Get("Retry-After")),
			Limit:      headerFloat(resp.Header.Get("X-RateLimit-Limit")),
			Burst:      headerInt(resp.Header.Get("X-RateLimit-Burst")),
		}
	}
	return fmt.Errorf("server error (status %d): %s", resp.StatusCode, message)
}

func headerSeconds(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func headerFloat(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func headerInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// --- System Operations ---

// Ping checks that the server is up and answering.
func (c *Client) Ping() (*models.PingResponse, error) {
	var response models.PingResponse
	if err := c.doRequest(http.MethodGet, "/mq/api/v1/ping", nil, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}
