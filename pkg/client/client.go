package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"
)

// Client talks to the HTTP API of "crthrottle serve".
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	username string
	password string

	mu    sync.RWMutex
	token string
}

// Config holds client configuration
type Config struct {
	BaseURL  string // including the base path, e.g. http://127.0.0.1:8765/api
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification

	// Basic credentials, sent with every request unless a token is set.
	Username string
	Password string
	Token    string
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// Defaults.
const (
	DefaultBaseURL = "http://127.0.0.1:8765/api"
	DefaultTimeout = 30 * time.Second
)

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
}

// New creates a client. A TLS setup error is returned rather than ignored.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, fmt.Errorf("client tls: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL:  config.BaseURL,
		logger:   config.Logger,
		username: config.Username,
		password: config.Password,
		token:    config.Token,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// Login exchanges username and password for a bearer token, which is used
// by every later request.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	var tok Token
	body := map[string]string{"username": username, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &tok); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.token = tok.Value
	c.mu.Unlock()
	c.logger.Debug("logged in", "username", username, "expires_at", tok.ExpiresAt)
	return tok, nil
}

// Renderers scans the renderer processes.
func (c *Client) Renderers(ctx context.Context) (RendererList, error) {
	var out RendererList
	_, err := c.do(ctx, http.MethodGet, "/renderers", nil, nil, &out)
	return out, err
}

// Pause stops the given renderers.
func (c *Client) Pause(ctx context.Context, pids ...int) (SignalResult, error) {
	return c.signal(ctx, "/renderers/pause", map[string][]int{"pids": pids})
}

// Resume continues the given renderers.
func (c *Client) Resume(ctx context.Context, pids ...int) (SignalResult, error) {
	return c.signal(ctx, "/renderers/resume", map[string][]int{"pids": pids})
}

// PauseAll stops every renderer.
func (c *Client) PauseAll(ctx context.Context) (SignalResult, error) {
	return c.signal(ctx, "/renderers/pause-all", nil)
}

// ResumeAll continues every renderer.
func (c *Client) ResumeAll(ctx context.Context) (SignalResult, error) {
	return c.signal(ctx, "/renderers/resume-all", nil)
}

// Hogs measures renderers over window. Zero values use the server defaults.
func (c *Client) Hogs(ctx context.Context, window time.Duration, threshold float64) (HogReport, error) {
	var out HogReport
	_, err := c.do(ctx, http.MethodGet, "/hogs", hogQuery(window, threshold), nil, &out)
	return out, err
}

// PauseHogs measures renderers and pauses the hogs found.
func (c *Client) PauseHogs(ctx context.Context, window time.Duration, threshold float64) (HogReport, error) {
	var out HogReport
	code, err := c.do(ctx, http.MethodPost, "/hogs/pause", hogQuery(window, threshold), nil, &out)
	if err == nil && code == http.StatusMultiStatus {
		err = ErrPartialFailure
	}
	return out, err
}

// History returns the most recent journal events, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Event
	_, err := c.do(ctx, http.MethodGet, "/history", q, nil, &out)
	return out, err
}

// Watch returns the watcher's latest round; ok is false before the first one.
func (c *Client) Watch(ctx context.Context) (res WatchResult, ok bool, err error) {
	code, err := c.do(ctx, http.MethodGet, "/watch", nil, nil, &res)
	if err != nil || code == http.StatusNoContent {
		return WatchResult{}, false, err
	}
	return res, true, nil
}

func (c *Client) signal(ctx context.Context, path string, body any) (SignalResult, error) {
	var out SignalResult
	code, err := c.do(ctx, http.MethodPost, path, nil, body, &out)
	if err == nil && code == http.StatusMultiStatus {
		err = ErrPartialFailure
	}
	return out, err
}

func hogQuery(window time.Duration, threshold float64) url.Values {
	q := url.Values{}
	if window > 0 {
		q.Set("window", window.String())
	}
	if threshold > 0 {
		q.Set("threshold", strconv.FormatFloat(threshold, 'f', -1, 64))
	}
	return q
}

// do sends a request and decodes a 2xx body into out. It returns the status code.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, c.handleErrorResponse(resp)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	switch {
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
}

// handleErrorResponse turns an error response into an *APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return apiErr
	}
	apiErr.Message, apiErr.PIDs = errorResp.Error, errorResp.PIDs
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return apiErr
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	// Handle insecure mode (skip verification)
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}
