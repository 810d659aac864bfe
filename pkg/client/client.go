package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// ErrNotRunning is matched (errors.Is) by API errors with status 409.
var ErrNotRunning = errors.New("game process is not running")

// APIError is a non-2xx response from the ff7link daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// Is reports 409 responses as ErrNotRunning.
func (e *APIError) Is(target error) bool {
	return target == ErrNotRunning && e.Status == http.StatusConflict
}

// Client provides HTTP client functionality to communicate with the ff7link daemon
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Token    string       // Bearer token, when the server requires one
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client, for daemons behind a TLS proxy
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultBaseURL matches the daemon's default listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:7373/api"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a new ff7link API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/health", "", nil, nil)
	c.logger.Debug("Daemon reachability check", "reachable", err == nil, "error", err)
	return err == nil
}

// IsProcessRunning reports whether the daemon is attached to the game.
func (c *Client) IsProcessRunning(ctx context.Context) (bool, error) {
	var out struct {
		Running bool `json:"running"`
	}
	if err := c.do(ctx, http.MethodGet, "/process/running", "", nil, &out); err != nil {
		return false, err
	}
	return out.Running, nil
}

// Process returns details of the attached process.
func (c *Client) Process(ctx context.Context) (ProcessInfo, error) {
	var out ProcessInfo
	err := c.do(ctx, http.MethodGet, "/process", "", nil, &out)
	return out, err
}

// UpdateMessageData writes data into the game's world message buffer.
func (c *Client) UpdateMessageData(ctx context.Context, data []byte) error {
	c.logger.Debug("Updating message data", "bytes", len(data))
	return c.do(ctx, http.MethodPost, "/messages", "application/octet-stream", data, nil)
}

// ReadGameData returns the current game snapshot.
func (c *Client) ReadGameData(ctx context.Context) (GameData, error) {
	var out GameData
	err := c.do(ctx, http.MethodGet, "/game", "", nil, &out)
	return out, err
}

// UpdateStatus returns the daemon's self-update session.
func (c *Client) UpdateStatus(ctx context.Context) (UpdateStatus, error) {
	var out UpdateStatus
	err := c.do(ctx, http.MethodGet, "/update", "", nil, &out)
	return out, err
}

// setupClientTLS configures TLS for the client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

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

// do performs an HTTP request and decodes a JSON response into out when non-nil
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode}
	}

	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Error}
}
