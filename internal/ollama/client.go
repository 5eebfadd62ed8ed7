// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	// StatusCode is the upstream HTTP status, when one was received.
	StatusCode int
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ClientError of the same type, so that
// errors.Is(err, ErrModelNotFound) matches any model-not-found error.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeCanceled
	ErrTypeModelNotFound
	ErrTypeUpstream
	ErrTypeInvalidResponse
	ErrTypeTruncated
)

// String returns a stable, machine-readable name for the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeNotRunning:
		return "not_running"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeCanceled:
		return "canceled"
	case ErrTypeModelNotFound:
		return "model_not_found"
	case ErrTypeUpstream:
		return "upstream"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	case ErrTypeTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrCanceled      = &ClientError{Type: ErrTypeCanceled, Message: "request canceled"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrTruncated     = &ClientError{Type: ErrTypeTruncated, Message: "stream ended before completion"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

const (
	// DefaultBaseURL uses an explicit IPv4 address instead of localhost to
	// avoid IPv6 resolution issues.
	DefaultBaseURL = "http://127.0.0.1:11434"

	DefaultTimeout       = 30 * time.Second
	DefaultStreamTimeout = 60 * time.Second
)

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// StreamTimeout bounds the wait for response headers on streaming
	// requests. Ollama sends headers only after the model is loaded.
	StreamTimeout time.Duration

	// DefaultModel is used when a caller passes an empty model name.
	DefaultModel string

	// KeepAlive is sent with every chat: how long the runtime keeps the
	// model loaded afterwards ("5m", "-1"). Empty uses the runtime default.
	KeepAlive string

	// Options are the model parameters sent with every chat. Nil uses the
	// model's own defaults.
	Options *Options
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       DefaultBaseURL,
		Timeout:       DefaultTimeout,
		StreamTimeout: DefaultStreamTimeout,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use; streaming calls share one pooled
// transport but each returned Stream belongs to its caller.
//
// Example:
//
//	client := ollama.NewClient()
//	stream, err := client.OpenChatStream(ctx, "llama3", messages)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.StreamTimeout == 0 {
		config.StreamTimeout = DefaultStreamTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: config.StreamTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		// No overall timeout for streams; callers bound them via context.
		streamClient: &http.Client{Transport: transport},
	}
}

// BaseURL returns the runtime address this client talks to.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// DefaultModel returns the configured fallback model.
func (c *Client) DefaultModel() string {
	return c.config.DefaultModel
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:       ErrTypeUpstream,
			Message:    "unexpected status from Ollama: " + resp.Status,
			StatusCode: resp.StatusCode,
		}
	}

	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// Tags issues GET /api/tags and returns the raw upstream response, whatever
// its status. Only transport failures are reported as errors. The caller
// must close the body.
func (c *Client) Tags(ctx context.Context) (*http.Response, error) {
	return c.do(ctx, c.httpClient, http.MethodGet, "/api/tags", nil)
}

// ListModels retrieves all available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.Tags(ctx)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "failed to list models")
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return result.Models, nil
}

// Pull starts downloading a model from the Ollama library and returns the
// NDJSON progress stream. The caller must close it.
func (c *Client) Pull(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := c.postJSON(ctx, c.streamClient, "/api/pull", PullRequest{Model: name, Stream: true})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, statusError(resp, "pull request failed")
	}

	return resp.Body, nil
}

// PullModel pulls name and calls fn for each progress line, in order. A
// progress line that carries an error ends the pull with that error.
func (c *Client) PullModel(ctx context.Context, name string, fn func(PullProgress)) error {
	body, err := c.Pull(ctx, name)
	if err != nil {
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			continue
		}
		if p.Error != "" {
			return &ClientError{Type: ErrTypeUpstream, Message: p.Error}
		}
		fn(p)
	}
	if err := scanner.Err(); err != nil {
		return classifyTransportError(err)
	}
	return nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// OpenChatStream sends a streaming chat request and returns once the
// runtime has accepted it. Failures the runtime reports up front (unknown
// model, bad request, unreachable) are returned here rather than from the
// stream. The returned Stream is lazy and single-pass; the caller must
// Close it. Cancelling ctx aborts the upstream request.
func (c *Client) OpenChatStream(ctx context.Context, model string, messages []Message) (*Stream, error) {
	if model == "" {
		model = c.config.DefaultModel
	}

	resp, err := c.postJSON(ctx, c.streamClient, "/api/chat", ChatRequest{
		Model:     model,
		Messages:  messages,
		Stream:    true,
		Options:   c.config.Options,
		KeepAlive: c.config.KeepAlive,
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, statusError(resp, "stream request failed")
	}

	return newStream(resp.Body, model), nil
}

// StreamCallback is called for each chunk received during streaming.
type StreamCallback func(chunk StreamChunk)

// ChatStream sends a streaming chat request and calls the callback for each chunk.
// The callback is called synchronously in the order chunks are received.
// Returns when streaming is complete or an error occurs.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, callback StreamCallback) error {
	stream, err := c.OpenChatStream(ctx, model, messages)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		callback(chunk)
	}
}

// =============================================================================
// TRANSPORT HELPERS
// =============================================================================

func (c *Client) postJSON(ctx context.Context, hc *http.Client, path string, v interface{}) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}
	return c.do(ctx, hc, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

// classifyTransportError maps a transport or body-read failure onto a
// ClientError type.
func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &ClientError{Type: ErrTypeCanceled, Message: ErrCanceled.Message, Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}

	return &ClientError{Type: ErrTypeNotRunning, Message: ErrNotRunning.Message, Cause: err}
}

// statusError builds a ClientError from a non-200 response, preferring the
// runtime's own error text.
func statusError(resp *http.Response, fallback string) error {
	msg := fallback + ": " + resp.Status

	var apiErr apiError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	errType := ErrTypeUpstream
	if resp.StatusCode == http.StatusNotFound {
		errType = ErrTypeModelNotFound
	}

	return &ClientError{Type: errType, Message: msg, StatusCode: resp.StatusCode}
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCanceled checks if the request was abandoned by the caller.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	r.Close()
}
