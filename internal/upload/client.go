// Package upload pushes finished artifacts into the remote drive's note
// hierarchy over its HTTP file API.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

// ErrRemoteUnavailable is returned when the drive cannot be reached or
// rejects the session. Processing of the current message is aborted and
// retried on the next poll.
var ErrRemoteUnavailable = errors.New("remote storage unavailable")

// ErrStepUpRequired is returned by Authenticate when the account requires
// an interactive second-factor exchange before the session can be used.
var ErrStepUpRequired = errors.New("step-up authentication required")

// Client is the drive HTTP API client. Authenticate must succeed before
// Upload is called.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	retries    int
	token      string
}

// Option configures the drive client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRetries sets the number of retries for upload requests.
func WithRetries(retries int) Option {
	return func(c *Client) {
		c.retries = retries
	}
}

// NewClient creates a new drive client.
func NewClient(baseURL, username, password string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if username == "" || password == "" {
		return nil, fmt.Errorf("credentials are required")
	}

	c := &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retries: 3,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token          string `json:"token"`
	RequiresStepUp bool   `json:"requiresStepUp"`
}

// Authenticate opens an account-scoped session. When the account requires a
// second factor the partial session is kept and ErrStepUpRequired is
// returned; the caller completes the exchange with ValidateCode.
func (c *Client) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(authRequest{Username: c.username, Password: c.password})
	if err != nil {
		return fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: authentication failed with status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}

	c.token = auth.Token
	if auth.RequiresStepUp {
		return ErrStepUpRequired
	}

	return nil
}

// ValidateCode completes the step-up exchange with a verification code the
// user received on a trusted device.
func (c *Client) ValidateCode(ctx context.Context, code string) error {
	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return fmt.Errorf("failed to marshal verification request: %w", err)
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/auth/verify", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: code validation failed with status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	return nil
}

// TrustSession asks the drive to pin the current session so the step-up
// exchange is not repeated on every start.
func (c *Client) TrustSession(ctx context.Context) error {
	resp, err := c.doAuthorized(ctx, http.MethodPost, "/auth/trust", "", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: session trust failed with status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	return nil
}

// Upload puts the named file into the given drive folder. Transient server
// and connection errors are retried with exponential backoff before the
// call gives up with ErrRemoteUnavailable.
func (c *Client) Upload(ctx context.Context, folder, name string, content []byte) error {
	path := "/files/" + url.PathEscape(folder) + "/" + url.PathEscape(name)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrRemoteUnavailable, ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		resp, err := c.doAuthorized(ctx, http.MethodPut, path, "application/octet-stream", bytes.NewReader(content))
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			return nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: upload failed with status %d", ErrRemoteUnavailable, resp.StatusCode)
			continue
		default:
			return fmt.Errorf("%w: upload rejected with status %d", ErrRemoteUnavailable, resp.StatusCode)
		}
	}

	return lastErr
}

func (c *Client) doAuthorized(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	return resp, nil
}

// backoff returns the delay before retry attempt n, with jitter to avoid
// synchronized retries.
func backoff(attempt int) time.Duration {
	base := 500 * time.Millisecond
	max := 10 * time.Second

	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}

	jitter := delay * 0.2
	delay = delay - jitter + rand.Float64()*2*jitter

	return time.Duration(delay)
}
