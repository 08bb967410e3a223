package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mykhaliev/agent-scenario-runner/logger"
)

const (
	// DefaultAPIBase is the Agent Runtime API endpoint.
	DefaultAPIBase = "https://api.salesforce.com/einstein/ai-agent/v1"

	// TokenMaxAge is how long an issued token is trusted before the client
	// re-authenticates. Tokens live for 1 hour; the 55 minute margin keeps
	// a request from being sent with a token that expires mid-flight.
	TokenMaxAge = 3300 * time.Second

	DefaultTimeout    = 60 * time.Second
	MaxTimeout        = 120 * time.Second
	DefaultRetryDelay = 1 * time.Second
)

// APIError carries the HTTP status and upstream message for any failure the
// client surfaces. StatusCode 0 marks configuration and transport-level
// failures that never reached the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// Config holds client construction parameters. Empty credential fields fall
// back to the SF_MY_DOMAIN / SF_CONSUMER_KEY / SF_CONSUMER_SECRET
// environment variables.
type Config struct {
	MyDomain       string
	ConsumerKey    string
	ConsumerSecret string
	APIBase        string
	Timeout        time.Duration
	RetryCount     int
	RetryDelay     time.Duration
}

// Client is an authenticated Agent Runtime API client. One client is shared
// by all sessions of a run; the token state is the only mutable state and is
// guarded by a mutex so concurrent scenario workers cannot race a re-auth.
type Client struct {
	MyDomain string

	consumerKey    string
	consumerSecret string
	apiBase        string
	retryCount     int
	retryDelay     time.Duration
	httpClient     *http.Client

	mu            sync.Mutex
	accessToken   string
	tokenIssuedAt time.Time
}

func NewClient(cfg Config) *Client {
	myDomain := cfg.MyDomain
	if myDomain == "" {
		myDomain = os.Getenv("SF_MY_DOMAIN")
	}
	consumerKey := cfg.ConsumerKey
	if consumerKey == "" {
		consumerKey = os.Getenv("SF_CONSUMER_KEY")
	}
	consumerSecret := cfg.ConsumerSecret
	if consumerSecret == "" {
		consumerSecret = os.Getenv("SF_CONSUMER_SECRET")
	}

	myDomain = strings.TrimRight(myDomain, "/")
	if myDomain != "" && !strings.HasPrefix(myDomain, "https://") && !strings.HasPrefix(myDomain, "http://") {
		myDomain = "https://" + myDomain
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	return &Client{
		MyDomain:       myDomain,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		apiBase:        apiBase,
		retryCount:     cfg.RetryCount,
		retryDelay:     retryDelay,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

// Timeout reports the per-request HTTP timeout the client was built with.
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// Authenticate performs the OAuth2 client-credentials exchange and replaces
// the stored token. Safe to call repeatedly and from multiple goroutines.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) (string, error) {
	if c.MyDomain == "" {
		return "", &APIError{Message: "my_domain is required (set SF_MY_DOMAIN or pass it explicitly)"}
	}
	if c.consumerKey == "" {
		return "", &APIError{Message: "consumer_key is required (set SF_CONSUMER_KEY or pass it explicitly)"}
	}
	if c.consumerSecret == "" {
		return "", &APIError{Message: "consumer_secret is required (set SF_CONSUMER_SECRET or pass it explicitly)"}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.consumerKey)
	form.Set("client_secret", c.consumerSecret)

	tokenURL := c.MyDomain + "/services/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &APIError{Message: fmt.Sprintf("Connection error during auth: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Message: fmt.Sprintf("Connection error during auth: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Message:    "Authentication failed: " + upstreamMessage(body),
		}
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		// A 200 that is not JSON still means the token endpoint is broken;
		// callers treat any parse failure from this path as an auth failure.
		return "", fmt.Errorf("malformed token response: %w", err)
	}

	token, _ := parsed["access_token"].(string)
	if token == "" {
		return "", &APIError{Message: "No access_token in token response"}
	}

	c.accessToken = token
	c.tokenIssuedAt = time.Now()
	logger.Logger.Debug("Authenticated", "domain", c.MyDomain)
	return token, nil
}

// ensureToken refreshes the token when it is missing or older than
// TokenMaxAge. The check-and-refresh is one critical section so concurrent
// workers never interleave a read with another worker's refresh.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == "" || time.Since(c.tokenIssuedAt) > TokenMaxAge {
		if c.accessToken != "" {
			logger.Logger.Debug("Token stale, re-authenticating", "age", time.Since(c.tokenIssuedAt))
		}
		return c.authenticateLocked(ctx)
	}
	return c.accessToken, nil
}

// APIRequest is the single request primitive every authenticated call goes
// through. Retry policy, per attempt, up to retryCount+1 attempts:
//   - 401: one synchronous re-auth, then one free retry of the same request
//   - 429 / 5xx / transport error: linear backoff, consumes an attempt
//   - any other 4xx: fail immediately
//
// A successful response with an empty body parses as an empty object.
func (c *Client) APIRequest(ctx context.Context, method, requestURL string, headers map[string]string, body interface{}) (map[string]interface{}, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	maxAttempts := c.retryCount + 1
	reauthed := false
	attempt := 1

	for {
		req, err := http.NewRequestWithContext(ctx, method, requestURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt >= maxAttempts {
				return nil, &APIError{Message: fmt.Sprintf("Connection error: %v", err)}
			}
			logger.Logger.Debug("Transport error, retrying",
				"attempt", attempt, "max", maxAttempts, "error", err)
			c.backoff(attempt)
			attempt++
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			if attempt >= maxAttempts {
				return nil, &APIError{Message: fmt.Sprintf("Connection error: %v", readErr)}
			}
			c.backoff(attempt)
			attempt++
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if len(bytes.TrimSpace(respBody)) == 0 {
				return map[string]interface{}{}, nil
			}
			var parsed map[string]interface{}
			if err := json.Unmarshal(respBody, &parsed); err != nil {
				return nil, fmt.Errorf("malformed response body: %w", err)
			}
			return parsed, nil

		case resp.StatusCode == http.StatusUnauthorized && !reauthed:
			// The re-auth round trip does not consume a retry attempt.
			logger.Logger.Debug("Got 401, re-authenticating", "url", requestURL)
			reauthed = true
			token, err = c.Authenticate(ctx)
			if err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if attempt >= maxAttempts {
				return nil, &APIError{StatusCode: resp.StatusCode, Message: upstreamMessage(respBody)}
			}
			logger.Logger.Debug("Retryable status, backing off",
				"status", resp.StatusCode, "attempt", attempt, "max", maxAttempts)
			c.backoff(attempt)
			attempt++
			continue

		default:
			return nil, &APIError{StatusCode: resp.StatusCode, Message: upstreamMessage(respBody)}
		}
	}
}

func (c *Client) backoff(attempt int) {
	time.Sleep(c.retryDelay * time.Duration(attempt))
}

// upstreamMessage pulls the most useful human-readable field out of an error
// response body, falling back to the raw (truncated) body.
func upstreamMessage(body []byte) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"error_description", "message", "error"} {
			if v, ok := parsed[key].(string); ok && v != "" {
				return v
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	if text == "" {
		return "no response body"
	}
	return text
}
