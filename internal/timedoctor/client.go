package timedoctor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Client executes single authorized API calls. It owns the only retry rules
// in the module: exactly one re-authenticate-and-retry cycle on a 401, and
// a bounded Retry-After wait cycle on 429. Everything else — including
// timeouts — surfaces to the caller on the first failure.
type Client struct {
	baseURL string
	auth    *AuthManager
	http    *http.Client
	logger  *slog.Logger
	retry   RetryConfig
	sleep   func(time.Duration)

	// pageLimiter paces page fetches toward the upstream; nil disables
	// pacing (tests).
	pageLimiter *rate.Limiter
}

type ClientOptions struct {
	HTTPClient *http.Client
	Retry      *RetryConfig
	// PageDelay is the fixed pause between page fetches in FetchAll.
	PageDelay time.Duration
}

func NewClient(logger *slog.Logger, auth *AuthManager) *Client {
	return NewClientWithOptions(logger, auth, ClientOptions{})
}

func NewClientWithOptions(logger *slog.Logger, auth *AuthManager, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	var pageLimiter *rate.Limiter
	if opts.PageDelay > 0 {
		pageLimiter = rate.NewLimiter(rate.Every(opts.PageDelay), 1)
	}

	return &Client{
		baseURL:     auth.cfg.BaseURL,
		auth:        auth,
		http:        httpClient,
		logger:      logger,
		retry:       retry,
		sleep:       time.Sleep,
		pageLimiter: pageLimiter,
	}
}

// Get issues an authorized GET and returns the raw JSON body.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, endpoint, query, nil)
}

// Request issues one authorized call. The credential's company id is
// injected as the company query parameter unless the caller set one.
func (c *Client) Request(ctx context.Context, method, endpoint string, query url.Values, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &RequestError{Kind: RequestFailed, Endpoint: endpoint, Err: err}
		}
	}

	reauthenticated := false
	for {
		cred, err := c.auth.GetCredential(ctx)
		if err != nil {
			return nil, err
		}

		status, respBody, err := c.do(ctx, method, endpoint, query, payload, cred)
		if err != nil {
			return nil, &RequestError{Kind: RequestUnreachable, Endpoint: endpoint, Err: err}
		}

		switch {
		case status == http.StatusUnauthorized:
			if reauthenticated {
				// second rejection in a row: the upstream means it
				return nil, &RequestError{Kind: RequestUnauthorized, Status: status, Endpoint: endpoint, Body: string(respBody)}
			}
			reauthenticated = true
			c.logger.Warn("credential_rejected_reauthenticating", "endpoint", endpoint)
			if err := c.auth.Invalidate(ctx); err != nil {
				c.logger.Warn("credential_invalidate_failed", "error", err)
			}
			if _, err := c.auth.Authenticate(ctx); err != nil {
				return nil, err
			}
			continue

		case status == http.StatusForbidden:
			return nil, &RequestError{Kind: RequestPermissionDenied, Status: status, Endpoint: endpoint, Body: string(respBody)}
		case status == http.StatusNotFound:
			return nil, &RequestError{Kind: RequestNotFound, Status: status, Endpoint: endpoint, Body: string(respBody)}
		case status >= 200 && status <= 299:
			return respBody, nil
		default:
			return nil, &RequestError{Kind: RequestFailed, Status: status, Endpoint: endpoint, Body: string(respBody)}
		}
	}
}

// do performs the HTTP exchange, waiting out up to MaxRetries 429 responses.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload []byte, cred *Credential) (int, []byte, error) {
	u := c.baseURL + endpoint
	q := url.Values{}
	for k, vs := range query {
		q[k] = vs
	}
	if q.Get("company") == "" && cred.CompanyID != "" {
		q.Set("company", cred.CompanyID)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	attempts := c.retry.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var status int
	var respBody []byte
	for attempt := 0; attempt < attempts; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "JWT "+cred.Token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, nil, err
		}

		respBody, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		status = resp.StatusCode

		if status != http.StatusTooManyRequests {
			return status, respBody, nil
		}

		wait := CalculateBackoff(c.retry, attempt, parseRetryAfter(resp.Header.Get("Retry-After")))
		c.logger.Warn("rate_limited", "endpoint", endpoint, "attempt", attempt+1, "wait", wait)
		c.sleep(wait)
	}

	// 429s exhausted the attempt budget; surface the last response
	return status, respBody, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
