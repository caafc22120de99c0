package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"arclink/pkg/cancel"
	"arclink/pkg/exception"
)

// Config configures a Client. The zero retry policy means DefaultPolicy;
// per-request overrides can still pin an explicit zero-retry policy.
type Config struct {
	// BaseURL is the API origin, e.g. http://localhost:8000. Required.
	BaseURL string
	// Timeout bounds each attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// Retry is the default retry policy.
	Retry Policy
	// Header is sent with every request.
	Header http.Header
	// Transport overrides the underlying RoundTripper.
	Transport http.RoundTripper
	// Hooks observe the request lifecycle.
	Hooks Hooks
	// Metrics receives counters when non-nil.
	Metrics *Metrics
}

// Client executes logical requests against one base URL. Construct it
// explicitly and inject it; there is no package-level instance.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "empty base url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if isZeroPolicy(cfg.Retry) {
		cfg.Retry = DefaultPolicy()
	} else {
		cfg.Retry = cfg.Retry.withDefaults()
	}

	return &Client{
		cfg: cfg,
		// Timeouts are handled per attempt through merged contexts, so the
		// underlying client carries none of its own.
		httpClient: &http.Client{Transport: cfg.Transport},
	}, nil
}

func isZeroPolicy(p Policy) bool {
	return p.MaxRetries == 0 && p.Delay.Base == 0 && p.Delay.Cap == 0 && p.RetryableStatus == nil
}

// Do executes one logical request: at most 1+MaxRetries attempts, each bound
// by the effective timeout and the caller's cancellation token.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c == nil {
		return nil, exception.ErrNilClient
	}
	if ctx == nil {
		ctx = context.Background()
	}

	policy := c.cfg.Retry
	if req.Retry != nil {
		policy = req.Retry.withDefaults()
	}
	timeout := c.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	fullURL, err := buildURL(c.cfg.BaseURL, req)
	if err != nil {
		return nil, errors.Wrap(err, "build url")
	}
	payload, err := marshalBody(req.Body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal body")
	}

	method := req.method()
	c.cfg.Hooks.request(method, req.Path)

	start := time.Now()
	var lastErr error
	for attempt := 0; ; attempt++ {
		status, header, body, err := c.attempt(ctx, method, fullURL, req.Header, payload, timeout)
		if err != nil {
			c.cfg.Hooks.failure(err)
			if _, aborted := err.(*exception.AbortError); aborted {
				c.cfg.Metrics.observeRequest(method, 0, time.Since(start))
				return nil, err
			}
			lastErr = err
			if attempt < policy.MaxRetries {
				if err := c.sleepRetry(ctx, policy, attempt, method, req.Path, lastErr); err != nil {
					return nil, err
				}
				continue
			}
			c.cfg.Metrics.observeRequest(method, 0, time.Since(start))
			return nil, lastErr
		}

		if status >= 200 && status < 300 {
			resp := parseSuccess(status, header, body)
			c.cfg.Hooks.success(resp)
			c.cfg.Metrics.observeRequest(method, status, time.Since(start))
			return resp, nil
		}

		if policy.retryable(status) && attempt < policy.MaxRetries {
			if err := c.sleepRetry(ctx, policy, attempt, method, req.Path, errors.Errorf("status %d", status)); err != nil {
				return nil, err
			}
			continue
		}

		apiErr := parseFailure(status, body)
		c.cfg.Hooks.failure(apiErr)
		c.cfg.Metrics.observeRequest(method, status, time.Since(start))
		return nil, apiErr
	}
}

// sleepRetry waits the backoff delay for attempt. A caller token firing
// during the wait aborts the logical request.
func (c *Client) sleepRetry(ctx context.Context, policy Policy, attempt int, method, path string, cause error) error {
	logs.Warnf("retry %s %s (attempt %d/%d): %v", method, path, attempt+1, policy.MaxRetries, cause)
	c.cfg.Metrics.observeRetry()
	if err := policy.Delay.Sleep(ctx, attempt); err != nil {
		abort := exception.NewAbortError("request aborted during retry wait")
		c.cfg.Hooks.failure(abort)
		return abort
	}
	return nil
}

// attempt performs one physical attempt and classifies its failure.
func (c *Client) attempt(token context.Context, method, fullURL string, header http.Header, payload []byte, timeout time.Duration) (int, http.Header, []byte, error) {
	attemptCtx, release := cancel.WithTimeout(token, timeout)
	defer release()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, fullURL, body)
	if err != nil {
		return 0, nil, nil, exception.NewNetworkError("build request", err)
	}
	for key, values := range c.cfg.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	for key, values := range header {
		for _, value := range values {
			httpReq.Header.Set(key, value)
		}
	}
	if payload != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, nil, classify(token, attemptCtx, err, timeout)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, classify(token, attemptCtx, err, timeout)
	}
	return resp.StatusCode, resp.Header, raw, nil
}

// classify maps a transport failure onto the error taxonomy: caller token
// fired -> AbortError, attempt deadline elapsed -> TimeoutError, anything
// else -> NetworkError.
func classify(token, attemptCtx context.Context, err error, timeout time.Duration) error {
	if token.Err() != nil {
		return exception.NewAbortError("request aborted by caller")
	}
	if attemptCtx.Err() != nil {
		return exception.NewTimeoutError(timeout)
	}
	return exception.NewNetworkError("transport failed", err)
}

func marshalBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return sonic.Marshal(body)
	}
}

// Get issues a GET request for path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete issues a DELETE request for path.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}
