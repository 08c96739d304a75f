package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"accountd/core"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultRetries     = 3
	defaultRetryBase   = 250 * time.Millisecond
	maxResponseBytes   = 4 << 20
)

var (
	errNoRefreshCredential = errors.New("no stored credential to refresh, log in again")
	errMalformedResponse   = errors.New("malformed provider response")
)

// StatusError is a non-2xx response from a provider endpoint.
type StatusError struct {
	Status int
	URL    string
	Body   []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: status %d: %s", e.URL, e.Status, body)
}

// Retryable reports whether the provider asked us to come back later.
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "provider unreachable: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// httpClient is shared by the providers. Transient failures are retried
// with exponential backoff before they reach a flow.
type httpClient struct {
	client    *http.Client
	retries   uint64
	retryBase time.Duration
	logger    *slog.Logger
}

func newHTTPClient(client *http.Client, retries int, logger *slog.Logger) *httpClient {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if retries < 0 {
		retries = 0
	}
	return &httpClient{
		client:    client,
		retries:   uint64(retries),
		retryBase: defaultRetryBase,
		logger:    logger,
	}
}

func (c *httpClient) postJSON(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

func (c *httpClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	encoded := form.Encode()
	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

func (c *httpClient) getJSON(ctx context.Context, endpoint, bearer string, out any) error {
	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

func (c *httpClient) getBytes(ctx context.Context, endpoint string) ([]byte, error) {
	var data []byte
	err := c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}, &data)
	return data, err
}

// do sends the request built by build and decodes a 2xx body into out.
// out may be nil, or a *[]byte to receive the raw body.
func (c *httpClient) do(ctx context.Context, build func(context.Context) (*http.Request, error), out any) error {
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.retryBase))

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("provider request failed", "url", req.URL.Redacted(), "error", err)
			return retry.RetryableError(&transportError{err: err})
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return retry.RetryableError(&transportError{err: err})
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Status: resp.StatusCode, URL: req.URL.Redacted(), Body: body}
			if serr.Retryable() {
				c.logger.Debug("provider asked to retry", "url", serr.URL, "status", serr.Status)
				return retry.RetryableError(serr)
			}
			return serr
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*dst = body
		return nil
	default:
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: %v", errMalformedResponse, err)
		}
		return nil
	}
}

// classify maps a provider call error to a failure kind. Providers check
// their own error payloads first and fall back to this.
func classify(err error) (core.FailureKind, string) {
	var (
		serr *StatusError
		terr *transportError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return core.FailureOffline, "request cancelled: " + err.Error()
	case errors.As(err, &terr):
		return core.FailureOffline, err.Error()
	case errors.Is(err, errNoRefreshCredential):
		return core.FailureHard, err.Error()
	case errors.As(err, &serr):
		switch {
		case serr.Retryable():
			return core.FailureSoft, err.Error()
		case serr.Status == http.StatusGone:
			return core.FailureGone, err.Error()
		case serr.Status == http.StatusBadRequest,
			serr.Status == http.StatusUnauthorized,
			serr.Status == http.StatusForbidden:
			return core.FailureHard, err.Error()
		}
		return core.FailureSoft, err.Error()
	}
	return core.FailureSoft, err.Error()
}
