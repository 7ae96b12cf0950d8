package http_utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryConfig holds configuration for transport retry.
type RetryConfig struct {
	Retries    int           // Extra attempts after the first one
	BaseDelay  time.Duration // Delay before retry n is n*BaseDelay
	Timeout    time.Duration // Per-attempt timeout, reset on every retry
	RetryCodes []int         // HTTP statuses worth retrying
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client executes requests with linear-delay retry for connection-class
// failures and the configured HTTP statuses.
type Client struct {
	doer       Doer
	cfg        RetryConfig
	retryCodes map[int]struct{}
	logger     zerolog.Logger
}

// NewClient creates a retrying client. A nil doer uses http.DefaultClient.
func NewClient(doer Doer, cfg RetryConfig, logger zerolog.Logger) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	codes := make(map[int]struct{}, len(cfg.RetryCodes))
	for _, c := range cfg.RetryCodes {
		codes[c] = struct{}{}
	}
	return &Client{
		doer:       doer,
		cfg:        cfg,
		retryCodes: codes,
		logger:     logger,
	}
}

// Do sends the request, retrying as configured. A non-nil error means no
// response was received at all; HTTP error statuses are returned in Response.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*Response, error) {
	var (
		resp *Response
		err  error
	)

	for attempt := 0; ; attempt++ {
		resp, err = c.attempt(ctx, method, url, body, headers)

		retry := false
		switch {
		case err != nil:
			retry = ctx.Err() == nil && IsConnectionError(err)
		default:
			_, retry = c.retryCodes[resp.StatusCode]
		}

		if !retry || attempt >= c.cfg.Retries {
			return resp, err
		}

		delay := time.Duration(attempt+1) * c.cfg.BaseDelay
		c.logger.Debug().
			Str("method", method).
			Str("url", url).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying request")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, headers map[string]string) (*Response, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := c.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

// IsConnectionError reports whether err is a connection-level failure:
// refused, reset or aborted connections, or an attempt that timed out.
func IsConnectionError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, context.DeadlineExceeded)
}
