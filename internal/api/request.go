package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

// doRequest performs one authenticated HTTP request.
func (c *Client) doRequest(ctx context.Context, op, method, path string, query url.Values, body []byte) ([]byte, error) {
	if c.tokens == nil {
		return nil, &AuthError{Op: op, Err: errors.New("no token source configured")}
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &NetworkError{Op: op, Err: ctxErr}
		}
		return nil, &AuthError{Op: op, Err: err}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Op: op, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &NetworkError{Op: op, StatusCode: resp.StatusCode, Body: data}
	}

	return data, nil
}

// doWithRetry repeats idempotent requests on retryable failures with
// jittered exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, op, method, path string, query url.Values, body []byte) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// backoff * [0.5, 1.5)
			wait := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			c.logger.Debug("retrying request",
				"op", op,
				"attempt", attempt,
				"backoff", wait,
			)

			select {
			case <-ctx.Done():
				return nil, &NetworkError{Op: op, Err: ctx.Err()}
			case <-time.After(wait):
			}

			backoff *= 2
		}

		data, err := c.doRequest(ctx, op, method, path, query, body)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var netErr *NetworkError
		if !errors.As(err, &netErr) || !netErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, lastErr
}
