package midjourney

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// maxErrorBody bounds how much of an error response is kept in HTTPError.
const maxErrorBody = 512

// defaultHeaders are sent on every request, alongside the session cookie.
var defaultHeaders = map[string]string{
	"accept":             "*/*",
	"accept-language":    "en-US,en;q=0.9",
	"cache-control":      "no-cache",
	"pragma":             "no-cache",
	"sec-ch-ua-mobile":   "?0",
	"sec-ch-ua-platform": `"macOS"`,
	"sec-fetch-dest":     "empty",
	"sec-fetch-mode":     "cors",
	"sec-fetch-site":     "same-origin",
	"x-csrf-protection":  "1",
	"Referrer-Policy":    "origin-when-cross-origin",
}

type noRetryKey struct{}

// withoutRetry marks requests made with ctx as unsafe to replay.
func withoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

// retryTransport replays requests whose connection was lost before a
// response arrived. HTTP status codes are never retried.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempts := t.maxRetries + 1
	if attempts < 1 || req.Context().Value(noRetryKey{}) != nil {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if req.Body != nil && req.GetBody == nil {
				return nil, lastErr
			}
			sleep := time.Duration(i) * t.backoff
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(sleep):
			}
			if t.logger != nil {
				t.logger.Debug("retrying request",
					slog.String("method", req.Method),
					slog.String("url", req.URL.String()),
					slog.Int("attempt", i+1),
					slog.String("error", lastErr.Error()),
				)
			}
		}

		attempt := req
		if i > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attempt = req.Clone(req.Context())
			attempt.Body = body
		}

		resp, err := t.base.RoundTrip(attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isConnectionLost(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// isConnectionLost reports whether err means the connection dropped
// mid-request, as opposed to a refused dial, a timeout or a cancellation.
func isConnectionLost(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}

// newRequest builds a request carrying the fixed header set and cookie.
func newRequest(ctx context.Context, method, url, cookie string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("midjourney: encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("midjourney: build request: %w", err)
	}
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("cookie", cookie)
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	return req, nil
}

// do performs req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: strings.ToLower(req.Method), URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Op: "read", URL: req.URL.String(), Err: err}
	}

	if c.cfg.logger != nil {
		c.cfg.logger.Debug("http request",
			slog.String("method", req.Method),
			slog.String("url", req.URL.Path),
			slog.Int("status", resp.StatusCode),
			slog.Duration("elapsed", time.Since(start)),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := strings.TrimSpace(string(raw))
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &HTTPError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}
	return raw, nil
}

// doJSON performs req and decodes a 2xx JSON response into out.
func (c *Client) doJSON(req *http.Request, out any) error {
	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return decodeError(err)
	}
	return nil
}
