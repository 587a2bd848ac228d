package midjourney

import (
	"log/slog"
	"net/http"
	"time"
)

// --- Client Options ---

// ClientOption configures a REST Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	alphaURL   string
	maxRetries int
}

// WithLogger sets a structured logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for requests. Its transport is
// wrapped with the connection-lost retry policy.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithBaseURL overrides the main site origin, https://www.midjourney.com.
func WithBaseURL(u string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = u
	}
}

// WithAlphaURL overrides the alpha site origin, https://alpha.midjourney.com.
func WithAlphaURL(u string) ClientOption {
	return func(c *clientConfig) {
		c.alphaURL = u
	}
}

// WithMaxRetries sets how many times a request that lost its connection is
// retried. Zero disables retries.
func WithMaxRetries(n int) ClientOption {
	return func(c *clientConfig) {
		c.maxRetries = n
	}
}

// --- Session Options ---

// SessionOption configures a WebSocket Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	logger       *slog.Logger
	url          string
	dial         Dialer
	pingInterval time.Duration
	onSend       func(Message)
	onReceive    func(Message)
}

// WithSessionLogger sets a structured logger for the session.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(c *sessionConfig) {
		c.logger = logger
	}
}

// WithWebSocketURL overrides DefaultWebSocketURL.
func WithWebSocketURL(u string) SessionOption {
	return func(c *sessionConfig) {
		c.url = u
	}
}

// WithDialer replaces the dialer used by Connect. This is useful for testing
// or custom transport implementations.
func WithDialer(d Dialer) SessionOption {
	return func(c *sessionConfig) {
		c.dial = d
	}
}

// WithPingInterval sets the keep-alive period. The default is 25 seconds.
func WithPingInterval(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.pingInterval = d
	}
}

// WithOnSend sets a callback invoked before each message is sent.
func WithOnSend(fn func(Message)) SessionOption {
	return func(c *sessionConfig) {
		c.onSend = fn
	}
}

// WithOnReceive sets a callback invoked after each message is decoded.
func WithOnReceive(fn func(Message)) SessionOption {
	return func(c *sessionConfig) {
		c.onReceive = fn
	}
}
