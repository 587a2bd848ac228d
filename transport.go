package midjourney

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// DefaultWebSocketURL is the live-update endpoint.
const DefaultWebSocketURL = "wss://ws.midjourney.com/ws"

// Transport carries raw frames for a Session. Receive returns the payload of
// the next frame whether it arrived as text or binary.
// Implementations must be safe for concurrent Send and Receive.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Transport to url.
type Dialer func(ctx context.Context, url string) (Transport, error)

// DialOptions configures the WebSocket connection.
type DialOptions struct {
	// HTTPHeader specifies additional HTTP headers to send during handshake.
	HTTPHeader http.Header

	// HTTPClient is the HTTP client used for the handshake.
	// If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// TextFrames sends outbound messages as text frames instead of binary.
	TextFrames bool
}

// Dial connects to a WebSocket endpoint and returns a Transport.
func Dial(ctx context.Context, url string, opts *DialOptions) (Transport, error) {
	dialOpts := &websocket.DialOptions{}
	frameType := websocket.MessageBinary
	if opts != nil {
		if opts.HTTPHeader != nil {
			dialOpts.HTTPHeader = opts.HTTPHeader.Clone()
		}
		if opts.HTTPClient != nil {
			dialOpts.HTTPClient = opts.HTTPClient
		}
		if opts.TextFrames {
			frameType = websocket.MessageText
		}
	}

	conn, _, err := websocket.Dial(ctx, url, dialOpts)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", URL: url, Err: err}
	}

	// Progress frames carry inline image previews.
	conn.SetReadLimit(16 * 1024 * 1024)

	return &wsTransport{conn: conn, frameType: frameType}, nil
}

// DialerWithOptions returns a Dialer that calls Dial with opts.
func DialerWithOptions(opts *DialOptions) Dialer {
	return func(ctx context.Context, url string) (Transport, error) {
		return Dial(ctx, url, opts)
	}
}

// wsTransport implements Transport over WebSocket.
type wsTransport struct {
	conn      *websocket.Conn
	frameType websocket.MessageType

	mu     sync.Mutex
	closed bool
}

// Send writes one frame.
func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if err := t.conn.Write(ctx, t.frameType, data); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}

	return nil
}

// Receive reads the next frame.
func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, &ConnectionError{Op: "read", Err: err}
	}
	return data, nil
}

// Close closes the transport.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	return t.conn.Close(websocket.StatusNormalClosure, "")
}
