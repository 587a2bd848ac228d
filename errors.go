package midjourney

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for common conditions.
var (
	ErrClosed             = errors.New("midjourney: connection closed")
	ErrNotConnected       = errors.New("midjourney: session not connected")
	ErrAlreadyConnected   = errors.New("midjourney: session already connected")
	ErrUnauthorized       = errors.New("midjourney: unauthorized")
	ErrAuthPayloadMissing = errors.New("midjourney: auth payload missing")
	ErrAuthUnauthorized   = errors.New("midjourney: alpha access not enabled for user")
	ErrSubmissionRejected = errors.New("midjourney: submission rejected")
	ErrInvalidJobID       = errors.New("midjourney: empty job id")
	ErrUnknownMessageType = errors.New("midjourney: unknown message type")
)

// ConnectionError represents a transport-level failure: dialing, reading or
// writing a WebSocket frame, or an HTTP round trip that never produced a
// response.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("midjourney: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("midjourney: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DecodeError reports a response or frame whose shape did not match what was
// expected. Path names the offending field, e.g. "jobs[2].batch_size".
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("midjourney: decode: %v", e.Err)
	}
	return fmt.Sprintf("midjourney: decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// within returns a copy of e with prefix prepended to its path.
func (e *DecodeError) within(prefix string) *DecodeError {
	switch {
	case prefix == "":
		return e
	case e.Path == "":
		return &DecodeError{Path: prefix, Err: e.Err}
	case strings.HasPrefix(e.Path, "["):
		return &DecodeError{Path: prefix + e.Path, Err: e.Err}
	default:
		return &DecodeError{Path: prefix + "." + e.Path, Err: e.Err}
	}
}

// HTTPError is returned when the server answers with a non-2xx status.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("midjourney: %s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is reports a 401 response as ErrUnauthorized.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// SubmissionError is returned by SubmitJob when the server queued nothing.
type SubmissionError struct {
	Failures []SubmitFailure
}

func (e *SubmissionError) Error() string {
	if len(e.Failures) == 0 {
		return ErrSubmissionRejected.Error()
	}
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, f.String())
	}
	return fmt.Sprintf("%v: %s", ErrSubmissionRejected, strings.Join(reasons, "; "))
}

func (e *SubmissionError) Unwrap() error {
	return ErrSubmissionRejected
}

// IsUnauthorized reports whether err was caused by a 401 response. Callers
// use it to decide when to drop the session cookie and re-authenticate.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
