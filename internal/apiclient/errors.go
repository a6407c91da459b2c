package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/onnwee/event-companion/backend/internal/circuitbreaker"
)

// ErrorKind tags a loader failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindNotFound
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not_found"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// LoadError is the error every loader returns; callers switch on Kind
// instead of inspecting status codes.
type LoadError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *LoadError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *LoadError) Unwrap() error { return e.Err }

// errorBody is the JSON shape of API error responses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ClassifyResponse builds a LoadError from a non-2xx response. The body is
// consumed.
func ClassifyResponse(resp *http.Response) *LoadError {
	if resp == nil {
		return &LoadError{Kind: KindUnknown, Message: "nil response"}
	}

	var body errorBody
	if resp.Body != nil {
		if b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
			_ = json.Unmarshal(b, &body)
		}
	}

	le := &LoadError{StatusCode: resp.StatusCode, Kind: KindUnknown}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		le.Kind = KindNotFound
		le.Message = "resource not found (404)"
	case resp.StatusCode == http.StatusTooManyRequests:
		le.Kind = KindServer
		le.Message = "rate limited (429)"
		le.Retryable = true
	case resp.StatusCode >= 500:
		le.Kind = KindServer
		le.Message = "server error (" + http.StatusText(resp.StatusCode) + ")"
		le.Retryable = true
	case resp.StatusCode >= 400:
		le.Message = "client error (" + http.StatusText(resp.StatusCode) + ")"
	default:
		le.Message = "unexpected status " + http.StatusText(resp.StatusCode)
	}

	if body.Message != "" {
		le.Message += ": " + body.Message
	} else if body.Error != "" {
		le.Message += ": " + body.Error
	}
	return le
}

// Classify maps any error to a LoadError. LoadErrors pass through unchanged.
func Classify(err error) *LoadError {
	if err == nil {
		return nil
	}
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return &LoadError{Kind: KindNetwork, Message: "event API unavailable", Retryable: true, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &LoadError{Kind: KindNetwork, Message: "request timed out", Retryable: true, Err: err}
	}
	// transport failures from http.Client surface as *url.Error, a net.Error
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &LoadError{Kind: KindNetwork, Message: "network error", Retryable: true, Err: err}
	}
	return &LoadError{Kind: KindUnknown, Message: err.Error(), Err: err}
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	return Classify(err).Kind == kind
}

// IsRetryable reports whether retrying err later may succeed.
func IsRetryable(err error) bool {
	return err != nil && Classify(err).Retryable
}
