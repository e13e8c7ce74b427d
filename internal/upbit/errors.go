package upbit

import "fmt"

// ClientError wraps a 4xx (non-429) exchange response. It is not retried.
type ClientError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("upbit client error %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
}

// ServerError wraps a 5xx exchange response. It is retried while the rate
// limiter still permits it.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("upbit server error %d: %s", e.StatusCode, e.Message)
}

// RateLimitedError indicates a 429 response from the exchange.
type RateLimitedError struct {
	RetriesExhausted bool
}

func (e *RateLimitedError) Error() string {
	if e.RetriesExhausted {
		return "upbit rate limit exceeded, max retries reached"
	}
	return "upbit rate limit exceeded"
}

// TransportError wraps a network-level failure (timeout, connection reset).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upbit transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError indicates missing or rejected credentials.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "upbit auth error: " + e.Message
}
