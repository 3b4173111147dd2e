package alloy

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed call to a single node.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindStatus     ErrorKind = "status"
	KindDecode     ErrorKind = "decode"
)

// TransportError is returned by HTTPClient for any failed call. StatusCode and
// Body are set only for KindStatus.
type TransportError struct {
	Kind       ErrorKind
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Body != "" {
			return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s %s: %s: %v", e.Method, e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Kind)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a TransportError of kind timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindTimeout
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) && te.Kind == KindStatus {
		return te.StatusCode
	}
	return 0
}

func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindConnection
}
