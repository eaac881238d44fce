package http

import (
	"errors"
)

// Parser errors
var (
	// ErrEndOfStream is returned when the peer closed the connection before
	// sending another request. It is the normal end of a keep-alive session.
	ErrEndOfStream = errors.New("http: end of stream")

	// ErrMalformedRequest indicates a request line or header line that does
	// not have the expected shape.
	ErrMalformedRequest = errors.New("http: malformed request")

	// ErrInvalidUTF8 indicates a request line or header line that is not valid UTF-8
	ErrInvalidUTF8 = errors.New("http: invalid utf-8 in request")
)

// UnsupportedMethodError carries the method token that was rejected.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return "http: method not supported: " + e.Method
}

// UnsupportedVersionError carries the protocol version token that was rejected.
type UnsupportedVersionError struct {
	Version string
}

func (e *UnsupportedVersionError) Error() string {
	return "http: version not supported: " + e.Version
}

// Error kinds reported by Kind
const (
	KindEndOfStream        = "end_of_stream"
	KindMalformed          = "malformed"
	KindUnsupportedMethod  = "unsupported_method"
	KindUnsupportedVersion = "unsupported_version"
	KindUTF8               = "utf8"
	KindIO                 = "io"
)

// Kind classifies err into one of the Kind* constants. Anything that is not a
// protocol error is a transport fault.
func Kind(err error) string {
	var (
		methodErr  *UnsupportedMethodError
		versionErr *UnsupportedVersionError
	)

	switch {
	case errors.Is(err, ErrEndOfStream):
		return KindEndOfStream
	case errors.Is(err, ErrMalformedRequest):
		return KindMalformed
	case errors.As(err, &methodErr):
		return KindUnsupportedMethod
	case errors.As(err, &versionErr):
		return KindUnsupportedVersion
	case errors.Is(err, ErrInvalidUTF8):
		return KindUTF8
	default:
		return KindIO
	}
}
