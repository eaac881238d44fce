package http

import "strings"

// Method is an HTTP request method. Only read-only retrieval is supported.
type Method uint8

const (
	MethodGet Method = iota + 1
)

// ParseMethod maps a request-line token to a Method
func ParseMethod(s string) (Method, error) {
	switch s {
	case "GET":
		return MethodGet, nil
	default:
		return 0, &UnsupportedMethodError{Method: s}
	}
}

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	default:
		return "UNKNOWN"
	}
}

// Version is an HTTP protocol version
type Version uint8

const (
	Version10 Version = iota + 1
	Version11
)

// ParseVersion maps a request-line token to a Version
func ParseVersion(s string) (Version, error) {
	switch s {
	case "HTTP/1.0":
		return Version10, nil
	case "HTTP/1.1":
		return Version11, nil
	default:
		return 0, &UnsupportedVersionError{Version: s}
	}
}

// String returns the wire form of the version
func (v Version) String() string {
	switch v {
	case Version10:
		return "HTTP/1.0"
	case Version11:
		return "HTTP/1.1"
	default:
		return "HTTP/?"
	}
}

// KeepAliveByDefault reports whether connections speaking v persist unless
// told otherwise. HTTP/1.0 connections are short-lived.
func (v Version) KeepAliveByDefault() bool {
	return v == Version11
}

// Request is one parsed HTTP request. URI is the raw request target, not yet
// percent-decoded.
type Request struct {
	Method  Method
	URI     string
	Version Version
	Header  Header
}

// KeepAlive reports whether the connection may carry another request after
// this one has been answered.
func (r *Request) KeepAlive() bool {
	if !r.Version.KeepAliveByDefault() {
		return false
	}
	if v, ok := r.Header.Get(HeaderConnection); ok && strings.EqualFold(v, "close") {
		return false
	}
	return true
}
