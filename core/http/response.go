package http

import (
	"io"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// Header names used by the server. Keys are stored lower-cased.
const (
	HeaderConnection    = "connection"
	HeaderContentLength = "content-length"
	HeaderContentType   = "content-type"
	HeaderServer        = "server"
)

// Status codes produced by the server
const (
	StatusOK                  = 200
	StatusBadRequest          = 400
	StatusNotFound            = 404
	StatusInternalServerError = 500
)

// StatusText returns the reason phrase for code, or "" if it is unknown
func StatusText(code int) string {
	switch code {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	case StatusInternalServerError:
		return "Internal Server Error"
	default:
		return ""
	}
}

var crlf = []byte("\r\n")

// Response is an HTTP response. A nil Body means the response has no body;
// an empty non-nil Body is still framed as present.
type Response struct {
	Version Version
	Status  int
	Reason  string
	Header  Header
	Body    []byte
}

// NewResponse creates a response with the standard reason phrase for status
func NewResponse(version Version, status int) *Response {
	return &Response{
		Version: version,
		Status:  status,
		Reason:  StatusText(status),
	}
}

// WriteTo serializes the response to w. content-length is recomputed from
// Body first. Each value of a repeated header gets its own line.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	r.Header.Set(HeaderContentLength, strconv.Itoa(len(r.Body)))

	head := bytebufferpool.Get()
	defer bytebufferpool.Put(head)

	head.B = r.appendHead(head.B)

	var total int64
	n, err := w.Write(head.B)
	total += int64(n)
	if err != nil || r.Body == nil {
		return total, err
	}

	n, err = w.Write(r.Body)
	total += int64(n)
	if err != nil {
		return total, err
	}

	n, err = w.Write(crlf)
	total += int64(n)
	return total, err
}

// String renders the response exactly as WriteTo would write it
func (r *Response) String() string {
	var sb strings.Builder
	r.WriteTo(&sb)
	return sb.String()
}

// appendHead appends the status line, header lines and the blank line to dst
func (r *Response) appendHead(dst []byte) []byte {
	dst = append(dst, r.Version.String()...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(r.Status), 10)
	dst = append(dst, ' ')
	dst = append(dst, r.Reason...)
	dst = append(dst, crlf...)

	for _, key := range r.Header.Keys() {
		for _, value := range r.Header.Values(key) {
			dst = append(dst, key...)
			dst = append(dst, headerSeparator...)
			dst = append(dst, value...)
			dst = append(dst, crlf...)
		}
	}

	return append(dst, crlf...)
}
