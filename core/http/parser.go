package http

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/valyala/bytebufferpool"
)

var headerSeparator = []byte(": ")

// ParseRequest reads one request head from r. buf is scratch space that is
// reset before every line; it is owned by the caller and reused across calls
// so that reading lines does not allocate.
//
// ErrEndOfStream is returned when r is exhausted before a request line starts.
func ParseRequest(r *bufio.Reader, buf *bytebufferpool.ByteBuffer) (*Request, error) {
	n, err := readLine(r, buf)
	if err != nil {
		return nil, fmt.Errorf("http: read request line: %w", err)
	}
	if n == 0 {
		return nil, ErrEndOfStream
	}

	line, err := validLine(buf.B)
	if err != nil {
		return nil, err
	}

	// Parse METHOD URI VERSION
	var fields [3][]byte
	nf := 0
	for len(line) > 0 {
		line = bytes.TrimLeftFunc(line, isASCIISpace)
		if len(line) == 0 {
			break
		}
		end := bytes.IndexFunc(line, isASCIISpace)
		if end == -1 {
			end = len(line)
		}
		if nf == len(fields) {
			return nil, ErrMalformedRequest
		}
		fields[nf] = line[:end]
		nf++
		line = line[end:]
	}
	if nf != len(fields) {
		return nil, ErrMalformedRequest
	}

	method, err := ParseMethod(string(fields[0]))
	if err != nil {
		return nil, err
	}
	uri := string(fields[1])
	version, err := ParseVersion(string(fields[2]))
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:  method,
		URI:     uri,
		Version: version,
	}

	// Parse headers until the blank line. A stream that ends inside the
	// header block ends the block.
	for {
		n, err := readLine(r, buf)
		if err != nil {
			return nil, fmt.Errorf("http: read header line: %w", err)
		}
		if n == 0 {
			break
		}

		line, err := validLine(buf.B)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			break
		}

		key, value, ok := bytes.Cut(line, headerSeparator)
		if !ok {
			return nil, ErrMalformedRequest
		}
		req.Header.Add(string(key), string(value))
	}

	return req, nil
}

// readLine resets buf and fills it with the next line of r, including the
// line terminator. It returns the number of bytes read; 0 means r is at end
// of stream.
func readLine(r *bufio.Reader, buf *bytebufferpool.ByteBuffer) (int, error) {
	buf.Reset()
	for {
		frag, err := r.ReadSlice('\n')
		buf.B = append(buf.B, frag...)
		switch {
		case err == nil:
			return buf.Len(), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return buf.Len(), nil
		default:
			return buf.Len(), err
		}
	}
}

// validLine checks the encoding of a raw line and trims its trailing
// whitespace, CRLF included.
func validLine(line []byte) ([]byte, error) {
	if !utf8.Valid(line) {
		return nil, ErrInvalidUTF8
	}
	return bytes.TrimRightFunc(line, isASCIISpace), nil
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	default:
		return false
	}
}
