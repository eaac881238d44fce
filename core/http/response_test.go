package http

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestResponseSerializeNoBody(t *testing.T) {
	resp := NewResponse(Version10, StatusOK)
	resp.Header.Add("Connection", "Closed")

	want := "HTTP/1.0 200 OK\r\nconnection: Closed\r\ncontent-length: 0\r\n\r\n"
	if got := resp.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestResponseSerializeWithBody(t *testing.T) {
	resp := NewResponse(Version11, StatusOK)
	resp.Header.Add(HeaderServer, "test")
	resp.Body = []byte("hello")

	want := "HTTP/1.1 200 OK\r\nserver: test\r\ncontent-length: 5\r\n\r\nhello\r\n"
	if got := resp.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestResponseContentLengthRecomputed(t *testing.T) {
	resp := NewResponse(Version11, StatusOK)
	resp.Header.Add(HeaderContentLength, "999")
	resp.Body = []byte("abc")

	_ = resp.String()

	if v := resp.Header.Values(HeaderContentLength); len(v) != 1 || v[0] != "3" {
		t.Errorf("Expected content-length [3], got %v", v)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := NewResponse(Version11, StatusNotFound)
	resp.Header.Add(HeaderServer, "fileserver")
	resp.Header.Add("X-Multi", "one")
	resp.Header.Add("X-Multi", "two")
	resp.Body = []byte("not here")

	first := resp.String()
	lines := strings.Split(first, "\r\n")

	wantLines := []string{
		"HTTP/1.1 404 Not Found",
		"server: fileserver",
		"x-multi: one",
		"x-multi: two",
		"content-length: 8",
		"",
		"not here",
		"",
	}
	if len(lines) != len(wantLines) {
		t.Fatalf("Expected %d lines, got %d: %q", len(wantLines), len(lines), lines)
	}
	for i := range wantLines {
		if lines[i] != wantLines[i] {
			t.Errorf("Line %d: expected %q, got %q", i, wantLines[i], lines[i])
		}
	}

	if second := resp.String(); second != first {
		t.Errorf("Expected re-serialization to be identical:\n%q\n%q", first, second)
	}
}

func TestResponseEmptyBodyIsFramed(t *testing.T) {
	resp := NewResponse(Version11, StatusOK)
	resp.Body = []byte{}

	want := "HTTP/1.1 200 OK\r\ncontent-length: 0\r\n\r\n\r\n"
	if got := resp.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

type failingWriter struct {
	failAfter int
	writes    int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.writes >= w.failAfter {
		return 0, errors.New("broken pipe")
	}
	w.writes++
	return len(p), nil
}

func TestResponseWriteToPropagatesErrors(t *testing.T) {
	resp := NewResponse(Version11, StatusOK)
	resp.Body = []byte("body")

	if _, err := resp.WriteTo(&failingWriter{failAfter: 1}); err == nil {
		t.Error("Expected error writing body, got nil")
	}

	var buf bytes.Buffer
	n, err := resp.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo error: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("Expected %d bytes reported, got %d", buf.Len(), n)
	}
}

func TestStatusText(t *testing.T) {
	if StatusText(StatusNotFound) != "Not Found" {
		t.Errorf("Expected Not Found, got %s", StatusText(StatusNotFound))
	}
	if StatusText(299) != "" {
		t.Errorf("Expected empty reason for unknown code, got %s", StatusText(299))
	}
}
