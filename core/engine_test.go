package core

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"

	"github.com/searchktools/fileserver/core/http"
	"github.com/searchktools/fileserver/core/static"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	engine *Engine
	addr   string
	logs   *syncBuffer
	cancel context.CancelFunc

	served   chan struct{}
	serveErr error
	stopOnce sync.Once
}

func startServer(t *testing.T, workers int) *testServer {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"index.html": "<h1>home</h1>",
		"hello.txt":  "hello world",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	resolver, err := static.NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}

	logs := &syncBuffer{}
	logger := zerolog.New(logs)
	engine := NewEngine(resolver, Config{Workers: workers, Logger: &logger})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &testServer{
		engine: engine,
		addr:   ln.Addr().String(),
		logs:   logs,
		cancel: cancel,
		served: make(chan struct{}),
	}
	go func() {
		s.serveErr = engine.Serve(ctx, ln)
		close(s.served)
	}()

	t.Cleanup(s.stop)
	return s
}

// stop cancels Serve and waits until every worker has finished
func (s *testServer) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.served
		s.engine.Close()
	})
}

type rawResponse struct {
	statusLine string
	header     http.Header
	body       []byte
}

// readResponse reads one response as written by Response.WriteTo: a present
// body is followed by an extra CRLF.
func readResponse(t *testing.T, br *bufio.Reader) rawResponse {
	t.Helper()
	resp, err := parseResponse(br)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func parseResponse(br *bufio.Reader) (rawResponse, error) {
	var resp rawResponse

	line, err := br.ReadString('\n')
	if err != nil {
		return resp, fmt.Errorf("read status line: %w", err)
	}
	resp.statusLine = strings.TrimRight(line, "\r\n")

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return resp, fmt.Errorf("read header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		k, v, _ := strings.Cut(line, ": ")
		resp.header.Add(k, v)
	}

	if strings.Contains(resp.statusLine, " 200 ") {
		cl, _ := resp.header.Get(http.HeaderContentLength)
		n, err := strconv.Atoi(cl)
		if err != nil {
			return resp, fmt.Errorf("bad content-length %q", cl)
		}
		resp.body = make([]byte, n+2)
		if _, err := io.ReadFull(br, resp.body); err != nil {
			return resp, fmt.Errorf("read body: %w", err)
		}
		if string(resp.body[n:]) != "\r\n" {
			return resp, fmt.Errorf("expected CRLF after body, got %q", resp.body[n:])
		}
		resp.body = resp.body[:n]
	}
	return resp, nil
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func expectClosed(t *testing.T, br *bufio.Reader) {
	t.Helper()
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("Expected server to close the connection, got %v", err)
	}
}

func TestEngineKeepAlivePipelined(t *testing.T) {
	s := startServer(t, 2)
	conn, br := dial(t, s.addr)

	io.WriteString(conn, "GET /hello.txt HTTP/1.1\r\nHost: a\r\n\r\nGET / HTTP/1.1\r\nHost: a\r\n\r\n")

	first := readResponse(t, br)
	if first.statusLine != "HTTP/1.1 200 OK" || string(first.body) != "hello world" {
		t.Errorf("Unexpected first response: %q %q", first.statusLine, first.body)
	}
	second := readResponse(t, br)
	if second.statusLine != "HTTP/1.1 200 OK" || string(second.body) != "<h1>home</h1>" {
		t.Errorf("Unexpected second response: %q %q", second.statusLine, second.body)
	}

	// still open for more
	io.WriteString(conn, "GET /missing HTTP/1.1\r\n\r\n")
	third := readResponse(t, br)
	if third.statusLine != "HTTP/1.1 404 Not Found" {
		t.Errorf("Expected 404, got %q", third.statusLine)
	}
	if server, _ := third.header.Get(http.HeaderServer); server != static.ServerName {
		t.Errorf("Expected server header, got %q", server)
	}
	if cl, _ := third.header.Get(http.HeaderContentLength); cl != "0" {
		t.Errorf("Expected content-length 0 on 404, got %q", cl)
	}
}

func TestEngineHTTP10Closes(t *testing.T) {
	s := startServer(t, 1)
	conn, br := dial(t, s.addr)

	io.WriteString(conn, "GET /hello.txt HTTP/1.0\r\n\r\nGET / HTTP/1.0\r\n\r\n")

	resp := readResponse(t, br)
	if resp.statusLine != "HTTP/1.0 200 OK" {
		t.Errorf("Expected HTTP/1.0 200 OK, got %q", resp.statusLine)
	}
	expectClosed(t, br)
}

func TestEngineConnectionCloseHeader(t *testing.T) {
	s := startServer(t, 1)
	conn, br := dial(t, s.addr)

	io.WriteString(conn, "GET /hello.txt HTTP/1.1\r\nConnection: close\r\n\r\n")

	resp := readResponse(t, br)
	if string(resp.body) != "hello world" {
		t.Errorf("Expected body hello world, got %q", resp.body)
	}
	expectClosed(t, br)
}

func TestEngineMalformedRequestAbandonsConnection(t *testing.T) {
	s := startServer(t, 1)
	conn, br := dial(t, s.addr)

	io.WriteString(conn, "BREW /pot HTTP/1.1\r\n\r\n")
	expectClosed(t, br)

	// the worker survives and serves the next client
	conn2, br2 := dial(t, s.addr)
	io.WriteString(conn2, "GET /hello.txt HTTP/1.0\r\n\r\n")
	if resp := readResponse(t, br2); resp.statusLine != "HTTP/1.0 200 OK" {
		t.Errorf("Expected next client to be served, got %q", resp.statusLine)
	}

	s.stop()
	logs := s.logs.String()
	if !strings.Contains(logs, `"kind":"unsupported_method"`) || !strings.Contains(logs, "BREW") {
		t.Errorf("Expected unsupported method to be logged, got %s", logs)
	}
}

func TestEngineIdleCloseIsNotAnError(t *testing.T) {
	s := startServer(t, 1)
	conn, _ := dial(t, s.addr)
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.engine.Stats().TasksCompleted == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.stop()
	if logs := s.logs.String(); strings.Contains(logs, `"level":"error"`) {
		t.Errorf("Expected no error for a clean close, got %s", logs)
	}
	if stats := s.engine.Stats(); stats.TasksFailed != 0 || stats.TasksCompleted != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestEngineServeStopsOnCancel(t *testing.T) {
	s := startServer(t, 1)
	s.cancel()

	select {
	case <-s.served:
		if s.serveErr != nil {
			t.Errorf("Expected nil from Serve, got %v", s.serveErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHandleConnectionRestoresBuffer(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	resolver, err := static.NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(resolver, Config{Workers: 1})
	defer e.Close()

	client, server := net.Pipe()
	defer client.Close()

	buf := &bytebufferpool.ByteBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- e.HandleConnection(buf, Job{Conn: server, Resolver: resolver})
	}()

	go io.WriteString(client, "GET /a.txt HTTP/1.0\r\n\r\n")
	resp := readResponse(t, bufio.NewReader(client))
	if string(resp.body) != "payload" {
		t.Errorf("Expected payload, got %q", resp.body)
	}

	if err := <-done; err != nil {
		t.Fatalf("HandleConnection error: %v", err)
	}
	if cap(buf.B) < len("payload") {
		t.Errorf("Expected body bytes to be handed back to the buffer, cap=%d", cap(buf.B))
	}
}

func TestHandleConnectionReturnsParseError(t *testing.T) {
	resolver, err := static.NewResolver(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(resolver, Config{Workers: 1})
	defer e.Close()

	client, server := net.Pipe()
	go func() {
		io.WriteString(client, "GET / HTTP/9.9\r\n\r\n")
		client.Close()
	}()

	err = e.HandleConnection(&bytebufferpool.ByteBuffer{}, Job{Conn: server, Resolver: resolver})

	var ce *ConnError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ConnError, got %v", err)
	}
	var versionErr *http.UnsupportedVersionError
	if !errors.As(err, &versionErr) || versionErr.Version != "HTTP/9.9" {
		t.Errorf("Expected UnsupportedVersionError, got %v", err)
	}
}
