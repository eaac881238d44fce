package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"

	"github.com/searchktools/fileserver/core/http"
	"github.com/searchktools/fileserver/core/observability"
	"github.com/searchktools/fileserver/core/pools"
	"github.com/searchktools/fileserver/core/sockopt"
	"github.com/searchktools/fileserver/core/static"
)

// Connection states
const (
	StateAwaitRequest = iota
	StateRespond
	StateClose
)

// Job is one accepted connection together with the read-only context it is
// served with.
type Job struct {
	Conn     net.Conn
	Resolver *static.Resolver
}

// ConnError is a failure that made the engine abandon a connection
type ConnError struct {
	Remote string
	Err    error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Remote, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// Config configures an Engine
type Config struct {
	// Workers is the number of connections served concurrently.
	// Zero means one per CPU.
	Workers int

	// Logger receives per-connection diagnostics. Nil discards them.
	Logger *zerolog.Logger

	// Metrics is optional
	Metrics *observability.Metrics
}

// Engine serves static files over HTTP/1.x. Accepted connections are handed
// to a fixed pool of workers; each worker serves one connection at a time
// until the client is done with it.
type Engine struct {
	resolver *static.Resolver
	pool     *pools.WorkerPool[Job]
	logger   zerolog.Logger
	metrics  *observability.Metrics

	readerPool sync.Pool
	writerPool sync.Pool
}

// NewEngine creates an engine serving files from resolver and starts its workers
func NewEngine(resolver *static.Resolver, cfg Config) *Engine {
	e := &Engine{
		resolver: resolver,
		logger:   zerolog.Nop(),
		metrics:  cfg.Metrics,
	}
	if cfg.Logger != nil {
		e.logger = *cfg.Logger
	}

	e.readerPool.New = func() any {
		return bufio.NewReaderSize(nil, DefaultReadBufferSize)
	}
	e.writerPool.New = func() any {
		return bufio.NewWriterSize(nil, DefaultWriteBufferSize)
	}

	opts := []pools.Option{pools.WithErrorHandler(e.reportError)}
	if cfg.Metrics != nil {
		opts = append(opts, pools.WithObserver(cfg.Metrics))
	}
	e.pool = pools.NewWorkerPool[Job](cfg.Workers, e.HandleConnection, opts...)

	return e
}

// Serve accepts connections from ln until ctx is done or ln is closed, and
// hands each one to the worker pool. It blocks while every worker is busy
// and the hand-off queue is full. ln is closed when ctx is done.
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				e.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Accept error")
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("core: accept: %w", err)
		}
		backoff = 0

		if err := e.Submit(ctx, conn); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrEngineClosed) {
				return nil
			}
			return err
		}
	}
}

// Submit hands one accepted connection to the worker pool. The connection is
// closed if it cannot be queued.
func (e *Engine) Submit(ctx context.Context, conn net.Conn) error {
	if err := sockopt.Tune(conn); err != nil {
		e.logger.Debug().Err(err).Str("remote", remoteAddr(conn)).Msg("Socket tuning failed")
	}
	e.metrics.ConnectionAccepted()

	if err := e.pool.SubmitContext(ctx, Job{Conn: conn, Resolver: e.resolver}); err != nil {
		conn.Close()
		if errors.Is(err, pools.ErrPoolClosed) {
			return ErrEngineClosed
		}
		return err
	}
	return nil
}

// HandleConnection serves requests on job.Conn until the client closes the
// stream, asks for the connection to be closed, or sends something that
// cannot be parsed. buf is the calling worker's scratch buffer.
//
// Parse and write failures are returned as *ConnError; the connection is
// abandoned without a response because the rest of the stream cannot be
// trusted.
func (e *Engine) HandleConnection(buf *bytebufferpool.ByteBuffer, job Job) error {
	conn := job.Conn
	defer conn.Close()

	br := e.readerPool.Get().(*bufio.Reader)
	br.Reset(conn)
	defer e.putReader(br)

	bw := e.writerPool.Get().(*bufio.Writer)
	bw.Reset(conn)
	defer e.putWriter(bw)

	var req *http.Request
	state := StateAwaitRequest
	for {
		switch state {
		case StateAwaitRequest:
			r, err := http.ParseRequest(br, buf)
			if errors.Is(err, http.ErrEndOfStream) {
				state = StateClose
				break
			}
			if err != nil {
				return &ConnError{Remote: remoteAddr(conn), Err: err}
			}
			req = r
			state = StateRespond

		case StateRespond:
			if err := e.respond(bw, buf, job.Resolver, req); err != nil {
				return &ConnError{Remote: remoteAddr(conn), Err: err}
			}
			if req.KeepAlive() {
				state = StateAwaitRequest
			} else {
				state = StateClose
			}

		case StateClose:
			return nil
		}
	}
}

// respond resolves req, writes the response and flushes it. The body bytes
// borrowed from buf are handed back once they are on the wire.
func (e *Engine) respond(bw *bufio.Writer, buf *bytebufferpool.ByteBuffer, resolver *static.Resolver, req *http.Request) error {
	resp, err := resolver.Resolve(req, buf)
	if err != nil {
		return err
	}

	n, err := resp.WriteTo(bw)
	if err == nil {
		err = bw.Flush()
	}
	if resp.Body != nil {
		buf.B = resp.Body[:0]
	}
	if err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	e.metrics.ResponseWritten(resp.Status, n)
	e.logger.Debug().
		Str("method", req.Method.String()).
		Str("uri", req.URI).
		Str("proto", req.Version.String()).
		Int("status", resp.Status).
		Int64("bytes", n).
		Msg("Request served")
	return nil
}

// reportError is the worker pool's error handler
func (e *Engine) reportError(err error) {
	kind := http.Kind(err)
	e.metrics.ConnectionFailed(kind)

	ev := e.logger.Error().Err(err).Str("kind", kind)
	var ce *ConnError
	if errors.As(err, &ce) {
		ev = ev.Str("remote", ce.Remote)
	}
	ev.Msg("Error when handling connection")
}

// Close stops the worker pool after every queued connection has been served
func (e *Engine) Close() {
	e.pool.Close()
}

// Stats returns worker pool statistics
func (e *Engine) Stats() pools.WorkerPoolStats {
	return e.pool.Stats()
}

func (e *Engine) putReader(br *bufio.Reader) {
	br.Reset(nil)
	e.readerPool.Put(br)
}

func (e *Engine) putWriter(bw *bufio.Writer) {
	bw.Reset(nil)
	e.writerPool.Put(bw)
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
