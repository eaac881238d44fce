/*
Package fileserver is a small static file server speaking HTTP/1.0 and HTTP/1.1.

Accepted connections are handed to a fixed pool of worker goroutines. A worker
serves one connection at a time, answering pipelined requests in order until
the client closes the stream, asks for the connection to be closed, or speaks
HTTP/1.0. Only GET is supported. Files are served from a single document root;
paths that resolve outside of it, directories and missing files all yield
404 Not Found.

Usage

	fileserver [flags] [host] [port] [root] [workers]

Defaults are 127.0.0.1, 8000, the current directory and one worker per
available CPU. Every setting can also come from a JSON file (-config) or a
FILESERVER_* environment variable.

Modules

  - app: wiring, logging and shutdown
  - config: configuration loading
  - core: connection engine and keep-alive state machine
  - core/http: request parsing and response serialization
  - core/static: document root resolution
  - core/pools: generic worker pool
  - core/sockopt: TCP socket options
  - core/observability: Prometheus metrics
*/
package fileserver
