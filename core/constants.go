package core

import "errors"

// Buffer sizes for the per-connection reader and writer
const (
	DefaultReadBufferSize  = 4096
	DefaultWriteBufferSize = 4096
)

// Error definitions
var (
	ErrEngineClosed = errors.New("core: engine closed")
)
