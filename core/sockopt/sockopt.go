// Package sockopt tunes accepted TCP connections.
package sockopt

import (
	"fmt"
	"net"
	"syscall"
	"time"
)

// KeepAliveIdle is how long a connection sits idle before the first TCP
// keepalive probe is sent.
const KeepAliveIdle = 30 * time.Second

// Tune disables Nagle's algorithm and enables TCP keepalive on conn.
// Connections that are not backed by a socket are left untouched.
func Tune(conn net.Conn) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("sockopt: %w", err)
	}

	var opErr error
	if err := raw.Control(func(fd uintptr) {
		opErr = setOptions(int(fd))
	}); err != nil {
		return fmt.Errorf("sockopt: %w", err)
	}
	if opErr != nil {
		return fmt.Errorf("sockopt: %w", opErr)
	}
	return nil
}
