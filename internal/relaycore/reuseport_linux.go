//go:build linux

package relaycore

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortControl sets SO_REUSEPORT on every socket net.ListenConfig
// creates, letting N receive workers bind the same UDP port — the stdlib
// net package exposes no portable way to do this, so x/sys/unix is the
// idiomatic way to reach the socket option directly.
func reusePortControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
