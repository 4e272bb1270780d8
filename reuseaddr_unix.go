//go:build !windows

package fedcomm

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reusableListenConfig returns a net.ListenConfig that sets
// SO_REUSEADDR on the listening socket before bind when reuse is true
// (Config.ReuseAddress), letting a restarted endpoint rebind a port
// still lingering in TIME_WAIT from a previous run. When reuse is
// false the returned ListenConfig behaves exactly like the zero value.
func reusableListenConfig(reuse bool) *net.ListenConfig {
	if !reuse {
		return &net.ListenConfig{}
	}
	return &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
