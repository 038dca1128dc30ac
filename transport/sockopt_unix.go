//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// control sets options that must be in place before bind.
func control(opts Options) func(network, address string, c syscall.RawConn) error {
	return func(network, _ string, c syscall.RawConn) error {
		var err error
		cerr := c.Control(func(fd uintptr) {
			// Exclusive bind.
			if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 0); err != nil {
				return
			}
			if network == "udp6" && opts.DualMode {
				if err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
					return
				}
			}
			if opts.Broadcast && (network == "udp4" || opts.DualMode) {
				err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			}
		})
		if cerr != nil {
			return cerr
		}
		return err
	}
}
