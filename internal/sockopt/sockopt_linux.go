//go:build linux

// Package sockopt adapts the teacher's platform socket tuning into a
// configurable knob set: low-latency, fast-failover options applied to
// the SOCKS5 core's outbound dialer (internal/socks5) and to both
// listeners' accepted sockets (cmd/socks5gate), instead of the
// teacher's single fixed call site.
package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Tuning holds the keepalive parameters applied to every socket this
// package configures. The teacher hard-codes these as literals inside
// its Control function; here they are fields so a caller (or, in a
// later revision, Config) can override them per deployment instead of
// editing source.
type Tuning struct {
	KeepIdleSeconds     int
	KeepIntervalSeconds int
	KeepCount           int
}

// Default matches the teacher's hard-coded values and is what both the
// SOCKS5 outbound dialer and the listener bootstrap use.
var Default = Tuning{
	KeepIdleSeconds:     30,
	KeepIntervalSeconds: 10,
	KeepCount:           3,
}

// Control configures TCP performance options on the raw socket fd. It
// is passed as net.Dialer.Control (before connect(2)) or
// net.ListenConfig.Control (before bind/listen).
func (t Tuning) Control(network, address string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, t.KeepIdleSeconds); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, t.KeepIntervalSeconds); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, t.KeepCount); e != nil {
			sysErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sysErr
}
