package socks5

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"socks5gate/internal/reactor"
)

// Serve accepts connections on ln until ctx is cancelled, handing each
// one to HandleConnection in its own goroutine.
func Serve(ctx context.Context, log *logrus.Entry, ln net.Listener, deps Deps) error {
	return reactor.AcceptLoop(ctx, log, ln, func(conn net.Conn) {
		HandleConnection(conn, deps)
	})
}
