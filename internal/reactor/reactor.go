// Package reactor implements the Go-idiomatic translation of spec.md
// §4.1's event selector (module 3): each accepted connection drives its
// own goroutine, which blocks on reads exactly the way the spec's
// selector would mark an fd read-ready and invoke a handler — the Go
// runtime's netpoller is the selector. What remains to implement
// explicitly is the cross-thread "notify-block" wake the DNS worker
// uses to hand results back to a session's goroutine; OneShot below is
// that primitive, realized as spec.md §9's suggested typed one-shot
// channel instead of an fd-based wake.
package reactor

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// OneShot is a single-use, race-free hand-off from a background worker
// to the goroutine awaiting its result. It is the channel-based
// equivalent of notify_block(fd): a worker calls Send exactly once; the
// owning session calls Wait (directly, or via the Chan method from a
// select alongside read/write operations).
type OneShot[T any] struct {
	ch chan T
}

// NewOneShot constructs a ready-to-use hand-off.
func NewOneShot[T any]() OneShot[T] {
	return OneShot[T]{ch: make(chan T, 1)}
}

// Send delivers the result. Exactly one call is expected per OneShot;
// extra sends beyond the buffered slot would block, which would
// indicate a programming error in the worker.
func (o OneShot[T]) Send(v T) {
	o.ch <- v
}

// Chan exposes the underlying channel for use in a select alongside
// other readiness sources.
func (o OneShot[T]) Chan() <-chan T {
	return o.ch
}

// Wait blocks until Send is called or ctx is cancelled.
func (o OneShot[T]) Wait(ctx context.Context) (T, bool) {
	select {
	case v := <-o.ch:
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// AcceptLoop runs the accept loop for ln, invoking handle in its own
// goroutine for every accepted connection, until ctx is cancelled or
// the listener is closed. It mirrors the teacher's StartProxy accept
// loop, generalized to be shared by both the SOCKS5 and management
// listeners and to stop cleanly on context cancellation. Temporary
// accept errors (e.g. running out of file descriptors) back off with
// the same capped-exponential pattern net/http.Server uses, instead of
// spinning the accept loop at full CPU until the condition clears. It
// returns nil when ctx is cancelled and the accept error when the
// listener is closed by anything else.
func AcceptLoop(ctx context.Context, log *logrus.Entry, ln net.Listener, handle func(net.Conn)) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff *= 2
				}
				if backoff > time.Second {
					backoff = time.Second
				}
				log.WithError(err).WithField("backoff", backoff).Warn("accept failed, retrying")
				time.Sleep(backoff)
				continue
			}
			log.WithError(err).Warn("accept failed")
			continue
		}
		backoff = 0
		go handle(conn)
	}
}
