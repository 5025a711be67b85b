package socks5

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"socks5gate/internal/buffer"
	"socks5gate/internal/state"
)

// copyOutcome is returned by runCopy once both directions have drained
// and at least one side has reached EOF or an irrecoverable error,
// matching the COPY state's transitions to DONE or ERROR.
type copyOutcome struct {
	bytesTotal uint64
	err        error
}

// copyDirection relays src -> dst through a dedicated ring buffer,
// respecting the runtime chunk cap on every read (spec.md §4.4's
// backpressure rule) and adding every successfully received byte to
// the shared metrics. It returns when src reaches EOF (a clean
// half-close, not an error) or when either side errors.
func copyDirection(src, dst net.Conn, chunkCap *state.ChunkCap, metrics *state.Metrics, bytesMoved *uint64) error {
	// Sized to MaxChunkCap rather than chunkCap's current value: the cap
	// is a live administrator knob (SET_BUFFER) shared by every open
	// connection, and this ring must already have room for whatever
	// value it is raised to without a reallocation mid-copy.
	ring := buffer.New(int(state.MaxChunkCap))

	for {
		chunk := int(chunkCap.Get())
		if chunk > ring.Cap() {
			chunk = ring.Cap()
		}
		if chunk <= 0 {
			chunk = 1
		}

		span := ring.WritableSpan()
		if len(span) > chunk {
			span = span[:chunk]
		}
		if len(span) == 0 {
			ring.Compact()
			span = ring.WritableSpan()
			if len(span) > chunk {
				span = span[:chunk]
			}
		}

		n, err := src.Read(span)
		if n > 0 {
			ring.Advance(n)
			metrics.BytesTransferred(uint64(n))
			atomic.AddUint64(bytesMoved, uint64(n))

			if werr := drain(dst, ring); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// drain writes the full readable span of ring to dst. net.Conn.Write
// either writes everything or returns an error (the io.Writer
// contract), so this never leaves a partial write buffered.
func drain(dst net.Conn, ring *buffer.Ring) error {
	span := ring.ReadableSpan()
	if len(span) == 0 {
		return nil
	}
	n, err := dst.Write(span)
	ring.Consume(n)
	return err
}

// runCopy drives the full-duplex relay between client and origin and
// blocks until both directions have finished. Each direction both
// reading EOF and the other direction also finishing is required
// before COPY can transition to DONE, per spec.md §4.2's tie-break
// policy ("if the origin closes with data still buffered toward the
// client, continue draining then go to DONE").
func runCopy(client, origin net.Conn, chunkCap *state.ChunkCap, metrics *state.Metrics) copyOutcome {
	var wg sync.WaitGroup
	var total uint64
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer closeWrite(origin)
		errs[0] = copyDirection(client, origin, chunkCap, metrics, &total)
	}()
	go func() {
		defer wg.Done()
		defer closeWrite(client)
		errs[1] = copyDirection(origin, client, chunkCap, metrics, &total)
	}()
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return copyOutcome{bytesTotal: total, err: e}
		}
	}
	return copyOutcome{bytesTotal: total}
}

type halfCloser interface {
	CloseWrite() error
}

// closeWrite signals "no more data this direction" without tearing
// down the whole connection, so the other direction can keep draining.
func closeWrite(conn net.Conn) {
	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
}
