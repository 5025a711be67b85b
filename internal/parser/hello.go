package parser

import (
	"errors"

	"socks5gate/internal/buffer"
)

// ErrBadVersion is returned when the greeting's VER field is not 5.
var ErrBadVersion = errors.New("parser: unsupported protocol version")

type helloStage int

const (
	helloStageHeader helloStage = iota
	helloStageMethods
)

// Hello incrementally parses the RFC 1928 client greeting:
// VER | NMETHODS | METHODS[NMETHODS].
type Hello struct {
	stage    helloStage
	nmethods int
	Methods  []byte
	Err      error
}

// NewHello returns a fresh greeting parser.
func NewHello() *Hello {
	return &Hello{}
}

// Reset prepares the parser to read another greeting on the same
// connection. The session does not call it.
func (h *Hello) Reset() {
	*h = Hello{}
}

// Feed consumes as many bytes as it can from r and reports progress.
func (h *Hello) Feed(r *buffer.Ring) Progress {
	if h.stage == helloStageHeader {
		if r.Readable() < 2 {
			return NeedMore
		}
		hdr := r.ReadableSpan()
		ver, nmethods := hdr[0], hdr[1]
		r.Consume(2)
		if ver != 0x05 {
			h.Err = ErrBadVersion
			return Errored
		}
		h.nmethods = int(nmethods)
		h.stage = helloStageMethods
		if h.nmethods == 0 {
			h.Methods = nil
			return Done
		}
	}

	if r.Readable() < h.nmethods {
		return NeedMore
	}
	h.Methods = append([]byte(nil), r.ReadableSpan()[:h.nmethods]...)
	r.Consume(h.nmethods)
	return Done
}

// Offers reports whether the parsed method set advertises method m.
func (h *Hello) Offers(m byte) bool {
	for _, v := range h.Methods {
		if v == m {
			return true
		}
	}
	return false
}
