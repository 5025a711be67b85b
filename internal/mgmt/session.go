// Package mgmt implements the line-oriented management protocol session
// core: authentication, metrics inspection, user CRUD, log retrieval,
// and the runtime buffer-size knob (spec.md §4.5, module 7). It mirrors
// the SOCKS5 session core's shape — a buffer.Ring, an incremental
// parser, and a generic stm.Machine — but drives a single fd instead of
// two.
package mgmt

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"socks5gate/internal/buffer"
	"socks5gate/internal/parser"
	"socks5gate/internal/state"
	"socks5gate/internal/stm"
)

type mgmtState int

const (
	stateAuth mgmtState = iota
	stateAuthReply
	stateCmdRead
	stateCmdWrite
	stateDone
	stateError
)

// replyBufferCap bounds a SHOW_LOGS reply: the write-side equivalent of
// the static buffer capacity spec.md §4.5 references for SHOW_LOGS
// truncation. It also sizes the session's read ring; other replies are
// not bounded by it.
const replyBufferCap = 8192

// Deps bundles the shared state the management core uses (spec.md §3,
// §5): the user table and the SOCKS5 core's runtime chunk cap, which
// only it writes, and the metrics and access log, which it reads and
// the SOCKS5 core writes.
type Deps struct {
	Users     *state.Users
	Metrics   *state.Metrics
	AccessLog *state.AccessLog
	ChunkCap  *state.ChunkCap
	Logger    *logrus.Entry
}

type session struct {
	deps Deps
	log  *logrus.Entry

	conn   net.Conn
	inRing *buffer.Ring
	line   *parser.Line

	authenticated bool
	username      string

	reply       []byte
	nextOnReply mgmtState

	outcome string
}

// HandleConnection runs one management session to completion and
// closes conn before returning.
func HandleConnection(conn net.Conn, deps Deps) {
	log := deps.Logger.WithFields(logrus.Fields{
		"client_addr": conn.RemoteAddr().String(),
		"component":   "mgmt",
	})

	s := &session{
		deps:   deps,
		log:    log,
		conn:   conn,
		inRing: buffer.New(replyBufferCap),
		line:   parser.NewLine(),
	}
	defer conn.Close()

	s.run()

	log.WithField("outcome", s.outcome).Info("management session closed")
}

func (s *session) run() {
	table := s.table()
	m := stm.New(table, stateAuth, s)

	for {
		switch category(m.Current()) {
		case categoryRead:
			m.ReadReady()
		case categoryWrite:
			m.WriteReady()
		case categoryTerminal:
			return
		}
	}
}

type eventCategory int

const (
	categoryRead eventCategory = iota
	categoryWrite
	categoryTerminal
)

func category(s mgmtState) eventCategory {
	switch s {
	case stateAuth, stateCmdRead:
		return categoryRead
	case stateAuthReply, stateCmdWrite:
		return categoryWrite
	default:
		return categoryTerminal
	}
}

// readLine performs one Read into the session's ring and feeds the
// line parser, handling the three outcomes every caller needs: more
// bytes needed, a complete line, or an overlong line that must be
// recovered from by discarding the ring's contents (spec.md §4.5:
// "resets the read buffer" on ErrLineTooLong).
func (s *session) readLine() parser.Progress {
	if !s.inRing.EnsureWritable(1) {
		s.inRing.Reset()
	}
	n, err := s.conn.Read(s.inRing.WritableSpan())
	if n > 0 {
		s.inRing.Advance(n)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.outcome = "closed"
		} else {
			s.outcome = "error: " + err.Error()
		}
		return parser.Errored
	}
	if n == 0 {
		s.outcome = "closed"
		return parser.Errored
	}

	progress := s.line.Feed(s.inRing)
	if progress == parser.Errored && errors.Is(s.line.Err, parser.ErrLineTooLong) {
		s.inRing.Reset()
	}
	return progress
}

func splitUserPass(arg string) (user, pass string, ok bool) {
	idx := strings.IndexByte(arg, ':')
	if idx == -1 {
		return "", "", false
	}
	return arg[:idx], arg[idx+1:], true
}
