// Package socks5 implements the SOCKS5 session core: the per-connection
// state machine driving the RFC 1928/1929 handshake, the DNS off-load,
// origin connection establishment, and the copy-engine hand-off
// (spec.md §4.2, module 5).
package socks5

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"socks5gate/internal/buffer"
	"socks5gate/internal/parser"
	"socks5gate/internal/reactor"
	"socks5gate/internal/state"
	"socks5gate/internal/stm"
)

type sessionState int

const (
	stateHelloRead sessionState = iota
	stateHelloWrite
	stateAuthRead
	stateAuthWrite
	stateRequestRead
	stateRequestResolve
	stateRequestConnect
	stateRequestWrite
	stateCopy
	stateDone
	stateError
)

// Deps bundles the shared state a session reads (and, via the
// management core elsewhere, indirectly observes mutations to):
// spec.md §3's user table, metrics, access log, and runtime chunk cap.
type Deps struct {
	Users     *state.Users
	Metrics   *state.Metrics
	AccessLog *state.AccessLog
	ChunkCap  *state.ChunkCap
	Logger    *logrus.Entry
}

type connectResult struct {
	conn net.Conn
	err  error
}

// session is the per-connection state bag; it is the STM's context
// type (spec.md's Session data model, translated: no explicit
// reference count, since Go's defer-based Close and garbage collector
// already give the two connections unambiguous, automatic lifetimes —
// see DESIGN.md).
type session struct {
	deps Deps
	log  *logrus.Entry

	client net.Conn
	origin net.Conn
	inRing *buffer.Ring

	helloParser *parser.Hello
	authParser  *parser.UserPass
	reqParser   *parser.Request

	chosenMethod byte
	authUser     string
	authSuccess  bool

	destDomain string
	destIPs    []net.IP
	destIdx    int
	destPort   uint16

	dnsOneShot     reactor.OneShot[dnsResult]
	connectOneShot reactor.OneShot[connectResult]
	pendingDNS     dnsResult
	pendingConnect connectResult

	replyStatus byte
	outcome     string

	copyErr error
}

// HandleConnection runs one SOCKS5 session to completion, closing conn
// (and the origin connection, if one was opened) before returning. It
// is the entry point the listener's accept loop hands every accepted
// connection to.
func HandleConnection(conn net.Conn, deps Deps) {
	sid := newSessionID()
	log := deps.Logger.WithFields(logrus.Fields{
		"session_id":  sid,
		"client_addr": conn.RemoteAddr().String(),
		"component":   "socks5",
	})

	s := &session{
		deps:        deps,
		log:         log,
		client:      conn,
		inRing:      buffer.New(2048),
		helloParser: parser.NewHello(),
		authParser:  parser.NewUserPass(),
		reqParser:   parser.NewRequest(),
	}
	defer s.close()

	deps.Metrics.ConnectionOpened()
	defer deps.Metrics.ConnectionClosed()

	s.run()

	deps.AccessLog.Record(time.Now(), s.authUser, conn.RemoteAddr().String(), s.destString(), s.outcome)
}

func (s *session) close() {
	_ = s.client.Close()
	if s.origin != nil {
		_ = s.origin.Close()
	}
}

func (s *session) destString() string {
	port := strconv.Itoa(int(s.destPort))
	if s.destDomain != "" {
		return net.JoinHostPort(s.destDomain, port)
	}
	if len(s.destIPs) > 0 {
		return net.JoinHostPort(s.destIPs[0].String(), port)
	}
	return "-"
}

func newSessionID() string {
	return uuid.NewString()
}

// run builds the state table and drives it to completion.
func (s *session) run() {
	table := s.table()
	m := stm.New(table, stateHelloRead, s)

	for {
		switch category(m.Current()) {
		case categoryRead:
			m.ReadReady()
		case categoryWrite:
			m.WriteReady()
		case categoryBlock:
			s.waitBlock(m.Current())
			m.BlockReady()
		case categoryCopy:
			outcome := runCopy(s.client, s.origin, s.deps.ChunkCap, s.deps.Metrics)
			s.copyErr = outcome.err
			if outcome.err != nil {
				s.outcome = "error: " + outcome.err.Error()
				m.Transition(stateError)
			} else {
				s.outcome = "closed"
				m.Transition(stateDone)
			}
		case categoryTerminal:
			return
		}
	}
}

type eventCategory int

const (
	categoryRead eventCategory = iota
	categoryWrite
	categoryBlock
	categoryCopy
	categoryTerminal
)

func category(s sessionState) eventCategory {
	switch s {
	case stateHelloRead, stateAuthRead, stateRequestRead:
		return categoryRead
	case stateHelloWrite, stateAuthWrite, stateRequestWrite:
		return categoryWrite
	case stateRequestResolve, stateRequestConnect:
		return categoryBlock
	case stateCopy:
		return categoryCopy
	default:
		return categoryTerminal
	}
}

func (s *session) waitBlock(current sessionState) {
	switch current {
	case stateRequestResolve:
		res, _ := s.dnsOneShot.Wait(context.Background())
		s.pendingDNS = res
	case stateRequestConnect:
		res, _ := s.connectOneShot.Wait(context.Background())
		s.pendingConnect = res
	}
}

// dialErrorToReply maps a dial error to the SOCKS5 reply codes
// spec.md §4.2 enumerates.
func dialErrorToReply(err error) byte {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ReplyConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return ReplyNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		return ReplyHostUnreachable
	default:
		return ReplyGeneralFailure
	}
}
