package socks5

import (
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"socks5gate/internal/parser"
	"socks5gate/internal/reactor"
	"socks5gate/internal/sockopt"
	"socks5gate/internal/stm"
)

func portOf(p uint16) string {
	return strconv.Itoa(int(p))
}

func newConnectOneShot() reactor.OneShot[connectResult] {
	return reactor.NewOneShot[connectResult]()
}

// table builds the STM rows for every state spec.md §4.2's table
// names. Each read/write handler performs exactly one Read or Write
// syscall per dispatch and returns the same state on NeedMore, letting
// the driver loop in run() re-invoke it as more bytes arrive — the
// idiomatic-Go stand-in for the spec's read-ready/write-ready events.
func (s *session) table() stm.Table[sessionState, *session] {
	return stm.Table[sessionState, *session]{
		stateHelloRead: {
			OnReadReady: (*session).onHelloRead,
		},
		stateHelloWrite: {
			OnWriteReady: (*session).onHelloWrite,
		},
		stateAuthRead: {
			OnReadReady: (*session).onAuthRead,
		},
		stateAuthWrite: {
			OnWriteReady: (*session).onAuthWrite,
		},
		stateRequestRead: {
			OnReadReady: (*session).onRequestRead,
		},
		stateRequestResolve: {
			OnBlockReady: (*session).onResolveBlockReady,
		},
		stateRequestConnect: {
			OnBlockReady: (*session).onConnectBlockReady,
		},
		stateRequestWrite: {
			OnWriteReady: (*session).onRequestWrite,
		},
		stateCopy:  {},
		stateDone:  {},
		stateError: {},
	}
}

// readChunk performs one Read into the session's shared inbound ring,
// growing writable space via Compact when needed. It returns ok=false
// when the connection reached EOF or errored (n==0 before COPY is
// always terminal per spec.md §8's boundary behavior).
func (s *session) readChunk() (ok bool) {
	if !s.inRing.EnsureWritable(512) {
		s.outcome = "error: message too large"
		return false
	}
	n, err := s.client.Read(s.inRing.WritableSpan())
	if n > 0 {
		s.inRing.Advance(n)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.outcome = "closed before request completed"
		} else {
			s.outcome = "error: " + err.Error()
		}
		return false
	}
	if n == 0 {
		s.outcome = "closed before request completed"
		return false
	}
	return true
}

func (s *session) onHelloRead() sessionState {
	if !s.readChunk() {
		return stateError
	}
	switch s.helloParser.Feed(s.inRing) {
	case parser.NeedMore:
		return stateHelloRead
	case parser.Errored:
		s.outcome = "error: " + s.helloParser.Err.Error()
		return stateError
	default:
		s.chosenMethod = ChooseMethod(s.helloParser)
		return stateHelloWrite
	}
}

func (s *session) onHelloWrite() sessionState {
	if _, err := s.client.Write(MarshalHelloReply(s.chosenMethod)); err != nil {
		s.outcome = "error: " + err.Error()
		return stateError
	}
	switch s.chosenMethod {
	case methodUserPass:
		return stateAuthRead
	case methodNone:
		return stateRequestRead
	default:
		s.outcome = "no acceptable auth method"
		return stateError
	}
}

func (s *session) onAuthRead() sessionState {
	if !s.readChunk() {
		return stateError
	}
	switch s.authParser.Feed(s.inRing) {
	case parser.NeedMore:
		return stateAuthRead
	case parser.Errored:
		s.authSuccess = false
		return stateAuthWrite
	default:
		s.authUser = s.authParser.Uname
		s.authSuccess = s.deps.Users.Authenticate(s.authParser.Uname, s.authParser.Passwd)
		return stateAuthWrite
	}
}

func (s *session) onAuthWrite() sessionState {
	status := byte(0x01)
	if s.authSuccess {
		status = 0x00
	}
	if _, err := s.client.Write([]byte{0x01, status}); err != nil {
		s.outcome = "error: " + err.Error()
		return stateError
	}
	if !s.authSuccess {
		s.outcome = "authentication failed"
		return stateError
	}
	return stateRequestRead
}

func (s *session) onRequestRead() sessionState {
	if !s.readChunk() {
		return stateError
	}
	switch s.reqParser.Feed(s.inRing) {
	case parser.NeedMore:
		return stateRequestRead
	case parser.Errored:
		s.replyStatus = s.reqParser.ReplyCode
		if s.replyStatus == ReplySuccess {
			// The parser sets no reply code for this error (e.g. a bad
			// version byte); it is still a failure.
			s.replyStatus = ReplyGeneralFailure
		}
		s.outcome = "error: " + s.reqParser.Err.Error()
		return stateRequestWrite
	default:
		s.destPort = s.reqParser.Port
		if s.reqParser.Domain != "" {
			s.destDomain = s.reqParser.Domain
			s.dnsOneShot = resolveAsync(s.destDomain)
			return stateRequestResolve
		}
		s.destIPs = []net.IP{s.reqParser.IP}
		s.destIdx = 0
		s.beginConnect()
		return stateRequestConnect
	}
}

func (s *session) onResolveBlockReady() sessionState {
	res := s.pendingDNS
	if res.err != nil || len(res.addrs) == 0 {
		s.replyStatus = ReplyHostUnreachable
		s.outcome = "dns resolution failed"
		return stateRequestWrite
	}
	s.destIPs = make([]net.IP, len(res.addrs))
	for i, a := range res.addrs {
		s.destIPs[i] = a.IP
	}
	s.destIdx = 0
	s.beginConnect()
	return stateRequestConnect
}

// beginConnect dials the address at destIdx on a detached goroutine,
// per the "attempt in list order" tie-break policy spec.md §4.2 names.
func (s *session) beginConnect() {
	addr := s.destIPs[s.destIdx]
	target := net.JoinHostPort(addr.String(), portOf(s.destPort))

	result := newConnectOneShot()
	s.connectOneShot = result
	go func() {
		dialer := net.Dialer{
			Timeout: 15 * time.Second,
			Control: sockopt.Default.Control,
			// Negative: the dialer leaves the keepalive options
			// Control set in place instead of applying its own.
			KeepAlive: -1,
		}
		conn, err := dialer.Dial("tcp", target)
		result.Send(connectResult{conn: conn, err: err})
	}()
}

func (s *session) onConnectBlockReady() sessionState {
	res := s.pendingConnect
	if res.err == nil {
		s.origin = res.conn
		s.replyStatus = ReplySuccess
		return stateRequestWrite
	}

	s.destIdx++
	if s.destIdx < len(s.destIPs) {
		s.beginConnect()
		return stateRequestConnect
	}

	s.replyStatus = dialErrorToReply(res.err)
	s.outcome = "error: " + res.err.Error()
	return stateRequestWrite
}

func (s *session) onRequestWrite() sessionState {
	var bindIP net.IP
	var bindPort uint16
	if s.origin != nil {
		if ta, ok := s.origin.LocalAddr().(*net.TCPAddr); ok {
			bindIP = ta.IP
			bindPort = uint16(ta.Port)
		}
	}

	if _, err := s.client.Write(MarshalReply(s.replyStatus, bindIP, bindPort)); err != nil {
		s.outcome = "error: " + err.Error()
		return stateError
	}

	if s.replyStatus == ReplySuccess {
		if s.outcome == "" {
			s.outcome = "connected"
		}
		return stateCopy
	}
	if s.outcome == "" {
		s.outcome = "rejected"
	}
	return stateError
}
