package mgmt

import (
	"bytes"
	"fmt"
	"strconv"

	"socks5gate/internal/parser"
	"socks5gate/internal/state"
	"socks5gate/internal/stm"
)

func (s *session) table() stm.Table[mgmtState, *session] {
	return stm.Table[mgmtState, *session]{
		stateAuth: {
			OnReadReady: (*session).onAuthRead,
		},
		stateAuthReply: {
			OnWriteReady: (*session).onAuthReplyWrite,
		},
		stateCmdRead: {
			OnReadReady: (*session).onCmdRead,
		},
		stateCmdWrite: {
			OnWriteReady: (*session).onCmdWriteReady,
		},
		stateDone:  {},
		stateError: {},
	}
}

// onAuthRead reads lines until one parses, accepting only AUTH before
// authentication (spec.md §4.5: "any other command before
// authentication is answered with -ERR unknown command").
func (s *session) onAuthRead() mgmtState {
	switch s.readLine() {
	case parser.NeedMore:
		return stateAuth
	case parser.Errored:
		if s.line.Err == nil {
			return stateError
		}
		s.reply = []byte("-ERR line too long\r\n")
		s.nextOnReply = stateAuth
		s.line.Reset()
		return stateAuthReply
	}

	cmd, arg := s.line.Command, s.line.Arg
	s.line.Reset()

	if cmd != "AUTH" {
		s.reply = []byte("-ERR unknown command\r\n")
		s.nextOnReply = stateAuth
		return stateAuthReply
	}

	user, pass, ok := splitUserPass(arg)
	if !ok || !s.deps.Users.Authenticate(user, pass) {
		s.reply = []byte("-ERR invalid credentials\r\n")
		s.nextOnReply = stateAuth
		return stateAuthReply
	}

	s.authenticated = true
	s.username = user
	s.reply = []byte("+OK authentication successful\r\n")
	s.nextOnReply = stateCmdRead
	return stateAuthReply
}

func (s *session) onAuthReplyWrite() mgmtState {
	if _, err := s.conn.Write(s.reply); err != nil {
		s.outcome = "error: " + err.Error()
		return stateError
	}
	return s.nextOnReply
}

// onCmdRead reads one post-auth command line and dispatches it.
func (s *session) onCmdRead() mgmtState {
	switch s.readLine() {
	case parser.NeedMore:
		return stateCmdRead
	case parser.Errored:
		if s.line.Err == nil {
			return stateError
		}
		s.reply = []byte("-ERR line too long\r\n")
		s.nextOnReply = stateCmdRead
		s.line.Reset()
		return stateCmdWrite
	}

	cmd, arg := s.line.Command, s.line.Arg
	s.line.Reset()
	s.dispatch(cmd, arg)
	return stateCmdWrite
}

func (s *session) onCmdWriteReady() mgmtState {
	if _, err := s.conn.Write(s.reply); err != nil {
		s.outcome = "error: " + err.Error()
		return stateError
	}
	return s.nextOnReply
}

// dispatch executes one post-auth command, populating s.reply and
// s.nextOnReply. QUIT is the only command that ends the session
// (spec.md §4.5); every other branch loops back to stateCmdRead.
func (s *session) dispatch(cmd, arg string) {
	s.nextOnReply = stateCmdRead

	switch cmd {
	case "METRICS":
		historic, current, bytesTotal := s.deps.Metrics.Snapshot()
		s.reply = []byte(fmt.Sprintf(
			"+OK metrics\r\nhistoric_connections=%d\r\ncurrent_connections=%d\r\nbytes_transferred=%d\r\n",
			historic, current, bytesTotal))

	case "ADD_USER":
		user, pass, ok := splitUserPass(arg)
		if !ok {
			s.reply = []byte("-ERR expected user:pass\r\n")
			return
		}
		if err := s.deps.Users.Add(user, pass); err != nil {
			s.reply = []byte("-ERR " + err.Error() + "\r\n")
			return
		}
		s.reply = []byte("+OK\r\n")

	case "DEL_USER":
		if arg == "" {
			s.reply = []byte("-ERR expected username\r\n")
			return
		}
		if err := s.deps.Users.Deactivate(arg); err != nil {
			s.reply = []byte("-ERR " + err.Error() + "\r\n")
			return
		}
		s.reply = []byte("+OK\r\n")

	case "LIST_USERS":
		var buf bytes.Buffer
		buf.WriteString("+OK\r\n")
		for _, u := range s.deps.Users.List() {
			buf.WriteString(u)
			buf.WriteString("\r\n")
		}
		s.reply = buf.Bytes()

	case "SHOW_LOGS":
		entries := s.deps.AccessLog.Entries()
		body, truncated := state.Render(entries, replyBufferCap-64)
		var buf bytes.Buffer
		if truncated {
			buf.WriteString("+OK (truncated, showing most recent logs)\r\n")
		} else {
			buf.WriteString("+OK\r\n")
		}
		buf.WriteString(body)
		buf.WriteString("\r\n")
		s.reply = buf.Bytes()

	case "SET_BUFFER":
		n, err := strconv.Atoi(arg)
		if err != nil {
			s.reply = []byte("-ERR expected a number\r\n")
			return
		}
		if n < 1 || n > state.MaxChunkCap {
			s.reply = []byte(fmt.Sprintf("-ERR buffer size %d out of range (1-%d)\r\n", n, state.MaxChunkCap))
			return
		}
		if err := s.deps.ChunkCap.Set(uint32(n)); err != nil {
			s.reply = []byte("-ERR " + err.Error() + "\r\n")
			return
		}
		s.reply = []byte(fmt.Sprintf("+OK buffer size changed to %d\r\n", n))

	case "QUIT":
		s.reply = []byte("+OK bye\r\n")
		s.outcome = "quit"
		s.nextOnReply = stateDone

	default:
		s.reply = []byte("-ERR unknown command\r\n")
	}
}
