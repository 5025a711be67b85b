package parser

import (
	"bytes"
	"errors"
	"strings"

	"socks5gate/internal/buffer"
)

// ErrLineTooLong is returned when no LF has appeared within MaxLineLen
// bytes; spec.md §4.5 requires the session to reply "-ERR line too
// long" and reset its read buffer, then continue parsing the next
// line normally.
var ErrLineTooLong = errors.New("parser: line too long")

// MaxLineLen bounds a single management protocol line, header and
// argument together, excluding the terminator.
const MaxLineLen = 4096

// Line incrementally parses one LF-terminated management protocol
// line of the form "COMMAND [ARG]"; a CR immediately preceding the LF
// is ignored. Command matching is case-insensitive, so Command is
// normalized to upper case; Arg preserves the caller's casing.
type Line struct {
	Command string
	Arg     string
	Err     error
}

// NewLine returns a fresh line parser.
func NewLine() *Line {
	return &Line{}
}

// Feed scans r for a terminator. It never consumes bytes from r until
// either a full line is found (Done) or the line exceeds MaxLineLen
// (Errored, in which case the caller must Reset the buffer itself
// since the overlong content has no well-defined boundary to consume
// up to).
func (l *Line) Feed(r *buffer.Ring) Progress {
	span := r.ReadableSpan()
	idx := bytes.IndexByte(span, '\n')
	if idx == -1 {
		if len(span) > MaxLineLen {
			l.Err = ErrLineTooLong
			return Errored
		}
		return NeedMore
	}
	if idx > MaxLineLen {
		l.Err = ErrLineTooLong
		return Errored
	}

	line := span[:idx]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	r.Consume(idx + 1)

	text := string(line)
	sp := strings.IndexByte(text, ' ')
	if sp == -1 {
		l.Command = strings.ToUpper(text)
		l.Arg = ""
	} else {
		l.Command = strings.ToUpper(text[:sp])
		l.Arg = strings.TrimSpace(text[sp+1:])
	}
	return Done
}

// Reset prepares the parser to read the next line.
func (l *Line) Reset() {
	*l = Line{}
}
