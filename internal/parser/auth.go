package parser

import (
	"errors"

	"socks5gate/internal/buffer"
)

// ErrBadAuthVersion is returned when the userpass sub-negotiation VER
// field is not 1, per RFC 1929.
var ErrBadAuthVersion = errors.New("parser: unsupported auth sub-negotiation version")

type authStage int

const (
	authStageHeader authStage = iota
	authStageUname
	authStagePlenByte
	authStagePasswd
)

// UserPass incrementally parses the RFC 1929 userpass sub-negotiation:
// VER | ULEN | UNAME[ULEN] | PLEN | PASSWD[PLEN].
type UserPass struct {
	stage  authStage
	ulen   int
	plen   int
	Uname  string
	Passwd string
	Err    error
}

// NewUserPass returns a fresh sub-negotiation parser.
func NewUserPass() *UserPass {
	return &UserPass{}
}

// Feed consumes as many bytes as it can from r and reports progress.
func (a *UserPass) Feed(r *buffer.Ring) Progress {
	for {
		switch a.stage {
		case authStageHeader:
			if r.Readable() < 2 {
				return NeedMore
			}
			hdr := r.ReadableSpan()
			ver, ulen := hdr[0], hdr[1]
			r.Consume(2)
			if ver != 0x01 {
				a.Err = ErrBadAuthVersion
				return Errored
			}
			a.ulen = int(ulen)
			a.stage = authStageUname
		case authStageUname:
			if r.Readable() < a.ulen {
				return NeedMore
			}
			a.Uname = string(r.ReadableSpan()[:a.ulen])
			r.Consume(a.ulen)
			a.stage = authStagePlenByte
		case authStagePlenByte:
			if r.Readable() < 1 {
				return NeedMore
			}
			a.plen = int(r.ReadableSpan()[0])
			r.Consume(1)
			a.stage = authStagePasswd
		case authStagePasswd:
			if r.Readable() < a.plen {
				return NeedMore
			}
			a.Passwd = string(r.ReadableSpan()[:a.plen])
			r.Consume(a.plen)
			return Done
		}
	}
}
