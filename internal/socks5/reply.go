package socks5

import (
	"encoding/binary"
	"errors"
	"net"

	"socks5gate/internal/parser"
)

// Reply status codes (spec.md §4.2).
const (
	ReplySuccess             = 0x00
	ReplyGeneralFailure      = 0x01
	ReplyNetworkUnreachable  = 0x03
	ReplyHostUnreachable     = 0x04
	ReplyConnectionRefused   = 0x05
	ReplyCommandNotSupported = 0x07
	ReplyAddrTypeNotSupported = 0x08
)

const (
	methodNone     = 0x00
	methodUserPass = 0x02
	methodNoAccept = 0xFF
)

// ErrReplyTooShort is returned by ParseReply when the buffer is
// incomplete.
var ErrReplyTooShort = errors.New("socks5: reply buffer too short")

// MarshalReply encodes a SOCKS5 reply: VER | REP | RSV | ATYP |
// BND.ADDR | BND.PORT. A nil bindIP marshals as the 0.0.0.0:0
// placeholder spec.md §4.2 permits when the origin's local address is
// unavailable.
func MarshalReply(status byte, bindIP net.IP, bindPort uint16) []byte {
	buf := make([]byte, 0, 22)
	buf = append(buf, 0x05, status, 0x00)

	if v4 := to4(bindIP); v4 != nil {
		buf = append(buf, parser.AtypIPv4)
		buf = append(buf, v4...)
	} else if v6 := to16NonV4(bindIP); v6 != nil {
		buf = append(buf, parser.AtypIPv6)
		buf = append(buf, v6...)
	} else {
		buf = append(buf, parser.AtypIPv4, 0, 0, 0, 0)
	}

	portBuf := [2]byte{}
	binary.BigEndian.PutUint16(portBuf[:], bindPort)
	buf = append(buf, portBuf[:]...)
	return buf
}

func to4(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	return ip.To4()
}

func to16NonV4(ip net.IP) net.IP {
	if ip == nil || ip.To4() != nil {
		return nil
	}
	return ip.To16()
}

// ParseReply decodes a marshalled reply, the inverse of MarshalReply,
// used by the round-trip tests spec.md §8 requires.
func ParseReply(buf []byte) (status byte, bindIP net.IP, bindPort uint16, err error) {
	if len(buf) < 4 {
		return 0, nil, 0, ErrReplyTooShort
	}
	status = buf[1]
	atyp := buf[3]
	rest := buf[4:]

	switch atyp {
	case parser.AtypIPv4:
		if len(rest) < 6 {
			return 0, nil, 0, ErrReplyTooShort
		}
		bindIP = append(net.IP(nil), rest[:4]...)
		bindPort = binary.BigEndian.Uint16(rest[4:6])
	case parser.AtypIPv6:
		if len(rest) < 18 {
			return 0, nil, 0, ErrReplyTooShort
		}
		bindIP = append(net.IP(nil), rest[:16]...)
		bindPort = binary.BigEndian.Uint16(rest[16:18])
	default:
		return 0, nil, 0, errors.New("socks5: unknown atyp in reply")
	}
	return status, bindIP, bindPort, nil
}

// MarshalHelloReply encodes the server's chosen-method reply: VER |
// METHOD.
func MarshalHelloReply(method byte) []byte {
	return []byte{0x05, method}
}

// ParseHelloReply decodes MarshalHelloReply's output, used by the
// round-trip test spec.md §8 requires.
func ParseHelloReply(buf []byte) (method byte, err error) {
	if len(buf) < 2 {
		return 0, ErrReplyTooShort
	}
	if buf[0] != 0x05 {
		return 0, parser.ErrBadVersion
	}
	return buf[1], nil
}

// ChooseMethod implements spec.md §4.2's HELLO_WRITE selection policy:
// prefer userpass (0x02) when offered, even if none (0x00) is also
// offered, else none, else "no acceptable methods".
func ChooseMethod(offered *parser.Hello) byte {
	if offered.Offers(methodUserPass) {
		return methodUserPass
	}
	if offered.Offers(methodNone) {
		return methodNone
	}
	return methodNoAccept
}
