package socks5

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"socks5gate/internal/state"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return Deps{
		Users:     state.NewUsers(8),
		Metrics:   state.NewMetrics(nil),
		AccessLog: state.NewAccessLog(16),
		ChunkCap:  state.NewChunkCap(4096),
		Logger:    logrus.NewEntry(logger),
	}
}

func startEchoOrigin(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(c)
		}
	}()
	return ln
}

func TestSessionConnectNoAuthEndToEnd(t *testing.T) {
	origin := startEchoOrigin(t)
	defer origin.Close()
	originAddr := origin.Addr().(*net.TCPAddr)

	clientConn, serverConn := net.Pipe()
	deps := testDeps(t)

	done := make(chan struct{})
	go func() {
		HandleConnection(serverConn, deps)
		close(done)
	}()

	// Greeting: VER=5, NMETHODS=1, METHODS={0x00}
	_, err := clientConn.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)

	reply := make([]byte, 2)
	_, err = io.ReadFull(clientConn, reply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x00}, reply)

	// Request CONNECT to the echo origin over IPv4.
	req := []byte{0x05, 0x01, 0x00, 0x01}
	req = append(req, originAddr.IP.To4()...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, uint16(originAddr.Port))
	req = append(req, portBuf...)
	_, err = clientConn.Write(req)
	require.NoError(t, err)

	hdr := make([]byte, 4)
	_, err = io.ReadFull(clientConn, hdr)
	require.NoError(t, err)
	require.Equal(t, byte(0x05), hdr[0])
	require.Equal(t, byte(0x00), hdr[1]) // success
	require.Equal(t, byte(0x01), hdr[3]) // IPv4 bound addr

	bound := make([]byte, 6)
	_, err = io.ReadFull(clientConn, bound)
	require.NoError(t, err)

	// Copy phase: send bytes, expect the echo origin to bounce them back.
	payload := []byte("hello socks5")
	_, err = clientConn.Write(payload)
	require.NoError(t, err)

	echoed := make([]byte, len(payload))
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(clientConn, echoed)
	require.NoError(t, err)
	require.Equal(t, payload, echoed)

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after client closed")
	}

	historic, current, bytes := deps.Metrics.Snapshot()
	require.EqualValues(t, 1, historic)
	require.EqualValues(t, 0, current)
	require.Greater(t, bytes, uint64(0))
}

func TestSessionUserPassAuthSuccessAndFailure(t *testing.T) {
	origin := startEchoOrigin(t)
	defer origin.Close()
	originAddr := origin.Addr().(*net.TCPAddr)

	deps := testDeps(t)
	require.NoError(t, deps.Users.Add("admin", "1234"))

	runAuthAttempt := func(password string) (authReply byte) {
		clientConn, serverConn := net.Pipe()
		done := make(chan struct{})
		go func() {
			HandleConnection(serverConn, deps)
			close(done)
		}()

		_, err := clientConn.Write([]byte{0x05, 0x01, 0x02})
		require.NoError(t, err)
		hello := make([]byte, 2)
		_, err = io.ReadFull(clientConn, hello)
		require.NoError(t, err)
		require.Equal(t, []byte{0x05, 0x02}, hello)

		msg := []byte{0x01, byte(len("admin"))}
		msg = append(msg, "admin"...)
		msg = append(msg, byte(len(password)))
		msg = append(msg, password...)
		_, err = clientConn.Write(msg)
		require.NoError(t, err)

		authReplyBuf := make([]byte, 2)
		_, err = io.ReadFull(clientConn, authReplyBuf)
		require.NoError(t, err)
		authReply = authReplyBuf[1]

		if authReply == 0x00 {
			req := []byte{0x05, 0x01, 0x00, 0x01}
			req = append(req, originAddr.IP.To4()...)
			portBuf := make([]byte, 2)
			binary.BigEndian.PutUint16(portBuf, uint16(originAddr.Port))
			req = append(req, portBuf...)
			_, err = clientConn.Write(req)
			require.NoError(t, err)
			hdr := make([]byte, 10)
			_, err = io.ReadFull(clientConn, hdr)
			require.NoError(t, err)
		}

		clientConn.Close()
		<-done
		return authReply
	}

	require.EqualValues(t, 0x00, runAuthAttempt("1234"))
	require.EqualValues(t, 0x01, runAuthAttempt("wrong"))
}

func TestSessionDomainResolutionFailureReplies0x04(t *testing.T) {
	deps := testDeps(t)
	clientConn, serverConn := net.Pipe()

	done := make(chan struct{})
	go func() {
		HandleConnection(serverConn, deps)
		close(done)
	}()

	_, err := clientConn.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)
	hello := make([]byte, 2)
	_, err = io.ReadFull(clientConn, hello)
	require.NoError(t, err)

	domain := "this-domain-should-not-resolve.invalid"
	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(domain))}
	req = append(req, domain...)
	req = append(req, 0x00, 0x50)
	_, err = clientConn.Write(req)
	require.NoError(t, err)

	hdr := make([]byte, 4)
	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadFull(clientConn, hdr)
	require.NoError(t, err)
	require.Equal(t, byte(0x05), hdr[0])
	require.Equal(t, byte(0x04), hdr[1]) // host unreachable

	clientConn.Close()
	<-done
}
