package mgmt

import (
	"bufio"
	"io"
	"net"
	"strings"
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
	users := state.NewUsers(8)
	require.NoError(t, users.Seed("admin", "1234"))
	return Deps{
		Users:     users,
		Metrics:   state.NewMetrics(nil),
		AccessLog: state.NewAccessLog(16),
		ChunkCap:  state.NewChunkCap(4096),
		Logger:    logrus.NewEntry(logger),
	}
}

func startSession(t *testing.T, deps Deps) (*bufio.Reader, net.Conn, <-chan struct{}) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		HandleConnection(serverConn, deps)
		close(done)
	}()
	return bufio.NewReader(clientConn), clientConn, done
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func TestMgmtAuthThenCommandsEndToEnd(t *testing.T) {
	deps := testDeps(t)
	r, conn, done := startSession(t, deps)
	defer conn.Close()

	sendLine(t, conn, "AUTH admin:1234")
	require.Equal(t, "+OK authentication successful", readLine(t, r))

	sendLine(t, conn, "ADD_USER bob:pw")
	require.Equal(t, "+OK", readLine(t, r))

	sendLine(t, conn, "LIST_USERS")
	require.Equal(t, "+OK", readLine(t, r))
	first := readLine(t, r)
	second := readLine(t, r)
	require.ElementsMatch(t, []string{"admin", "bob"}, []string{first, second})

	sendLine(t, conn, "SET_BUFFER 1024")
	require.Equal(t, "+OK buffer size changed to 1024", readLine(t, r))
	require.EqualValues(t, 1024, deps.ChunkCap.Get())

	sendLine(t, conn, "QUIT")
	require.Equal(t, "+OK bye", readLine(t, r))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after QUIT")
	}
}

func TestMgmtUnknownCommandBeforeAuthRetries(t *testing.T) {
	deps := testDeps(t)
	r, conn, _ := startSession(t, deps)
	defer conn.Close()

	sendLine(t, conn, "METRICS")
	require.Equal(t, "-ERR unknown command", readLine(t, r))

	sendLine(t, conn, "AUTH admin:wrong")
	require.Equal(t, "-ERR invalid credentials", readLine(t, r))

	sendLine(t, conn, "AUTH admin:1234")
	require.Equal(t, "+OK authentication successful", readLine(t, r))
}

func TestMgmtDelUserAndUnknownPostAuthCommand(t *testing.T) {
	deps := testDeps(t)
	require.NoError(t, deps.Users.Add("bob", "pw"))
	r, conn, _ := startSession(t, deps)
	defer conn.Close()

	sendLine(t, conn, "AUTH admin:1234")
	require.Equal(t, "+OK authentication successful", readLine(t, r))

	sendLine(t, conn, "DEL_USER bob")
	require.Equal(t, "+OK", readLine(t, r))

	sendLine(t, conn, "DEL_USER bob")
	require.Equal(t, "-ERR state: user not found", readLine(t, r))

	sendLine(t, conn, "NONSENSE")
	require.Equal(t, "-ERR unknown command", readLine(t, r))
}

func TestMgmtMetricsReportsCounters(t *testing.T) {
	deps := testDeps(t)
	deps.Metrics.ConnectionOpened()
	deps.Metrics.BytesTransferred(42)

	r, conn, _ := startSession(t, deps)
	defer conn.Close()

	sendLine(t, conn, "AUTH admin:1234")
	require.Equal(t, "+OK authentication successful", readLine(t, r))

	sendLine(t, conn, "METRICS")
	require.Equal(t, "+OK metrics", readLine(t, r))
	require.Equal(t, "historic_connections=1", readLine(t, r))
	require.Equal(t, "current_connections=1", readLine(t, r))
	require.Equal(t, "bytes_transferred=42", readLine(t, r))
}

func TestMgmtOverlongLineThenNextLineParsesCleanly(t *testing.T) {
	deps := testDeps(t)
	r, conn, _ := startSession(t, deps)
	defer conn.Close()

	overlong := strings.Repeat("a", 5000)
	sendLine(t, conn, overlong)
	require.Equal(t, "-ERR line too long", readLine(t, r))

	sendLine(t, conn, "AUTH admin:1234")
	require.Equal(t, "+OK authentication successful", readLine(t, r))
}

func TestMgmtSetBufferOutOfRangeRejected(t *testing.T) {
	deps := testDeps(t)
	r, conn, _ := startSession(t, deps)
	defer conn.Close()

	sendLine(t, conn, "AUTH admin:1234")
	require.Equal(t, "+OK authentication successful", readLine(t, r))

	sendLine(t, conn, "SET_BUFFER 0")
	require.Contains(t, readLine(t, r), "-ERR")

	sendLine(t, conn, "SET_BUFFER 70000")
	require.Contains(t, readLine(t, r), "-ERR")
}
