package server

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startConn wires a client pipe to a running connection handler.
func startConn(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	client, srvSide := net.Pipe()
	t.Cleanup(func() { client.Close() })
	go s.handleConn(srvSide)
	return client, bufio.NewReader(client)
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestConnectionFraming(t *testing.T) {
	d, _ := newTestDispatcher(t)
	s := &Server{cfg: d.cfg, dispatcher: d}

	conn, r := startConn(t, s)

	sendLine(t, conn, "/register alice pw123456")
	assert.Equal(t, "OK: Registered\n", readLine(t, r))

	// Empty lines are ignored, not answered.
	sendLine(t, conn, "")
	sendLine(t, conn, "/register bob pw123456")
	assert.Equal(t, "OK: Registered\n", readLine(t, r))
}

func TestConnectionMultiLineTerminator(t *testing.T) {
	d, _ := newTestDispatcher(t)
	s := &Server{cfg: d.cfg, dispatcher: d}

	conn, r := startConn(t, s)

	sendLine(t, conn, "/register alice pw123456")
	readLine(t, r)
	sendLine(t, conn, "/register bob pw123456")
	readLine(t, r)
	sendLine(t, conn, "/login alice pw123456")
	login := readLine(t, r)
	tok := login[len("OK: Logged in SESSION:") : len(login)-1]

	sendLine(t, conn, "/send_private_message "+tok+" bob hello bob")
	assert.Equal(t, "OK: Message sent\n", readLine(t, r))

	sendLine(t, conn, "/get_private_messages "+tok+" bob")
	assert.Equal(t, "OK: Messages:\n", readLine(t, r))
	assert.Regexp(t, `^\[\d+\] alice: hello bob\n$`, readLine(t, r))
	// The empty line terminates the batch.
	assert.Equal(t, "\n", readLine(t, r))
}

func TestConnectionQuitCloses(t *testing.T) {
	d, _ := newTestDispatcher(t)
	s := &Server{cfg: d.cfg, dispatcher: d}

	conn, r := startConn(t, s)

	sendLine(t, conn, "/quit")
	assert.Equal(t, "OK: Disconnected\n", readLine(t, r))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := r.ReadByte()
	assert.Error(t, err) // peer closed
}

func TestConnectionCRLFTolerated(t *testing.T) {
	d, _ := newTestDispatcher(t)
	s := &Server{cfg: d.cfg, dispatcher: d}

	conn, r := startConn(t, s)

	conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := conn.Write([]byte("/register alice pw123456\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "OK: Registered\n", readLine(t, r))
}
