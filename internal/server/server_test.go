package server

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arjunmenon/lsmkv/internal/engine"
)

func newTestServer(t *testing.T) (net.Listener, *engine.Engine) {
	t.Helper()
	eng, err := engine.New(engine.Options{DataDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := New(eng, zap.NewNop())
	go s.Serve(ln)

	return ln, eng
}

func sendRequest(t *testing.T, ln net.Listener, request string) string {
	t.Helper()
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(request))
	require.NoError(t, err)

	reply, err := bufio.NewReader(conn).ReadString(0)
	if err != nil && reply == "" {
		t.Fatalf("read response: %v", err)
	}
	return reply
}

func TestServerInsertAndSelect(t *testing.T) {
	ln, _ := newTestServer(t)

	reply := sendRequest(t, ln, "INSERT INTO the_table (foo) VALUES (bar);\n")
	require.Equal(t, "OK", reply)

	reply = sendRequest(t, ln, "SELECT foo FROM the_table;\n")
	require.Equal(t, "bar", reply)
}

func TestServerSelectMissingKey(t *testing.T) {
	ln, _ := newTestServer(t)

	reply := sendRequest(t, ln, "SELECT missing FROM the_table;\n")
	require.Equal(t, "Key not found", reply)
}

func TestServerDelete(t *testing.T) {
	ln, _ := newTestServer(t)

	sendRequest(t, ln, "INSERT INTO the_table (foo) VALUES (bar);\n")
	reply := sendRequest(t, ln, `DELETE FROM the_table WHERE key = "foo";` + "\n")
	require.Equal(t, "OK", reply)

	reply = sendRequest(t, ln, "SELECT foo FROM the_table;\n")
	require.Equal(t, "Key not found", reply)
}

func TestServerMalformedStatement(t *testing.T) {
	ln, _ := newTestServer(t)

	reply := sendRequest(t, ln, "GARBAGE;\n")
	require.Contains(t, reply, "Error:")
}
