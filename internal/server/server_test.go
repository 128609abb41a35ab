package server_test

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nbfsd/webserver/internal/queue"
	"github.com/nbfsd/webserver/internal/reactor"
	"github.com/nbfsd/webserver/internal/server"
)

// TestServer_EndToEndOverTCP exercises the whole stack — a real TCP
// listener, fd duplication out of the accepted net.Conn, and the
// httpconn lifecycle — the way a client actually reaches this server.
func TestServer_EndToEndOverTCP(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hello"), 0o644))

	re, err := reactor.New(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = re.Close() })

	inputQ := queue.New("input", 8)
	processQ := queue.New("process", 8)
	outputQ := queue.New("output", 8)
	t.Cleanup(func() { inputQ.Close(); processQ.Close(); outputQ.Close() })

	srv := &server.Server{
		Root:        root,
		Reactor:     re,
		InputQueue:  inputQ,
		ProcessQ:    processQ,
		OutputQueue: outputQ,
		Log:         zerolog.Nop(),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-serveDone
	})

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Write([]byte("GET /index.html HTTP/1.0\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Contains(t, string(got), "HTTP/1.0 200")
	require.Contains(t, string(got), "hello")

	require.Eventually(t, func() bool { return srv.OpenConnections() == 0 }, time.Second, 10*time.Millisecond)
}
