package httpconn

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/nbfsd/webserver/internal/queue"
	"github.com/nbfsd/webserver/internal/reactor"
)

// harness wires one accepted connection end-to-end: a real reactor, the
// three dispatch queues, and a connected socket pair standing in for the
// client side of an accepted TCP connection.
type harness struct {
	t        *testing.T
	re       *reactor.Reactor
	clientFD int
}

func newHarness(t *testing.T, root string) *harness {
	t.Helper()
	re, err := reactor.New(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = re.Close() })

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() { _ = unix.Close(fds[1]) })

	inputQ := queue.New("input", 8)
	processQ := queue.New("process", 8)
	outputQ := queue.New("output", 8)
	t.Cleanup(func() { inputQ.Close(); processQ.Close(); outputQ.Close() })

	Accept(fds[0], "test-peer", Options{
		Root:        root,
		Reactor:     re,
		InputQueue:  inputQ,
		ProcessQ:    processQ,
		OutputQueue: outputQ,
		Log:         zerolog.Nop(),
	})

	return &harness{t: t, re: re, clientFD: fds[1]}
}

func (h *harness) send(req string) {
	h.t.Helper()
	n, err := unix.Write(h.clientFD, []byte(req))
	require.NoError(h.t, err)
	require.Equal(h.t, len(req), n)
}

// readResponse polls clientFD (EAGAIN-tolerant) until at least
// minBytes have been collected or the timeout elapses.
func (h *harness) readResponse(minBytes int, timeout time.Duration) []byte {
	h.t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	deadline := time.Now().Add(timeout)
	for len(out) < minBytes && time.Now().Before(deadline) {
		n, err := unix.Read(h.clientFD, buf)
		if err != nil {
			if err == unix.EAGAIN {
				time.Sleep(time.Millisecond)
				continue
			}
			h.t.Fatalf("read: %v", err)
		}
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return out
}

// Scenario 1: GET on an existing file returns 200 with the file's bytes.
func TestConn_GetExistingFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hello world"), 0o644))

	h := newHarness(t, root)
	h.send("GET /index.html HTTP/1.0\r\n\r\n")

	got := h.readResponse(len("HTTP/1.0 200 ")+len("hello world"), 2*time.Second)
	require.Contains(t, string(got), "HTTP/1.0 200")
	require.Contains(t, string(got), "hello world")
}

// Scenario 2: a traversal attempt is reported as 404, never leaking
// whether the escaped path exists.
func TestConn_DirectoryTraversalIs404(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0o644))

	h := newHarness(t, root)
	h.send("GET /../../../../../../etc/passwd HTTP/1.0\r\n\r\n")

	got := h.readResponse(len("HTTP/1.0 404 "), 2*time.Second)
	require.Contains(t, string(got), "HTTP/1.0 404")
}

// Scenario 3: a non-GET method is rejected with 501, without touching
// the filesystem.
func TestConn_NonGetMethodIs501(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	h.send("POST /index.html HTTP/1.0\r\n\r\n")

	got := h.readResponse(len("HTTP/1.0 501 "), 2*time.Second)
	require.Contains(t, string(got), "HTTP/1.0 501")
}

// Scenario 4: a slow client that trickles its read, one byte at a time,
// still eventually receives the complete response.
func TestConn_SlowReaderStillCompletes(t *testing.T) {
	root := t.TempDir()
	body := make([]byte, 32*1024)
	for i := range body {
		body[i] = byte('a' + i%26)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), body, 0o644))

	h := newHarness(t, root)
	h.send("GET /big.bin HTTP/1.0\r\n\r\n")

	want := "HTTP/1.0 200 \r\nServer: webserver/dev\r\n\r\n" + string(body)
	var got []byte
	deadline := time.Now().Add(5 * time.Second)
	one := make([]byte, 1)
	for len(got) < len(want) && time.Now().Before(deadline) {
		n, err := unix.Read(h.clientFD, one)
		if err != nil {
			if err == unix.EAGAIN {
				time.Sleep(time.Millisecond)
				continue
			}
			t.Fatalf("read: %v", err)
		}
		if n == 1 {
			got = append(got, one[0])
		}
	}
	require.Equal(t, want, string(got))
}

// Scenario 5: a request whose final CRLF arrives after a pause is still
// parsed correctly once it does — the reactor must keep waiting rather
// than treating the pause as a close or a malformed request.
func TestConn_PausedFinalCRLFStillParses(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("ok"), 0o644))

	h := newHarness(t, root)
	n, err := unix.Write(h.clientFD, []byte("GET /index.html HTTP/1.0\r\n"))
	require.NoError(t, err)
	require.Equal(t, len("GET /index.html HTTP/1.0\r\n"), n)

	time.Sleep(100 * time.Millisecond)
	_, err = unix.Write(h.clientFD, []byte("\r\n"))
	require.NoError(t, err)

	got := h.readResponse(len("HTTP/1.0 200 "), 2*time.Second)
	require.Contains(t, string(got), "HTTP/1.0 200")
}
