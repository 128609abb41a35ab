// Package httpconn implements the non-blocking HTTP/1.0 connection
// engine: the elastic input pump, the request parser, the document-root
// path resolver, and the resumable response sender, wired together by
// Connection.
package httpconn

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/nbfsd/webserver/internal/reactor"
)

// Connection binds one accepted socket to the reactor and to the three
// dispatch queues it moves across as it progresses from reading a
// request to sending a response.
type Connection struct {
	fd   int
	peer string
	root string

	re          *reactor.Reactor
	inputQ      reactor.Queue
	processingQ reactor.Queue
	outputQ     reactor.Queue

	log zerolog.Logger

	buf *readBuffer

	closeOnce sync.Once
	onClose   func()
}

// Options bundles the collaborators a Connection needs, so Accept's
// signature doesn't grow every time the lifecycle picks up a new one.
type Options struct {
	Root        string
	Reactor     *reactor.Reactor
	InputQueue  reactor.Queue
	ProcessQ    reactor.Queue
	OutputQueue reactor.Queue
	Log         zerolog.Logger
	// OnClose, if set, is invoked exactly once after teardown
	// completes, letting the accept loop drop its own bookkeeping
	// reference to this connection.
	OnClose func()
}

// Accept constructs a Connection for an already-accepted socket fd,
// puts it in non-blocking mode, and immediately attempts to read a
// request.
func Accept(fd int, peer string, opts Options) *Connection {
	c := &Connection{
		fd:          fd,
		peer:        peer,
		root:        opts.Root,
		re:          opts.Reactor,
		inputQ:      opts.InputQueue,
		processingQ: opts.ProcessQ,
		outputQ:     opts.OutputQueue,
		log:         opts.Log,
		onClose:     opts.OnClose,
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		c.log.Error().Err(err).Str("peer", peer).Msg("failed to set non-blocking mode")
		c.teardown()
		return c
	}

	c.log.Info().Str("peer", peer).Msg("new connection")
	c.readRequest()
	return c
}

// readRequest reads until EAGAIN, peer-close, or a read that leaves
// free space in the buffer (a read that fills it exactly loops again
// after growing the elastic buffer), then either hands off to the
// processing queue if a complete request is buffered, or arms a
// one-shot readable+hangup watch.
func (c *Connection) readRequest() {
	if c.buf == nil {
		c.buf = newReadBuffer()
	}

	for {
		c.buf.growIfNeeded()
		slice := c.buf.writableSlice()

		n, err := unix.Read(c.fd, slice)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			c.log.Debug().Err(err).Str("peer", c.peer).Msg("read error, abandoning connection")
			c.teardown()
			return
		}
		if n == 0 {
			c.log.Info().Str("peer", c.peer).Msg("client closed connection before request completed")
			c.teardown()
			return
		}

		c.buf.commit(n)
		if n < len(slice) {
			break
		}
		// n == len(slice): the read filled exactly the available
		// capacity, so there may be more buffered in the kernel —
		// loop again after growIfNeeded reassesses headroom.
	}

	if isRequestComplete(c.buf.bytes()) {
		owned := c.buf
		c.buf = nil // ownership transfers to the processing stage
		c.processingQ.Schedule(func() { c.processRequest(owned) })
		return
	}

	c.re.Register(c.fd, reactor.Readable|reactor.Hangup, false, c.inputQ, func(revents reactor.Interest) {
		if revents&reactor.Hangup != 0 {
			c.log.Debug().Str("peer", c.peer).Msg("hangup while waiting for more request data")
			c.teardown()
			return
		}
		c.readRequest()
	})
}

// processRequest parses, resolves, and stats the request in buf,
// producing the matching response: 400 for a malformed request, 501 for
// a method other than GET, 404 for anything that doesn't resolve to a
// readable regular file under the document root, 200 otherwise.
func (c *Connection) processRequest(buf *readBuffer) {
	_, path, _, outcome := parseRequest(buf.bytes())

	switch outcome {
	case outcomeIncomplete, outcomeMalformed:
		resp := NewResponse(c.fd, 400, "")
		resp.SetInlineBody("400/Bad Request")
		c.sendResponse(resp)
		return
	case outcomeUnsupportedMethod:
		resp := NewResponse(c.fd, 501, "")
		resp.SetInlineBody("500/Not Implemented")
		c.sendResponse(resp)
		return
	}

	real, err := resolvePath(c.root, path)
	if err != nil {
		c.log.Debug().Err(err).Str("peer", c.peer).Str("path", path).Msg("path resolution failed")
		c.sendNotFound()
		return
	}

	info, err := os.Lstat(real)
	if err != nil {
		c.log.Debug().Err(err).Str("peer", c.peer).Str("path", real).Msg("stat failed")
		c.sendNotFound()
		return
	}
	if !info.Mode().IsRegular() {
		c.sendNotFound()
		return
	}

	f, err := os.Open(real)
	if err != nil {
		c.log.Debug().Err(err).Str("peer", c.peer).Str("path", real).Msg("open failed")
		c.sendNotFound()
		return
	}

	resp := NewResponse(c.fd, 200, "")
	resp.SetFileBody(f, info.Size())
	c.sendResponse(resp)
}

func (c *Connection) sendNotFound() {
	resp := NewResponse(c.fd, 404, "")
	resp.SetInlineBody("404/Not Found")
	c.sendResponse(resp)
}

// sendResponse drives resp.Send() and, on would_block, registers a
// writable+hangup watch that resumes it once the socket can take more.
func (c *Connection) sendResponse(resp *Response) {
	result, err := resp.Send()
	if err != nil {
		c.log.Debug().Err(err).Str("peer", c.peer).Msg("send error, abandoning connection")
		resp.Close()
		c.teardown()
		return
	}

	if result == WouldBlock {
		c.re.Register(c.fd, reactor.Writable|reactor.Hangup, false, c.outputQ, func(revents reactor.Interest) {
			if revents&reactor.Hangup != 0 {
				c.log.Debug().Str("peer", c.peer).Msg("hangup while sending response")
				resp.Close()
				c.teardown()
				return
			}
			c.sendResponse(resp)
		})
		return
	}

	resp.Close()
	c.teardown()
}

// teardown releases the read buffer (if still owned), unregisters the
// socket from the reactor, and closes it. It is idempotent across the
// two normal exit paths (completion, error) and any pending callback
// that races with it.
func (c *Connection) teardown() {
	c.closeOnce.Do(func() {
		c.buf = nil
		c.re.Unregister(c.fd)
		_ = unix.Close(c.fd)
		c.log.Info().Str("peer", c.peer).Msg("connection closed")
		if c.onClose != nil {
			c.onClose()
		}
	})
}
