// Package server implements the accept loop: it owns the listening
// socket and constructs an httpconn.Connection per accepted client. The
// listener can come from a zero-downtime upgrader, so a restarted
// process keeps accepting new clients; Serve does not wait for
// connections it has already accepted before returning.
package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/nbfsd/webserver/internal/httpconn"
	"github.com/nbfsd/webserver/internal/reactor"
)

// Server owns the listening socket and constructs one httpconn.Connection
// per accepted client.
type Server struct {
	Root        string
	Reactor     *reactor.Reactor
	InputQueue  reactor.Queue
	ProcessQ    reactor.Queue
	OutputQueue reactor.Queue
	Log         zerolog.Logger

	open atomic.Int64
}

// OpenConnections reports the number of connections currently accepted
// and not yet torn down, for diagnostics during a graceful restart.
func (s *Server) OpenConnections() int64 {
	return s.open.Load()
}

// Serve accepts connections from ln until ctx is canceled or ln is
// closed. A single bad Accept() never stops the loop — only
// net.ErrClosed (the listener itself went away) does.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.Log.Error().Err(err).Msg("accept failed, continuing")
			continue
		}
		s.accept(conn)
	}
}

func (s *Server) accept(netConn net.Conn) {
	peer := netConn.RemoteAddr().String()

	fd, err := reactor.DupFD(netConn)
	if err != nil {
		s.Log.Error().Err(err).Str("peer", peer).Msg("could not obtain raw fd for accepted connection")
		_ = netConn.Close()
		return
	}
	// The duplicated fd is now independently owned, so the net.Conn
	// wrapper is redundant; close it immediately rather than holding
	// it open until GC finalizes it.
	_ = netConn.Close()

	s.open.Add(1)
	httpconn.Accept(fd, peer, httpconn.Options{
		Root:        s.Root,
		Reactor:     s.Reactor,
		InputQueue:  s.InputQueue,
		ProcessQ:    s.ProcessQ,
		OutputQueue: s.OutputQueue,
		Log:         s.Log,
		OnClose: func() {
			s.open.Add(-1)
		},
	})
}
