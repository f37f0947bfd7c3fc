package memcashew

import (
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/stackerr"
	"github.com/rcrowley/go-metrics"

	"github.com/memcashew/memcashew/cache"
	"github.com/memcashew/memcashew/executor"
	"github.com/memcashew/memcashew/log"
)

// Server accepts connections, pins each to an executor picked round-robin,
// and runs one reader goroutine per connection. The runtime network poller
// is the readiness facility; readers block on the socket and post READ
// tasks in 128 byte chunks, so all per-connection ordering comes from the
// pinned executor's FIFO.
type Server struct {
	Addr           string
	MaxConnections int
	Cache          cache.Cache
	Pool           *executor.Pool
	Log            log.Logger
	Registry       metrics.Registry

	initOnce    sync.Once
	ln          net.Listener
	stopped     atomic.Bool
	connCounter int64

	accepted metrics.Counter
	active   metrics.Counter
	rejected metrics.Counter
}

func (s *Server) ListenAndServe() error {
	s.init()
	if s.Addr == "" {
		s.Addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return stackerr.Wrap(err)
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.init()
	s.ln = ln
	var tempDelay time.Duration // How long to sleep on accept failure.
	for {
		rwc, err := ln.Accept()
		if err != nil {
			if s.stopped.Load() {
				return nil
			}
			if ne, ok := err.(net.Error); !(ok && ne.Temporary()) {
				return stackerr.Wrap(err)
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			s.Log.Errorf("Accept error: %v; retrying in %v", err, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0
		s.handleAccept(rwc)
	}
}

// Stop closes the listener and shuts the executor pool down, which destroys
// all live connections. Serve returns nil after Stop.
func (s *Server) Stop() {
	s.stopped.Store(true)
	if s.ln != nil {
		s.ln.Close()
	}
	s.Pool.Shutdown()
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		if s.Log == nil {
			s.Log = log.NewLogger(log.ErrorLevel, os.Stderr)
		}
		if s.MaxConnections == 0 {
			s.MaxConnections = DefaultMaxConnections
		}
		if s.Registry == nil {
			s.Registry = metrics.NewRegistry()
		}
		s.accepted = metrics.GetOrRegisterCounter("server.connections.accepted", s.Registry)
		s.active = metrics.GetOrRegisterCounter("server.connections.active", s.Registry)
		s.rejected = metrics.GetOrRegisterCounter("server.connections.rejected", s.Registry)
	})
}

func (s *Server) handleAccept(rwc net.Conn) {
	s.accepted.Inc(1)
	if s.active.Count() >= int64(s.MaxConnections) {
		s.rejected.Inc(1)
		s.Log.Warnf("Connection limit %v reached. Rejecting %v.", s.MaxConnections, rwc.RemoteAddr())
		rwc.Close()
		return
	}
	if tc, ok := rwc.(*net.TCPConn); ok {
		s.setSocketOptions(tc)
	}
	index := s.Pool.Pick()
	l := s.Log.WithFields(log.Fields{"conn": s.connCounter})
	s.connCounter++
	conn := NewConn(rwc, s.Cache, index, l)
	conn.onClose = func() { s.active.Dec(1) }
	s.active.Inc(1)
	l.Debugf("Accepted %v, pinned to executor %v.", rwc.RemoteAddr(), index)
	s.Pool.Add(executor.Task{Type: executor.TaskNew, Conn: conn}, index)
	go s.readLoop(rwc, conn, index)
}

// Same options the reference sets: no Nagle, keep-alive, immediate reset on
// close instead of TIME_WAIT.
func (s *Server) setSocketOptions(tc *net.TCPConn) {
	if err := tc.SetNoDelay(true); err != nil {
		s.Log.Error("setsockopt error: ", err)
	}
	if err := tc.SetKeepAlive(true); err != nil {
		s.Log.Error("setsockopt error: ", err)
	}
	if err := tc.SetLinger(0); err != nil {
		s.Log.Error("setsockopt error: ", err)
	}
}

// readLoop is this connection's slice of the event loop. Each chunk is
// freshly allocated; the READ task owns it. EOF and read errors post CLOSE;
// the executor drops tasks for connections it already destroyed.
func (s *Server) readLoop(rwc net.Conn, conn *Conn, index int) {
	for {
		buf := make([]byte, ReadChunkSize)
		n, err := rwc.Read(buf)
		if n > 0 {
			s.Pool.Add(executor.Task{Type: executor.TaskRead, Conn: conn, Data: buf[:n]}, index)
		}
		if err != nil {
			if err != io.EOF {
				conn.log.Debug("Read error: ", err)
			}
			s.Pool.Add(executor.Task{Type: executor.TaskClose, Conn: conn}, index)
			return
		}
	}
}
