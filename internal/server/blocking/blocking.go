// Package blocking implements the goroutine-per-connection network engine.
//
// A single TCP listener is wrapped in netutil.LimitListener so at most
// `workers` clients are served concurrently; further accepts queue in the
// kernel until a slot frees. Each connection runs the shared protocol
// session on a plain blocking socket.
package blocking

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-errors"
	"golang.org/x/net/netutil"

	"lrucached/internal/logger"
	"lrucached/internal/metrics"
	"lrucached/internal/server"
	"lrucached/internal/storage"
)

// Server is the blocking engine.
type Server struct {
	port    int
	workers int
	store   storage.Backend
	m       *metrics.Metrics
	log     *logger.Logger

	ln      net.Listener
	wg      sync.WaitGroup
	stopped atomic.Bool

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	joinMu  sync.Mutex
	joinErr error
}

// New returns an unstarted blocking engine.
func New(port, workers int, store storage.Backend, m *metrics.Metrics, log *logger.Logger) *Server {
	return &Server{
		port:    port,
		workers: workers,
		store:   store,
		m:       m,
		log:     log,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and launches the accept loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.port)))
	if err != nil {
		return errors.Wrap(err, server.ErrCodeListen, "bind tcp listener")
	}
	s.ln = netutil.LimitListener(ln, s.workers)
	s.log.Infof("start", "listening on :%d, %d concurrent clients", s.port, s.workers)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every in-flight connection.
func (s *Server) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.ln.Close()
	s.connMu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.connMu.Unlock()
}

// Join waits for the accept loop and all connections to finish.
func (s *Server) Join() error {
	s.wg.Wait()
	s.joinMu.Lock()
	defer s.joinMu.Unlock()
	return s.joinErr
}

// Addr returns the bound listener address, for tests binding port 0.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopped.Load() {
				return
			}
			s.joinMu.Lock()
			s.joinErr = errors.Wrap(err, server.ErrCodeWorker, "accept failed")
			s.joinMu.Unlock()
			s.log.Errorf("accept", "%v", err)
			return
		}
		s.track(conn)
		s.m.ConnOpened()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) track(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

// serve runs one connection to completion: read, feed the session, write
// whatever it produced, until EOF, error, or bailout.
func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer s.m.ConnClosed()
	defer s.untrack(conn)
	defer conn.Close()

	sess := server.NewSession(s.store, s.m, s.log)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			s.m.BytesRead.Add(int64(n))
			sess.Ingest(chunk[:n])
			if !s.flush(conn, sess) {
				return
			}
		}
		if err != nil {
			return // EOF or broken peer; nothing more to do
		}
		if sess.Bailout() && len(sess.Output()) == 0 {
			return
		}
	}
}

// flush writes all pending output. Reports false on a dead peer.
func (s *Server) flush(conn net.Conn, sess *server.Session) bool {
	for out := sess.Output(); len(out) > 0; out = sess.Output() {
		n, err := conn.Write(out)
		if n > 0 {
			s.m.BytesWritten.Add(int64(n))
			sess.DiscardOutput(n)
		}
		if err != nil {
			return false
		}
	}
	return true
}
