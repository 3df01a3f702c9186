// Package epoll implements the readiness-based reactor engine.
//
// One OS thread's worth of work per worker: each worker owns an epoll
// instance, its own listening socket bound with SO_REUSEPORT (the kernel
// load-balances accepts across workers), and the set of connections it has
// accepted. Everything is edge-triggered, so every handler drains its fd
// until EAGAIN on each wakeup. The event wait is bounded so the shutdown
// flag is observed within one timeout.
//
// Connections never migrate between workers; a worker is the sole owner of
// its connection table, so no connection state is ever locked.
package epoll

import (
	goerrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-errors"
	"golang.org/x/sys/unix"

	"lrucached/internal/logger"
	"lrucached/internal/metrics"
	"lrucached/internal/server"
	"lrucached/internal/storage"
)

const (
	// eventBatch is the fixed capacity of the per-wait event array.
	eventBatch = 10

	// waitTimeoutMs bounds one epoll wait so the stop flag is polled.
	waitTimeoutMs = 5000

	listenBacklog = 128
)

// handler is one registered fd's event sink. The variant set is closed:
// listener, client connection, FIFO pair.
type handler interface {
	advance(fd int, events uint32)
}

// Server is the reactor engine. Network mode "nonblocking" is this same
// engine with a single worker.
type Server struct {
	port      int
	workers   int
	readFifo  string
	writeFifo string

	store storage.Backend
	m     *metrics.Metrics
	log   *logger.Logger

	stop atomic.Bool
	wg   sync.WaitGroup
	pool []*worker

	fifoMu       sync.Mutex
	fifoAssigned bool
}

// New returns an unstarted reactor engine. readFifo/writeFifo may both be
// empty; when set, one worker additionally services the pipe pair.
func New(port, workers int, readFifo, writeFifo string,
	store storage.Backend, m *metrics.Metrics, log *logger.Logger) *Server {
	if workers < 1 {
		workers = 1
	}
	return &Server{
		port:      port,
		workers:   workers,
		readFifo:  readFifo,
		writeFifo: writeFifo,
		store:     store,
		m:         m,
		log:       log,
	}
}

// Start opens the listening sockets (one per worker) and launches the
// reactor loops. The FIFO pair, when configured, is created here and
// handed to exactly one worker.
func (s *Server) Start() error {
	if s.readFifo != "" {
		if err := makeFifo(s.readFifo); err != nil {
			return err
		}
		if err := makeFifo(s.writeFifo); err != nil {
			return err
		}
	}
	for i := 0; i < s.workers; i++ {
		lfd, err := listen(s.port)
		if err != nil {
			s.closeListeners()
			return err
		}
		if s.port == 0 {
			// Port 0 picked an ephemeral port; the remaining workers must
			// share it for SO_REUSEPORT balancing to apply.
			s.port, err = boundPort(lfd)
			if err != nil {
				unix.Close(lfd)
				s.closeListeners()
				return err
			}
		}
		w := &worker{
			id:    i,
			lfd:   lfd,
			stop:  &s.stop,
			store: s.store,
			m:     s.m,
			log:   s.log,
		}
		if fh := s.claimFifo(w); fh != nil {
			w.fifo = fh
		}
		s.pool = append(s.pool, w)
	}
	s.log.Infof("start", "listening on :%d, %d reactor workers", s.port, s.workers)
	for _, w := range s.pool {
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			w.run()
		}(w)
	}
	return nil
}

// claimFifo hands the pipe pair to the first worker that asks. The mutex
// covers creation racing a future dynamic worker; after the handoff only
// the owning worker touches the fds.
func (s *Server) claimFifo(w *worker) *fifoHandler {
	if s.readFifo == "" {
		return nil
	}
	s.fifoMu.Lock()
	defer s.fifoMu.Unlock()
	if s.fifoAssigned {
		return nil
	}
	s.fifoAssigned = true
	return newFifoHandler(s.readFifo, s.writeFifo, w)
}

// Stop signals shutdown. Workers observe the flag within one wait timeout.
func (s *Server) Stop() {
	s.stop.Store(true)
}

// Join waits for every worker, unlinks the FIFO paths, and surfaces the
// first fatal worker error.
func (s *Server) Join() error {
	s.wg.Wait()
	if s.readFifo != "" {
		unix.Unlink(s.readFifo)
		unix.Unlink(s.writeFifo)
	}
	var errs []error
	for _, w := range s.pool {
		if w.err != nil {
			errs = append(errs, w.err)
		}
	}
	return goerrors.Join(errs...)
}

func (s *Server) closeListeners() {
	for _, w := range s.pool {
		unix.Close(w.lfd)
	}
	s.pool = nil
}

// listen opens a non-blocking SO_REUSEPORT listening socket on port.
func listen(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(err, server.ErrCodeListen, "create socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, server.ErrCodeListen, "set SO_REUSEADDR")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, server.ErrCodeListen, "set SO_REUSEPORT")
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, server.ErrCodeListen, "bind")
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, server.ErrCodeListen, "listen")
	}
	return fd, nil
}

// Port returns the bound TCP port; useful when configured with port 0.
func (s *Server) Port() int { return s.port }

func boundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, errors.Wrap(err, server.ErrCodeListen, "getsockname")
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, errors.NewWithField(server.ErrCodeListen,
			"unexpected socket address family", "addr", fmt.Sprintf("%T", sa))
	}
	return in4.Port, nil
}

func makeFifo(path string) error {
	err := unix.Mkfifo(path, 0o600)
	if err != nil && err != unix.EEXIST {
		return errors.Wrap(err, server.ErrCodeFifo, "mkfifo "+path)
	}
	return nil
}
