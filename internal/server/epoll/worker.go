package epoll

import (
	"strconv"
	"sync/atomic"

	"github.com/agilira/go-errors"
	"golang.org/x/sys/unix"

	"lrucached/internal/logger"
	"lrucached/internal/metrics"
	"lrucached/internal/server"
	"lrucached/internal/storage"
)

// worker is one reactor loop: an epoll fd, a listening socket, the
// connections accepted on it, and optionally the process's FIFO pair.
// All of its state is owned by its goroutine; nothing here is locked.
type worker struct {
	id   int
	lfd  int
	epfd int

	stop *atomic.Bool
	dead bool  // set on fatal; exits the loop without waiting for stop
	err  error // first fatal error, surfaced through Join

	handlers map[int]handler
	conns    map[int]*conn
	fifo     *fifoHandler

	store storage.Backend
	m     *metrics.Metrics
	log   *logger.Logger
}

// run is the reactor loop of one worker. It owns every fd it registers
// and closes all of them on the way out.
func (w *worker) run() {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		w.fatal(errors.Wrap(err, server.ErrCodeNotifier, "epoll_create1"))
		unix.Close(w.lfd)
		return
	}
	w.epfd = epfd
	w.handlers = make(map[int]handler)
	w.conns = make(map[int]*conn)

	defer w.shutdown()

	w.handlers[w.lfd] = (*listenerHandler)(w)
	if err := w.register(w.lfd, unix.EPOLLIN|unix.EPOLLET); err != nil {
		w.fatal(err)
		return
	}
	if w.fifo != nil {
		if err := w.fifo.open(); err != nil {
			w.fatal(err)
			return
		}
	}

	events := make([]unix.EpollEvent, eventBatch)
	for !w.stop.Load() && !w.dead {
		n, err := unix.EpollWait(w.epfd, events, waitTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.fatal(errors.Wrap(err, server.ErrCodeNotifier, "epoll_wait"))
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if h, ok := w.handlers[fd]; ok {
				h.advance(fd, events[i].Events)
			}
		}
	}
}

// register adds fd to the epoll set with the given event mask.
func (w *worker) register(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrap(err, server.ErrCodeNotifier, "epoll_ctl add")
	}
	return nil
}

// deregister removes fd from the epoll set and the dispatch table.
func (w *worker) deregister(fd int) {
	unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(w.handlers, fd)
}

// teardownConn closes one client connection: deregister, shutdown, close,
// unlink from the connection table.
func (w *worker) teardownConn(c *conn) {
	w.deregister(c.fd)
	unix.Shutdown(c.fd, unix.SHUT_RDWR)
	unix.Close(c.fd)
	delete(w.conns, c.fd)
	w.m.ConnClosed()
	w.log.Debugf("close", "worker %d fd=%d", w.id, c.fd)
}

// fatal records the worker's terminal error and stops its loop. Only these
// errors cross the worker boundary; connection failures never do.
func (w *worker) fatal(err error) {
	if w.err == nil {
		w.err = err
	}
	w.dead = true
	w.log.Errorf("worker", "worker %d: %v", w.id, err)
}

// shutdown tears down every registered fd. In-flight connections are
// closed abruptly; remaining output is discarded.
func (w *worker) shutdown() {
	for _, c := range w.conns {
		w.teardownConn(c)
	}
	if w.fifo != nil {
		w.fifo.close()
	}
	w.deregister(w.lfd)
	unix.Close(w.lfd)
	unix.Close(w.epfd)
}

// listenerHandler is the worker's accept-side face: readable means one or
// more pending connections; HUP or ERR on the listening socket is fatal.
type listenerHandler worker

func (l *listenerHandler) advance(_ int, events uint32) {
	w := (*worker)(l)
	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		w.fatal(errors.NewWithField(server.ErrCodeWorker,
			"listening socket failed", "worker", strconv.Itoa(w.id)))
		return
	}
	w.acceptLoop()
}

// acceptLoop drains accept until EAGAIN, registering each new connection
// edge-triggered for both directions.
func (w *worker) acceptLoop() {
	for {
		nfd, _, err := unix.Accept4(w.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			w.log.Warnf("accept", "worker %d: %v", w.id, err)
			return
		}
		c := newConn(nfd, w)
		w.conns[nfd] = c
		w.handlers[nfd] = c
		if err := w.register(nfd, unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLET|unix.EPOLLRDHUP); err != nil {
			w.log.Warnf("accept", "register fd=%d: %v", nfd, err)
			delete(w.conns, nfd)
			delete(w.handlers, nfd)
			unix.Close(nfd)
			continue
		}
		w.m.ConnOpened()
		w.log.Debugf("accept", "worker %d fd=%d", w.id, nfd)
	}
}
