package epoll

import (
	"golang.org/x/sys/unix"

	"lrucached/internal/server"
)

// conn is one accepted client socket: a non-blocking fd plus the shared
// protocol session. Mutated only by its owning worker's goroutine.
type conn struct {
	fd    int
	w     *worker
	sess  *server.Session
	chunk []byte // read scratch, reused across wakeups
}

func newConn(fd int, w *worker) *conn {
	return &conn{
		fd:    fd,
		w:     w,
		sess:  server.NewSession(w.store, w.m, w.log),
		chunk: make([]byte, 4096),
	}
}

// advance is the read → parse/execute → write cycle, driven by readiness
// events. Edge-triggered registration means both directions are drained to
// EAGAIN on every wakeup.
func (c *conn) advance(_ int, events uint32) {
	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		c.w.teardownConn(c)
		return
	}
	if !c.readDrain() {
		c.w.teardownConn(c)
		return
	}
	if !c.writeDrain() {
		c.w.teardownConn(c)
		return
	}
	if c.sess.Bailout() && len(c.sess.Output()) == 0 {
		c.w.teardownConn(c)
	}
}

// readDrain reads until EAGAIN, EOF, or error, feeding the session.
// Reports false when the connection must be torn down immediately.
func (c *conn) readDrain() bool {
	for {
		n, err := unix.Read(c.fd, c.chunk)
		if n > 0 {
			c.w.m.BytesRead.Add(int64(n))
			c.sess.Ingest(c.chunk[:n])
			continue
		}
		if n == 0 && err == nil {
			// Peer closed its write side; serve what we have, then close.
			c.sess.SetBailout()
			return true
		}
		switch err {
		case unix.EAGAIN:
			return true
		case unix.EINTR:
			continue
		default:
			return false
		}
	}
}

// writeDrain flushes pending output until drained or EAGAIN; the next
// writable event resumes it. Reports false on a dead peer.
func (c *conn) writeDrain() bool {
	for out := c.sess.Output(); len(out) > 0; out = c.sess.Output() {
		n, err := unix.Write(c.fd, out)
		if n > 0 {
			c.w.m.BytesWritten.Add(int64(n))
			c.sess.DiscardOutput(n)
		}
		if err == nil {
			continue
		}
		switch err {
		case unix.EAGAIN:
			return true
		case unix.EINTR:
			continue
		default:
			// EPIPE and friends: the peer is gone.
			return false
		}
	}
	return true
}
