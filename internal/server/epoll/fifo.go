package epoll

import (
	"github.com/agilira/go-errors"
	"golang.org/x/sys/unix"

	"lrucached/internal/server"
)

// fifoHandler services one named-pipe client: commands arrive on the read
// pipe, replies go out on the write pipe. The write end is opened
// read-write so the pipe always has a reader and writes never raise EPIPE;
// both ends reopen on EOF of the read pipe so the peer can disconnect and
// come back.
type fifoHandler struct {
	readPath  string
	writePath string
	rfd       int
	wfd       int
	w         *worker
	sess      *server.Session
	chunk     []byte
}

func newFifoHandler(readPath, writePath string, w *worker) *fifoHandler {
	return &fifoHandler{
		readPath:  readPath,
		writePath: writePath,
		rfd:       -1,
		wfd:       -1,
		w:         w,
		sess:      server.NewSession(w.store, w.m, w.log),
		chunk:     make([]byte, 4096),
	}
}

// open opens both pipe ends non-blocking and registers them with the
// owning worker's reactor.
func (f *fifoHandler) open() error {
	rfd, err := unix.Open(f.readPath, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return errors.Wrap(err, server.ErrCodeFifo, "open read fifo "+f.readPath)
	}
	wfd, err := unix.Open(f.writePath, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(rfd)
		return errors.Wrap(err, server.ErrCodeFifo, "open write fifo "+f.writePath)
	}
	f.rfd, f.wfd = rfd, wfd
	f.w.handlers[rfd] = f
	f.w.handlers[wfd] = f
	if err := f.w.register(rfd, unix.EPOLLIN|unix.EPOLLET); err != nil {
		f.close()
		return err
	}
	if err := f.w.register(wfd, unix.EPOLLOUT|unix.EPOLLET); err != nil {
		f.close()
		return err
	}
	f.w.log.Infof("fifo", "serving pipe pair %s → %s", f.readPath, f.writePath)
	return nil
}

// advance drains whichever end woke us. EOF on the read pipe means the
// writing peer closed; the handler reopens both ends and starts a fresh
// protocol session for the next peer.
func (f *fifoHandler) advance(fd int, events uint32) {
	if fd == f.rfd {
		if events&unix.EPOLLERR != 0 {
			f.reopen()
			return
		}
		if !f.readDrain() {
			f.reopen()
			return
		}
	}
	f.writeDrain()
	if f.sess.Bailout() && len(f.sess.Output()) == 0 {
		// A protocol error ends the conversation; the pipe stays usable
		// for the next peer.
		f.reopen()
	}
}

// readDrain reads commands until EAGAIN. Reports false on EOF (peer closed
// its end) or a hard error.
func (f *fifoHandler) readDrain() bool {
	for {
		n, err := unix.Read(f.rfd, f.chunk)
		if n > 0 {
			f.w.m.BytesRead.Add(int64(n))
			f.sess.Ingest(f.chunk[:n])
			continue
		}
		if n == 0 && err == nil {
			return false // EOF: writer went away
		}
		switch err {
		case unix.EAGAIN:
			return true
		case unix.EINTR:
			continue
		default:
			f.w.log.Warnf("fifo", "read %s: %v", f.readPath, err)
			return false
		}
	}
}

// writeDrain flushes replies until drained or EAGAIN; the next writable
// event resumes it. The write end is read-write so EPIPE cannot occur, but
// any other error drops the remaining output.
func (f *fifoHandler) writeDrain() {
	for out := f.sess.Output(); len(out) > 0; out = f.sess.Output() {
		n, err := unix.Write(f.wfd, out)
		if n > 0 {
			f.w.m.BytesWritten.Add(int64(n))
			f.sess.DiscardOutput(n)
		}
		if err == nil {
			continue
		}
		switch err {
		case unix.EAGAIN:
			return
		case unix.EINTR:
			continue
		default:
			f.w.log.Warnf("fifo", "write %s: %v", f.writePath, err)
			f.sess.DiscardOutput(len(f.sess.Output()))
			return
		}
	}
}

// reopen tears the pipe pair down and brings it back up with clean state.
func (f *fifoHandler) reopen() {
	f.close()
	f.sess.Reset()
	if err := f.open(); err != nil {
		f.w.fatal(err)
	}
}

// close deregisters and closes both ends.
func (f *fifoHandler) close() {
	if f.rfd >= 0 {
		f.w.deregister(f.rfd)
		unix.Close(f.rfd)
		f.rfd = -1
	}
	if f.wfd >= 0 {
		f.w.deregister(f.wfd)
		unix.Close(f.wfd)
		f.wfd = -1
	}
}
