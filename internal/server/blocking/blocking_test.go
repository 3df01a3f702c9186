package blocking

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lrucached/internal/logger"
	"lrucached/internal/metrics"
	"lrucached/internal/storage"
)

func start(t *testing.T, store storage.Backend) (*Server, string) {
	t.Helper()
	srv := New(0, 64, store, metrics.New(), logger.New("TEST", "error"))
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		srv.Stop()
		srv.Join() //nolint:errcheck
	})
	return srv, srv.Addr().String()
}

// roundTrip sends input and reads exactly len(want) reply bytes.
func roundTrip(t *testing.T, addr, input, want string) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte(input))
	require.NoError(t, err)

	got := make([]byte, len(want))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, want, string(got))
}

// ── End-to-end protocol scenarios ───────────────────────────────────────────

func TestBasicSetGet(t *testing.T) {
	t.Parallel()
	_, addr := start(t, storage.NewGlobalLock(64))
	roundTrip(t, addr,
		"set var 0 0 6\r\nfoobar\r\nget var\r\n",
		"STORED\r\nVALUE var 0 6\r\nfoobar\r\nEND\r\n")
}

func TestOverwrite(t *testing.T) {
	t.Parallel()
	_, addr := start(t, storage.NewGlobalLock(64))
	roundTrip(t, addr,
		"set k 0 0 1\r\na\r\nset k 0 0 1\r\nb\r\nget k\r\n",
		"STORED\r\nSTORED\r\nVALUE k 0 1\r\nb\r\nEND\r\n")
}

func TestAddIfAbsent(t *testing.T) {
	t.Parallel()
	_, addr := start(t, storage.NewGlobalLock(64))
	roundTrip(t, addr,
		"add k 0 0 1\r\na\r\nadd k 0 0 1\r\nb\r\nget k\r\n",
		"STORED\r\nNOT_STORED\r\nVALUE k 0 1\r\na\r\nEND\r\n")
}

func TestDeleteMissing(t *testing.T) {
	t.Parallel()
	_, addr := start(t, storage.NewGlobalLock(64))
	roundTrip(t, addr, "delete nope\r\n", "NOT_FOUND\r\n")
}

func TestLRUEvictionAtCapacityTwo(t *testing.T) {
	t.Parallel()
	_, addr := start(t, storage.NewGlobalLock(2))
	roundTrip(t, addr,
		"set a 0 0 1\r\n1\r\nset b 0 0 1\r\n2\r\nset c 0 0 1\r\n3\r\n",
		"STORED\r\nSTORED\r\nSTORED\r\n")
	roundTrip(t, addr, "get a\r\n", "END\r\n")
	roundTrip(t, addr, "get b c\r\n",
		"VALUE b 0 1\r\n2\r\nVALUE c 0 1\r\n3\r\nEND\r\n")
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	t.Parallel()
	_, addr := start(t, storage.NewGlobalLock(64))
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte("frobnicate\r\n"))
	require.NoError(t, err)

	reply, err := io.ReadAll(conn) // server replies then closes
	require.NoError(t, err)
	require.Equal(t, "ERROR\r\n", string(reply))
}

// Parallel SET of the same key: every client gets exactly STORED, and the
// final value is intact.
func TestParallelSetSameKey(t *testing.T) {
	t.Parallel()
	store := storage.NewStriped(64, 8)
	_, addr := start(t, store)

	clients := 1000
	if testing.Short() {
		clients = 100
	}

	barrier := make(chan struct{})
	var wg sync.WaitGroup
	errCh := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-barrier
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errCh <- err
				return
			}
			defer conn.Close()
			if err := conn.SetDeadline(time.Now().Add(60 * time.Second)); err != nil {
				errCh <- err
				return
			}
			if _, err := conn.Write([]byte("set var 0 0 6\r\nfoobar\r\n")); err != nil {
				errCh <- err
				return
			}
			reply := make([]byte, len("STORED\r\n"))
			if _, err := io.ReadFull(conn, reply); err != nil {
				errCh <- err
				return
			}
			if string(reply) != "STORED\r\n" {
				errCh <- io.ErrUnexpectedEOF
			}
		}()
	}
	close(barrier)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("client failure: %v", err)
	}

	v, ok := store.Get("var")
	require.True(t, ok)
	require.Equal(t, "foobar", string(v))
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func TestStopJoin(t *testing.T) {
	t.Parallel()
	srv := New(0, 4, storage.NewGlobalLock(8), metrics.New(), logger.New("TEST", "error"))
	require.NoError(t, srv.Start())
	addr := srv.Addr().String()

	roundTrip(t, addr, "set k 0 0 1\r\nx\r\n", "STORED\r\n")

	srv.Stop()
	require.NoError(t, srv.Join())

	_, err := net.DialTimeout("tcp", addr, time.Second)
	require.Error(t, err, "listener should be closed after Stop")
}
