package server

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/stepd/pkg/log"
	"github.com/cuemby/stepd/pkg/metrics"
	"golang.org/x/sys/unix"
)

// ErrStepExists is returned by Listen when a socket already occupies
// the path and could not be unlinked (spec.md §4.4 step 1).
var ErrStepExists = errors.New("server: step socket already exists")

// DrainTimeout bounds how long shutdown waits for in-flight workers to
// finish before exiting unconditionally (spec.md §5 "shutdown drain").
const DrainTimeout = 5 * time.Second

// counter is the process-wide connection accounting primitive (spec.md
// §3 "Connection Accounting"): a mutex+condvar guarded count,
// incremented on accept and decremented on worker exit.
type counter struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

func newCounter() *counter {
	c := &counter{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *counter) inc() {
	c.mu.Lock()
	c.count++
	metrics.Connections.Set(float64(c.count))
	c.mu.Unlock()
}

func (c *counter) dec() {
	c.mu.Lock()
	c.count--
	metrics.Connections.Set(float64(c.count))
	c.cond.Broadcast()
	c.mu.Unlock()
}

// drain blocks until the count reaches zero or timeout elapses.
func (c *counter) drain(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	deadline := time.Now().Add(timeout)
	for c.count > 0 && time.Now().Before(deadline) {
		c.cond.Wait()
	}
}

// Listener owns the bound socket and runs the accept loop described in
// spec.md §4.4.
type Listener struct {
	path string
	ln   *net.UnixListener
	core *Core
	conn *counter
}

// Listen binds path, unlinking any pre-existing socket (the crash
// recovery case §4.4 names), and chmods it 0777 — access control is
// by peer credentials, not filesystem permissions.
func Listen(path string, core *Core) (*Listener, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, ErrStepExists
		}
	}

	addr := &net.UnixAddr{Name: path, Net: "unix"}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o777); err != nil {
		ln.Close()
		return nil, err
	}

	return &Listener{path: path, ln: ln, core: core, conn: newCounter()}, nil
}

// Serve runs the single-threaded accept loop until Close is called.
// Each accepted connection is dispatched to a detached goroutine
// running the §4.5 request loop (Go's runtime netpoller supplies the
// non-blocking listen fd and blocking per-connection I/O the spec
// describes at the syscall level).
func (l *Listener) Serve() error {
	logger := log.WithComponent("server")
	for {
		conn, err := l.ln.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var opErr *net.OpError
			if errors.As(err, &opErr) {
				if isRetryable(opErr.Err) {
					continue
				}
				if isResourceExhausted(opErr.Err) {
					logger.Warn().Err(err).Msg("accept: resource exhaustion, continuing")
					continue
				}
			}
			logger.Error().Err(err).Msg("accept loop exiting")
			return err
		}

		l.conn.inc()
		go func() {
			defer l.conn.dec()
			serveConn(l.core, conn, logger)
		}()
	}
}

// Path returns the Unix-domain socket path this listener is bound to.
func (l *Listener) Path() string { return l.path }

// Close unlinks the socket (stopping new connections) and waits up to
// DrainTimeout for in-flight workers to finish (spec.md §4.4 step 6).
func (l *Listener) Close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	l.conn.drain(DrainTimeout)
	return err
}

func isRetryable(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.ECONNABORTED)
}

func isResourceExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.ENOMEM)
}
