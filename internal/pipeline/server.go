package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/logging"
)

// Line scanner sizing. Hook events are small, but a pathological title or
// plan body should not kill the connection.
const (
	scanInitial = 64 * 1024
	scanMax     = 1024 * 1024
)

const probeTimeout = 250 * time.Millisecond

// StaleSocketError reports a dead socket file that could not be removed.
// Distinguished from Conflict so the daemon can exit with its own code.
type StaleSocketError struct {
	Path string
	Err  error
}

func (e *StaleSocketError) Error() string {
	return fmt.Sprintf("stale socket %s could not be removed: %v", e.Path, e.Err)
}

func (e *StaleSocketError) Unwrap() error { return e.Err }

// Server accepts hook connections on the unix socket and feeds each line to
// the router.
type Server struct {
	path   string
	router *Router
	ln     net.Listener
	log    *slog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen binds the unix socket. A socket file with a live listener behind it
// means another daemon instance is running (Conflict). A dead file is
// removed; failure to remove it returns a StaleSocketError.
func Listen(path string, router *Router) (*Server, error) {
	const op = "pipeline.Listen"
	log := logging.Component("pipeline")

	if _, err := os.Stat(path); err == nil {
		conn, dialErr := net.DialTimeout("unix", path, probeTimeout)
		if dialErr == nil {
			conn.Close()
			return nil, errs.Newf(errs.Conflict, op, "socket %s has a live listener", path)
		}
		if rmErr := os.Remove(path); rmErr != nil {
			return nil, &StaleSocketError{Path: path, Err: rmErr}
		}
		log.Info("removed stale socket", "path", path)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, op, err)
	}
	return &Server{
		path:   path,
		router: router,
		ln:     ln,
		log:    log,
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the bound socket path.
func (s *Server) Path() string { return s.path }

// Serve accepts connections until Close. Each connection gets its own reader
// goroutine; lines are routed in arrival order per connection.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errs.Wrap(errs.IO, "pipeline.Serve", err)
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.router.count(func(c *Counters) { c.Connections++ })
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, scanInitial), scanMax)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		s.router.Route(line)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("hook connection closed", "error", err)
	}
}

// Close stops accepting, closes live connections, waits for readers to
// drain, and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	err := s.ln.Close()
	for _, c := range open {
		c.Close()
	}
	s.wg.Wait()
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	if err != nil {
		return errs.Wrap(errs.IO, "pipeline.Close", err)
	}
	return nil
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}
