// Package api serves the read-only REST surface: live sessions, archive
// search, project catalogs, and the SSE-streamed archive operations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/jacquesio/jacques/internal/archive"
	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/notify"
	"github.com/jacquesio/jacques/internal/paths"
	"github.com/jacquesio/jacques/internal/pipeline"
	"github.com/jacquesio/jacques/internal/registry"
	"github.com/jacquesio/jacques/internal/ws"
)

// Deps are the collaborators the handlers read from. Registry and Archive
// are required; the rest may be nil (status fields render zero, archive
// operations still work).
type Deps struct {
	Registry   *registry.Registry
	Archive    *archive.Store
	Sessions   *paths.IndexStore
	Router     *pipeline.Router
	Hub        *ws.Hub
	Notifier   *notify.Notifier
	SocketPath string
	Version    string
}

// Server owns the REST listener.
type Server struct {
	deps    Deps
	addr    string
	srv     *http.Server
	ln      net.Listener
	started time.Time
	log     *slog.Logger

	// archiveMu serializes initialize/reindex; a second caller gets
	// Conflict instead of interleaved index writes.
	archiveMu sync.Mutex
}

// NewServer builds the API server on host:port.
func NewServer(host string, port int, deps Deps) *Server {
	s := &Server{
		deps:    deps,
		addr:    fmt.Sprintf("%s:%d", host, port),
		started: time.Now(),
		log:     logging.Component("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/api/archive/manifests", s.handleManifestList)
	mux.HandleFunc("/api/archive/manifests/", s.handleManifestDetail)
	mux.HandleFunc("/api/archive/initialize", s.handleInitialize)
	mux.HandleFunc("/api/archive/reindex", s.handleReindex)
	mux.HandleFunc("/api/projects", s.handleProjects)
	mux.HandleFunc("/api/projects/", s.handleProjectRoutes)
	mux.HandleFunc("/api/status", s.handleStatus)
	s.srv = &http.Server{Handler: mux}
	return s
}

// Start binds the port. A port already held by another process maps to
// Conflict so the daemon can exit with the instance-in-use code.
func (s *Server) Start() error {
	const op = "api.Start"
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return errs.Wrap(errs.Conflict, op, err)
		}
		return errs.Wrap(errs.IO, op, err)
	}
	s.ln = ln
	s.log.Info("api listening", "addr", s.addr)
	return nil
}

// Addr reports the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve blocks until Shutdown. Start must have succeeded.
func (s *Server) Serve() error {
	err := s.srv.Serve(s.ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errs.Wrap(errs.IO, "api.Serve", err)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// errorBody is the error shape every endpoint uses.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.Parse:
		return http.StatusBadRequest
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Conflict:
		return http.StatusConflict
	case errs.Cancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func reasonFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad request"
	case http.StatusNotFound:
		return "not found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusMethodNotAllowed:
		return "method not allowed"
	default:
		return "internal error"
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response write failed", "error", err)
	}
}

// fail maps the error kind to an HTTP status and writes the error body.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(errs.KindOf(err))
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.respond(w, status, errorBody{Error: reasonFor(status), Detail: err.Error()})
}

func (s *Server) notFound(w http.ResponseWriter) {
	s.respond(w, http.StatusNotFound, errorBody{Error: "not found"})
}

// requireMethod answers false after writing a 405 when the method differs.
func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	s.respond(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	return false
}
