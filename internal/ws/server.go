package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/logging"
)

// Server owns the WebSocket listener. The socket carries localhost trust
// only; there is no authentication.
type Server struct {
	hub      *Hub
	addr     string
	srv      *http.Server
	ln       net.Listener
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer builds the /ws endpoint server on host:port.
func NewServer(host string, port int, hub *Hub) *Server {
	s := &Server{
		hub:  hub,
		addr: fmt.Sprintf("%s:%d", host, port),
		log:  logging.Component("ws"),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{Handler: mux}
	return s
}

// Start binds the port. A port already held by another process maps to
// Conflict so the daemon can exit with the instance-in-use code.
func (s *Server) Start() error {
	const op = "ws.Start"
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return errs.Wrap(errs.Conflict, op, err)
		}
		return errs.Wrap(errs.IO, op, err)
	}
	s.ln = ln
	s.log.Info("websocket listening", "addr", s.addr)
	return nil
}

// Addr reports the bound address once Start has succeeded. Useful when the
// configured port is 0.
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
	return errs.Wrap(errs.IO, "ws.Serve", err)
}

// Shutdown drains the HTTP server and disconnects all subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sub := s.hub.add(conn)
	if sub == nil {
		return
	}
	s.log.Debug("subscriber connected", "remote", r.RemoteAddr)
	s.hub.readPump(sub)
	s.log.Debug("subscriber disconnected", "remote", r.RemoteAddr)
}

// readPump consumes requests until the connection drops. Runs on the HTTP
// handler goroutine.
func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)

	sub.conn.SetReadLimit(readLimit)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleRequest(sub, raw)
	}
}

// handleRequest answers one inbound request. Acks and errors go to the
// issuing subscriber only; state changes reach everyone through the usual
// registry signals.
func (h *Hub) handleRequest(sub *subscriber, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		h.sendTo(sub, MsgError, ErrorPayload{Error: "malformed request"})
		return
	}
	var data RequestData
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			h.sendTo(sub, MsgError, ErrorPayload{Action: req.Type, Error: "malformed request data"})
			return
		}
	}

	fail := func(err error) {
		h.sendTo(sub, MsgError, ErrorPayload{
			RequestID: data.RequestID,
			Action:    req.Type,
			Error:     err.Error(),
		})
	}
	ack := func(result any) {
		h.sendTo(sub, MsgAck, AckPayload{
			RequestID: data.RequestID,
			Action:    req.Type,
			Result:    result,
		})
	}

	switch req.Type {
	case ReqSelectSession:
		if err := h.reg.SelectSession(data.SessionID); err != nil {
			fail(err)
			return
		}
		ack(nil)

	case ReqToggleAutocompact:
		enabled, err := h.reg.ToggleAutoCompact()
		if err != nil {
			fail(err)
			return
		}
		ack(AutocompactResult{Enabled: enabled})

	case ReqFocusTerminal:
		s, ok := h.reg.Get(data.SessionID)
		if !ok {
			fail(errs.Newf(errs.NotFound, "ws.focusTerminal", "no session %q", data.SessionID))
			return
		}
		if h.activator == nil {
			fail(errs.New(errs.Invariant, "ws.focusTerminal", "terminal activation unavailable"))
			return
		}
		if err := h.activator.FocusSession(s); err != nil {
			fail(err)
			return
		}
		ack(nil)

	default:
		h.sendTo(sub, MsgError, ErrorPayload{
			RequestID: data.RequestID,
			Action:    req.Type,
			Error:     fmt.Sprintf("unknown request type %q", req.Type),
		})
	}
}

// checkOrigin admits same-host and loopback origins. The daemon binds
// loopback, so remote origins only appear when a local page is serving
// hostile script; those are refused.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	switch {
	case host == "localhost" || strings.HasPrefix(host, "localhost:"):
		return true
	case host == "127.0.0.1" || strings.HasPrefix(host, "127.0.0.1:"):
		return true
	case host == "::1" || strings.HasPrefix(host, "[::1]:"):
		return true
	}
	return false
}
