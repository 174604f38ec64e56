// Package ws fans registry signals, notifications, and artifact events out to
// WebSocket subscribers, and accepts their requests back. One hub serves all
// subscribers; each subscriber owns a buffered send queue and is disconnected
// if it falls too far behind.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/notify"
	"github.com/jacquesio/jacques/internal/registry"
)

const defaultQueueSize = 1024

// Write-side timing. Pings keep half-open connections from lingering.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 64 * 1024
)

// Registry is the session state the hub reads and the requests mutate.
type Registry interface {
	List() []*registry.Session
	Get(id string) (*registry.Session, bool)
	Focused() string
	SelectSession(id string) error
	ToggleAutoCompact() (bool, error)
}

// Activator focuses the terminal a session runs in.
type Activator interface {
	FocusSession(s *registry.Session) error
}

// Counters reports fan-out health for the status endpoint.
type Counters struct {
	Subscribers    int `json:"subscribers"`
	TotalConnected int `json:"totalConnected"`
	Broadcasts     int `json:"broadcasts"`
	DroppedSlow    int `json:"droppedSlow"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte

	// pending holds broadcasts that arrive between registration and the
	// initial_state snapshot, so a late joiner never misses a removal.
	pending [][]byte
	live    bool
	closed  bool
}

// Hub implements registry.Sink and carries every outbound message type. Safe
// for concurrent use; broadcast order follows registry mutation order because
// the registry emits signals under its own lock.
type Hub struct {
	reg       Registry
	notifier  *notify.Notifier
	activator Activator
	queueSize int

	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	counters Counters
	log      *slog.Logger
}

// NewHub builds a hub over the registry. notifier supplies the history for
// initial_state and may be nil; activator handles focus_terminal and may be
// nil (requests then fail with an error ack). queueSize <= 0 means the
// default.
func NewHub(reg Registry, notifier *notify.Notifier, activator Activator, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		reg:       reg,
		notifier:  notifier,
		activator: activator,
		queueSize: queueSize,
		subs:      make(map[*subscriber]struct{}),
		log:       logging.Component("ws"),
	}
}

// SessionUpdated implements registry.Sink.
func (h *Hub) SessionUpdated(s *registry.Session) {
	h.broadcast(MsgSessionUpdate, s)
}

// SessionRemoved implements registry.Sink.
func (h *Hub) SessionRemoved(id string) {
	h.broadcast(MsgSessionRemoved, SessionRemovedPayload{SessionID: id})
}

// FocusChanged implements registry.Sink.
func (h *Hub) FocusChanged(id string) {
	h.broadcast(MsgFocusChanged, FocusChangedPayload{SessionID: id})
}

// NotificationFired broadcasts a fired notification. Wire it as the
// notifier's sink.
func (h *Hub) NotificationFired(n notify.Notification) {
	h.broadcast(MsgNotificationFired, n)
}

// HandoffReady broadcasts a settled handoff artifact.
func (h *Hub) HandoffReady(sessionID, path string) {
	h.broadcast(MsgHandoffReady, ArtifactPayload{SessionID: sessionID, Path: path})
}

// PlanDetected broadcasts a settled plan artifact.
func (h *Hub) PlanDetected(sessionID, path string) {
	h.broadcast(MsgPlanDetected, ArtifactPayload{SessionID: sessionID, Path: path})
}

// Counters snapshots fan-out counters.
func (h *Hub) Counters() Counters {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.counters
	c.Subscribers = len(h.subs)
	return c
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.remove(sub)
	}
}

// add registers a freshly upgraded connection, sends it initial_state, and
// flushes anything broadcast while the snapshot was being taken. The pending
// buffer preserves broadcast order, so per-session causality survives the
// join race: the snapshot reflects at least the state of every buffered
// message that precedes it in real time, and replaying them after is at
// worst a duplicate.
func (h *Hub) add(conn *websocket.Conn) *subscriber {
	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, h.queueSize),
	}
	go sub.writePump()

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.counters.TotalConnected++
	h.mu.Unlock()

	state := InitialStatePayload{
		Sessions:         h.reg.List(),
		FocusedSessionID: h.reg.Focused(),
		Notifications:    []notify.Notification{},
	}
	if h.notifier != nil {
		state.Notifications = h.notifier.History()
	}
	initial, err := json.Marshal(Message{Type: MsgInitialState, Data: state})
	if err != nil {
		h.log.Error("initial_state marshal failed", "error", err)
		h.remove(sub)
		return nil
	}

	h.mu.Lock()
	queued := append([][]byte{initial}, sub.pending...)
	sub.pending = nil
	sub.live = true
	overflow := false
	for _, msg := range queued {
		select {
		case sub.send <- msg:
		default:
			overflow = true
		}
	}
	h.mu.Unlock()

	if overflow {
		h.disconnectSlow(sub)
		return nil
	}
	return sub
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	if ok {
		delete(h.subs, sub)
	}
	alreadyClosed := sub.closed
	sub.closed = true
	h.mu.Unlock()

	if !alreadyClosed {
		close(sub.send)
	}
}

func (h *Hub) disconnectSlow(sub *subscriber) {
	h.mu.Lock()
	h.counters.DroppedSlow++
	h.mu.Unlock()
	h.log.Warn("subscriber too slow, disconnecting")
	h.remove(sub)
}

func (h *Hub) broadcast(msgType MessageType, data any) {
	raw, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.log.Error("broadcast marshal failed", "type", string(msgType), "error", err)
		return
	}

	h.mu.Lock()
	h.counters.Broadcasts++
	var slow []*subscriber
	for sub := range h.subs {
		if !sub.live {
			sub.pending = append(sub.pending, raw)
			continue
		}
		select {
		case sub.send <- raw:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range slow {
		h.disconnectSlow(sub)
	}
}

// sendTo queues a message for one subscriber only. Used for acks and errors.
func (h *Hub) sendTo(sub *subscriber, msgType MessageType, data any) {
	raw, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.log.Error("reply marshal failed", "type", string(msgType), "error", err)
		return
	}

	h.mu.Lock()
	if sub.closed {
		h.mu.Unlock()
		return
	}
	var overflow bool
	select {
	case sub.send <- raw:
	default:
		overflow = true
	}
	h.mu.Unlock()

	if overflow {
		h.disconnectSlow(sub)
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
