package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"overlaycore/src/authz"
	"overlaycore/src/logging"
	"overlaycore/src/model"
)

// Opcode envelope for every websocket frame: op tags the message kind, seq
// is a monotonic per-connection counter on outbound events, t names the
// event when op is opEvent.
const (
	opEvent = 0
	opHello = 1
	opJoin  = 2
	opHeartbeat = 3

	heartbeatJitter     = time.Second
	maxHeartbeatMisses  = 3
	heartbeatIntervalMs = 30000
	heartbeatTimeoutMs  = heartbeatIntervalMs * 2
)

type wsMessage struct {
	Op  int    `json:"op"`
	Seq int64  `json:"seq,omitempty"`
	T   string `json:"t,omitempty"`
	D   any    `json:"d,omitempty"`
}

type helloPayload struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// joinPayload is the inbound `join` event body.
type joinPayload struct {
	Room     string `json:"room"`
	Project  string `json:"project"`
	UserID   string `json:"user_id"`
	RoomType string `json:"room_type"`
}

type joinedPayload struct {
	Rooms []string `json:"rooms"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type connState struct {
	session       SessionID
	bearerToken   string
	ctx           context.Context
	lastHeartbeat time.Time
	misses        int
	mu            sync.Mutex
	writeMu       sync.Mutex
	seq           int64
}

// connSender adapts a gorilla/websocket connection to the Sender interface
// the Registry uses for room delivery.
type connSender struct {
	conn  *websocket.Conn
	state *connState
}

func (c *connSender) Send(event string, payload any) error {
	seq := atomic.AddInt64(&c.state.seq, 1)
	c.state.writeMu.Lock()
	defer c.state.writeMu.Unlock()
	return c.conn.WriteJSON(wsMessage{Op: opEvent, Seq: seq, T: event, D: payload})
}

// Server is the gorilla/websocket transport for the Room Registry. It
// resolves joins through an authz.Gate, tracks per-connection heartbeats,
// and optionally replicates emitted events across server instances.
type Server struct {
	registry   *Registry
	gate       *authz.Gate
	replicator Replicator
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]*connState
}

// NewServer returns a Server backed by registry, resolving joins through
// gate. Pass a nil Replicator for single-instance deployments.
func NewServer(registry *Registry, gate *authz.Gate, replicator Replicator) *Server {
	return &Server{
		registry: registry,
		gate:     gate,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		replicator: replicator,
		conns:      make(map[*websocket.Conn]*connState),
	}
}

// Emit implements timer.Emitter and control.Emitter: delivers to the local
// registry and, if configured, publishes for other replicas to mirror.
func (s *Server) Emit(event string, payload any, room model.Room) {
	name := room.Name()
	if errs := s.registry.Emit(name, event, payload); len(errs) > 0 {
		logging.Log.WithFields(logrus.Fields{"room": name, "event": event, "errors": len(errs)}).
			Warn("partial fan-out failure")
	}
	if s.replicator != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			logging.Log.WithError(err).Warn("replicator: could not marshal payload")
			return
		}
		go func() {
			if err := s.replicator.Publish(ReplicatedEvent{Room: name, Event: event, Payload: raw}); err != nil {
				logging.Log.WithError(err).Warn("replicator: publish failed")
			}
		}()
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.WithError(err).Warn("ws upgrade failed")
		return
	}
	conn.SetReadLimit(1 << 20)

	session := SessionID(uuid.NewString())
	state := &connState{session: session, lastHeartbeat: time.Now(), ctx: r.Context()}
	state.bearerToken = authz.ExtractBearerToken(r.Header.Get("Authorization"))

	s.mu.Lock()
	s.conns[conn] = state
	s.mu.Unlock()
	s.registry.Register(session, &connSender{conn: conn, state: state})

	s.sendHello(conn, state)
	go s.watchHeartbeats(conn)
	s.handleConn(conn, state)
}

func (s *Server) sendHello(conn *websocket.Conn, state *connState) {
	state.writeMu.Lock()
	defer state.writeMu.Unlock()
	_ = conn.WriteJSON(wsMessage{Op: opHello, D: helloPayload{HeartbeatInterval: heartbeatIntervalMs}})
}

func (s *Server) handleConn(conn *websocket.Conn, state *connState) {
	defer s.cleanup(conn, state)
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Op {
		case opJoin:
			s.handleJoin(conn, state, msg.D)
		case opHeartbeat:
			s.touchHeartbeat(state)
		default:
			s.closeWithCode(conn, state, 4004, "unknown_opcode")
			return
		}
	}
}

func (s *Server) handleJoin(conn *websocket.Conn, state *connState, raw any) {
	var payload joinPayload
	if data, err := json.Marshal(raw); err == nil {
		_ = json.Unmarshal(data, &payload)
	}

	req := authz.JoinRequest{
		Room:        payload.Room,
		Project:     payload.Project,
		UserID:      payload.UserID,
		RoomType:    payload.RoomType,
		BearerToken: state.bearerToken,
	}
	result, err := s.gate.ResolveJoin(state.ctx, req)
	if err != nil {
		s.registry.EmitTo(state.session, "error", errorPayload{Message: err.Error()})
		return
	}
	for _, room := range result.RoomNames {
		s.registry.Join(state.session, room)
	}
	s.registry.EmitTo(state.session, "joined", joinedPayload{Rooms: result.RoomNames})
}

func (s *Server) touchHeartbeat(state *connState) {
	state.mu.Lock()
	state.lastHeartbeat = time.Now()
	state.mu.Unlock()
}

func (s *Server) watchHeartbeats(conn *websocket.Conn) {
	ticker := time.NewTicker(time.Duration(heartbeatIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		state, ok := s.conns[conn]
		s.mu.Unlock()
		if !ok {
			return
		}

		state.mu.Lock()
		since := time.Since(state.lastHeartbeat)
		expected := time.Duration(heartbeatIntervalMs)*time.Millisecond + heartbeatJitter
		if since > expected {
			state.misses++
		} else {
			state.misses = 0
		}
		misses := state.misses
		state.mu.Unlock()

		if misses >= maxHeartbeatMisses || since > time.Duration(heartbeatTimeoutMs)*time.Millisecond {
			logging.Log.WithField("session", state.session).Warn("ws heartbeat timeout")
			s.cleanup(conn, state)
			return
		}
	}
}

func (s *Server) cleanup(conn *websocket.Conn, state *connState) {
	s.mu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.registry.Disconnect(state.session)
	state.writeMu.Lock()
	_ = conn.Close()
	state.writeMu.Unlock()
}

func (s *Server) closeWithCode(conn *websocket.Conn, state *connState, code int, reason string) {
	state.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	state.writeMu.Unlock()
	s.cleanup(conn, state)
}
