package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/relay"
)

const wsWriteWait = 5 * time.Second

type WebSocketConfig struct {
	Origins origin.Policy

	AuthMode config.AuthMode
	// Verifier is nil when authentication is disabled.
	Verifier auth.Verifier

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// WebSocketServer accepts signaling connections and feeds their events to a
// Router. Each connection is one session; its id is assigned here.
//
// Oversized, non-text and over-rate messages are dropped without closing the
// connection.
type WebSocketServer struct {
	router   *Router
	cfg      WebSocketConfig
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	peers  map[*wsPeer]struct{}
	closed bool
}

func NewWebSocketServer(router *Router, cfg WebSocketConfig) *WebSocketServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &WebSocketServer{
		router: router,
		cfg:    cfg,
		log:    cfg.Logger,
		peers:  make(map[*wsPeer]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			_, ok := cfg.Origins.Check(r.Header.Get("Origin"), r.Host)
			return ok
		},
	}
	return s
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if err := s.authenticate(r); err != nil {
		s.log.Info("signaling connection rejected", "remote_addr", r.RemoteAddr, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	p := &wsPeer{id: relay.NewSessionID(), conn: conn}
	if !s.track(p) {
		writeClose(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(p)

	if err := s.router.Connect(p); err != nil {
		s.log.Error("failed to register signaling session", "session_id", p.id, "err", err)
		writeClose(conn, websocket.CloseInternalServerErr, "session registration failed")
		return
	}
	defer func() {
		p.closed.Store(true)
		s.router.Disconnect(p.id)
	}()

	s.readLoop(p)
}

func (s *WebSocketServer) authenticate(r *http.Request) error {
	if s.cfg.Verifier == nil {
		return nil
	}
	cred, err := auth.CredentialFromRequest(s.cfg.AuthMode, r)
	if err != nil {
		return err
	}
	return s.cfg.Verifier.Verify(cred)
}

func (s *WebSocketServer) readLoop(p *wsPeer) {
	limit := rate.Inf
	burst := 0
	if n := s.cfg.MaxMessagesPerSecond; n > 0 {
		limit, burst = rate.Limit(n), n
	}
	limiter := rate.NewLimiter(limit, burst)

	for {
		msgType, r, err := p.conn.NextReader()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !isTimeout(err) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("signaling read ended", "session_id", p.id, "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			s.cfg.Metrics.IncDropped(metrics.DropReasonNonText)
			s.log.Warn("dropping non-text signaling frame", "session_id", p.id)
			continue
		}

		data, err := readLimited(r, s.cfg.MaxMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				s.cfg.Metrics.IncDropped(metrics.DropReasonTooLarge)
				s.log.Warn("dropping oversized signaling message", "session_id", p.id, "max_bytes", s.cfg.MaxMessageBytes)
				continue
			}
			s.log.Debug("signaling read failed", "session_id", p.id, "err", err)
			return
		}
		if !limiter.Allow() {
			s.cfg.Metrics.IncDropped(metrics.DropReasonRateLimited)
			s.log.Warn("dropping signaling message over rate limit", "session_id", p.id)
			continue
		}

		s.router.HandleMessage(p, data)
	}
}

func (s *WebSocketServer) track(p *wsPeer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.peers[p] = struct{}{}
	return true
}

func (s *WebSocketServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *WebSocketServer) untrack(p *wsPeer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
}

// Close sends a going-away close frame to every connection and stops
// accepting new ones. Read loops exit and disconnect their sessions.
func (s *WebSocketServer) Close() {
	s.mu.Lock()
	s.closed = true
	peers := make([]*wsPeer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// wsPeer is the relay.Peer for one WebSocket connection. Reads happen only in
// the connection's read loop; writes from any goroutine are serialized.
type wsPeer struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  atomic.Bool
}

func (p *wsPeer) ID() string { return p.id }

func (p *wsPeer) Closed() bool { return p.closed.Load() }

func (p *wsPeer) Send(payload []byte) error {
	if p.closed.Load() {
		return relay.ErrSessionClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		p.closed.Store(true)
		return err
	}
	return nil
}

func (p *wsPeer) close(code int, reason string) {
	if p.closed.Swap(true) {
		return
	}
	p.writeMu.Lock()
	writeClose(p.conn, code, reason)
	p.writeMu.Unlock()
	_ = p.conn.Close()
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
