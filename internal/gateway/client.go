package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/signaling"
)

const writeWait = 5 * time.Second

var ErrRelayClosed = errors.New("relay closed the signaling connection")

type Config struct {
	// SignalURL is the relay's WebSocket endpoint, credentials included.
	SignalURL  string
	Streams    []string
	ICEServers []webrtc.ICEServer

	Logger *slog.Logger
	// API creates peer connections. Nil means NewAPI(Logger).
	API    *webrtc.API
	Dialer *websocket.Dialer
}

// NewAPI builds a pion API whose logs go to logger. configure runs on the
// SettingEngine before the API is created.
func NewAPI(logger *slog.Logger, configure ...func(*webrtc.SettingEngine)) (*webrtc.API, error) {
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(logger)}
	for _, fn := range configure {
		fn(&se)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

// Client is a camera gateway: it registers its streams with the relay and
// answers every watch with a WebRTC offer.
type Client struct {
	cfg    Config
	log    *slog.Logger
	api    *webrtc.API
	dialer *websocket.Dialer

	mu      sync.Mutex
	current *conn
}

func New(cfg Config) (*Client, error) {
	if len(cfg.Streams) == 0 {
		return nil, errors.New("gateway needs at least one stream")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		log:    cfg.Logger,
		api:    cfg.API,
		dialer: cfg.Dialer,
	}
	if c.api == nil {
		api, err := NewAPI(cfg.Logger)
		if err != nil {
			return nil, err
		}
		c.api = api
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	return c, nil
}

// Run holds one relay connection until ctx is done or the connection fails.
// Every peer connection opened on it is closed before Run returns.
func (c *Client) Run(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.cfg.SignalURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	cn := &conn{client: c, ws: ws, peers: make(map[string]*viewerPeer)}
	c.setCurrent(cn)
	defer func() {
		c.setCurrent(nil)
		cn.close()
	}()

	stop := context.AfterFunc(ctx, func() {
		cn.closeWith(websocket.CloseNormalClosure, "gateway shutting down")
	})
	defer stop()

	c.log.Info("connected to relay", "streams", c.cfg.Streams)
	if err := cn.send(registerMessage{Type: signaling.TypeRegister, Role: signaling.RoleGateway, Streams: c.cfg.Streams}); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	err = cn.readLoop()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Maintain runs the client until ctx is done, reconnecting after delay
// whenever the relay connection ends. Reconnecting re-registers every stream,
// which is how a gateway takes its streams back after a relay restart.
func (c *Client) Maintain(ctx context.Context, delay time.Duration) error {
	for {
		err := c.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("relay connection ended; reconnecting", "err", err, "delay", delay.String())

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// GatewaySessionID is the id the relay assigned on the current connection,
// or "" before registration.
func (c *Client) GatewaySessionID() string {
	cn := c.getCurrent()
	if cn == nil {
		return ""
	}
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.gatewayID
}

// Peers returns the number of viewer peer connections on the current
// connection.
func (c *Client) Peers() int {
	cn := c.getCurrent()
	if cn == nil {
		return 0
	}
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return len(cn.peers)
}

func (c *Client) setCurrent(cn *conn) {
	c.mu.Lock()
	c.current = cn
	c.mu.Unlock()
}

func (c *Client) getCurrent() *conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// conn is the state of one relay connection.
type conn struct {
	client *Client
	ws     *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	gatewayID string
	peers     map[string]*viewerPeer
	closed    bool
}

func (cn *conn) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return cn.ws.WriteMessage(websocket.TextMessage, payload)
}

func (cn *conn) readLoop() error {
	log := cn.client.log
	for {
		msgType, data, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrRelayClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			log.Warn("ignoring malformed relay message", "err", err)
			continue
		}
		cn.handle(in)
	}
}

func (cn *conn) handle(in inbound) {
	log := cn.client.log
	switch in.Type {
	case signaling.TypeRegistered:
		cn.mu.Lock()
		cn.gatewayID = in.GatewaySessionID
		cn.mu.Unlock()
		log.Info("registered with relay", "gateway_session_id", in.GatewaySessionID, "streams", cn.client.cfg.Streams)
	case signaling.TypeWatch:
		cn.startPeer(in.ClientSessionID, in.StreamID)
	case signaling.TypeAnswer:
		p := cn.peer(in.ClientSessionID)
		if p == nil {
			log.Debug("answer for unknown viewer", "client_session_id", in.ClientSessionID)
			return
		}
		if err := p.applyAnswer(in.SDP); err != nil {
			log.Warn("failed to apply answer", "client_session_id", in.ClientSessionID, "err", err)
			cn.dropPeer(in.ClientSessionID, p)
		}
	case signaling.TypeICE:
		p := cn.peer(in.ClientSessionID)
		if p == nil {
			log.Debug("ice for unknown viewer", "client_session_id", in.ClientSessionID)
			return
		}
		c, ok, err := parseCandidate(in.Candidate)
		if err != nil {
			log.Warn("ignoring malformed ice candidate", "client_session_id", in.ClientSessionID, "err", err)
			return
		}
		if !ok {
			return
		}
		if err := p.addRemoteCandidate(c.ToPion()); err != nil {
			log.Warn("failed to add ice candidate", "client_session_id", in.ClientSessionID, "err", err)
		}
	case signaling.TypeError:
		log.Warn("relay reported an error", "code", in.Code, "message", in.Message)
	default:
		log.Debug("unhandled relay message", "type", string(in.Type))
	}
}

func (cn *conn) startPeer(clientID, streamID string) {
	log := cn.client.log.With("client_session_id", clientID, "stream_id", streamID)
	if clientID == "" {
		log.Warn("watch without clientSessionId")
		return
	}

	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	gatewayID := cn.gatewayID
	previous := cn.peers[clientID]
	cn.mu.Unlock()
	if previous != nil {
		cn.dropPeer(clientID, previous)
	}

	p, err := newViewerPeer(cn.client.api, cn.client.cfg.ICEServers, clientID, streamID, gatewayID, cn.send)
	if err != nil {
		log.Error("failed to create peer connection", "err", err)
		return
	}
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("viewer peer state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			cn.dropPeer(clientID, p)
		}
	})

	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		p.close()
		return
	}
	cn.peers[clientID] = p
	cn.mu.Unlock()

	if err := p.offer(); err != nil {
		log.Warn("failed to offer", "err", err)
		cn.dropPeer(clientID, p)
		return
	}
	log.Info("offer sent to viewer")
}

func (cn *conn) peer(clientID string) *viewerPeer {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.peers[clientID]
}

// dropPeer closes p and forgets it if it is still the peer for clientID.
func (cn *conn) dropPeer(clientID string, p *viewerPeer) {
	cn.mu.Lock()
	if cn.peers[clientID] == p {
		delete(cn.peers, clientID)
	}
	cn.mu.Unlock()
	p.close()
}

func (cn *conn) closeWith(code int, reason string) {
	cn.writeMu.Lock()
	_ = cn.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	cn.writeMu.Unlock()
	_ = cn.ws.Close()
}

func (cn *conn) close() {
	cn.mu.Lock()
	cn.closed = true
	peers := cn.peers
	cn.peers = make(map[string]*viewerPeer)
	cn.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	_ = cn.ws.Close()
}
