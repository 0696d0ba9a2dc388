package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/relay"
)

// Router routes signaling messages between gateways and viewers.
//
// Message handling for different sessions runs concurrently. Disconnect is
// exclusive: a message handler observes a departing session either fully
// registered or fully torn down. Deliveries happen after the routing decision
// is made and outside the lock; each peer serializes its own writes.
type Router struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions *relay.Registry
	bindings *relay.BindingTable
}

func NewRouter(logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		log:      logger,
		metrics:  m,
		sessions: relay.NewRegistry(),
		bindings: relay.NewBindingTable(),
	}
}

const unknownMessageLabel = "unknown"

type delivery struct {
	to      relay.Peer
	msgType MessageType
	payload []byte
}

// Connect registers a newly opened session.
func (r *Router) Connect(p relay.Peer) error {
	if err := r.addSession(p); err != nil {
		return err
	}
	r.metrics.SetSessions(r.sessions.Len())
	r.log.Info("signaling session connected", "session_id", p.ID())
	return nil
}

func (r *Router) addSession(p relay.Peer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions.Register(p)
}

// Disconnect tears down everything that references id. It is safe to call
// more than once.
func (r *Router) Disconnect(id string) {
	r.mu.Lock()
	removed := r.sessions.Unregister(id)
	released := r.bindings.ReleaseSession(id)
	r.mu.Unlock()

	r.metrics.SetSessions(r.sessions.Len())
	r.metrics.SetBindings(r.bindings.Len())
	if !removed {
		return
	}
	if len(released) > 0 {
		r.log.Info("gateway disconnected", "session_id", id, "released_streams", released)
		return
	}
	r.log.Info("signaling session disconnected", "session_id", id)
}

// HandleMessage processes one inbound text message from session from. It
// never returns an error: malformed input is logged and dropped, and routing
// failures are answered with an error message to the sender.
func (r *Router) HandleMessage(from relay.Peer, data []byte) {
	defer func() {
		if v := recover(); v != nil {
			r.metrics.IncDropped(metrics.DropReasonHandlerPanic)
			r.log.Error("panic while handling signaling message", "session_id", from.ID(), "panic", fmt.Sprint(v))
		}
	}()

	msg, err := ParseMessage(data)
	if err != nil {
		r.metrics.IncDropped(metrics.DropReasonInvalid)
		r.log.Warn("dropping invalid signaling message", "session_id", from.ID(), "err", err)
		return
	}
	r.metrics.IncMessage(messageLabel(msg))

	for _, d := range r.resolve(from, msg) {
		r.deliver(d)
	}
}

// resolve makes the routing decision under the read lock. The deferred unlock
// keeps a panic in route from leaving the lock held.
func (r *Router) resolve(from relay.Peer, msg Message) []delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.route(from, msg)
}

func (r *Router) route(from relay.Peer, msg Message) []delivery {
	switch m := msg.(type) {
	case RegisterMessage:
		return r.register(from, m)
	case WatchMessage:
		return r.watch(from, m)
	case RelayMessage:
		return r.forward(from, m)
	default:
		r.metrics.IncDropped(metrics.DropReasonUnknownMessageType)
		r.log.Debug("ignoring signaling message", "session_id", from.ID(), "type", string(msg.MessageType()))
		return nil
	}
}

func (r *Router) register(from relay.Peer, m RegisterMessage) []delivery {
	id := from.ID()
	for _, stream := range m.Streams {
		prev := r.bindings.Bind(stream, id)
		if prev != "" && prev != id {
			if _, open := r.sessions.Open(prev); open {
				r.log.Warn("stream rebound to a new gateway", "stream_id", stream, "session_id", id, "previous_session_id", prev)
			}
		}
		r.log.Info("stream registered", "stream_id", stream, "session_id", id)
	}
	r.metrics.SetBindings(r.bindings.Len())

	return []delivery{r.reply(from, TypeRegistered, registeredReply{
		Type:             TypeRegistered,
		GatewaySessionID: id,
		Streams:          m.Streams,
	})}
}

func (r *Router) watch(from relay.Peer, m WatchMessage) []delivery {
	if m.StreamID == "" {
		return []delivery{r.errorReply(from, CodeMissingStreamID, msgMissingStreamID)}
	}

	gatewayID, ok := r.bindings.Gateway(m.StreamID)
	if !ok {
		r.log.Info("watch failed: no gateway", "session_id", from.ID(), "stream_id", m.StreamID)
		return []delivery{r.errorReply(from, CodeNoGateway, msgNoGateway)}
	}
	gateway, open := r.sessions.Open(gatewayID)
	if !open {
		r.bindings.Unbind(m.StreamID, gatewayID)
		r.metrics.SetBindings(r.bindings.Len())
		r.log.Info("watch failed: gateway disconnected", "session_id", from.ID(), "stream_id", m.StreamID, "gateway_session_id", gatewayID)
		return []delivery{r.errorReply(from, CodeGatewayDisconnected, msgGatewayDisconnected)}
	}

	r.bindings.SetRoute(from.ID(), gatewayID)
	r.log.Info("watch forwarded", "session_id", from.ID(), "stream_id", m.StreamID, "gateway_session_id", gatewayID)
	return []delivery{r.reply(gateway, TypeWatch, watchForward{
		Type:             TypeWatch,
		StreamID:         m.StreamID,
		ClientSessionID:  from.ID(),
		GatewaySessionID: gatewayID,
		SessionID:        m.SessionID,
	})}
}

func (r *Router) forward(from relay.Peer, m RelayMessage) []delivery {
	if r.bindings.IsGateway(from.ID()) {
		return r.relayToViewer(from, m)
	}
	return r.relayToGateway(from, m)
}

func (r *Router) relayToViewer(from relay.Peer, m RelayMessage) []delivery {
	if m.ClientSessionID == "" {
		r.metrics.IncDropped(metrics.DropReasonMissingClientID)
		r.log.Warn("gateway message missing clientSessionId", "session_id", from.ID(), "type", string(m.Type))
		return nil
	}
	viewer, open := r.sessions.Open(m.ClientSessionID)
	if !open {
		r.bindings.ClearRoute(m.ClientSessionID)
		r.metrics.IncDropped(metrics.DropReasonViewerGone)
		r.log.Info("target viewer is not connected", "session_id", from.ID(), "client_session_id", m.ClientSessionID)
		return nil
	}
	return []delivery{{to: viewer, msgType: m.Type, payload: m.Raw()}}
}

func (r *Router) relayToGateway(from relay.Peer, m RelayMessage) []delivery {
	gatewayID := m.GatewaySessionID
	if gatewayID == "" {
		gatewayID, _ = r.bindings.Route(from.ID())
	}
	if gatewayID == "" {
		return []delivery{r.errorReply(from, CodeGatewaySessionNotFound, msgGatewaySessionNotFound)}
	}

	gateway, open := r.sessions.Open(gatewayID)
	if !open {
		r.bindings.ClearRoute(from.ID())
		return []delivery{r.errorReply(from, CodeGatewayDisconnected, msgGatewayDisconnected)}
	}

	payload, err := m.stampForGateway(gatewayID, from.ID())
	if err != nil {
		r.metrics.IncDropped(metrics.DropReasonInvalid)
		r.log.Warn("failed to encode forwarded message", "session_id", from.ID(), "err", err)
		return nil
	}
	return []delivery{{to: gateway, msgType: m.Type, payload: payload}}
}

func (r *Router) reply(to relay.Peer, t MessageType, v any) delivery {
	payload, err := json.Marshal(v)
	if err != nil {
		// Reply types only hold strings and raw JSON taken from a parsed message.
		panic(err)
	}
	return delivery{to: to, msgType: t, payload: payload}
}

func (r *Router) errorReply(to relay.Peer, code, message string) delivery {
	r.metrics.IncErrorReply(code)
	return r.reply(to, TypeError, errorReply{Type: TypeError, Code: code, Message: message})
}

func (r *Router) deliver(d delivery) {
	if err := d.to.Send(d.payload); err != nil {
		r.metrics.IncDropped(metrics.DropReasonSendFailed)
		level := slog.LevelWarn
		if errors.Is(err, relay.ErrSessionClosed) {
			level = slog.LevelDebug
		}
		r.log.Log(context.Background(), level, "signaling send failed", "session_id", d.to.ID(), "type", string(d.msgType), "err", err)
		return
	}
	r.metrics.IncForwarded(string(d.msgType))
}

// messageLabel bounds the metric label set: client-chosen unknown types all
// count as "unknown".
func messageLabel(msg Message) string {
	if _, ok := msg.(UnknownMessage); ok {
		return unknownMessageLabel
	}
	return string(msg.MessageType())
}

// StreamBindings returns a snapshot of stream id to gateway session id.
func (r *Router) StreamBindings() map[string]string {
	return r.bindings.Streams()
}

// Sessions returns the number of open sessions.
func (r *Router) Sessions() int {
	return r.sessions.Len()
}
