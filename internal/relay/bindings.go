package relay

import (
	"sort"
	"sync"
)

// BindingTable maps stream ids to the gateway session serving them, and
// viewer session ids to the gateway session they last watched through.
//
// Every method is atomic with respect to every other method. Compound
// decisions spanning several calls must be fenced by the caller.
type BindingTable struct {
	mu      sync.Mutex
	streams map[string]string
	routes  map[string]string
}

func NewBindingTable() *BindingTable {
	return &BindingTable{
		streams: make(map[string]string),
		routes:  make(map[string]string),
	}
}

// Bind points streamID at gatewayID, replacing any previous gateway. It
// returns the gateway that was displaced, or "" if there was none.
func (t *BindingTable) Bind(streamID, gatewayID string) (previous string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	previous = t.streams[streamID]
	t.streams[streamID] = gatewayID
	return previous
}

func (t *BindingTable) Gateway(streamID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.streams[streamID]
	return id, ok
}

// Unbind removes the binding for streamID only if it still points at
// gatewayID. A concurrent re-registration by another gateway is left intact.
func (t *BindingTable) Unbind(streamID, gatewayID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.streams[streamID] != gatewayID {
		return false
	}
	delete(t.streams, streamID)
	return true
}

// IsGateway reports whether sessionID currently serves at least one stream.
//
// This is the only role signal the protocol has: a session is a gateway
// exactly while some stream is bound to it. A gateway whose streams were all
// rebound to other sessions is therefore treated as a viewer from then on.
func (t *BindingTable) IsGateway(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, gw := range t.streams {
		if gw == sessionID {
			return true
		}
	}
	return false
}

func (t *BindingTable) SetRoute(viewerID, gatewayID string) {
	t.mu.Lock()
	t.routes[viewerID] = gatewayID
	t.mu.Unlock()
}

func (t *BindingTable) Route(viewerID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.routes[viewerID]
	return id, ok
}

func (t *BindingTable) ClearRoute(viewerID string) {
	t.mu.Lock()
	delete(t.routes, viewerID)
	t.mu.Unlock()
}

// ReleaseSession drops everything that references sessionID: the streams it
// served, its own viewer route and the routes of viewers attached to it. It
// returns the released stream ids in sorted order.
func (t *BindingTable) ReleaseSession(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []string
	for stream, gw := range t.streams {
		if gw == sessionID {
			delete(t.streams, stream)
			released = append(released, stream)
		}
	}
	delete(t.routes, sessionID)
	for viewer, gw := range t.routes {
		if gw == sessionID {
			delete(t.routes, viewer)
		}
	}
	sort.Strings(released)
	return released
}

// Streams returns a copy of the stream bindings.
func (t *BindingTable) Streams() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.streams))
	for k, v := range t.streams {
		out[k] = v
	}
	return out
}

func (t *BindingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

func (t *BindingTable) RouteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes)
}
