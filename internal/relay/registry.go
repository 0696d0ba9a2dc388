package relay

import "sync"

// Peer is one open bidirectional signaling connection.
//
// Send must be safe for concurrent use; implementations serialize their own
// writes. Closed reports whether the underlying connection has gone away,
// which may happen before the peer is unregistered.
type Peer interface {
	ID() string
	Send(payload []byte) error
	Closed() bool
}

// Registry tracks open peers by session id.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]Peer)}
}

func (r *Registry) Register(p Peer) error {
	if p == nil || p.ID() == "" {
		return ErrInvalidSessionID
	}
	id := p.ID()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; ok {
		return ErrSessionExists
	}
	r.peers[id] = p
	return nil
}

// Unregister removes id and reports whether it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *Registry) Lookup(id string) (Peer, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	p, ok := r.peers[id]
	r.mu.RUnlock()
	return p, ok
}

// Open returns the peer for id only if it is registered and its connection
// has not closed.
func (r *Registry) Open(id string) (Peer, bool) {
	p, ok := r.Lookup(id)
	if !ok || p.Closed() {
		return nil, false
	}
	return p, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
