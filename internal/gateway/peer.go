package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/signaling"
)

// DataChannelLabel names the channel a gateway opens towards every viewer.
const DataChannelLabel = "camera"

// viewerPeer is the PeerConnection serving one viewer session.
//
// Local candidates are held until the offer has been sent, and remote
// candidates until the answer has been applied, so neither side sees a
// candidate before the description it belongs to.
type viewerPeer struct {
	clientID string
	streamID string
	pc       *webrtc.PeerConnection
	send     func(v any) error

	gatewayID string

	mu          sync.Mutex
	offerSent   bool
	localCands  []candidate
	remoteSet   bool
	remoteCands []webrtc.ICECandidateInit

	closed atomic.Bool
}

func newViewerPeer(api *webrtc.API, iceServers []webrtc.ICEServer, clientID, streamID, gatewayID string, send func(v any) error) (*viewerPeer, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &viewerPeer{
		clientID:  clientID,
		streamID:  streamID,
		pc:        pc,
		send:      send,
		gatewayID: gatewayID,
	}

	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		hello, err := json.Marshal(StreamHello{Type: "hello", StreamID: streamID, GatewaySessionID: gatewayID})
		if err != nil {
			return
		}
		_ = dc.SendText(string(hello))
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := candidateFromPion(c.ToJSON())

		p.mu.Lock()
		if !p.offerSent {
			p.localCands = append(p.localCands, cand)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		_ = p.sendCandidate(cand)
	})

	return p, nil
}

// offer creates and sends the SDP offer, then flushes held candidates.
func (p *viewerPeer) offer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := p.send(offerMessage{
		Type:             signaling.TypeOffer,
		SDP:              offer.SDP,
		ClientSessionID:  p.clientID,
		GatewaySessionID: p.gatewayID,
	}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	p.mu.Lock()
	p.offerSent = true
	held := p.localCands
	p.localCands = nil
	p.mu.Unlock()

	for _, c := range held {
		if err := p.sendCandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *viewerPeer) sendCandidate(c candidate) error {
	return p.send(iceMessage{
		Type:             signaling.TypeICE,
		Candidate:        c,
		ClientSessionID:  p.clientID,
		GatewaySessionID: p.gatewayID,
	})
}

func (p *viewerPeer) applyAnswer(sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	held := p.remoteCands
	p.remoteCands = nil
	p.mu.Unlock()

	for _, c := range held {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add ice candidate: %w", err)
		}
	}
	return nil
}

func (p *viewerPeer) addRemoteCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.remoteCands = append(p.remoteCands, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// close is safe to re-enter from the connection state callback that
// pc.Close triggers.
func (p *viewerPeer) close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	_ = p.pc.Close()
}
