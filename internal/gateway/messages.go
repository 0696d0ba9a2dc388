package gateway

import (
	"bytes"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/signaling"
)

type candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func candidateFromPion(init webrtc.ICECandidateInit) candidate {
	return candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// parseCandidate accepts the RTCIceCandidateInit object browsers send, or a
// bare candidate string. ok is false for the empty end-of-candidates marker.
func parseCandidate(raw json.RawMessage) (c candidate, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return candidate{}, false, nil
	}
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &c.Candidate); err != nil {
			return candidate{}, false, err
		}
	} else if err := json.Unmarshal(raw, &c); err != nil {
		return candidate{}, false, err
	}
	return c, c.Candidate != "", nil
}

// inbound is the subset of relay messages a gateway acts on.
type inbound struct {
	Type             signaling.MessageType `json:"type"`
	GatewaySessionID string                `json:"gatewaySessionId"`
	ClientSessionID  string                `json:"clientSessionId"`
	StreamID         string                `json:"streamId"`
	SDP              string                `json:"sdp"`
	Candidate        json.RawMessage       `json:"candidate"`
	Code             string                `json:"code"`
	Message          string                `json:"message"`
}

type registerMessage struct {
	Type    signaling.MessageType `json:"type"`
	Role    string                `json:"role"`
	Streams []string              `json:"streams"`
}

type offerMessage struct {
	Type             signaling.MessageType `json:"type"`
	SDP              string                `json:"sdp"`
	ClientSessionID  string                `json:"clientSessionId"`
	GatewaySessionID string                `json:"gatewaySessionId,omitempty"`
}

type iceMessage struct {
	Type             signaling.MessageType `json:"type"`
	Candidate        candidate             `json:"candidate"`
	ClientSessionID  string                `json:"clientSessionId"`
	GatewaySessionID string                `json:"gatewaySessionId,omitempty"`
}

// StreamHello is the first text message on the camera data channel.
type StreamHello struct {
	Type             string `json:"type"`
	StreamID         string `json:"streamId"`
	GatewaySessionID string `json:"gatewaySessionId"`
}
