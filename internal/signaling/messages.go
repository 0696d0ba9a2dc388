package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type MessageType string

const (
	TypeRegister   MessageType = "register"
	TypeWatch      MessageType = "watch"
	TypeOffer      MessageType = "offer"
	TypeAnswer     MessageType = "answer"
	TypeICE        MessageType = "ice"
	TypeRegistered MessageType = "registered"
	TypeError      MessageType = "error"
)

const RoleGateway = "gateway"

// Error codes carried by error replies next to the human readable message.
const (
	CodeMissingStreamID        = "missing_stream_id"
	CodeNoGateway              = "no_gateway"
	CodeGatewayDisconnected    = "gateway_disconnected"
	CodeGatewaySessionNotFound = "gateway_session_not_found"
)

const (
	msgMissingStreamID        = "missing streamId"
	msgNoGateway              = "no gateway for stream"
	msgGatewayDisconnected    = "gateway disconnected"
	msgGatewaySessionNotFound = "gateway session not found"
)

var ErrInvalidMessage = errors.New("invalid signaling message")

// Message is one decoded inbound signaling message. The set of
// implementations is closed: RegisterMessage, WatchMessage, RelayMessage and
// UnknownMessage.
type Message interface {
	MessageType() MessageType
	sealed()
}

// RegisterMessage declares the sender to be the gateway for Streams.
type RegisterMessage struct {
	Streams []string
}

// WatchMessage asks for the gateway serving StreamID. StreamID is empty when
// the field was absent or blank.
type WatchMessage struct {
	StreamID string
	// SessionID is the viewer's own opaque correlation value, passed through
	// untouched. Nil when absent.
	SessionID json.RawMessage
}

// RelayMessage is an offer, answer or ice message. Its payload is opaque; only
// the routing fields are read.
type RelayMessage struct {
	Type             MessageType
	ClientSessionID  string
	GatewaySessionID string

	raw    []byte
	fields map[string]json.RawMessage
}

// UnknownMessage is any other well-formed message, including inbound
// registered and error messages.
type UnknownMessage struct {
	Type string
}

func (RegisterMessage) MessageType() MessageType  { return TypeRegister }
func (WatchMessage) MessageType() MessageType     { return TypeWatch }
func (m RelayMessage) MessageType() MessageType   { return m.Type }
func (m UnknownMessage) MessageType() MessageType { return MessageType(m.Type) }

func (RegisterMessage) sealed() {}
func (WatchMessage) sealed()    {}
func (RelayMessage) sealed()    {}
func (UnknownMessage) sealed()  {}

// ParseMessage decodes a signaling message. The input must be a JSON object
// with a non-blank string "type". Routing fields only count when they are
// non-blank strings.
func ParseMessage(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidMessage)
	}
	msgType := stringField(fields, "type")
	if msgType == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}

	switch t := MessageType(msgType); t {
	case TypeRegister:
		return parseRegister(fields)
	case TypeWatch:
		msg := WatchMessage{StreamID: stringField(fields, "streamId")}
		if sid, ok := fields["sessionId"]; ok && !isNull(sid) {
			msg.SessionID = sid
		}
		return msg, nil
	case TypeOffer, TypeAnswer, TypeICE:
		return RelayMessage{
			Type:             t,
			ClientSessionID:  stringField(fields, "clientSessionId"),
			GatewaySessionID: stringField(fields, "gatewaySessionId"),
			raw:              data,
			fields:           fields,
		}, nil
	default:
		return UnknownMessage{Type: msgType}, nil
	}
}

func parseRegister(fields map[string]json.RawMessage) (Message, error) {
	if stringField(fields, "role") != RoleGateway {
		return nil, fmt.Errorf("%w: register requires role %q", ErrInvalidMessage, RoleGateway)
	}
	var entries []json.RawMessage
	if raw, ok := fields["streams"]; !ok || json.Unmarshal(raw, &entries) != nil {
		return nil, fmt.Errorf("%w: register requires a streams array", ErrInvalidMessage)
	}

	var streams []string
	for _, e := range entries {
		var s string
		if json.Unmarshal(e, &s) != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			streams = append(streams, s)
		}
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("%w: register has no usable streams", ErrInvalidMessage)
	}
	return RegisterMessage{Streams: streams}, nil
}

// stampForGateway returns the message as sent on to a gateway:
// gatewaySessionId is set to gatewayID and clientSessionId defaults to
// viewerID when the viewer omitted it.
func (m RelayMessage) stampForGateway(gatewayID, viewerID string) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.fields)+2)
	for k, v := range m.fields {
		out[k] = v
	}
	out["gatewaySessionId"] = mustMarshalString(gatewayID)
	if v, ok := out["clientSessionId"]; !ok || isNull(v) {
		out["clientSessionId"] = mustMarshalString(viewerID)
	}
	return json.Marshal(out)
}

// Raw is the message exactly as received.
func (m RelayMessage) Raw() []byte { return m.raw }

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func mustMarshalString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

type registeredReply struct {
	Type             MessageType `json:"type"`
	GatewaySessionID string      `json:"gatewaySessionId"`
	Streams          []string    `json:"streams"`
}

type errorReply struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

type watchForward struct {
	Type             MessageType     `json:"type"`
	StreamID         string          `json:"streamId"`
	ClientSessionID  string          `json:"clientSessionId"`
	GatewaySessionID string          `json:"gatewaySessionId"`
	SessionID        json.RawMessage `json:"sessionId,omitempty"`
}
