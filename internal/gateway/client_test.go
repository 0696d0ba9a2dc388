package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRelay(t *testing.T) (*signaling.Router, string) {
	t.Helper()
	logger := discardLogger()
	router := signaling.NewRouter(logger, nil)
	ws := signaling.NewWebSocketServer(router, signaling.WebSocketConfig{
		MaxMessageBytes:      256 * 1024,
		MaxMessagesPerSecond: 1000,
		Logger:               logger,
	})
	ts := httptest.NewServer(ws)
	t.Cleanup(func() {
		ws.Close()
		ts.Close()
	})
	return router, "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newVNet(t *testing.T, ips ...string) []*vnet.Net {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	var nets []*vnet.Net
	for _, ip := range ips {
		n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
		if err != nil {
			t.Fatalf("new net %s: %v", ip, err)
		}
		if err := router.AddNet(n); err != nil {
			t.Fatalf("add net %s: %v", ip, err)
		}
		nets = append(nets, n)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })
	return nets
}

func newVNetAPI(t *testing.T, n *vnet.Net) *webrtc.API {
	t.Helper()
	api, err := NewAPI(discardLogger(), func(se *webrtc.SettingEngine) {
		se.SetNet(n)
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	return api
}

// testViewer plays the browser: it watches a stream through the relay and
// answers the gateway's offer.
type testViewer struct {
	t  *testing.T
	ws *websocket.Conn
	pc *webrtc.PeerConnection

	writeMu sync.Mutex
	hello   chan StreamHello
}

func newTestViewer(t *testing.T, url string, api *webrtc.API) *testViewer {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("viewer dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("viewer pc: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	v := &testViewer{t: t, ws: ws, pc: pc, hello: make(chan StreamHello, 1)}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = v.send(map[string]any{"type": "ice", "candidate": c.ToJSON()})
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			var h StreamHello
			if msg.IsString && json.Unmarshal(msg.Data, &h) == nil {
				select {
				case v.hello <- h:
				default:
				}
			}
		})
	})
	return v
}

func (v *testViewer) send(msg any) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.ws.WriteJSON(msg)
}

// serve handles relay messages until the connection closes. The offer is
// applied before any candidate because the relay preserves per-sender order.
func (v *testViewer) serve() {
	for {
		var msg map[string]any
		if err := v.ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg["type"] {
		case "offer":
			sdp, _ := msg["sdp"].(string)
			if err := v.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
				v.t.Errorf("viewer set remote: %v", err)
				return
			}
			answer, err := v.pc.CreateAnswer(nil)
			if err != nil {
				v.t.Errorf("viewer create answer: %v", err)
				return
			}
			if err := v.pc.SetLocalDescription(answer); err != nil {
				v.t.Errorf("viewer set local: %v", err)
				return
			}
			_ = v.send(map[string]any{"type": "answer", "sdp": answer.SDP})
		case "ice":
			raw, _ := json.Marshal(msg["candidate"])
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal(raw, &init); err != nil {
				v.t.Errorf("viewer decode candidate: %v", err)
				return
			}
			_ = v.pc.AddICECandidate(init)
		}
	}
}

func TestClient_ViewerReceivesCameraChannel(t *testing.T) {
	router, url := startRelay(t)
	nets := newVNet(t, "10.0.0.1", "10.0.0.2")

	client, err := New(Config{
		SignalURL: url,
		Streams:   []string{"front"},
		Logger:    discardLogger(),
		API:       newVNetAPI(t, nets[0]),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		runErr <- client.Run(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})

	waitFor(t, "gateway registration", func() bool {
		return client.GatewaySessionID() != "" && router.StreamBindings()["front"] == client.GatewaySessionID()
	})

	viewer := newTestViewer(t, url, newVNetAPI(t, nets[1]))
	go viewer.serve()
	if err := viewer.send(map[string]any{"type": "watch", "streamId": "front"}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	select {
	case h := <-viewer.hello:
		if h.StreamID != "front" || h.GatewaySessionID != client.GatewaySessionID() {
			t.Fatalf("hello=%+v", h)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("timed out waiting for camera data channel")
	}
	if n := client.Peers(); n != 1 {
		t.Fatalf("peers=%d, want 1", n)
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err=%v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if n := client.Peers(); n != 0 {
		t.Fatalf("peers=%d after Run returned, want 0", n)
	}
	waitFor(t, "relay to release the stream", func() bool { return len(router.StreamBindings()) == 0 })
}

func TestClient_RunFailsWhenRelayUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"
	ts.Close()

	client, err := New(Config{SignalURL: url, Streams: []string{"front"}, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Run(context.Background()); err == nil {
		t.Fatalf("Run succeeded against a closed server")
	}
}

func TestClient_MaintainReconnects(t *testing.T) {
	router, url := startRelay(t)

	client, err := New(Config{SignalURL: url, Streams: []string{"front", "yard"}, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Maintain(ctx, 20*time.Millisecond) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "first registration", func() bool {
		return len(router.StreamBindings()) == 2 && client.GatewaySessionID() != ""
	})
	first := client.GatewaySessionID()

	// Dropping the connection stands in for a relay restart.
	client.getCurrent().closeWith(websocket.CloseGoingAway, "test")

	waitFor(t, "re-registration", func() bool {
		id := client.GatewaySessionID()
		return id != "" && id != first && router.StreamBindings()["yard"] == id
	})
}

func TestNew_RequiresStreams(t *testing.T) {
	if _, err := New(Config{SignalURL: "ws://127.0.0.1:1/signal"}); err == nil {
		t.Fatalf("New without streams succeeded")
	}
}

func TestParseCandidate(t *testing.T) {
	for _, tc := range []struct {
		raw    string
		want   string
		ok     bool
		hasErr bool
	}{
		{`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`, "candidate:1 1 udp 1 10.0.0.1 5000 typ host", true, false},
		{`"candidate:2 1 udp 1 10.0.0.2 5000 typ host"`, "candidate:2 1 udp 1 10.0.0.2 5000 typ host", true, false},
		{`{"candidate":""}`, "", false, false},
		{`null`, "", false, false},
		{``, "", false, false},
		{`[1]`, "", false, true},
	} {
		c, ok, err := parseCandidate(json.RawMessage(tc.raw))
		if (err != nil) != tc.hasErr || ok != tc.ok || c.Candidate != tc.want {
			t.Fatalf("parseCandidate(%s)=(%q,%v,%v), want (%q,%v,err=%v)", tc.raw, c.Candidate, ok, err, tc.want, tc.ok, tc.hasErr)
		}
	}

	c, _, _ := parseCandidate(json.RawMessage(`{"candidate":"x","sdpMid":"0","sdpMLineIndex":1}`))
	init := c.ToPion()
	if init.SDPMid == nil || *init.SDPMid != "0" || init.SDPMLineIndex == nil || *init.SDPMLineIndex != 1 {
		t.Fatalf("ToPion=%+v", init)
	}
}

func TestLoggerFactory(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := NewLoggerFactory(logger).NewLogger("ice")

	l.Infof("gathered %d candidates", 3)
	l.Trace("hidden")
	l.Warn("careful")

	out := buf.String()
	for _, want := range []string{"gathered 3 candidates", "scope=ice", "component=pion", "level=WARN"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("trace message logged at debug level:\n%s", out)
	}
}
