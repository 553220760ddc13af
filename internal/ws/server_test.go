package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/loserbcc/openclaw-gateway/internal/auth"
	"github.com/loserbcc/openclaw-gateway/internal/chat"
	"github.com/loserbcc/openclaw-gateway/internal/config"
	"github.com/loserbcc/openclaw-gateway/internal/hub"
	"github.com/loserbcc/openclaw-gateway/internal/provider"
	"github.com/loserbcc/openclaw-gateway/internal/store"
	"github.com/loserbcc/openclaw-gateway/internal/ws"
)

type stubGenerator struct {
	tokens []string
}

func (g stubGenerator) ChatStream(ctx context.Context, messages []provider.ChatMessage, system string, fn provider.TokenFunc) error {
	for _, token := range g.tokens {
		if err := fn(token); err != nil {
			return err
		}
	}
	return nil
}

type stubTTS struct{}

func (stubTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return nil, nil
}

func newTestGateway(t *testing.T, token string) (*httptest.Server, *hub.Hub) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{MaxMessageSize: 65536}
	h := hub.NewHub()
	runner := chat.NewRunner(st, stubGenerator{tokens: []string{"Hel", "lo"}}, stubTTS{})
	server := ws.NewServer(cfg, h, auth.NewVerifier(token), runner)

	e := echo.New()
	e.HideBanner = true
	e.GET("/gateway", server.HandleGateway)

	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts, h
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/gateway"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return frame
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func awaitCount(t *testing.T, h *hub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d registered sessions, got %d", want, h.Count())
}

func TestChallengeSentOnConnect(t *testing.T) {
	ts, _ := newTestGateway(t, "secret")
	conn := dial(t, ts)

	frame := readFrame(t, conn)
	if frame["type"] != "event" || frame["event"] != "connect.challenge" {
		t.Fatalf("expected challenge event, got %+v", frame)
	}
	payload := frame["payload"].(map[string]interface{})
	server := payload["server"].(map[string]interface{})
	if server["id"] != "openclaw-gateway" {
		t.Fatalf("unexpected server identity: %+v", server)
	}
}

func TestConnectHandshake(t *testing.T) {
	ts, h := newTestGateway(t, "secret")
	conn := dial(t, ts)
	readFrame(t, conn) // challenge

	sendFrame(t, conn, `{"type":"req","id":"c1","method":"connect","params":{"auth":{"token":"secret"}}}`)

	frame := readFrame(t, conn)
	if frame["type"] != "res" || frame["id"] != "c1" || frame["ok"] != true {
		t.Fatalf("expected hello-ok response, got %+v", frame)
	}
	payload := frame["payload"].(map[string]interface{})
	if payload["type"] != "hello-ok" || payload["protocol"] != float64(3) {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload["session"] == "" {
		t.Fatal("expected session token")
	}

	awaitCount(t, h, 1)
}

func TestConnectInvalidTokenCloses(t *testing.T) {
	ts, h := newTestGateway(t, "secret")
	conn := dial(t, ts)
	readFrame(t, conn) // challenge

	sendFrame(t, conn, `{"type":"req","id":"c1","method":"connect","params":{"auth":{"token":"wrong"}}}`)

	frame := readFrame(t, conn)
	if frame["ok"] != false {
		t.Fatalf("expected error response, got %+v", frame)
	}
	errBody := frame["error"].(map[string]interface{})
	if errBody["code"] != "auth_failed" {
		t.Fatalf("unexpected error code: %+v", errBody)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, 4001) {
		t.Fatalf("expected close code 4001, got %v", err)
	}

	awaitCount(t, h, 0)
}

func TestChatSendRequiresAuth(t *testing.T) {
	ts, _ := newTestGateway(t, "secret")
	conn := dial(t, ts)
	readFrame(t, conn) // challenge

	sendFrame(t, conn, `{"type":"req","id":"m1","method":"chat.send","params":{"message":"hi"}}`)

	frame := readFrame(t, conn)
	if frame["id"] != "m1" || frame["ok"] != false {
		t.Fatalf("expected error response, got %+v", frame)
	}
	errBody := frame["error"].(map[string]interface{})
	if errBody["code"] != "not_authenticated" {
		t.Fatalf("unexpected error code: %+v", errBody)
	}

	// Connection stays open: the handshake still works afterwards.
	sendFrame(t, conn, `{"type":"req","id":"c1","method":"connect","params":{"auth":{"token":"secret"}}}`)
	frame = readFrame(t, conn)
	if frame["id"] != "c1" || frame["ok"] != true {
		t.Fatalf("expected hello-ok after failed chat.send, got %+v", frame)
	}
}

func TestMalformedFramesIgnored(t *testing.T) {
	ts, _ := newTestGateway(t, "secret")
	conn := dial(t, ts)
	readFrame(t, conn) // challenge

	sendFrame(t, conn, "not json at all")
	sendFrame(t, conn, `{"missing":"type"}`)
	sendFrame(t, conn, `{"type":"event","event":"client-noise"}`)

	// Loop is still alive and processes the next valid frame.
	sendFrame(t, conn, `{"type":"req","id":"c1","method":"connect","params":{"auth":{"token":"secret"}}}`)
	frame := readFrame(t, conn)
	if frame["id"] != "c1" || frame["ok"] != true {
		t.Fatalf("expected hello-ok after malformed frames, got %+v", frame)
	}
}

func TestUnknownMethod(t *testing.T) {
	ts, _ := newTestGateway(t, "secret")
	conn := dial(t, ts)
	readFrame(t, conn) // challenge

	sendFrame(t, conn, `{"type":"req","id":"u1","method":"bogus.method"}`)

	frame := readFrame(t, conn)
	if frame["id"] != "u1" || frame["ok"] != false {
		t.Fatalf("expected error response, got %+v", frame)
	}
	errBody := frame["error"].(map[string]interface{})
	if errBody["code"] != "unknown_method" {
		t.Fatalf("unexpected error code: %+v", errBody)
	}
}

func TestApprovalRespondAcknowledged(t *testing.T) {
	ts, _ := newTestGateway(t, "secret")
	conn := dial(t, ts)
	readFrame(t, conn) // challenge

	sendFrame(t, conn, `{"type":"req","id":"c1","method":"connect","params":{"auth":{"token":"secret"}}}`)
	readFrame(t, conn) // hello-ok

	sendFrame(t, conn, `{"type":"req","id":"a1","method":"approval.respond","params":{"approved":true}}`)

	frame := readFrame(t, conn)
	if frame["id"] != "a1" || frame["ok"] != true {
		t.Fatalf("expected acknowledgment, got %+v", frame)
	}
	payload := frame["payload"].(map[string]interface{})
	if payload["status"] != "acknowledged" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestChatTurnStreamsToClient(t *testing.T) {
	ts, _ := newTestGateway(t, "secret")
	conn := dial(t, ts)
	readFrame(t, conn) // challenge

	sendFrame(t, conn, `{"type":"req","id":"c1","method":"connect","params":{"auth":{"token":"secret"}}}`)
	readFrame(t, conn) // hello-ok

	sendFrame(t, conn, `{"type":"req","id":"m1","method":"chat.send","params":{"message":"say hello"}}`)

	accepted := readFrame(t, conn)
	if accepted["type"] != "res" || accepted["id"] != "m1" || accepted["ok"] != true {
		t.Fatalf("expected accepted response, got %+v", accepted)
	}
	payload := accepted["payload"].(map[string]interface{})
	if payload["status"] != "accepted" {
		t.Fatalf("unexpected status: %+v", payload)
	}
	runID := payload["runId"].(string)
	if runID == "" {
		t.Fatal("expected runId")
	}

	type chatEvent struct {
		event string
		state string
		text  string
		phase string
	}
	var got []chatEvent
	for i := 0; i < 5; i++ {
		frame := readFrame(t, conn)
		p := frame["payload"].(map[string]interface{})
		if p["runId"] != runID {
			t.Fatalf("event for wrong run: %+v", frame)
		}
		ev := chatEvent{event: frame["event"].(string)}
		if state, ok := p["state"].(string); ok {
			ev.state = state
			ev.text = p["text"].(string)
		}
		if data, ok := p["data"].(map[string]interface{}); ok {
			ev.phase, _ = data["phase"].(string)
		}
		got = append(got, ev)
	}

	want := []chatEvent{
		{event: "agent", phase: "start"},
		{event: "chat", state: "delta", text: "Hel"},
		{event: "chat", state: "delta", text: "Hello"},
		{event: "chat", state: "final", text: "Hello"},
		{event: "agent", phase: "end"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v (all: %+v)", i, got[i], want[i], got)
		}
	}
}

func TestEmptyChatMessageIgnored(t *testing.T) {
	ts, _ := newTestGateway(t, "secret")
	conn := dial(t, ts)
	readFrame(t, conn) // challenge

	sendFrame(t, conn, `{"type":"req","id":"c1","method":"connect","params":{"auth":{"token":"secret"}}}`)
	readFrame(t, conn) // hello-ok

	sendFrame(t, conn, `{"type":"req","id":"m1","method":"chat.send","params":{"message":""}}`)
	sendFrame(t, conn, `{"type":"req","id":"a1","method":"approval.respond","params":{}}`)

	// The empty chat.send produced nothing; the next frame answers a1.
	frame := readFrame(t, conn)
	if frame["id"] != "a1" {
		t.Fatalf("expected response for a1, got %+v", frame)
	}
}
