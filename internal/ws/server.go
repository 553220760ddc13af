// Package ws provides the WebSocket gateway endpoint and its per-connection
// control loop.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/loserbcc/openclaw-gateway/internal/auth"
	"github.com/loserbcc/openclaw-gateway/internal/chat"
	"github.com/loserbcc/openclaw-gateway/internal/config"
	"github.com/loserbcc/openclaw-gateway/internal/hub"
	"github.com/loserbcc/openclaw-gateway/internal/protocol"
)

// Server handles gateway WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	verifier *auth.Verifier
	runner   *chat.Runner
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, verifier *auth.Verifier, runner *chat.Runner) *Server {
	return &Server{
		cfg:      cfg,
		hub:      h,
		verifier: verifier,
		runner:   runner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Clients connect from apps, not browsers
				return true
			},
		},
	}
}

// HandleGateway upgrades the connection, sends the challenge and runs the
// read loop until the client disconnects or fails authentication.
func (s *Server) HandleGateway(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn.SetReadLimit(s.cfg.MaxMessageSize)

	sess := hub.NewSession(conn)
	if err := sess.Send(protocol.MakeChallenge()); err != nil {
		conn.Close()
		return nil
	}
	log.Printf("[%s] Connected, challenge sent", sess.ID)

	s.readLoop(sess, conn)
	return nil
}

// readLoop processes inbound frames until the transport closes or a frame
// handler requests termination. Registry state is torn down on exit.
func (s *Server) readLoop(sess *hub.Session, conn *websocket.Conn) {
	defer func() {
		s.hub.Unregister(sess.ID)
		conn.Close()
		log.Printf("[%s] Disconnected", sess.ID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[%s] WebSocket error: %v", sess.ID, err)
			}
			return
		}
		if !s.handleFrame(sess, conn, data) {
			return
		}
	}
}

// handleFrame dispatches one inbound frame. It returns false when the
// connection must be closed (auth failure); malformed frames are silently
// ignored and keep the loop running.
func (s *Server) handleFrame(sess *hub.Session, conn *websocket.Conn, data []byte) bool {
	frame := protocol.ParseFrame(data)
	if frame == nil {
		return true
	}
	if frame.Type != protocol.TypeRequest {
		return true
	}

	switch frame.Method {
	case protocol.MethodConnect:
		return s.handleConnect(sess, conn, frame)
	case protocol.MethodChatSend:
		s.handleChatSend(sess, frame)
	case protocol.MethodApprovalRespond:
		// Reserved extension point: acknowledge and move on.
		if sess.Authenticated() {
			_ = sess.Send(protocol.MakeResponse(frame.ID, map[string]string{"status": "acknowledged"}))
		}
	default:
		_ = sess.Send(protocol.MakeError(frame.ID, protocol.ErrorCodeUnknownMethod, "Unknown: "+frame.Method))
	}
	return true
}

// handleConnect runs the auth handshake. A failed handshake closes the
// connection with a dedicated close code; there is no retry on the same
// connection.
func (s *Server) handleConnect(sess *hub.Session, conn *websocket.Conn, frame *protocol.Frame) bool {
	var params protocol.ConnectParams
	if len(frame.Params) > 0 {
		_ = json.Unmarshal(frame.Params, &params)
	}

	if s.verifier.Verify(params.Auth.Token) {
		sess.Authenticate()
		s.hub.Register(sess)
		_ = sess.Send(protocol.MakeHelloOK(frame.ID))
		log.Printf("[%s] Authenticated", sess.ID)
		return true
	}

	_ = sess.Send(protocol.MakeError(frame.ID, protocol.ErrorCodeAuthFailed, "Invalid token"))
	log.Printf("[%s] Auth failed", sess.ID)
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(protocol.CloseAuthFailure, "Authentication failed"), deadline)
	return false
}

type acceptedPayload struct {
	Status string `json:"status"`
	RunID  string `json:"runId"`
}

// handleChatSend acknowledges the request and hands the turn to the chat
// runner without blocking the read loop.
func (s *Server) handleChatSend(sess *hub.Session, frame *protocol.Frame) {
	if !sess.Authenticated() {
		_ = sess.Send(protocol.MakeError(frame.ID, protocol.ErrorCodeNotAuthenticated, "Not authenticated"))
		return
	}

	var params protocol.ChatSendParams
	if len(frame.Params) > 0 {
		_ = json.Unmarshal(frame.Params, &params)
	}
	if params.Message == "" {
		return
	}

	runID := uuid.New().String()[:12]
	_ = sess.Send(protocol.MakeResponse(frame.ID, acceptedPayload{Status: "accepted", RunID: runID}))

	go s.runner.Run(context.Background(), sess, runID, params.Message)
}
