// Package protocol defines the OpenClaw v3 frame protocol between clients and the gateway.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Frame types
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Request methods
const (
	MethodConnect         = "connect"
	MethodChatSend        = "chat.send"
	MethodApprovalRespond = "approval.respond"
)

// Event names
const (
	EventChallenge      = "connect.challenge"
	EventTick           = "tick"
	EventChat           = "chat"
	EventAgent          = "agent"
	EventAudioBroadcast = "audio_broadcast"
)

// Error codes
const (
	ErrorCodeAuthFailed       = "auth_failed"
	ErrorCodeNotAuthenticated = "not_authenticated"
	ErrorCodeUnknownMethod    = "unknown_method"
)

// Chat event states
const (
	StateDelta = "delta"
	StateFinal = "final"
)

// Lifecycle phases
const (
	PhaseStart = "start"
	PhaseEnd   = "end"
)

// Transcript roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Protocol version advertised in the challenge and hello-ok frames.
const Version = 3

// CloseAuthFailure is the close code sent after a failed connect handshake.
const CloseAuthFailure = 4001

// Server identity advertised in the challenge frame.
const (
	ServerID      = "openclaw-gateway"
	ServerVersion = "0.1.0"
)

// Frame is an inbound protocol frame from a client.
type Frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ConnectParams is the params payload of a connect request.
type ConnectParams struct {
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

// ChatSendParams is the params payload of a chat.send request.
type ChatSendParams struct {
	Message string `json:"message"`
}

// Turn is a single entry in a session's conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParseFrame parses a JSON frame from the client. Returns nil on malformed input.
func ParseFrame(data []byte) *Frame {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil
	}
	if frame.Type == "" {
		return nil
	}
	return &frame
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type responseFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type eventFrame struct {
	Type    string      `json:"type"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

func marshal(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

// MakeResponse creates a successful response frame for a request.
func MakeResponse(reqID string, payload interface{}) []byte {
	return marshal(responseFrame{Type: TypeResponse, ID: reqID, OK: true, Payload: payload})
}

// MakeError creates an error response frame.
func MakeError(reqID, code, message string) []byte {
	return marshal(responseFrame{
		Type:  TypeResponse,
		ID:    reqID,
		OK:    false,
		Error: &errorBody{Code: code, Message: message},
	})
}

// MakeEvent creates an event frame to push to the client.
func MakeEvent(event string, payload interface{}) []byte {
	return marshal(eventFrame{Type: TypeEvent, Event: event, Payload: payload})
}

type challengePayload struct {
	Type      string         `json:"type"`
	Protocols []int          `json:"protocols"`
	Server    serverIdentity `json:"server"`
}

type serverIdentity struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// MakeChallenge creates the initial connect.challenge event.
func MakeChallenge() []byte {
	return MakeEvent(EventChallenge, challengePayload{
		Type:      "connect_challenge",
		Protocols: []int{Version},
		Server:    serverIdentity{ID: ServerID, Version: ServerVersion},
	})
}

type helloOKPayload struct {
	Type     string `json:"type"`
	Protocol int    `json:"protocol"`
	Session  string `json:"session"`
}

// MakeHelloOK creates the hello-ok response after successful auth. The session
// field carries a freshly generated token.
func MakeHelloOK(reqID string) []byte {
	return MakeResponse(reqID, helloOKPayload{
		Type:     "hello-ok",
		Protocol: Version,
		Session:  uuid.New().String(),
	})
}

// MakeTick creates a heartbeat tick event.
func MakeTick() []byte {
	return MakeEvent(EventTick, struct{}{})
}

type chatPayload struct {
	RunID string `json:"runId"`
	State string `json:"state"`
	Text  string `json:"text"`
}

// MakeChatEvent creates a chat streaming event. Text carries the full
// accumulated text so far, not a diff.
func MakeChatEvent(runID, text, state string) []byte {
	return MakeEvent(EventChat, chatPayload{RunID: runID, State: state, Text: text})
}

type agentPayload struct {
	RunID  string      `json:"runId"`
	Stream string      `json:"stream"`
	Data   interface{} `json:"data"`
}

// MakeAgentLifecycle creates an agent lifecycle event (phase start or end).
func MakeAgentLifecycle(runID, phase string) []byte {
	return MakeEvent(EventAgent, agentPayload{
		RunID:  runID,
		Stream: "lifecycle",
		Data:   map[string]string{"phase": phase},
	})
}

type audioBroadcastPayload struct {
	AudioBase64 string `json:"audio_base64"`
	Text        string `json:"text"`
}

// MakeAudioBroadcast creates an audio_broadcast event carrying synthesized
// speech for the final reply text.
func MakeAudioBroadcast(audioBase64, text string) []byte {
	return MakeEvent(EventAudioBroadcast, audioBroadcastPayload{AudioBase64: audioBase64, Text: text})
}

// MakeAgentError creates an agent error event carrying a fault message.
func MakeAgentError(runID, message string) []byte {
	return MakeEvent(EventAgent, agentPayload{
		RunID:  runID,
		Stream: "error",
		Data:   map[string]string{"message": message},
	})
}
