// Package chat drives one chat exchange: record the inbound message, stream
// the model reply back as incremental frames, finalize, and optionally
// synthesize speech.
package chat

import (
	"context"
	"encoding/base64"
	"log"

	"github.com/loserbcc/openclaw-gateway/internal/protocol"
	"github.com/loserbcc/openclaw-gateway/internal/provider"
	"github.com/loserbcc/openclaw-gateway/internal/store"
)

// DefaultSystemPrompt is sent to the generation backend with every turn.
const DefaultSystemPrompt = "You are a helpful AI assistant connected via OpenClaw Gateway. " +
	"Be concise and direct in your responses."

// Generator streams completion tokens for a conversation.
type Generator interface {
	ChatStream(ctx context.Context, messages []provider.ChatMessage, system string, fn provider.TokenFunc) error
}

// Synthesizer converts text to audio, returning (nil, nil) when unavailable.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Session is the slice of a connected session a chat turn needs.
type Session interface {
	Send(data []byte) error
	AppendTurn(role, content string)
	Transcript() []protocol.Turn
}

// Runner executes chat turns.
type Runner struct {
	store        store.Store
	llm          Generator
	tts          Synthesizer
	systemPrompt string
}

// NewRunner creates a chat turn runner.
func NewRunner(st store.Store, llm Generator, tts Synthesizer) *Runner {
	return &Runner{
		store:        st,
		llm:          llm,
		tts:          tts,
		systemPrompt: DefaultSystemPrompt,
	}
}

// Run processes one chat turn. It is spawned in its own goroutine after the
// triggering request was acknowledged; the caller does not wait for it.
//
// Concurrent turns on the same session are not serialized: their delta events
// and transcript writes may interleave. Protocol-3 clients key every chat
// event by runId and each delta carries the full accumulated text, so late
// or interleaved deltas stay self-contained.
//
// Faults never propagate out: a failed send means the transport is gone and
// the turn stops quietly; any other fault is reported to the client as a
// best-effort agent error event.
func (r *Runner) Run(ctx context.Context, sess Session, runID, text string) {
	if err := r.store.AppendMessage(ctx, &store.Message{Source: store.SourceHuman, TextContent: text}); err != nil {
		log.Printf("[%s] Failed to store user message: %v", runID, err)
		_ = sess.Send(protocol.MakeAgentError(runID, err.Error()))
		return
	}
	sess.AppendTurn(protocol.RoleUser, text)

	if err := sess.Send(protocol.MakeAgentLifecycle(runID, protocol.PhaseStart)); err != nil {
		return
	}

	messages := toChatMessages(sess.Transcript())

	var accumulated string
	streamErr := r.llm.ChatStream(ctx, messages, r.systemPrompt, func(token string) error {
		if token == "" {
			return nil
		}
		accumulated += token
		return sess.Send(protocol.MakeChatEvent(runID, accumulated, protocol.StateDelta))
	})
	if streamErr != nil {
		log.Printf("[%s] Chat stream error: %v", runID, streamErr)
		_ = sess.Send(protocol.MakeAgentError(runID, streamErr.Error()))
		return
	}

	if err := sess.Send(protocol.MakeChatEvent(runID, accumulated, protocol.StateFinal)); err != nil {
		return
	}
	if err := sess.Send(protocol.MakeAgentLifecycle(runID, protocol.PhaseEnd)); err != nil {
		return
	}

	sess.AppendTurn(protocol.RoleAssistant, accumulated)
	if err := r.store.AppendMessage(ctx, &store.Message{Source: store.SourceAgent, TextContent: accumulated}); err != nil {
		log.Printf("[%s] Failed to store assistant message: %v", runID, err)
	}

	// TTS is best effort: failure or absence never fails the turn.
	audio, err := r.tts.Synthesize(ctx, accumulated)
	if err != nil {
		log.Printf("[%s] TTS synthesis failed: %v", runID, err)
		return
	}
	if len(audio) == 0 {
		return
	}
	encoded := base64.StdEncoding.EncodeToString(audio)
	_ = sess.Send(protocol.MakeAudioBroadcast(encoded, accumulated))
}

func toChatMessages(turns []protocol.Turn) []provider.ChatMessage {
	messages := make([]provider.ChatMessage, len(turns))
	for i, turn := range turns {
		messages[i] = provider.ChatMessage{Role: turn.Role, Content: turn.Content}
	}
	return messages
}
