// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package internal_bridge glues a call's transport to its conversation:
// inbound audio to the recognizer, synthesized audio back out, lifecycle
// events to the call record and the recording sink. It owns no sockets and
// no AI streams, only the routing between them.
package internal_bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	internal_agent_llm "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/agent/llm"
	internal_recorder "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/audio/recorder"
	internal_entity "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/entity"
	internal_orchestrator "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/orchestrator"
	internal_store "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/store"
	internal_synthesizer_elevenlabs "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/synthesizer/elevenlabs"
	internal_transcriber_deepgram "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/transcriber/deepgram"
	sip_infra "github.com/codevamp-f2fintech/ai-server/api/voice-api/sip/infra"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

// pendingAudioLimit bounds outbound audio buffered before the transport is
// ready to send.
const pendingAudioLimit = 500

// AgentProvider loads the immutable agent configuration for a call.
type AgentProvider interface {
	GetAgent(ctx context.Context, id string) (*internal_entity.Agent, error)
}

// CallLeg is the transport side of one established call.
type CallLeg interface {
	SendAudio(audio []byte)
	Hangup(ctx context.Context, reason string)
}

// Dialer places outbound calls. Satisfied by the SIP server via SIPDialer.
type Dialer interface {
	MakeCall(ctx context.Context, callID, number string, handlers sip_infra.CallHandlers) (CallLeg, error)
}

// SIPDialer adapts the concrete SIP server to the Dialer seam.
type SIPDialer struct {
	Server *sip_infra.Server
}

func (d SIPDialer) MakeCall(ctx context.Context, callID, number string, handlers sip_infra.CallHandlers) (CallLeg, error) {
	dialog, err := d.Server.MakeCall(ctx, callID, number, handlers)
	if err != nil {
		return nil, err
	}
	return dialog, nil
}

// Keys carries the AI provider credentials used to build per-call clients.
type Keys struct {
	Deepgram   string
	OpenAI     string
	Anthropic  string
	ElevenLabs string
}

// Defaults are platform-level call limits applied when the agent leaves
// them unset.
type Defaults struct {
	SilenceTimeoutSeconds int
	MaxDurationSeconds    int
}

// conversation is the orchestrator surface the bridge drives.
type conversation interface {
	Start(ctx context.Context) error
	ProcessIncomingAudio(chunk []byte)
	End(reason string)
	Transcript() []internal_store.TranscriptEntry
}

// Bridge routes audio and lifecycle events for all active calls.
type Bridge struct {
	logger   commons.Logger
	store    internal_store.CallStore
	recorder *internal_recorder.Registry
	dialer   Dialer
	agents   AgentProvider
	keys     Keys
	defaults Defaults

	// convFactory builds the per-call pipeline; replaceable in tests.
	convFactory func(agent *internal_entity.Agent, events internal_orchestrator.Events) (conversation, error)

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds the process-wide bridge.
func New(logger commons.Logger, store internal_store.CallStore, recorder *internal_recorder.Registry,
	dialer Dialer, agents AgentProvider, keys Keys, defaults Defaults) *Bridge {
	b := &Bridge{
		logger:   logger,
		store:    store,
		recorder: recorder,
		dialer:   dialer,
		agents:   agents,
		keys:     keys,
		defaults: defaults,
		sessions: make(map[string]*session),
	}
	b.convFactory = b.buildConversation
	return b
}

// session is the bridge's view of one live call.
type session struct {
	callID string
	conv   conversation

	mu         sync.Mutex
	send       func(chunk []byte)
	hangup     func(reason string)
	pending    [][]byte
	dropped    int
	answeredAt time.Time

	finalOnce sync.Once
}

// deliver forwards outbound audio to the transport, buffering while the
// transport is not yet attached.
func (s *session) deliver(chunk []byte) {
	s.mu.Lock()
	if s.send == nil {
		if len(s.pending) < pendingAudioLimit {
			s.pending = append(s.pending, chunk)
		} else {
			s.dropped++
		}
		s.mu.Unlock()
		return
	}
	send := s.send
	s.mu.Unlock()
	send(chunk)
}

// attachTransport wires the send/teardown hooks and drains buffered audio
// in order.
func (s *session) attachTransport(send func(chunk []byte), hangup func(reason string)) {
	s.mu.Lock()
	s.send = send
	s.hangup = hangup
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, chunk := range pending {
		send(chunk)
	}
}

func (s *session) markAnswered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answeredAt.IsZero() {
		s.answeredAt = time.Now()
	}
}

func (s *session) callDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answeredAt.IsZero() {
		return 0
	}
	return time.Since(s.answeredAt)
}

// ====================================================================
// Outbound SIP calls
// ====================================================================

// StartOutboundCall dials customerNumber with the given agent and returns
// the call ID once the INVITE succeeds. The call then runs to completion in
// the background; its record is updated as it progresses.
func (b *Bridge) StartOutboundCall(ctx context.Context, agentID, customerNumber string) (string, error) {
	if b.dialer == nil {
		return "", fmt.Errorf("no SIP trunk configured")
	}
	agent, err := b.agents.GetAgent(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("failed to load agent %s: %w", agentID, err)
	}
	if err := agent.Validate(); err != nil {
		return "", err
	}
	agent.ApplyDefaults(b.defaults.SilenceTimeoutSeconds, b.defaults.MaxDurationSeconds)

	callID := uuid.NewString()
	if err := b.store.Create(ctx, &internal_store.CallRecord{
		ID:             callID,
		Status:         internal_store.StatusInitiated,
		AgentID:        agentID,
		CustomerNumber: customerNumber,
		StartedAt:      time.Now(),
	}); err != nil {
		return "", fmt.Errorf("failed to create call record: %w", err)
	}

	sess := &session{callID: callID}
	conv, err := b.convFactory(agent, internal_orchestrator.Events{
		OnAudio: func(chunk []byte) {
			sess.deliver(chunk)
			b.recorder.AddChunk(callID, chunk, internal_recorder.DirectionAgent)
		},
		OnEnded: func(reason string) {
			b.finishCall(sess, reason)
		},
	})
	if err != nil {
		return "", err
	}
	sess.conv = conv

	b.mu.Lock()
	b.sessions[callID] = sess
	b.mu.Unlock()
	b.recorder.Start(callID, internal_recorder.Meta{AgentID: agentID, CustomerNumber: customerNumber})

	leg, err := b.dialer.MakeCall(ctx, callID, customerNumber, sip_infra.CallHandlers{
		OnRinging: func() {
			b.updateStatus(callID, internal_store.StatusRinging)
		},
		OnAnswered: func() {
			sess.markAnswered()
			b.updateStatus(callID, internal_store.StatusInProgress)
			if err := conv.Start(context.Background()); err != nil {
				b.logger.Error("Failed to start conversation", "call_id", callID, "error", err)
				conv.End(internal_orchestrator.ReasonError)
			}
		},
		OnAudio: func(payload []byte) {
			conv.ProcessIncomingAudio(payload)
			b.recorder.AddChunk(callID, payload, internal_recorder.DirectionCaller)
		},
		OnEnded: func(reason string) {
			conv.End(reason)
		},
	})
	if err != nil {
		b.logger.Error("Call setup failed", "call_id", callID, "number", customerNumber, "error", err)
		conv.End(internal_orchestrator.ReasonTransportError)
		return "", err
	}

	sess.attachTransport(leg.SendAudio, func(reason string) {
		leg.Hangup(context.Background(), reason)
	})
	return callID, nil
}

// EndCall hangs up an active call on behalf of the platform user.
func (b *Bridge) EndCall(callID string) error {
	b.mu.Lock()
	sess, ok := b.sessions[callID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active call %s", callID)
	}
	sess.conv.End(internal_orchestrator.ReasonUserHangup)
	return nil
}

// ActiveCalls returns the number of live sessions.
func (b *Bridge) ActiveCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// ====================================================================
// Teardown
// ====================================================================

// finishCall runs the one-time teardown: transport hangup, recording
// upload, and the final record write.
func (b *Bridge) finishCall(sess *session, reason string) {
	sess.finalOnce.Do(func() {
		b.mu.Lock()
		delete(b.sessions, sess.callID)
		b.mu.Unlock()

		sess.mu.Lock()
		hangup := sess.hangup
		dropped := sess.dropped
		sess.mu.Unlock()
		if hangup != nil {
			hangup(reason)
		}
		if dropped > 0 {
			b.logger.Warn("Dropped outbound audio before transport attach",
				"call_id", sess.callID, "chunks", dropped)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		recordingURL, err := b.recorder.StopAndUpload(ctx, sess.callID)
		if err != nil {
			b.logger.Error("Failed to upload recording", "call_id", sess.callID, "error", err)
		}

		status := internal_store.StatusCompleted
		if reason == internal_orchestrator.ReasonTransportError || reason == internal_orchestrator.ReasonError {
			status = internal_store.StatusFailed
		}
		if err := b.store.Complete(ctx, sess.callID, status, reason,
			sess.conv.Transcript(), recordingURL, sess.callDuration()); err != nil {
			b.logger.Error("Failed to finalize call record", "call_id", sess.callID, "error", err)
		}
		b.logger.Info("Call finalized", "call_id", sess.callID, "status", status, "reason", reason)
	})
}

func (b *Bridge) updateStatus(callID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.UpdateStatus(ctx, callID, status); err != nil {
		b.logger.Warn("Failed to update call status", "call_id", callID, "status", status, "error", err)
	}
}

// ====================================================================
// Pipeline construction
// ====================================================================

// buildConversation assembles the real per-call STT/LLM/TTS pipeline.
func (b *Bridge) buildConversation(agent *internal_entity.Agent, events internal_orchestrator.Events) (conversation, error) {
	chat, err := internal_agent_llm.NewChat(b.logger, agent.Model, internal_agent_llm.ProviderKeys{
		OpenAI:    b.keys.OpenAI,
		Anthropic: b.keys.Anthropic,
	})
	if err != nil {
		return nil, err
	}

	tts, err := internal_synthesizer_elevenlabs.New(b.logger, b.keys.ElevenLabs)
	if err != nil {
		return nil, err
	}

	deps := internal_orchestrator.Deps{
		NewTranscriber: func(cb internal_orchestrator.STTCallbacks) (internal_orchestrator.Transcriber, error) {
			return internal_transcriber_deepgram.NewClient(b.logger, b.keys.Deepgram, agent.Transcriber,
				internal_transcriber_deepgram.Callbacks{
					OnInterim: cb.OnInterim,
					OnFinal:   cb.OnFinal,
					OnError:   cb.OnError,
				})
		},
		LLM: chat,
		TTS: tts,
	}
	return internal_orchestrator.New(b.logger, agent, deps, events), nil
}
