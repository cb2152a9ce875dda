// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package internal_orchestrator runs one conversation per call: a state
// machine that feeds caller audio to the transcriber, turns committed
// utterances into LLM replies, and streams synthesized speech back out.
package internal_orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	internal_entity "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/entity"
	internal_store "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/store"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

// State of a conversation. Ended is absorbing.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
	StateEnded     State = "ended"
)

// Reasons a conversation ends with. OnEnded carries exactly one of these.
const (
	ReasonUserHangup     = "user_hangup"
	ReasonRemoteHangup   = "remote_hangup"
	ReasonSilenceTimeout = "silence_timeout"
	ReasonMaxDuration    = "max_duration"
	ReasonTransportError = "transport_error"
	ReasonError          = "error"
)

const (
	// apologyText is spoken when LLM or TTS fails mid-turn.
	apologyText = "Sorry, I encountered an issue. Could you please repeat that?"

	// sttErrorWindow: a second recognizer error inside this window ends
	// the call instead of being logged and ridden out.
	sttErrorWindow = 5 * time.Second
)

// Transcriber is the speech-to-text session owned by the conversation.
type Transcriber interface {
	Start(ctx context.Context) error
	SendAudio(chunk []byte) error
	ClearBuffer()
	SetMuted(muted bool)
	Close()
}

// STTCallbacks receive recognizer events; the conversation wires them to
// its own handlers when building the transcriber.
type STTCallbacks struct {
	OnInterim func(text string)
	OnFinal   func(text string)
	OnError   func(err error)
}

// TranscriberFactory builds the STT session with the conversation's
// callbacks already attached.
type TranscriberFactory func(cb STTCallbacks) (Transcriber, error)

// Responder is the LLM chat session.
type Responder interface {
	GetResponse(ctx context.Context, userText string, onChunk func(chunk string)) (string, error)
	AppendAssistant(text string)
}

// Synthesizer streams µ-law speech for a piece of text. Stop aborts the
// in-flight stream; Reset rearms for the next one.
type Synthesizer interface {
	TextToSpeechStream(ctx context.Context, text string, voice internal_entity.VoiceConfig, onChunk func(chunk []byte)) error
	Stop()
	Reset()
}

// Events are the conversation's outputs: outbound audio and the single
// lifecycle end event.
type Events struct {
	OnAudio func(chunk []byte)
	OnEnded func(reason string)
}

// Deps are the per-call collaborators. The conversation owns all of them.
type Deps struct {
	NewTranscriber TranscriberFactory
	LLM            Responder
	TTS            Synthesizer
}

// Conversation is the per-call state machine. All state transitions happen
// under mu; the LLM/TTS pipeline for a turn runs on its own goroutine and
// re-checks aborted at every await boundary.
type Conversation struct {
	logger commons.Logger
	agent  *internal_entity.Agent
	deps   Deps
	events Events

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	aborted      bool
	stt          Transcriber
	transcript   []internal_store.TranscriptEntry
	silenceTimer *time.Timer
	maxTimer     *time.Timer
	lastSTTError time.Time

	endOnce sync.Once
}

// New builds an idle conversation for one call.
func New(logger commons.Logger, agent *internal_entity.Agent, deps Deps, events Events) *Conversation {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conversation{
		logger: logger,
		agent:  agent,
		deps:   deps,
		events: events,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
}

// State returns the current conversation state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns a copy of the conversation log so far.
func (c *Conversation) Transcript() []internal_store.TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]internal_store.TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Start opens the recognizer, arms the max-duration timer, and either
// speaks the first message or begins listening. Called once, after the
// transport has answered.
func (c *Conversation) Start(ctx context.Context) error {
	stt, err := c.deps.NewTranscriber(STTCallbacks{
		OnInterim: c.handleInterim,
		OnFinal:   c.handleCommitted,
		OnError:   c.handleSTTError,
	})
	if err != nil {
		return fmt.Errorf("failed to build transcriber: %w", err)
	}
	if err := stt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transcriber: %w", err)
	}

	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		stt.Close()
		return fmt.Errorf("conversation already ended")
	}
	c.stt = stt
	if c.agent.MaxDurationSeconds > 0 {
		c.maxTimer = time.AfterFunc(time.Duration(c.agent.MaxDurationSeconds)*time.Second, func() {
			c.End(ReasonMaxDuration)
		})
	}

	speaksFirst := c.agent.FirstMessageMode == internal_entity.AssistantSpeaksFirst && c.agent.FirstMessage != ""
	if speaksFirst {
		c.state = StateSpeaking
		c.stt.SetMuted(true)
	} else {
		c.state = StateListening
		c.armSilenceTimerLocked()
	}
	c.mu.Unlock()

	if speaksFirst {
		// No response delay before the opener.
		go c.speakFirstMessage()
	}
	return nil
}

// ProcessIncomingAudio ships caller audio to the recognizer. Audio keeps
// flowing while the agent speaks; the transcriber discards the results.
func (c *Conversation) ProcessIncomingAudio(chunk []byte) {
	c.mu.Lock()
	stt := c.stt
	aborted := c.aborted
	c.mu.Unlock()
	if aborted || stt == nil {
		return
	}
	if err := stt.SendAudio(chunk); err != nil {
		c.logger.Debugw("Failed to ship audio to recognizer", "error", err)
	}
}

// End finishes the conversation. Idempotent; exactly one OnEnded fires.
func (c *Conversation) End(reason string) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.aborted = true
		c.state = StateEnded
		if c.silenceTimer != nil {
			c.silenceTimer.Stop()
		}
		if c.maxTimer != nil {
			c.maxTimer.Stop()
		}
		stt := c.stt
		c.mu.Unlock()

		c.cancel()
		c.deps.TTS.Stop()
		if stt != nil {
			stt.Close()
		}

		c.logger.Info("Conversation ended", "agent_id", c.agent.ID, "reason", reason)
		if c.events.OnEnded != nil {
			c.events.OnEnded(reason)
		}
	})
}

// ====================================================================
// Recognizer events
// ====================================================================

func (c *Conversation) handleInterim(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted || c.state != StateListening {
		return
	}
	// The caller is talking: push the silence deadline out.
	c.armSilenceTimerLocked()
}

// handleCommitted runs the turn pipeline for one finalized user utterance.
// Utterances arriving outside listening are dropped: the transcriber is
// muted during thinking/speaking, so these are stragglers from teardown.
func (c *Conversation) handleCommitted(text string) {
	c.mu.Lock()
	if c.aborted || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.state = StateThinking
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
	}
	c.stt.SetMuted(true)
	c.appendTranscriptLocked("user", text)
	c.mu.Unlock()

	c.logger.Info("User utterance committed", "agent_id", c.agent.ID, "text", text)

	go c.runTurn(text)
}

func (c *Conversation) handleSTTError(err error) {
	c.mu.Lock()
	repeat := !c.lastSTTError.IsZero() && time.Since(c.lastSTTError) < sttErrorWindow
	c.lastSTTError = time.Now()
	c.mu.Unlock()

	if repeat {
		c.logger.Error("Recognizer failing repeatedly, ending call", "agent_id", c.agent.ID, "error", err)
		c.End(ReasonError)
		return
	}
	c.logger.Warn("Recognizer error, continuing", "agent_id", c.agent.ID, "error", err)
}

// ====================================================================
// Turn pipeline
// ====================================================================

// runTurn takes one committed utterance through delay, LLM, and TTS.
func (c *Conversation) runTurn(utterance string) {
	// Drop any echo the recognizer buffered while the user finished.
	c.clearSTT()

	if delay := c.agent.ResponseDelaySeconds; delay > 0 {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(time.Duration(delay * float64(time.Second))):
		}
	}
	if c.isAborted() {
		return
	}

	reply, err := c.deps.LLM.GetResponse(c.ctx, utterance, nil)
	if c.isAborted() {
		return
	}
	if err != nil {
		c.logger.Error("LLM request failed", "agent_id", c.agent.ID, "error", err)
		c.recoverWithApology()
		return
	}

	if !c.setState(StateThinking, StateSpeaking) {
		return
	}
	c.appendTranscript("assistant", reply)

	if err := c.speak(reply); err != nil {
		if c.isAborted() {
			return
		}
		c.logger.Error("TTS failed", "agent_id", c.agent.ID, "error", err)
		c.recoverWithApology()
		return
	}

	c.backToListening()
}

// speakFirstMessage delivers the configured opener and starts listening.
func (c *Conversation) speakFirstMessage() {
	msg := c.agent.FirstMessage
	c.deps.LLM.AppendAssistant(msg)
	c.appendTranscript("assistant", msg)

	if err := c.speak(msg); err != nil {
		if c.isAborted() {
			return
		}
		c.logger.Error("Failed to speak first message", "agent_id", c.agent.ID, "error", err)
		c.End(ReasonError)
		return
	}
	c.backToListening()
}

// speak streams one piece of text through TTS to the transport.
func (c *Conversation) speak(text string) error {
	// Suppress recognizer output that would transcribe our own voice.
	c.clearSTT()
	c.deps.TTS.Reset()

	return c.deps.TTS.TextToSpeechStream(c.ctx, text, c.agent.Voice, func(chunk []byte) {
		if c.isAborted() {
			return
		}
		if c.events.OnAudio != nil {
			c.events.OnAudio(chunk)
		}
	})
}

// recoverWithApology speaks the fixed apology and returns to listening.
// If even the apology cannot be spoken the session ends with reason error.
func (c *Conversation) recoverWithApology() {
	if !c.setState(StateThinking, StateSpeaking) && !c.setState(StateSpeaking, StateSpeaking) {
		return
	}
	c.deps.LLM.AppendAssistant(apologyText)
	c.appendTranscript("assistant", apologyText)

	if err := c.speak(apologyText); err != nil {
		if c.isAborted() {
			return
		}
		c.logger.Error("Failed to speak apology", "agent_id", c.agent.ID, "error", err)
		c.End(ReasonError)
		return
	}
	c.backToListening()
}

// backToListening re-opens the floor to the caller after speaking.
func (c *Conversation) backToListening() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return
	}
	c.state = StateListening
	c.stt.SetMuted(false)
	c.armSilenceTimerLocked()
}

// ====================================================================
// Helpers
// ====================================================================

func (c *Conversation) isAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// setState transitions from → to; reports false if the conversation is no
// longer in from (ended, typically).
func (c *Conversation) setState(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted || c.state != from {
		return false
	}
	c.state = to
	return true
}

func (c *Conversation) clearSTT() {
	c.mu.Lock()
	stt := c.stt
	c.mu.Unlock()
	if stt != nil {
		stt.ClearBuffer()
	}
}

func (c *Conversation) armSilenceTimerLocked() {
	if c.agent.SilenceTimeoutSeconds <= 0 {
		return
	}
	d := time.Duration(c.agent.SilenceTimeoutSeconds) * time.Second
	if c.silenceTimer == nil {
		c.silenceTimer = time.AfterFunc(d, func() {
			c.End(ReasonSilenceTimeout)
		})
		return
	}
	c.silenceTimer.Reset(d)
}

func (c *Conversation) appendTranscript(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendTranscriptLocked(role, content)
}

func (c *Conversation) appendTranscriptLocked(role, content string) {
	c.transcript = append(c.transcript, internal_store.TranscriptEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}
