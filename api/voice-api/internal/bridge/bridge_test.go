// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package internal_bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_recorder "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/audio/recorder"
	internal_entity "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/entity"
	internal_orchestrator "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/orchestrator"
	internal_store "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/store"
	sip_infra "github.com/codevamp-f2fintech/ai-server/api/voice-api/sip/infra"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

// ====================================================================
// Fakes
// ====================================================================

type fakeStore struct {
	mu       sync.Mutex
	records  map[string]*internal_store.CallRecord
	statuses []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*internal_store.CallRecord)}
}

func (f *fakeStore) Create(_ context.Context, rec *internal_store.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, callID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	if rec, ok := f.records[callID]; ok {
		rec.Status = status
	}
	return nil
}

func (f *fakeStore) Get(_ context.Context, callID string) (*internal_store.CallRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[callID]
	if !ok {
		return nil, errors.New("not found")
	}
	return rec, nil
}

func (f *fakeStore) Complete(_ context.Context, callID, status, reason string,
	transcript []internal_store.TranscriptEntry, recordingURL string, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[callID]
	if !ok {
		return errors.New("not found")
	}
	rec.Status = status
	rec.EndedReason = reason
	rec.RecordingURL = recordingURL
	rec.DurationSeconds = duration.Seconds()
	return nil
}

func (f *fakeStore) record(callID string) *internal_store.CallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[callID]
}

type fakeAgents struct {
	agent *internal_entity.Agent
	err   error
}

func (f *fakeAgents) GetAgent(context.Context, string) (*internal_entity.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	// Copy: the bridge mutates defaults.
	a := *f.agent
	return &a, nil
}

type fakeLeg struct {
	mu     sync.Mutex
	audio  [][]byte
	hungup []string
}

func (f *fakeLeg) SendAudio(audio []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, audio)
}

func (f *fakeLeg) Hangup(_ context.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hungup = append(f.hungup, reason)
}

type fakeDialer struct {
	leg      *fakeLeg
	err      error
	handlers sip_infra.CallHandlers
}

func (f *fakeDialer) MakeCall(_ context.Context, _, _ string, handlers sip_infra.CallHandlers) (CallLeg, error) {
	f.handlers = handlers
	if f.err != nil {
		return nil, f.err
	}
	// A real dialer answers before returning when the peer picks up fast.
	if handlers.OnRinging != nil {
		handlers.OnRinging()
	}
	if handlers.OnAnswered != nil {
		handlers.OnAnswered()
	}
	return f.leg, nil
}

type fakeConversation struct {
	mu      sync.Mutex
	events  internal_orchestrator.Events
	started bool
	audio   [][]byte
	ended   []string
	endOnce sync.Once
}

func (f *fakeConversation) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeConversation) ProcessIncomingAudio(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, chunk)
}

func (f *fakeConversation) End(reason string) {
	f.endOnce.Do(func() {
		f.mu.Lock()
		f.ended = append(f.ended, reason)
		f.mu.Unlock()
		if f.events.OnEnded != nil {
			f.events.OnEnded(reason)
		}
	})
}

func (f *fakeConversation) Transcript() []internal_store.TranscriptEntry {
	return []internal_store.TranscriptEntry{{Role: "assistant", Content: "Hello."}}
}

// ====================================================================
// Harness
// ====================================================================

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return logger
}

func testAgent() *internal_entity.Agent {
	return &internal_entity.Agent{
		ID:               "agent-1",
		FirstMessage:     "Hello.",
		FirstMessageMode: internal_entity.AssistantSpeaksFirst,
		Model:            internal_entity.ModelConfig{Provider: "openai", ModelName: "gpt-4o-mini"},
		Voice:            internal_entity.VoiceConfig{Provider: "elevenlabs", VoiceID: "v1"},
		Transcriber:      internal_entity.TranscriberConfig{Provider: "deepgram"},
	}
}

type testBridge struct {
	bridge *Bridge
	store  *fakeStore
	dialer *fakeDialer
	conv   *fakeConversation
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	tb := &testBridge{
		store:  newFakeStore(),
		dialer: &fakeDialer{leg: &fakeLeg{}},
		conv:   &fakeConversation{},
	}
	logger := newTestLogger(t)
	tb.bridge = New(logger, tb.store, internal_recorder.NewRegistry(logger, nil),
		tb.dialer, &fakeAgents{agent: testAgent()}, Keys{}, Defaults{SilenceTimeoutSeconds: 300, MaxDurationSeconds: 1000})
	tb.bridge.convFactory = func(_ *internal_entity.Agent, events internal_orchestrator.Events) (conversation, error) {
		tb.conv.events = events
		return tb.conv, nil
	}
	return tb
}

// ====================================================================
// Tests
// ====================================================================

func TestBridge_OutboundCallLifecycle(t *testing.T) {
	tb := newTestBridge(t)

	callID, err := tb.bridge.StartOutboundCall(context.Background(), "agent-1", "+919876543210")
	require.NoError(t, err)
	require.NotEmpty(t, callID)
	assert.Equal(t, 1, tb.bridge.ActiveCalls())

	// Ringing and answer were reflected in the record.
	assert.Equal(t, []string{internal_store.StatusRinging, internal_store.StatusInProgress}, tb.store.statuses)
	tb.conv.mu.Lock()
	assert.True(t, tb.conv.started)
	tb.conv.mu.Unlock()

	// Caller audio reaches the conversation.
	inbound := []byte{0x01, 0x02}
	tb.dialer.handlers.OnAudio(inbound)
	tb.conv.mu.Lock()
	assert.Equal(t, [][]byte{inbound}, tb.conv.audio)
	tb.conv.mu.Unlock()

	// Conversation audio reaches the transport.
	outbound := []byte{0xA0, 0xB0}
	tb.conv.events.OnAudio(outbound)
	tb.dialer.leg.mu.Lock()
	assert.Equal(t, [][]byte{outbound}, tb.dialer.leg.audio)
	tb.dialer.leg.mu.Unlock()

	// Remote hangup flows through to finalization.
	tb.dialer.handlers.OnEnded(sip_infra.ReasonRemoteHangup)

	require.Eventually(t, func() bool { return tb.bridge.ActiveCalls() == 0 },
		2*time.Second, 5*time.Millisecond)
	rec := tb.store.record(callID)
	require.NotNil(t, rec)
	assert.Equal(t, internal_store.StatusCompleted, rec.Status)
	assert.Equal(t, internal_orchestrator.ReasonRemoteHangup, rec.EndedReason)

	tb.dialer.leg.mu.Lock()
	assert.Equal(t, []string{internal_orchestrator.ReasonRemoteHangup}, tb.dialer.leg.hungup)
	tb.dialer.leg.mu.Unlock()
}

func TestBridge_DialFailureMarksCallFailed(t *testing.T) {
	tb := newTestBridge(t)
	tb.dialer.err = errors.New("486 Busy Here")

	_, err := tb.bridge.StartOutboundCall(context.Background(), "agent-1", "+919876543210")
	require.Error(t, err)

	require.Eventually(t, func() bool { return tb.bridge.ActiveCalls() == 0 },
		2*time.Second, 5*time.Millisecond)

	var rec *internal_store.CallRecord
	tb.store.mu.Lock()
	for _, r := range tb.store.records {
		rec = r
	}
	tb.store.mu.Unlock()
	require.NotNil(t, rec)
	assert.Equal(t, internal_store.StatusFailed, rec.Status)
	assert.Equal(t, internal_orchestrator.ReasonTransportError, rec.EndedReason)
}

func TestBridge_AgentLoadFailureRejectsSetup(t *testing.T) {
	tb := newTestBridge(t)
	tb.bridge.agents = &fakeAgents{err: errors.New("unknown agent")}

	_, err := tb.bridge.StartOutboundCall(context.Background(), "missing", "+919876543210")
	require.Error(t, err)
	assert.Empty(t, tb.store.records)
	assert.Zero(t, tb.bridge.ActiveCalls())
}

func TestBridge_InvalidAgentRejected(t *testing.T) {
	tb := newTestBridge(t)
	agent := testAgent()
	agent.ID = "" // fails validation
	tb.bridge.agents = &fakeAgents{agent: agent}

	_, err := tb.bridge.StartOutboundCall(context.Background(), "agent-1", "+919876543210")
	require.Error(t, err)
	assert.Empty(t, tb.store.records)
}

func TestBridge_EndCallHangsUpWithUserReason(t *testing.T) {
	tb := newTestBridge(t)

	callID, err := tb.bridge.StartOutboundCall(context.Background(), "agent-1", "+919876543210")
	require.NoError(t, err)

	require.NoError(t, tb.bridge.EndCall(callID))
	require.Eventually(t, func() bool { return tb.bridge.ActiveCalls() == 0 },
		2*time.Second, 5*time.Millisecond)

	rec := tb.store.record(callID)
	assert.Equal(t, internal_store.StatusCompleted, rec.Status)
	assert.Equal(t, internal_orchestrator.ReasonUserHangup, rec.EndedReason)

	assert.Error(t, tb.bridge.EndCall(callID), "finished call is no longer active")
}

func TestBridge_AudioBeforeTransportAttachIsBuffered(t *testing.T) {
	sess := &session{callID: "c1"}

	early := [][]byte{{0x01}, {0x02}, {0x03}}
	for _, chunk := range early {
		sess.deliver(chunk)
	}

	var sent [][]byte
	sess.attachTransport(func(chunk []byte) { sent = append(sent, chunk) }, nil)
	assert.Equal(t, early, sent, "buffered audio must drain in order")

	sess.deliver([]byte{0x04})
	assert.Len(t, sent, 4)
}

func TestBridge_PendingAudioBounded(t *testing.T) {
	sess := &session{callID: "c1"}
	for i := 0; i < pendingAudioLimit+50; i++ {
		sess.deliver([]byte{byte(i)})
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	assert.Len(t, sess.pending, pendingAudioLimit)
	assert.Equal(t, 50, sess.dropped)
}
