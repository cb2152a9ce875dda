// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package internal_bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_recorder "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/audio/recorder"
	internal_orchestrator "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/orchestrator"
	internal_store "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/store"
	"github.com/codevamp-f2fintech/ai-server/pkg/utils"
)

// startBufferLimit bounds inbound media frames held between the start
// event and session readiness (agent loaded, pipeline built).
const startBufferLimit = 500

// Inbound media-stream frames. µ-law 8 kHz mono, base64 in media.payload.
type streamFrame struct {
	Event string       `json:"event"`
	Start *streamStart `json:"start,omitempty"`
	Media *streamMedia `json:"media,omitempty"`
}

type streamStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type streamMedia struct {
	Payload string `json:"payload"`
}

// outFrame is the only outbound frame shape: synthesized audio back to the
// stream.
type outFrame struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Media     streamMedia `json:"media"`
}

// mediaStream is one hosted WebSocket call leg.
type mediaStream struct {
	bridge *Bridge
	conn   *websocket.Conn

	writeMu sync.Mutex

	stateMu   sync.Mutex
	streamSid string
	sess      *session
	ready     bool
	buffered  [][]byte
	stopped   bool
}

// ServeMediaStream runs one hosted media-stream connection to completion.
// The caller has already upgraded the HTTP request.
func (b *Bridge) ServeMediaStream(conn *websocket.Conn) {
	ms := &mediaStream{bridge: b, conn: conn}
	defer ms.teardown(internal_orchestrator.ReasonRemoteHangup)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.logger.Debugw("Media stream closed", "error", err)
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Warn("Dropping malformed media-stream frame", "error", err)
			continue
		}

		switch frame.Event {
		case "start":
			ms.handleStart(frame.Start)
		case "media":
			ms.handleMedia(frame.Media)
		case "stop":
			return
		default:
			b.logger.Debugw("Ignoring media-stream event", "event", frame.Event)
		}
	}
}

// handleStart kicks off session setup in the background; media frames keep
// arriving and are buffered until the pipeline is ready.
func (ms *mediaStream) handleStart(start *streamStart) {
	if start == nil {
		ms.bridge.logger.Warn("Media stream start event without payload")
		return
	}

	ms.stateMu.Lock()
	if ms.sess != nil {
		ms.stateMu.Unlock()
		return
	}
	ms.streamSid = start.StreamSid
	ms.sess = &session{callID: start.CallSid}
	ms.stateMu.Unlock()

	go ms.setupSession(start)
}

func (ms *mediaStream) setupSession(start *streamStart) {
	b := ms.bridge
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	agentID := start.CustomParameters["agentId"]
	agent, err := b.agents.GetAgent(ctx, agentID)
	if err == nil {
		err = agent.Validate()
	}
	if err != nil {
		b.logger.Error("Media stream rejected", "call_sid", start.CallSid, "agent_id", agentID, "error", err)
		ms.conn.Close()
		return
	}
	agent.ApplyDefaults(b.defaults.SilenceTimeoutSeconds, b.defaults.MaxDurationSeconds)

	callID := utils.FirstNonEmpty(start.CallSid, start.StreamSid)
	if err := b.store.Create(ctx, &internal_store.CallRecord{
		ID:        callID,
		Status:    internal_store.StatusInProgress,
		AgentID:   agentID,
		StartedAt: time.Now(),
	}); err != nil {
		b.logger.Error("Failed to create call record for media stream", "call_id", callID, "error", err)
		ms.conn.Close()
		return
	}

	ms.stateMu.Lock()
	sess := ms.sess
	sess.callID = callID
	ms.stateMu.Unlock()

	conv, err := b.convFactory(agent, internal_orchestrator.Events{
		OnAudio: func(chunk []byte) {
			sess.deliver(chunk)
			b.recorder.AddChunk(callID, chunk, internal_recorder.DirectionAgent)
		},
		OnEnded: func(reason string) {
			b.finishCall(sess, reason)
			ms.conn.Close()
		},
	})
	if err != nil {
		b.logger.Error("Failed to build media stream pipeline", "call_id", callID, "error", err)
		ms.conn.Close()
		return
	}
	sess.conv = conv

	b.mu.Lock()
	b.sessions[callID] = sess
	b.mu.Unlock()
	b.recorder.Start(callID, internal_recorder.Meta{AgentID: agentID})

	sess.markAnswered()
	sess.attachTransport(ms.sendMedia, func(string) { ms.conn.Close() })

	if err := conv.Start(context.Background()); err != nil {
		b.logger.Error("Failed to start media stream conversation", "call_id", callID, "error", err)
		conv.End(internal_orchestrator.ReasonError)
		return
	}

	// The session is live: replay media that arrived during setup.
	ms.stateMu.Lock()
	buffered := ms.buffered
	ms.buffered = nil
	ms.ready = true
	ms.stateMu.Unlock()

	for _, chunk := range buffered {
		conv.ProcessIncomingAudio(chunk)
		b.recorder.AddChunk(callID, chunk, internal_recorder.DirectionCaller)
	}
}

func (ms *mediaStream) handleMedia(media *streamMedia) {
	if media == nil {
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		ms.bridge.logger.Debugw("Dropping undecodable media payload", "error", err)
		return
	}

	ms.stateMu.Lock()
	if !ms.ready {
		if len(ms.buffered) < startBufferLimit {
			ms.buffered = append(ms.buffered, chunk)
		}
		ms.stateMu.Unlock()
		return
	}
	sess := ms.sess
	ms.stateMu.Unlock()

	sess.conv.ProcessIncomingAudio(chunk)
	ms.bridge.recorder.AddChunk(sess.callID, chunk, internal_recorder.DirectionCaller)
}

// sendMedia writes one outbound audio frame. Writes are serialized: the
// websocket forbids concurrent writers.
func (ms *mediaStream) sendMedia(chunk []byte) {
	ms.stateMu.Lock()
	streamSid := ms.streamSid
	ms.stateMu.Unlock()

	frame := outFrame{
		Event:     "media",
		StreamSid: streamSid,
		Media:     streamMedia{Payload: base64.StdEncoding.EncodeToString(chunk)},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	ms.writeMu.Lock()
	defer ms.writeMu.Unlock()
	if err := ms.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ms.bridge.logger.Debugw("Media stream write failed", "error", err)
	}
}

// teardown ends the conversation when the socket closes or stop arrives.
func (ms *mediaStream) teardown(reason string) {
	ms.stateMu.Lock()
	sess := ms.sess
	stopped := ms.stopped
	ms.stopped = true
	ms.stateMu.Unlock()

	if stopped || sess == nil || sess.conv == nil {
		return
	}
	sess.conv.End(reason)
}
