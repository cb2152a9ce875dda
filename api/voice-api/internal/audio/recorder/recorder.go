// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package internal_recorder accumulates per-call µ-law audio on two tracks
// (caller and agent), mixes them on stop and hands the WAV to the object
// store. One process-wide Registry holds every active recording, keyed by
// call ID.
package internal_recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	internal_audio "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/audio"
	internal_storage "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/storage"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

// Direction identifies which side of the call produced an audio chunk.
type Direction string

const (
	DirectionCaller Direction = "caller"
	DirectionAgent  Direction = "agent"
)

// Meta describes the call a recording belongs to.
type Meta struct {
	AgentID        string
	CustomerNumber string
}

type recording struct {
	mu        sync.Mutex
	caller    []byte
	agent     []byte
	startedAt time.Time
	meta      Meta
}

// Registry is the process-wide recording sink. With no uploader configured
// it is a silent no-op: chunks are discarded and StopAndUpload returns "".
type Registry struct {
	logger   commons.Logger
	uploader internal_storage.Uploader

	mu     sync.Mutex
	active map[string]*recording
}

// NewRegistry creates the recording registry. uploader may be nil.
func NewRegistry(logger commons.Logger, uploader internal_storage.Uploader) *Registry {
	return &Registry{
		logger:   logger,
		uploader: uploader,
		active:   make(map[string]*recording),
	}
}

// Enabled reports whether recordings are persisted at all.
func (r *Registry) Enabled() bool {
	return r.uploader != nil
}

// Start opens a recording for the call. Idempotent: a second Start for the
// same call ID is ignored.
func (r *Registry) Start(callID string, meta Meta) {
	if !r.Enabled() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[callID]; ok {
		return
	}
	r.active[callID] = &recording{
		startedAt: time.Now(),
		meta:      meta,
	}
	r.logger.Debug("Recording started", "call_id", callID, "agent_id", meta.AgentID)
}

// AddChunk appends µ-law audio to the call's track for the given direction.
// Unknown call IDs are ignored (call ended, or recording disabled).
func (r *Registry) AddChunk(callID string, chunk []byte, direction Direction) {
	if !r.Enabled() || len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	rec, ok := r.active[callID]
	r.mu.Unlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	switch direction {
	case DirectionCaller:
		rec.caller = append(rec.caller, chunk...)
	case DirectionAgent:
		rec.agent = append(rec.agent, chunk...)
	}
}

// StopAndUpload mixes both tracks, wraps the result in a µ-law WAV, uploads
// it and deletes the recording state. Returns the recording URL, or "" when
// recording is disabled or the call produced no audio.
func (r *Registry) StopAndUpload(ctx context.Context, callID string) (string, error) {
	if !r.Enabled() {
		return "", nil
	}

	r.mu.Lock()
	rec, ok := r.active[callID]
	delete(r.active, callID)
	r.mu.Unlock()
	if !ok {
		return "", nil
	}

	rec.mu.Lock()
	caller, agent := rec.caller, rec.agent
	meta, startedAt := rec.meta, rec.startedAt
	rec.mu.Unlock()

	if len(caller) == 0 && len(agent) == 0 {
		r.logger.Debug("Recording empty, skipping upload", "call_id", callID)
		return "", nil
	}

	mixed := internal_audio.MixMulaw(caller, agent)
	wav := internal_audio.MulawWAV(mixed)

	key := fmt.Sprintf("recordings/%s/%s.wav", startedAt.Format("2006-01-02"), callID)
	url, err := r.uploader.Upload(ctx, key, wav, "audio/wav")
	if err != nil {
		return "", fmt.Errorf("failed to upload recording for call %s: %w", callID, err)
	}

	r.logger.Info("Recording uploaded",
		"call_id", callID,
		"agent_id", meta.AgentID,
		"duration_s", float64(len(mixed))/float64(internal_audio.TelephonySampleRate),
		"url", url)
	return url, nil
}
