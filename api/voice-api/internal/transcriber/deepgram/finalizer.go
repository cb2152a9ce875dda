// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package internal_transcriber_deepgram

import (
	"strings"
	"sync"
	"time"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

const (
	// interimFallbackDelay is how long we wait after the newest interim
	// before promoting it to a final ourselves. Recognizers sometimes never
	// send a final for the last phrase of a turn.
	interimFallbackDelay = 1500 * time.Millisecond

	// clearBufferSuppression drops every recognizer event for a short window
	// after ClearBuffer. Audio already in flight when the agent starts
	// speaking would otherwise surface as a phantom user turn.
	clearBufferSuppression = 500 * time.Millisecond
)

// finalizer collapses the recognizer's noisy interim/final event stream into
// exactly one committed utterance per user speech turn.
type finalizer struct {
	logger    commons.Logger
	onInterim func(text string)
	onFinal   func(text string)

	mu          sync.Mutex
	lastInterim string
	fallback    *time.Timer
	ignoreUntil time.Time
	muted       bool
	closed      bool
}

func newFinalizer(logger commons.Logger, onInterim, onFinal func(text string)) *finalizer {
	return &finalizer{
		logger:    logger,
		onInterim: onInterim,
		onFinal:   onFinal,
	}
}

func (f *finalizer) ignoring() bool {
	return f.muted || time.Now().Before(f.ignoreUntil)
}

// HandleInterim records a new interim hypothesis and re-arms the fallback
// timer. Empty interims are noise and are dropped.
func (f *finalizer) HandleInterim(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	f.mu.Lock()
	if f.closed || f.ignoring() {
		f.mu.Unlock()
		return
	}
	f.lastInterim = text
	f.armFallbackLocked()
	cb := f.onInterim
	f.mu.Unlock()

	if cb != nil {
		cb(text)
	}
}

// HandleFinal commits a recognizer final. An empty final salvages the last
// interim instead of dropping the turn.
func (f *finalizer) HandleFinal(text string) {
	text = strings.TrimSpace(text)

	f.mu.Lock()
	if f.closed || f.ignoring() {
		f.mu.Unlock()
		return
	}
	if text == "" {
		text = f.lastInterim
	}
	if text == "" {
		f.mu.Unlock()
		return
	}
	f.commitLocked()
	cb := f.onFinal
	f.mu.Unlock()

	cb(text)
}

// HandleUtteranceEnd salvages a pending interim when the recognizer signals
// end of speech without ever sending a final.
func (f *finalizer) HandleUtteranceEnd() {
	f.mu.Lock()
	if f.closed || f.ignoring() || f.lastInterim == "" {
		f.mu.Unlock()
		return
	}
	text := f.lastInterim
	f.commitLocked()
	cb := f.onFinal
	f.mu.Unlock()

	f.logger.Debug("Utterance salvaged on UtteranceEnd", "text", text)
	cb(text)
}

// ClearBuffer discards pending state and suppresses all recognizer events
// for the suppression window. Called when the agent starts or stops speaking.
func (f *finalizer) ClearBuffer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitLocked()
	f.ignoreUntil = time.Now().Add(clearBufferSuppression)
}

// SetMuted suppresses recognizer events while the agent is speaking.
func (f *finalizer) SetMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = muted
	if muted {
		f.commitLocked()
	}
}

// Close stops the fallback timer permanently.
func (f *finalizer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.commitLocked()
}

// commitLocked resets per-turn state: pending interim gone, timer disarmed.
func (f *finalizer) commitLocked() {
	f.lastInterim = ""
	if f.fallback != nil {
		f.fallback.Stop()
		f.fallback = nil
	}
}

func (f *finalizer) armFallbackLocked() {
	if f.fallback != nil {
		f.fallback.Stop()
	}
	f.fallback = time.AfterFunc(interimFallbackDelay, f.fireFallback)
}

func (f *finalizer) fireFallback() {
	f.mu.Lock()
	if f.closed || f.ignoring() || f.lastInterim == "" {
		f.mu.Unlock()
		return
	}
	text := f.lastInterim
	f.commitLocked()
	cb := f.onFinal
	f.mu.Unlock()

	f.logger.Debug("Interim promoted to final after fallback timeout", "text", text)
	cb(text)
}
