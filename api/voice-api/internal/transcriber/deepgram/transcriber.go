// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package internal_transcriber_deepgram streams telephony audio to the
// Deepgram live API and surfaces committed user utterances. The raw
// recognizer events are noisy (empty finals, missing finals, echo during
// agent speech); the finalizer in this package is what guarantees exactly
// one committed utterance per user turn.
package internal_transcriber_deepgram

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	internal_entity "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/entity"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

var initOnce sync.Once

// Callbacks receives the distilled transcription events.
type Callbacks struct {
	OnInterim func(text string)
	OnFinal   func(text string)
	OnError   func(err error)
}

// liveClient is the slice of the Deepgram websocket client we use.
type liveClient interface {
	Connect() bool
	WriteBinary(data []byte) error
	Finalize() error
	Stop()
}

// Client is one live recognizer session, bound to a single call.
type Client struct {
	logger    commons.Logger
	apiKey    string
	cfg       internal_entity.TranscriberConfig
	callbacks Callbacks
	finalizer *finalizer

	mu      sync.Mutex
	dg      liveClient
	started bool
	closed  bool
}

// NewClient builds an unconnected recognizer session.
func NewClient(logger commons.Logger, apiKey string, cfg internal_entity.TranscriberConfig, callbacks Callbacks) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key is not configured")
	}
	if callbacks.OnFinal == nil {
		return nil, fmt.Errorf("transcriber requires an OnFinal callback")
	}

	c := &Client{
		logger:    logger,
		apiKey:    apiKey,
		cfg:       cfg,
		callbacks: callbacks,
	}
	c.finalizer = newFinalizer(logger, callbacks.OnInterim, callbacks.OnFinal)
	return c, nil
}

// Start opens the websocket and begins streaming. Must be called before
// SendAudio.
func (c *Client) Start(ctx context.Context) error {
	initOnce.Do(func() {
		listen.Init(listen.InitLib{LogLevel: listen.LogLevelDefault})
	})

	model := c.cfg.ModelName
	if model == "" {
		model = "nova-2"
	}
	language := c.cfg.Language
	if language == "" {
		language = "en"
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          model,
		Language:       language,
		Encoding:       c.cfg.Encoding,
		SampleRate:     c.cfg.SampleRate,
		Channels:       1,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		VadEvents:      true,
		Endpointing:    strconv.Itoa(c.cfg.EndpointingMs),
		UtteranceEndMs: strconv.Itoa(c.cfg.UtteranceEndMs),
	}
	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	dg, err := listen.NewWSUsingCallback(ctx, c.apiKey, cOptions, tOptions, &dgHandler{client: c})
	if err != nil {
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}
	if !dg.Connect() {
		return fmt.Errorf("failed to connect to deepgram")
	}

	c.mu.Lock()
	c.dg = dg
	c.started = true
	c.mu.Unlock()

	c.logger.Info("Recognizer connected",
		"model", model, "language", language,
		"encoding", c.cfg.Encoding, "sample_rate", c.cfg.SampleRate)
	return nil
}

// SendAudio forwards one audio chunk to the recognizer. Chunks arriving
// before Start or after Close are dropped.
func (c *Client) SendAudio(chunk []byte) error {
	c.mu.Lock()
	dg := c.dg
	ok := c.started && !c.closed
	c.mu.Unlock()
	if !ok || len(chunk) == 0 {
		return nil
	}
	if err := dg.WriteBinary(chunk); err != nil {
		return fmt.Errorf("failed to send audio to recognizer: %w", err)
	}
	return nil
}

// ClearBuffer flushes the recognizer's pending audio and suppresses events
// for the echo window.
func (c *Client) ClearBuffer() {
	c.finalizer.ClearBuffer()

	c.mu.Lock()
	dg := c.dg
	c.mu.Unlock()
	if dg != nil {
		if err := dg.Finalize(); err != nil {
			c.logger.Warn("Failed to finalize recognizer stream", "error", err)
		}
	}
}

// SetMuted suppresses transcripts while the agent is speaking.
func (c *Client) SetMuted(muted bool) {
	c.finalizer.SetMuted(muted)
}

// Close shuts the websocket down. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	dg := c.dg
	c.mu.Unlock()

	c.finalizer.Close()
	if dg != nil {
		dg.Stop()
	}
}

// ====================================================================
// Deepgram live message callbacks
// ====================================================================

// dgHandler adapts the SDK's callback interface onto the client. Separate
// type because the interface's Close signature clashes with Client.Close.
type dgHandler struct {
	client *Client
}

func (h *dgHandler) Open(or *msginterfaces.OpenResponse) error {
	h.client.logger.Debug("Recognizer stream open")
	return nil
}

func (h *dgHandler) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if mr.IsFinal {
		h.client.finalizer.HandleFinal(transcript)
	} else {
		h.client.finalizer.HandleInterim(transcript)
	}
	return nil
}

func (h *dgHandler) Metadata(md *msginterfaces.MetadataResponse) error {
	return nil
}

func (h *dgHandler) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	h.client.logger.Debug("Recognizer detected speech start")
	return nil
}

func (h *dgHandler) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	h.client.finalizer.HandleUtteranceEnd()
	return nil
}

func (h *dgHandler) Close(cr *msginterfaces.CloseResponse) error {
	h.client.logger.Debug("Recognizer stream closed")
	return nil
}

func (h *dgHandler) Error(er *msginterfaces.ErrorResponse) error {
	err := fmt.Errorf("recognizer error: %s: %s", er.ErrCode, er.ErrMsg)
	h.client.logger.Error("Recognizer stream error", "code", er.ErrCode, "message", er.ErrMsg)
	if h.client.callbacks.OnError != nil {
		h.client.callbacks.OnError(err)
	}
	return nil
}

func (h *dgHandler) UnhandledEvent(byData []byte) error {
	return nil
}
