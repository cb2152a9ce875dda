// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package internal_entity

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// FirstMessageMode controls who opens the conversation.
type FirstMessageMode string

const (
	AssistantSpeaksFirst FirstMessageMode = "assistant-speaks-first"
	UserSpeaksFirst      FirstMessageMode = "user-speaks-first"
)

// ModelConfig selects the LLM backing an agent.
type ModelConfig struct {
	Provider     string  `json:"provider" validate:"required"`
	ModelName    string  `json:"modelName" validate:"required"`
	SystemPrompt string  `json:"systemPrompt"`
	Temperature  float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int     `json:"maxTokens" validate:"gte=0"`
}

// VoiceConfig selects the TTS voice. OutputFormat must stay ulaw_8000 for
// telephony — the RTP session sends the synthesized bytes unmodified.
type VoiceConfig struct {
	Provider        string  `json:"provider" validate:"required"`
	VoiceID         string  `json:"voiceId" validate:"required"`
	TTSModelID      string  `json:"ttsModelId"`
	Stability       float64 `json:"stability" validate:"gte=0,lte=1"`
	SimilarityBoost float64 `json:"similarityBoost" validate:"gte=0,lte=1"`
	Speed           float64 `json:"speed"`
	Language        string  `json:"language"`
	OutputFormat    string  `json:"outputFormat"`
}

// TranscriberConfig selects the STT recognizer.
type TranscriberConfig struct {
	Provider       string `json:"provider" validate:"required"`
	ModelName      string `json:"modelName"`
	Language       string `json:"language"`
	Encoding       string `json:"encoding"`
	SampleRate     int    `json:"sampleRate"`
	EndpointingMs  int    `json:"endpointingMs"`
	UtteranceEndMs int    `json:"utteranceEndMs"`
}

// Agent is the immutable per-call configuration of a voice assistant.
type Agent struct {
	ID               string           `json:"id" validate:"required"`
	Name             string           `json:"name"`
	FirstMessage     string           `json:"firstMessage"`
	FirstMessageMode FirstMessageMode `json:"firstMessageMode"`

	Model       ModelConfig       `json:"model" validate:"required"`
	Voice       VoiceConfig       `json:"voice" validate:"required"`
	Transcriber TranscriberConfig `json:"transcriber" validate:"required"`

	MaxDurationSeconds    int     `json:"maxDurationSeconds"`
	SilenceTimeoutSeconds int     `json:"silenceTimeoutSeconds"`
	ResponseDelaySeconds  float64 `json:"responseDelaySeconds"`
}

var validate = validator.New()

// Validate rejects an agent whose model, voice or transcriber sections are
// missing or malformed. Call setup must fail before dialing on error.
func (a *Agent) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid agent configuration: %w", err)
	}
	if a.FirstMessageMode == "" {
		a.FirstMessageMode = AssistantSpeaksFirst
	}
	if a.FirstMessageMode != AssistantSpeaksFirst && a.FirstMessageMode != UserSpeaksFirst {
		return fmt.Errorf("invalid agent configuration: unknown firstMessageMode %q", a.FirstMessageMode)
	}
	return nil
}

// ApplyDefaults fills unset call limits from the service configuration.
func (a *Agent) ApplyDefaults(silenceTimeoutSeconds, maxDurationSeconds int) {
	if a.SilenceTimeoutSeconds <= 0 {
		a.SilenceTimeoutSeconds = silenceTimeoutSeconds
	}
	if a.MaxDurationSeconds <= 0 {
		a.MaxDurationSeconds = maxDurationSeconds
	}
	if a.Transcriber.Encoding == "" {
		a.Transcriber.Encoding = "mulaw"
	}
	if a.Transcriber.SampleRate == 0 {
		a.Transcriber.SampleRate = 8000
	}
	if a.Transcriber.EndpointingMs == 0 {
		a.Transcriber.EndpointingMs = 300
	}
	if a.Transcriber.UtteranceEndMs == 0 {
		a.Transcriber.UtteranceEndMs = 1000
	}
	if a.Voice.OutputFormat == "" {
		a.Voice.OutputFormat = "ulaw_8000"
	}
}
