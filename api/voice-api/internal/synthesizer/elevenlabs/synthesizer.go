// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package internal_synthesizer_elevenlabs streams ElevenLabs synthesis
// straight to the transport. Output format is pinned to ulaw_8000 so the
// bytes go onto the wire without resampling.
package internal_synthesizer_elevenlabs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	resty "github.com/go-resty/resty/v2"

	internal_entity "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/entity"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

const (
	baseURL      = "https://api.elevenlabs.io"
	outputFormat = "ulaw_8000"
	readBufSize  = 4096
)

// v3ModelIDs are model families that reject the voice_settings block.
var v3ModelIDs = map[string]bool{
	"eleven_v3":     true,
	"eleven_ttv_v3": true,
}

func isV3Model(modelID string) bool {
	return v3ModelIDs[modelID] || strings.HasPrefix(modelID, "eleven_v3")
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id,omitempty"`
	LanguageCode  string         `json:"language_code,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// Synthesizer is one streaming TTS client, bound to a single call.
type Synthesizer struct {
	logger     commons.Logger
	http       *resty.Client
	apiKey     string
	normalizer *Normalizer
	aborted    atomic.Bool
}

// New builds a synthesizer. baseURL is overridable for tests via WithBaseURL.
func New(logger commons.Logger, apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is not configured")
	}
	s := &Synthesizer{
		logger:     logger,
		http:       resty.New().SetBaseURL(baseURL),
		apiKey:     apiKey,
		normalizer: NewNormalizer(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Option customizes the synthesizer.
type Option func(*Synthesizer)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(url string) Option {
	return func(s *Synthesizer) {
		s.http.SetBaseURL(url)
	}
}

// Stop aborts the in-flight stream. The chunk loop checks the flag between
// reads and terminates cleanly.
func (s *Synthesizer) Stop() {
	s.aborted.Store(true)
}

// Reset re-arms the synthesizer for the next utterance after a Stop.
func (s *Synthesizer) Reset() {
	s.aborted.Store(false)
}

// TextToSpeechStream synthesizes text and delivers µ-law audio via onChunk.
func (s *Synthesizer) TextToSpeechStream(ctx context.Context, text string, voice internal_entity.VoiceConfig, onChunk func(chunk []byte)) error {
	normalized := s.normalizer.Normalize(text)
	if normalized == "" {
		return nil
	}

	body := synthesisRequest{
		Text:    normalized,
		ModelID: voice.TTSModelID,
	}
	if lang := languageCode(voice.Language); lang != "" {
		body.LanguageCode = lang
	}
	if !isV3Model(voice.TTSModelID) {
		body.VoiceSettings = &voiceSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.SimilarityBoost,
			Style:           0,
			UseSpeakerBoost: true,
			Speed:           voice.Speed,
		}
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("xi-api-key", s.apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "audio/basic").
		SetBody(body).
		SetDoNotParseResponse(true).
		Post(fmt.Sprintf("/v1/text-to-speech/%s/stream?output_format=%s", voice.VoiceID, outputFormat))
	if err != nil {
		return fmt.Errorf("failed to open synthesis stream: %w", err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() != 200 {
		detail, _ := io.ReadAll(io.LimitReader(raw, 2048))
		return fmt.Errorf("synthesis request rejected: status=%d body=%s", resp.StatusCode(), string(detail))
	}

	buf := make([]byte, readBufSize)
	total := 0
	for {
		if s.aborted.Load() {
			s.logger.Debug("Synthesis stream aborted", "bytes_delivered", total)
			return nil
		}
		n, err := raw.Read(buf)
		if n > 0 {
			total += n
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("synthesis stream read failed: %w", err)
		}
	}

	s.logger.Debug("Synthesis stream complete", "bytes", total, "chars", len(normalized))
	return nil
}

// languageCode maps the agent's voice language onto the ElevenLabs
// language_code parameter. English is the backend default and is omitted;
// Hinglish mode forwards Hindi.
func languageCode(language string) string {
	switch strings.ToLower(language) {
	case "", "en", "en-us", "en-gb", "english":
		return ""
	case "hinglish":
		return "hi"
	default:
		return strings.ToLower(language)
	}
}
