package internal_synthesizer_elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_entity "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/entity"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

func newTestSynthesizer(t *testing.T, serverURL string) *Synthesizer {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	s, err := New(logger, "test-key", WithBaseURL(serverURL))
	require.NoError(t, err)
	return s
}

func testVoice() internal_entity.VoiceConfig {
	return internal_entity.VoiceConfig{
		Provider:        "elevenlabs",
		VoiceID:         "voice-1",
		TTSModelID:      "eleven_turbo_v2_5",
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}
}

func TestTextToSpeechStream_DeliversChunks(t *testing.T) {
	audio := strings.Repeat("\xff\x7f\x00\x55", 2048)
	var gotBody synthesisRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		assert.Contains(t, r.URL.Path, "/v1/text-to-speech/voice-1/stream")
		assert.Equal(t, "ulaw_8000", r.URL.Query().Get("output_format"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(200)
		_, _ = w.Write([]byte(audio))
	}))
	defer srv.Close()

	s := newTestSynthesizer(t, srv.URL)

	var received []byte
	err := s.TextToSpeechStream(context.Background(), "Hello there", testVoice(), func(chunk []byte) {
		received = append(received, chunk...)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(audio), received)

	require.NotNil(t, gotBody.VoiceSettings)
	assert.InDelta(t, 0.5, gotBody.VoiceSettings.Stability, 0.001)
	assert.InDelta(t, 0.75, gotBody.VoiceSettings.SimilarityBoost, 0.001)
	assert.Zero(t, gotBody.VoiceSettings.Style)
	assert.True(t, gotBody.VoiceSettings.UseSpeakerBoost)
	assert.Empty(t, gotBody.LanguageCode)
}

func TestTextToSpeechStream_V3ModelOmitsVoiceSettings(t *testing.T) {
	var gotBody synthesisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte{0xFF})
	}))
	defer srv.Close()

	s := newTestSynthesizer(t, srv.URL)
	voice := testVoice()
	voice.TTSModelID = "eleven_v3"

	err := s.TextToSpeechStream(context.Background(), "hi", voice, func([]byte) {})
	require.NoError(t, err)
	assert.Nil(t, gotBody.VoiceSettings)
}

func TestTextToSpeechStream_LanguageCode(t *testing.T) {
	var gotBody synthesisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte{0xFF})
	}))
	defer srv.Close()

	s := newTestSynthesizer(t, srv.URL)
	voice := testVoice()
	voice.Language = "hinglish"

	err := s.TextToSpeechStream(context.Background(), "namaste", voice, func([]byte) {})
	require.NoError(t, err)
	assert.Equal(t, "hi", gotBody.LanguageCode)
}

func TestTextToSpeechStream_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		_, _ = w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer srv.Close()

	s := newTestSynthesizer(t, srv.URL)
	err := s.TextToSpeechStream(context.Background(), "hello", testVoice(), func([]byte) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
}

func TestTextToSpeechStream_StopAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100000)))
	}))
	defer srv.Close()

	s := newTestSynthesizer(t, srv.URL)
	s.Stop()

	var chunks int
	err := s.TextToSpeechStream(context.Background(), "long text", testVoice(), func([]byte) {
		chunks++
	})
	require.NoError(t, err)
	assert.Zero(t, chunks)

	// Reset re-arms for the next utterance.
	s.Reset()
	var received int
	err = s.TextToSpeechStream(context.Background(), "short", testVoice(), func(c []byte) {
		received += len(c)
	})
	require.NoError(t, err)
	assert.Greater(t, received, 0)
}

func TestTextToSpeechStream_EmptyAfterNormalization(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	s := newTestSynthesizer(t, srv.URL)
	err := s.TextToSpeechStream(context.Background(), "   ", testVoice(), func([]byte) {})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestIsV3Model(t *testing.T) {
	assert.True(t, isV3Model("eleven_v3"))
	assert.True(t, isV3Model("eleven_v3_alpha"))
	assert.True(t, isV3Model("eleven_ttv_v3"))
	assert.False(t, isV3Model("eleven_turbo_v2_5"))
	assert.False(t, isV3Model("eleven_multilingual_v2"))
}
