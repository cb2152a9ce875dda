// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package internal_bridge

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_orchestrator "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/orchestrator"
	internal_store "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/store"
)

func dialMediaStream(t *testing.T, b *Bridge) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.ServeMediaStream(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestMediaStream_FullExchange(t *testing.T) {
	tb := newTestBridge(t)
	conn := dialMediaStream(t, tb.bridge)

	sendFrame(t, conn, map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        "MZ123",
			"callSid":          "CA456",
			"customParameters": map[string]string{"agentId": "agent-1"},
		},
	})

	// Caller audio, sent immediately after start; may race session setup
	// and land in the start buffer.
	payload := []byte{0x7F, 0x7F, 0x7F, 0x7F}
	sendFrame(t, conn, map[string]any{
		"event": "media",
		"media": map[string]any{"payload": base64.StdEncoding.EncodeToString(payload)},
	})

	require.Eventually(t, func() bool {
		tb.conv.mu.Lock()
		defer tb.conv.mu.Unlock()
		return tb.conv.started && len(tb.conv.audio) == 1
	}, 2*time.Second, 5*time.Millisecond, "caller audio never reached the conversation")
	tb.conv.mu.Lock()
	assert.Equal(t, payload, tb.conv.audio[0])
	tb.conv.mu.Unlock()

	// Conversation audio goes back out as a base64 media frame.
	outbound := []byte{0xA0, 0xB1, 0xC2}
	tb.conv.events.OnAudio(outbound)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out outFrame
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "media", out.Event)
	assert.Equal(t, "MZ123", out.StreamSid)
	decoded, err := base64.StdEncoding.DecodeString(out.Media.Payload)
	require.NoError(t, err)
	assert.Equal(t, outbound, decoded)

	// Stop ends the conversation and finalizes the record.
	sendFrame(t, conn, map[string]any{"event": "stop"})

	require.Eventually(t, func() bool {
		rec := tb.store.record("CA456")
		return rec != nil && rec.Status == internal_store.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	rec := tb.store.record("CA456")
	assert.Equal(t, internal_orchestrator.ReasonRemoteHangup, rec.EndedReason)
}

func TestMediaStream_SocketCloseEndsConversation(t *testing.T) {
	tb := newTestBridge(t)
	conn := dialMediaStream(t, tb.bridge)

	sendFrame(t, conn, map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        "MZ1",
			"callSid":          "CA1",
			"customParameters": map[string]string{"agentId": "agent-1"},
		},
	})
	require.Eventually(t, func() bool {
		tb.conv.mu.Lock()
		defer tb.conv.mu.Unlock()
		return tb.conv.started
	}, 2*time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		tb.conv.mu.Lock()
		defer tb.conv.mu.Unlock()
		return len(tb.conv.ended) == 1 && tb.conv.ended[0] == internal_orchestrator.ReasonRemoteHangup
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMediaStream_MalformedFramesIgnored(t *testing.T) {
	tb := newTestBridge(t)
	conn := dialMediaStream(t, tb.bridge)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendFrame(t, conn, map[string]any{"event": "mark"})
	sendFrame(t, conn, map[string]any{
		"event": "media",
		"media": map[string]any{"payload": "!!not-base64!!"},
	})

	// Connection is still healthy: a proper start works afterwards.
	sendFrame(t, conn, map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        "MZ2",
			"callSid":          "CA2",
			"customParameters": map[string]string{"agentId": "agent-1"},
		},
	})
	require.Eventually(t, func() bool {
		tb.conv.mu.Lock()
		defer tb.conv.mu.Unlock()
		return tb.conv.started
	}, 2*time.Second, 5*time.Millisecond)
}
