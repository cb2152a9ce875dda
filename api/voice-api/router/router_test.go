// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package voice_routers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_store "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/store"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

type stubEngine struct {
	mu       sync.Mutex
	callID   string
	startErr error
	endErr   error
	ended    []string
	served   int
}

func (s *stubEngine) StartOutboundCall(_ context.Context, agentID, number string) (string, error) {
	if s.startErr != nil {
		return "", s.startErr
	}
	return s.callID, nil
}

func (s *stubEngine) EndCall(callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endErr != nil {
		return s.endErr
	}
	s.ended = append(s.ended, callID)
	return nil
}

func (s *stubEngine) ActiveCalls() int { return 2 }

func (s *stubEngine) ServeMediaStream(conn *websocket.Conn) {
	s.mu.Lock()
	s.served++
	s.mu.Unlock()
	// Echo one frame so the client can confirm the route is live.
	if _, data, err := conn.ReadMessage(); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

type stubStore struct {
	rec *internal_store.CallRecord
}

func (s *stubStore) Create(context.Context, *internal_store.CallRecord) error  { return nil }
func (s *stubStore) UpdateStatus(context.Context, string, string) error        { return nil }
func (s *stubStore) Complete(context.Context, string, string, string, []internal_store.TranscriptEntry, string, time.Duration) error {
	return nil
}

func (s *stubStore) Get(_ context.Context, callID string) (*internal_store.CallRecord, error) {
	if s.rec == nil || s.rec.ID != callID {
		return nil, errors.New("not found")
	}
	return s.rec, nil
}

type stubOriginator struct {
	sid string
	err error
}

func (s *stubOriginator) StartCall(string, string) (string, error) {
	return s.sid, s.err
}

func newTestRouter(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	srv := httptest.NewServer(New(logger, deps))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCallRoutes_StartSIPCall(t *testing.T) {
	eng := &stubEngine{callID: "call-1"}
	srv := newTestRouter(t, Deps{Engine: eng, Store: &stubStore{}, SIPEnabled: true})

	resp := postJSON(t, srv.URL+"/api/v1/calls",
		map[string]string{"agentId": "agent-1", "customerNumber": "+919876543210"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Equal(t, "call-1", out["callId"])
	assert.Equal(t, TransportSIP, out["transport"])
}

func TestCallRoutes_SIPDisabled(t *testing.T) {
	srv := newTestRouter(t, Deps{Engine: &stubEngine{}, Store: &stubStore{}, SIPEnabled: false})

	resp := postJSON(t, srv.URL+"/api/v1/calls",
		map[string]string{"agentId": "agent-1", "customerNumber": "+919876543210"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCallRoutes_StartHostedCall(t *testing.T) {
	srv := newTestRouter(t, Deps{
		Engine:     &stubEngine{},
		Store:      &stubStore{},
		Originator: &stubOriginator{sid: "CA999"},
	})

	resp := postJSON(t, srv.URL+"/api/v1/calls", map[string]string{
		"agentId": "agent-1", "customerNumber": "+919876543210", "transport": TransportHosted})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Equal(t, "CA999", out["callId"])
}

func TestCallRoutes_HostedNotConfigured(t *testing.T) {
	srv := newTestRouter(t, Deps{Engine: &stubEngine{}, Store: &stubStore{}, SIPEnabled: true})

	resp := postJSON(t, srv.URL+"/api/v1/calls", map[string]string{
		"agentId": "agent-1", "customerNumber": "+919876543210", "transport": TransportHosted})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCallRoutes_Validation(t *testing.T) {
	srv := newTestRouter(t, Deps{Engine: &stubEngine{}, Store: &stubStore{}, SIPEnabled: true})

	resp := postJSON(t, srv.URL+"/api/v1/calls", map[string]string{"agentId": "agent-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/calls", map[string]string{
		"agentId": "agent-1", "customerNumber": "+91987", "transport": "carrier-pigeon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallRoutes_DialFailure(t *testing.T) {
	eng := &stubEngine{startErr: errors.New("486 Busy Here")}
	srv := newTestRouter(t, Deps{Engine: eng, Store: &stubStore{}, SIPEnabled: true})

	resp := postJSON(t, srv.URL+"/api/v1/calls",
		map[string]string{"agentId": "agent-1", "customerNumber": "+919876543210"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCallRoutes_GetCall(t *testing.T) {
	store := &stubStore{rec: &internal_store.CallRecord{
		ID:             "call-7",
		Status:         internal_store.StatusCompleted,
		TranscriptJSON: `[{"role":"assistant","content":"Hello."}]`,
	}}
	srv := newTestRouter(t, Deps{Engine: &stubEngine{}, Store: store, SIPEnabled: true})

	resp, err := http.Get(srv.URL + "/api/v1/calls/call-7")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.NotNil(t, out["call"])
	assert.Len(t, out["transcript"], 1)

	resp, err = http.Get(srv.URL + "/api/v1/calls/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallRoutes_Hangup(t *testing.T) {
	eng := &stubEngine{}
	srv := newTestRouter(t, Deps{Engine: eng, Store: &stubStore{}, SIPEnabled: true})

	resp := postJSON(t, srv.URL+"/api/v1/calls/call-1/hangup", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	eng.mu.Lock()
	assert.Equal(t, []string{"call-1"}, eng.ended)
	eng.mu.Unlock()

	eng.endErr = errors.New("no active call")
	resp = postJSON(t, srv.URL+"/api/v1/calls/call-2/hangup", map[string]string{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheckRoutes(t *testing.T) {
	srv := newTestRouter(t, Deps{Engine: &stubEngine{}, Store: &stubStore{}})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(2), out["active_calls"])
}

func TestMediaStreamRoute_Upgrades(t *testing.T) {
	eng := &stubEngine{}
	srv := newTestRouter(t, Deps{Engine: eng, Store: &stubStore{}})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping"}`, string(data))

	eng.mu.Lock()
	assert.Equal(t, 1, eng.served)
	eng.mu.Unlock()
}
