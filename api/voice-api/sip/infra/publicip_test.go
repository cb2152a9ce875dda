// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package sip_infra

import (
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return logger
}

func TestPublicIPResolver_UsesDiscoveryEndpoint(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("203.0.113.7\n"))
	}))
	defer srv.Close()

	r := NewPublicIPResolver(newTestLogger(t), srv.URL)

	assert.Equal(t, "203.0.113.7", r.Resolve())
	// Discovery is cached.
	assert.Equal(t, "203.0.113.7", r.Resolve())
	assert.Equal(t, int32(1), hits.Load())
}

func TestPublicIPResolver_FallsBackOnGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not an ip</html>"))
	}))
	defer srv.Close()

	r := NewPublicIPResolver(newTestLogger(t), srv.URL)

	ip := r.Resolve()
	require.NotEmpty(t, ip)
	assert.NotNil(t, net.ParseIP(ip))
}

func TestPublicIPResolver_FallsBackOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewPublicIPResolver(newTestLogger(t), srv.URL)

	ip := r.Resolve()
	assert.NotNil(t, net.ParseIP(ip))
}
