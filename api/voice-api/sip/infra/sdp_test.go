// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package sip_infra

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSDP(t *testing.T) {
	sdp := GenerateSDP("203.0.113.7", 10024)

	assert.Contains(t, sdp, "c=IN IP4 203.0.113.7\r\n")
	assert.Contains(t, sdp, "m=audio 10024 RTP/AVP 0 8 101\r\n")
	assert.Contains(t, sdp, "a=rtpmap:0 PCMU/8000\r\n")
	assert.Contains(t, sdp, "a=rtpmap:8 PCMA/8000\r\n")
	assert.Contains(t, sdp, "a=rtpmap:101 telephone-event/8000\r\n")
	assert.Contains(t, sdp, "a=fmtp:101 0-16\r\n")
	assert.Contains(t, sdp, "a=ptime:20\r\n")
	assert.Contains(t, sdp, "a=sendrecv\r\n")
	assert.True(t, strings.HasPrefix(sdp, "v=0\r\n"))
}

func TestParseSDP(t *testing.T) {
	body := strings.Join([]string{
		"v=0",
		"o=provider 123 456 IN IP4 198.51.100.9",
		"s=call",
		"c=IN IP4 198.51.100.9",
		"t=0 0",
		"m=audio 41000 RTP/AVP 8 0 101",
		"a=rtpmap:8 PCMA/8000",
		"a=rtpmap:0 PCMU/8000",
		"a=sendrecv",
	}, "\r\n")

	info, err := ParseSDP([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "198.51.100.9", info.ConnectionIP)
	assert.Equal(t, 41000, info.AudioPort)
	assert.Equal(t, []uint8{8, 0, 101}, info.PayloadTypes)
	assert.Equal(t, SDPDirectionSendRecv, info.Direction)
	require.NotNil(t, info.PreferredCodec)
	assert.Equal(t, "PCMA", info.PreferredCodec.Name)
	assert.False(t, info.IsHold())
}

func TestParseSDPEmptyBody(t *testing.T) {
	_, err := ParseSDP(nil)
	require.Error(t, err)
}

func TestSDPHoldDetection(t *testing.T) {
	tests := []struct {
		name string
		body string
		hold bool
	}{
		{
			name: "sendonly is hold",
			body: "c=IN IP4 198.51.100.9\r\nm=audio 41000 RTP/AVP 0\r\na=sendonly\r\n",
			hold: true,
		},
		{
			name: "inactive is hold",
			body: "c=IN IP4 198.51.100.9\r\nm=audio 41000 RTP/AVP 0\r\na=inactive\r\n",
			hold: true,
		},
		{
			name: "zeroed connection is hold",
			body: "c=IN IP4 0.0.0.0\r\nm=audio 41000 RTP/AVP 0\r\na=sendrecv\r\n",
			hold: true,
		},
		{
			name: "sendrecv is not hold",
			body: "c=IN IP4 198.51.100.9\r\nm=audio 41000 RTP/AVP 0\r\na=sendrecv\r\n",
			hold: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseSDP([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.hold, info.IsHold())
		})
	}
}

func TestNegotiateCodec(t *testing.T) {
	tests := []struct {
		name   string
		remote []uint8
		want   string
	}{
		{name: "pcmu preferred when offered first", remote: []uint8{0, 8, 101}, want: "PCMU"},
		{name: "pcma only", remote: []uint8{8, 101}, want: "PCMA"},
		{name: "telephone-event skipped", remote: []uint8{101, 8}, want: "PCMA"},
		{name: "unknown codecs fall back to pcmu", remote: []uint8{96, 97}, want: "PCMU"},
		{name: "empty offer falls back to pcmu", remote: nil, want: "PCMU"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NegotiateCodec(tt.remote)
			require.NotNil(t, codec)
			assert.Equal(t, tt.want, codec.Name)
		})
	}
}
