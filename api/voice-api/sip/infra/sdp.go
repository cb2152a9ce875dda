// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package sip_infra

import (
	"fmt"
	"strconv"
	"strings"
)

// Codec is an audio codec with its RTP configuration.
type Codec struct {
	Name        string
	PayloadType uint8
	ClockRate   uint32
}

var (
	CodecPCMU = Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000}
	CodecPCMA = Codec{Name: "PCMA", PayloadType: 8, ClockRate: 8000}

	// CodecTelephoneEvent is RFC 4733 DTMF. Most PBXes refuse to bridge
	// media unless it appears in the m= line, even when no DTMF is sent.
	CodecTelephoneEvent = Codec{Name: "telephone-event", PayloadType: 101, ClockRate: 8000}
)

// SupportedCodecs in order of preference.
var SupportedCodecs = []Codec{CodecPCMU, CodecPCMA}

// SDPDirection is the media direction attribute (RFC 3264).
type SDPDirection string

const (
	SDPDirectionSendRecv SDPDirection = "sendrecv"
	SDPDirectionSendOnly SDPDirection = "sendonly"
	SDPDirectionRecvOnly SDPDirection = "recvonly"
	SDPDirectionInactive SDPDirection = "inactive"
)

// SDPMediaInfo is the media description parsed from a remote SDP body.
type SDPMediaInfo struct {
	ConnectionIP   string
	AudioPort      int
	PayloadTypes   []uint8
	PreferredCodec *Codec
	Direction      SDPDirection
}

// IsHold reports a hold condition: sendonly/inactive direction, or the
// RFC 3264 zeroed connection address.
func (s *SDPMediaInfo) IsHold() bool {
	if s.Direction == SDPDirectionSendOnly || s.Direction == SDPDirectionInactive {
		return true
	}
	return s.ConnectionIP == "0.0.0.0"
}

// GenerateSDP builds the audio offer placed in the INVITE: the supported
// codec list plus telephone-event, 20 ms ptime, sendrecv.
func GenerateSDP(publicIP string, rtpPort int) string {
	return generateSDP(publicIP, rtpPort, SupportedCodecs)
}

func generateSDP(publicIP string, rtpPort int, codecs []Codec) string {
	var sb strings.Builder
	sb.WriteString("v=0\r\n")
	sb.WriteString(fmt.Sprintf("o=codevamp 0 0 IN IP4 %s\r\n", publicIP))
	sb.WriteString("s=F2Fintech Voice AI\r\n")
	sb.WriteString(fmt.Sprintf("c=IN IP4 %s\r\n", publicIP))
	sb.WriteString("t=0 0\r\n")

	payloadTypes := make([]string, 0, len(codecs)+1)
	for _, codec := range codecs {
		payloadTypes = append(payloadTypes, strconv.Itoa(int(codec.PayloadType)))
	}
	payloadTypes = append(payloadTypes, strconv.Itoa(int(CodecTelephoneEvent.PayloadType)))
	sb.WriteString(fmt.Sprintf("m=audio %d RTP/AVP %s\r\n", rtpPort, strings.Join(payloadTypes, " ")))

	for _, codec := range codecs {
		sb.WriteString(fmt.Sprintf("a=rtpmap:%d %s/%d\r\n", codec.PayloadType, codec.Name, codec.ClockRate))
	}
	sb.WriteString(fmt.Sprintf("a=rtpmap:%d %s/%d\r\n",
		CodecTelephoneEvent.PayloadType, CodecTelephoneEvent.Name, CodecTelephoneEvent.ClockRate))
	sb.WriteString(fmt.Sprintf("a=fmtp:%d 0-16\r\n", CodecTelephoneEvent.PayloadType))

	sb.WriteString("a=ptime:20\r\n")
	sb.WriteString("a=sendrecv\r\n")
	return sb.String()
}

// ParseSDP extracts the remote media endpoint and codec preference.
func ParseSDP(sdpBody []byte) (*SDPMediaInfo, error) {
	if len(sdpBody) == 0 {
		return nil, fmt.Errorf("empty SDP body")
	}

	info := &SDPMediaInfo{
		PayloadTypes: make([]uint8, 0),
		Direction:    SDPDirectionSendRecv,
	}

	for _, line := range strings.Split(string(sdpBody), "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), "\r")

		switch {
		case strings.HasPrefix(line, "c=IN IP4 "):
			info.ConnectionIP = strings.TrimSpace(strings.TrimPrefix(line, "c=IN IP4 "))

		case strings.HasPrefix(line, "m=audio "):
			// m=audio 10000 RTP/AVP 0 8 101
			parts := strings.Fields(line)
			if len(parts) < 4 {
				continue
			}
			if port, err := strconv.Atoi(parts[1]); err == nil {
				info.AudioPort = port
			}
			for _, p := range parts[3:] {
				if pt, err := strconv.Atoi(p); err == nil && pt >= 0 && pt <= 127 {
					info.PayloadTypes = append(info.PayloadTypes, uint8(pt))
				}
			}

		case line == "a=sendrecv":
			info.Direction = SDPDirectionSendRecv
		case line == "a=sendonly":
			info.Direction = SDPDirectionSendOnly
		case line == "a=recvonly":
			info.Direction = SDPDirectionRecvOnly
		case line == "a=inactive":
			info.Direction = SDPDirectionInactive
		}
	}

	info.PreferredCodec = NegotiateCodec(info.PayloadTypes)
	return info, nil
}

// NegotiateCodec picks the first remote payload type we support, skipping
// telephone-event. PCMU is the fallback.
func NegotiateCodec(remotePayloadTypes []uint8) *Codec {
	for _, pt := range remotePayloadTypes {
		if pt == CodecTelephoneEvent.PayloadType {
			continue
		}
		for i := range SupportedCodecs {
			if SupportedCodecs[i].PayloadType == pt {
				codec := SupportedCodecs[i]
				return &codec
			}
		}
	}
	codec := CodecPCMU
	return &codec
}
