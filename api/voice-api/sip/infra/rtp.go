// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package sip_infra

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	internal_audio "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/audio"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

const (
	// frameDuration is the packetization interval: 160 µ-law bytes per
	// 20 ms at 8 kHz.
	frameDuration = 20 * time.Millisecond

	// keepAliveIdle is how long the send path may be silent before the
	// pacer starts emitting silence frames. Keeps NAT bindings and peer
	// jitter buffers alive.
	keepAliveIdle = 40 * time.Millisecond

	// endpointLockout disables symmetric-RTP learning after an SDP
	// endpoint update. Misbehaving providers keep sending from the old
	// tuple briefly after a re-route; SDP is authoritative then.
	endpointLockout = 5 * time.Second

	rtpReadBufSize = 2048
)

// RTPSession is the per-call media socket: paced 20 ms sends, silence
// keep-alive, symmetric-RTP endpoint learning, and inbound payload
// delivery.
type RTPSession struct {
	logger    commons.Logger
	conn      *net.UDPConn
	localPort int
	onAudio   func(payload []byte)

	mu              sync.Mutex
	remoteAddr      *net.UDPAddr
	payloadType     uint8
	sequence        uint16
	timestamp       uint32
	ssrc            uint32
	queue           [][]byte
	residual        []byte
	lastAudioSentAt time.Time
	isSendingAudio  bool
	lockoutUntil    time.Time
	sdpRerouted     bool
	closed          bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRTPSession binds the local media port. The session is idle until
// Start; the remote endpoint comes from the answer SDP via SetRemote.
func NewRTPSession(logger commons.Logger, localPort int, onAudio func(payload []byte)) (*RTPSession, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("failed to bind RTP port %d: %w", localPort, err)
	}

	var ssrcBytes [4]byte
	if _, err := rand.Read(ssrcBytes[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to seed RTP ssrc: %w", err)
	}

	return &RTPSession{
		logger:    logger,
		conn:      conn,
		localPort: localPort,
		onAudio:   onAudio,
		ssrc:      binary.BigEndian.Uint32(ssrcBytes[:]),
		done:      make(chan struct{}),
	}, nil
}

// LocalPort returns the bound media port, advertised in the offer SDP.
func (s *RTPSession) LocalPort() int {
	return s.localPort
}

// SetRemote records the peer endpoint and codec from an SDP answer. A
// second call is a mid-call re-route: the endpoint updates, symmetric-RTP
// learning is locked out for 5 s and then disabled for the rest of the
// call.
func (s *RTPSession) SetRemote(ip string, port int, codec *Codec) {
	if codec == nil {
		codec = &CodecPCMU
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newAddr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	if s.remoteAddr == nil {
		s.remoteAddr = newAddr
		s.payloadType = codec.PayloadType
		s.logger.Info("RTP remote endpoint set",
			"remote", newAddr.String(), "codec", codec.Name, "local_port", s.localPort)
		return
	}

	if s.remoteAddr.IP.Equal(newAddr.IP) && s.remoteAddr.Port == newAddr.Port {
		return
	}

	s.remoteAddr = newAddr
	s.payloadType = codec.PayloadType
	s.lockoutUntil = time.Now().Add(endpointLockout)
	s.sdpRerouted = true
	s.logger.Warn("RTP endpoint re-routed via SDP, symmetric RTP disabled",
		"remote", newAddr.String())
}

// Start launches the pacer and the receive loop.
func (s *RTPSession) Start() {
	s.wg.Add(2)
	go s.paceLoop()
	go s.receiveLoop()
}

// SendAudio enqueues µ-law audio. Only full 160-byte frames reach the
// pacer: a trailing partial frame is held back and completed by the next
// call, so arbitrary upstream chunk sizes never produce short mid-stream
// packets. Leftover bytes are flushed padded once the queue drains.
func (s *RTPSession) SendAudio(audio []byte) {
	if len(audio) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.residual = append(s.residual, audio...)
	for len(s.residual) >= internal_audio.FrameBytes {
		frame := make([]byte, internal_audio.FrameBytes)
		copy(frame, s.residual)
		s.queue = append(s.queue, frame)
		s.residual = s.residual[internal_audio.FrameBytes:]
	}
	if len(s.residual) > 0 {
		s.residual = append([]byte(nil), s.residual...)
	} else {
		s.residual = nil
	}
	s.isSendingAudio = true
}

// FlushQueue drops all queued audio. Called on barge-in so a cancelled
// reply stops at the next frame boundary.
func (s *RTPSession) FlushQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.residual = nil
	s.isSendingAudio = false
}

// IsSendingAudio reports whether real (non keep-alive) audio is queued.
func (s *RTPSession) IsSendingAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSendingAudio
}

// Close stops the pacer and receive loop and releases the socket. No
// packet is emitted after Close returns. Idempotent.
func (s *RTPSession) Close() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.residual = nil
		s.mu.Unlock()

		close(s.done)
		s.conn.Close()
		s.wg.Wait()
	})
}

// ====================================================================
// Send path
// ====================================================================

func (s *RTPSession) paceLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sendNextFrame()
		}
	}
}

func (s *RTPSession) sendNextFrame() {
	s.mu.Lock()
	if s.closed || s.remoteAddr == nil {
		s.mu.Unlock()
		return
	}

	var payload []byte
	isKeepAlive := false
	switch {
	case len(s.queue) > 0:
		payload = s.queue[0]
		s.queue = s.queue[1:]
		if len(s.queue) == 0 && len(s.residual) == 0 {
			s.isSendingAudio = false
		}
		s.lastAudioSentAt = time.Now()
	case len(s.residual) > 0:
		// Queue drained with a partial frame pending: pad it out so every
		// packet on the wire is a full 20 ms frame.
		payload = make([]byte, internal_audio.FrameBytes)
		n := copy(payload, s.residual)
		for i := n; i < internal_audio.FrameBytes; i++ {
			payload[i] = internal_audio.MulawPad
		}
		s.residual = nil
		s.isSendingAudio = false
		s.lastAudioSentAt = time.Now()
	default:
		if time.Since(s.lastAudioSentAt) < keepAliveIdle {
			s.mu.Unlock()
			return
		}
		payload = silenceFrame(s.payloadType)
		isKeepAlive = true
	}

	if !isKeepAlive && s.payloadType == CodecPCMA.PayloadType {
		payload = internal_audio.MulawToAlaw(payload)
	}

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.payloadType,
			SequenceNumber: s.sequence,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	// Sequence and timestamp advance for keep-alives too so the peer sees
	// one continuous stream. Every payload is a full 160-sample frame.
	s.sequence++
	s.timestamp += internal_audio.FrameBytes

	remote := s.remoteAddr
	s.mu.Unlock()

	data, err := pkt.Marshal()
	if err != nil {
		s.logger.Error("Failed to marshal RTP packet", "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, remote); err != nil {
		s.logger.Debugw("RTP send failed", "remote", remote.String(), "error", err)
	}
}

// silenceFrame is one 20 ms frame of codec silence.
func silenceFrame(payloadType uint8) []byte {
	b := byte(internal_audio.MulawSilence)
	if payloadType == CodecPCMA.PayloadType {
		b = internal_audio.AlawSilence
	}
	frame := make([]byte, internal_audio.FrameBytes)
	for i := range frame {
		frame[i] = b
	}
	return frame
}

// ====================================================================
// Receive path
// ====================================================================

func (s *RTPSession) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, rtpReadBufSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Debugw("RTP read failed", "error", err)
				return
			}
		}
		if n <= 12 {
			continue
		}

		s.learnEndpoint(addr)

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		payload := make([]byte, len(pkt.Payload))
		copy(payload, pkt.Payload)
		if s.onAudio != nil {
			s.onAudio(payload)
		}
	}
}

// learnEndpoint applies the symmetric-RTP rule: follow the peer's actual
// source tuple unless the SDP lockout is active or an SDP re-route has
// made SDP authoritative for the rest of the call.
func (s *RTPSession) learnEndpoint(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remoteAddr == nil {
		return
	}
	if s.remoteAddr.IP.Equal(addr.IP) && s.remoteAddr.Port == addr.Port {
		return
	}
	if s.sdpRerouted || time.Now().Before(s.lockoutUntil) {
		return
	}

	s.logger.Info("Symmetric RTP: updating remote endpoint",
		"advertised", s.remoteAddr.String(), "actual", addr.String())
	s.remoteAddr = &net.UDPAddr{IP: addr.IP, Port: addr.Port}
}
