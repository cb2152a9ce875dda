// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package internal_audio holds the G.711 codec helpers shared by the RTP
// session, the recorder and the media bridge. All telephony audio in this
// service is µ-law, 8 kHz, mono — one byte per sample.
package internal_audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zaf/g711"
)

const (
	// TelephonySampleRate is the G.711 clock rate.
	TelephonySampleRate = 8000

	// FrameBytes is one 20 ms RTP payload at 8 kHz µ-law.
	FrameBytes = 160

	// MulawPad is the µ-law silence byte used to pad the shorter track
	// when mixing two directional buffers.
	MulawPad = 0x7F

	// MulawSilence and AlawSilence fill RTP keep-alive packets.
	MulawSilence = 0xFF
	AlawSilence  = 0xD5

	// WAVFormatMulaw is the RIFF fmt audio format tag for G.711 µ-law.
	WAVFormatMulaw = 7

	wavHeaderSize = 44
)

// MulawToLinear decodes µ-law bytes to 16-bit signed samples.
func MulawToLinear(ulaw []byte) []int16 {
	lpcm := g711.DecodeUlaw(ulaw)
	samples := make([]int16, len(lpcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(lpcm[2*i:]))
	}
	return samples
}

// LinearToMulaw encodes 16-bit signed samples to µ-law bytes.
func LinearToMulaw(samples []int16) []byte {
	lpcm := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(lpcm[2*i:], uint16(s))
	}
	return g711.EncodeUlaw(lpcm)
}

// MulawToAlaw translates µ-law to A-law. Used on the RTP send path when the
// remote SDP negotiated PCMA (payload type 8).
func MulawToAlaw(ulaw []byte) []byte {
	return g711.Ulaw2Alaw(ulaw)
}

// MixMulaw mixes two µ-law buffers into one by averaging the decoded
// samples: out[i] = encode((decode(a[i]) + decode(b[i])) / 2). The shorter
// buffer is padded with µ-law silence. Mixing is commutative.
func MixMulaw(a, b []byte) []byte {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n == 0 {
		return nil
	}

	pad := func(src []byte) []byte {
		if len(src) == n {
			return src
		}
		padded := make([]byte, n)
		copy(padded, src)
		for i := len(src); i < n; i++ {
			padded[i] = MulawPad
		}
		return padded
	}

	sa := MulawToLinear(pad(a))
	sb := MulawToLinear(pad(b))

	mixed := make([]int16, n)
	for i := range mixed {
		mixed[i] = int16((int32(sa[i]) + int32(sb[i])) / 2)
	}
	return LinearToMulaw(mixed)
}

// MulawWAV wraps raw µ-law payload in a 44-byte RIFF/WAVE header
// (format 7, mono, 8000 Hz, 8 bits per sample).
func MulawWAV(payload []byte) []byte {
	var buf bytes.Buffer

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(payload)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(WAVFormatMulaw))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // channels
	binary.Write(&buf, binary.LittleEndian, uint32(TelephonySampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(TelephonySampleRate)) // bytes/sec: 1 byte per sample
	binary.Write(&buf, binary.LittleEndian, uint16(1))                   // block align
	binary.Write(&buf, binary.LittleEndian, uint16(8))                   // bits per sample

	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)

	return buf.Bytes()
}

// WAVInfo is the subset of a RIFF header the recorder round-trip cares about.
type WAVInfo struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// ParseWAVHeader reads the fixed 44-byte header produced by MulawWAV.
func ParseWAVHeader(wav []byte) (*WAVInfo, error) {
	if len(wav) < wavHeaderSize {
		return nil, fmt.Errorf("wav too short: %d bytes", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		return nil, fmt.Errorf("unexpected chunk layout")
	}
	return &WAVInfo{
		AudioFormat:   binary.LittleEndian.Uint16(wav[20:22]),
		Channels:      binary.LittleEndian.Uint16(wav[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(wav[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(wav[34:36]),
		DataSize:      binary.LittleEndian.Uint32(wav[40:44]),
	}, nil
}
