// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package sip_infra implements the outbound SIP user agent and the per-call
// RTP media session: REGISTER and INVITE with digest auth, ACK/BYE, paced
// 20 ms RTP output with keep-alive, and symmetric-RTP endpoint learning.
package sip_infra

import (
	"fmt"
)

// Transport is the SIP transport protocol.
type Transport string

const (
	TransportUDP Transport = "udp"
)

// Config describes one SIP trunk. Provider credentials come from the call
// request; operational settings (port, RTP range) from service config.
type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	Realm    string
	Domain   string

	Transport         Transport
	RTPPortRangeStart int
	RTPPortRangeEnd   int

	// CountryCodePrefix is stripped from dialed numbers when the remainder
	// still looks like a full national number. Policy, not protocol.
	CountryCodePrefix string
}

// ApplyOperationalDefaults overlays platform settings onto trunk credentials.
func (c *Config) ApplyOperationalDefaults(port int, transport Transport, rtpStart, rtpEnd int, countryCode string) {
	if c.Port == 0 {
		c.Port = port
	}
	if c.Port == 0 {
		c.Port = 5060
	}
	if c.Transport == "" {
		c.Transport = transport
	}
	if c.Transport == "" {
		c.Transport = TransportUDP
	}
	if c.RTPPortRangeStart == 0 {
		c.RTPPortRangeStart = rtpStart
	}
	if c.RTPPortRangeEnd == 0 {
		c.RTPPortRangeEnd = rtpEnd
	}
	if c.CountryCodePrefix == "" {
		c.CountryCodePrefix = countryCode
	}
}

// Validate rejects a config that cannot place a call.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("sip config missing server")
	}
	if c.Username == "" {
		return fmt.Errorf("sip config missing username")
	}
	if c.RTPPortRangeStart <= 0 || c.RTPPortRangeEnd <= c.RTPPortRangeStart {
		return fmt.Errorf("sip config has invalid rtp port range %d-%d", c.RTPPortRangeStart, c.RTPPortRangeEnd)
	}
	return nil
}

// Host returns the trunk's signaling address.
func (c *Config) Host() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}
