// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package sip_infra

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	resty "github.com/go-resty/resty/v2"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

// PublicIPResolver discovers the address placed in Via/Contact and the SDP
// c= line. Discovery runs once and is cached for the process lifetime.
type PublicIPResolver struct {
	logger   commons.Logger
	endpoint string

	once sync.Once
	ip   string
}

// NewPublicIPResolver builds a resolver against an HTTPS what-is-my-ip
// endpoint (e.g. https://api.ipify.org).
func NewPublicIPResolver(logger commons.Logger, endpoint string) *PublicIPResolver {
	return &PublicIPResolver{logger: logger, endpoint: endpoint}
}

// Resolve returns the public IPv4 of this process. HTTPS discovery first;
// on failure, the local address of the outbound UDP route. The result never
// errors: a signaling-capable address always exists if we got this far.
func (r *PublicIPResolver) Resolve() string {
	r.once.Do(func() {
		if ip, err := r.discoverHTTPS(); err == nil {
			r.ip = ip
			r.logger.Info("Discovered public IP", "ip", ip, "endpoint", r.endpoint)
			return
		} else {
			r.logger.Warn("Public IP discovery failed, falling back to route address",
				"endpoint", r.endpoint, "error", err)
		}
		r.ip = outboundRouteIP()
		r.logger.Info("Using outbound route IP", "ip", r.ip)
	})
	return r.ip
}

func (r *PublicIPResolver) discoverHTTPS() (string, error) {
	if r.endpoint == "" {
		return "", fmt.Errorf("no discovery endpoint configured")
	}
	resp, err := resty.New().SetTimeout(5 * time.Second).R().Get(r.endpoint)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode())
	}
	ip := strings.TrimSpace(resp.String())
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("discovery endpoint returned invalid ip %q", ip)
	}
	return ip, nil
}

// outboundRouteIP returns the local IP the kernel would use to reach the
// public internet. No packets are sent; UDP dial only selects a route.
func outboundRouteIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
