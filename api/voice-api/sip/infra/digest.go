// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package sip_infra

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// DigestChallenge is a parsed WWW-Authenticate / Proxy-Authenticate header.
// Trunk providers in scope use plain RFC 2069 digest: MD5, no qop.
type DigestChallenge struct {
	Realm     string
	Nonce     string
	Algorithm string
	Opaque    string
}

// ParseDigestChallenge parses the value of a WWW-Authenticate header.
func ParseDigestChallenge(value string) (*DigestChallenge, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(strings.ToLower(trimmed), "digest") {
		return nil, fmt.Errorf("unsupported auth scheme in challenge: %q", value)
	}
	trimmed = strings.TrimSpace(trimmed[len("Digest"):])

	ch := &DigestChallenge{Algorithm: "MD5"}
	for _, part := range splitChallengeParams(trimmed) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		switch key {
		case "realm":
			ch.Realm = val
		case "nonce":
			ch.Nonce = val
		case "algorithm":
			ch.Algorithm = val
		case "opaque":
			ch.Opaque = val
		}
	}

	if ch.Realm == "" || ch.Nonce == "" {
		return nil, fmt.Errorf("digest challenge missing realm or nonce: %q", value)
	}
	return ch, nil
}

// splitChallengeParams splits on commas outside quoted strings.
func splitChallengeParams(s string) []string {
	var parts []string
	var sb strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			sb.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	if sb.Len() > 0 {
		parts = append(parts, sb.String())
	}
	return parts
}

// DigestResponse computes the RFC 2069 digest:
//
//	HA1 = md5(username:realm:password)
//	HA2 = md5(method:uri)
//	response = md5(HA1:nonce:HA2)
func DigestResponse(username, password, method, uri string, ch *DigestChallenge) string {
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", username, ch.Realm, password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))
	return md5Hex(fmt.Sprintf("%s:%s:%s", ha1, ch.Nonce, ha2))
}

// AuthorizationHeader builds the Authorization header value for a challenged
// request. algorithm is echoed; qop is never sent.
func AuthorizationHeader(username, password, method, uri string, ch *DigestChallenge) string {
	response := DigestResponse(username, password, method, uri, ch)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		username, ch.Realm, ch.Nonce, uri, response))
	if ch.Algorithm != "" {
		sb.WriteString(fmt.Sprintf(`, algorithm=%s`, ch.Algorithm))
	}
	if ch.Opaque != "" {
		sb.WriteString(fmt.Sprintf(`, opaque="%s"`, ch.Opaque))
	}
	return sb.String()
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
