// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package sip_infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

const (
	registerTimeout = 10 * time.Second
	registerExpires = 300
	userAgentName   = "F2FintechVoiceAI/1.0"
)

// CallHandlers are the per-call callbacks a Dialog drives. OnEnded fires
// exactly once, for answered calls only; setup failures surface as a
// MakeCall error instead.
type CallHandlers struct {
	OnRinging  func()
	OnAnswered func()
	OnAudio    func(payload []byte)
	OnEnded    func(reason string)
}

// Ended reasons originated by the signaling layer. Callers supply their own
// reason when they hang up.
const (
	ReasonRemoteHangup   = "remote_hangup"
	ReasonTransportError = "transport_error"
)

// Server is the outbound SIP user agent: one per process, shared by all
// concurrent calls. It owns the sipgo transport, routes in-dialog requests
// (BYE, re-INVITE) to the right Dialog by Call-ID, and places new calls.
type Server struct {
	logger    commons.Logger
	cfg       Config
	resolver  *PublicIPResolver
	allocator PortAllocator
	localPort int

	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	mu      sync.Mutex
	dialogs map[string]*Dialog
}

// NewServer builds the user agent bound to localPort for signaling. The
// public IP resolver supplies the address advertised in Contact and SDP.
func NewServer(logger commons.Logger, cfg Config, resolver *PublicIPResolver, allocator PortAllocator, localPort int) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(userAgentName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create SIP UA: %w", err)
	}

	publicIP := resolver.Resolve()
	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(publicIP),
		sipgo.WithClientPort(localPort),
	)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create SIP client: %w", err)
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create SIP server: %w", err)
	}

	s := &Server{
		logger:    logger,
		cfg:       cfg,
		resolver:  resolver,
		allocator: allocator,
		localPort: localPort,
		ua:        ua,
		client:    client,
		server:    server,
		dialogs:   make(map[string]*Dialog),
	}

	server.OnBye(s.onBye)
	server.OnInvite(s.onReInvite)
	server.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {
		s.logger.Debugw("Ignoring in-dialog ACK", "call_id", callIDValue(req))
	})

	return s, nil
}

// Start begins listening for in-dialog requests. Blocks until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.localPort)
	s.logger.Info("SIP server listening", "addr", addr, "transport", string(s.cfg.Transport))
	return s.server.ListenAndServe(ctx, string(s.cfg.Transport), addr)
}

// Close tears down the transport. Active dialogs should be hung up first.
func (s *Server) Close() error {
	return s.ua.Close()
}

// Register authenticates the trunk account. One digest retry; a second
// challenge means the credentials are wrong.
func (s *Server) Register(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	req := s.buildRegister(1, "")
	resp, err := s.awaitFinalResponse(ctx, req)
	if err != nil {
		return fmt.Errorf("REGISTER failed: %w", err)
	}

	if resp.StatusCode == sip.StatusUnauthorized || resp.StatusCode == sip.StatusProxyAuthRequired {
		challenge, err := challengeFromResponse(resp)
		if err != nil {
			return err
		}
		uri := fmt.Sprintf("sip:%s", s.registrarHost())
		auth := AuthorizationHeader(s.cfg.Username, s.cfg.Password, "REGISTER", uri, challenge)

		req = s.buildRegister(2, auth)
		resp, err = s.awaitFinalResponse(ctx, req)
		if err != nil {
			return fmt.Errorf("authenticated REGISTER failed: %w", err)
		}
	}

	if resp.StatusCode != sip.StatusOK {
		return fmt.Errorf("registration rejected: %d %s", resp.StatusCode, resp.Reason)
	}
	s.logger.Info("Registered with SIP trunk", "server", s.cfg.Host(), "username", s.cfg.Username)
	return nil
}

// MakeCall places an outbound call. On success the returned Dialog is live:
// media flows and handlers fire until OnEnded. On failure all resources are
// already released.
func (s *Server) MakeCall(ctx context.Context, callID, toNumber string, handlers CallHandlers) (*Dialog, error) {
	number := CanonicalizeNumber(toNumber, s.cfg.CountryCodePrefix)
	if number == "" {
		return nil, fmt.Errorf("empty destination number")
	}

	rtpPort, err := s.allocator.Allocate()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate media port: %w", err)
	}

	rtpSession, err := NewRTPSession(s.logger, rtpPort, handlers.OnAudio)
	if err != nil {
		s.allocator.Release(rtpPort)
		return nil, err
	}

	d := newDialog(s, callID, number, rtpSession, handlers)

	s.mu.Lock()
	s.dialogs[callID] = d
	s.mu.Unlock()

	if err := d.dial(ctx); err != nil {
		s.removeDialog(callID)
		rtpSession.Close()
		s.allocator.Release(rtpPort)
		return nil, err
	}
	return d, nil
}

// ActiveCalls returns the number of live dialogs.
func (s *Server) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dialogs)
}

func (s *Server) removeDialog(callID string) {
	s.mu.Lock()
	delete(s.dialogs, callID)
	s.mu.Unlock()
}

func (s *Server) findDialog(req *sip.Request) *Dialog {
	callID := req.CallID()
	if callID == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialogs[callID.Value()]
}

// ====================================================================
// In-dialog request routing
// ====================================================================

func (s *Server) onBye(req *sip.Request, tx sip.ServerTransaction) {
	d := s.findDialog(req)
	if d == nil {
		tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil))
		return
	}
	tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	d.remoteHangup()
}

// onReInvite logs and ignores mid-call offers. Endpoint changes reach us as
// re-answers on the original INVITE transaction instead; see Dialog.establish.
func (s *Server) onReInvite(req *sip.Request, tx sip.ServerTransaction) {
	s.logger.Info("Ignoring in-dialog re-INVITE", "call_id", callIDValue(req))
}

func callIDValue(req *sip.Request) string {
	if h := req.CallID(); h != nil {
		return h.Value()
	}
	return ""
}

// ====================================================================
// Request construction
// ====================================================================

func (s *Server) registrarHost() string {
	if s.cfg.Domain != "" {
		return s.cfg.Domain
	}
	return s.cfg.Server
}

func (s *Server) buildRegister(seq uint32, authorization string) *sip.Request {
	registrar := s.registrarHost()
	publicIP := s.resolver.Resolve()

	req := sip.NewRequest(sip.REGISTER, sip.Uri{Host: registrar})
	req.SetDestination(s.cfg.Host())

	accountURI := sip.Uri{User: s.cfg.Username, Host: registrar}
	from := sip.FromHeader{Address: accountURI, Params: sip.NewParams()}
	from.Params.Add("tag", sip.GenerateTagN(8))
	req.AppendHeader(&from)
	req.AppendHeader(&sip.ToHeader{Address: accountURI})

	contact := sip.ContactHeader{
		Address: sip.Uri{User: s.cfg.Username, Host: publicIP, Port: s.localPort},
	}
	req.AppendHeader(&contact)

	callID := sip.CallIDHeader(sip.GenerateTagN(16))
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.REGISTER})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", registerExpires)))

	if authorization != "" {
		req.AppendHeader(sip.NewHeader("Authorization", authorization))
	}
	return req
}

// awaitFinalResponse sends req and blocks until a final (>= 200) response
// or ctx expiry. Provisional responses are logged and skipped.
func (s *Server) awaitFinalResponse(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := s.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-tx.Responses():
			if !ok {
				return nil, fmt.Errorf("transaction closed without final response")
			}
			if resp.StatusCode < 200 {
				s.logger.Debugw("Provisional response", "method", req.Method.String(), "status", resp.StatusCode)
				continue
			}
			return resp, nil
		}
	}
}

// challengeFromResponse pulls the digest challenge out of a 401/407.
func challengeFromResponse(resp *sip.Response) (*DigestChallenge, error) {
	header := resp.GetHeader("WWW-Authenticate")
	if header == nil {
		header = resp.GetHeader("Proxy-Authenticate")
	}
	if header == nil {
		return nil, fmt.Errorf("challenge response %d has no authenticate header", resp.StatusCode)
	}
	return ParseDigestChallenge(header.Value())
}
