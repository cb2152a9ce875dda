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

	"github.com/emiago/sipgo/sip"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

const (
	// inviteWatchdog bounds the whole INVITE transaction: some trunks
	// swallow INVITEs without any final response.
	inviteWatchdog = 30 * time.Second

	byeTimeout = 5 * time.Second
)

// Dialog is one established outbound call: the SIP dialog state plus its
// RTP session. Created by Server.MakeCall.
type Dialog struct {
	server   *Server
	logger   commons.Logger
	callID   string
	number   string
	rtp      *RTPSession
	handlers CallHandlers

	mu           sync.Mutex
	fromTag      string
	toTag        string
	cseq         uint32
	answered     bool
	ringingFired bool
	ended        bool

	endOnce sync.Once
}

func newDialog(server *Server, callID, number string, rtp *RTPSession, handlers CallHandlers) *Dialog {
	return &Dialog{
		server:   server,
		logger:   server.logger.With("call_id", callID, "number", number),
		callID:   callID,
		number:   number,
		rtp:      rtp,
		handlers: handlers,
		fromTag:  sip.GenerateTagN(8),
	}
}

// CallID returns the SIP Call-ID, used as the engine-wide call identifier.
func (d *Dialog) CallID() string {
	return d.callID
}

// SendAudio enqueues µ-law audio for the paced RTP sender.
func (d *Dialog) SendAudio(audio []byte) {
	d.rtp.SendAudio(audio)
}

// FlushAudio drops queued outbound audio. Used on barge-in.
func (d *Dialog) FlushAudio() {
	d.rtp.FlushQueue()
}

// IsSendingAudio reports whether outbound audio is still queued.
func (d *Dialog) IsSendingAudio() bool {
	return d.rtp.IsSendingAudio()
}

// ====================================================================
// Call setup
// ====================================================================

// dial runs the INVITE transaction to a final answer. One digest retry.
// On success the RTP session is live and OnAnswered has fired.
func (d *Dialog) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, inviteWatchdog)
	defer cancel()

	req := d.buildInvite(1, "")
	resp, tx, err := d.awaitAnswer(ctx, req)
	if err != nil {
		return fmt.Errorf("INVITE to %s failed: %w", d.number, err)
	}

	if resp.StatusCode == sip.StatusUnauthorized || resp.StatusCode == sip.StatusProxyAuthRequired {
		tx.Terminate()
		challenge, err := challengeFromResponse(resp)
		if err != nil {
			return err
		}
		cfg := d.server.cfg
		auth := AuthorizationHeader(cfg.Username, cfg.Password, "INVITE", req.Recipient.String(), challenge)

		req = d.buildInvite(2, auth)
		resp, tx, err = d.awaitAnswer(ctx, req)
		if err != nil {
			return fmt.Errorf("authenticated INVITE to %s failed: %w", d.number, err)
		}
	}

	if resp.StatusCode != sip.StatusOK {
		tx.Terminate()
		return fmt.Errorf("call to %s rejected: %d %s", d.number, resp.StatusCode, resp.Reason)
	}

	if err := d.establish(req, resp); err != nil {
		tx.Terminate()
		return err
	}

	// The 2xx transaction stays open: retransmitted and re-routed 200s
	// arrive here and must be re-ACKed.
	go d.watchReAnswers(req, tx)
	return nil
}

// awaitAnswer consumes the INVITE transaction's responses, firing OnRinging
// on the first 180/183, until a final response arrives. The transaction is
// returned live; the caller terminates it.
func (d *Dialog) awaitAnswer(ctx context.Context, req *sip.Request) (*sip.Response, sip.ClientTransaction, error) {
	tx, err := d.server.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	for {
		select {
		case <-ctx.Done():
			tx.Terminate()
			return nil, nil, fmt.Errorf("no final response within %s: %w", inviteWatchdog, ctx.Err())
		case resp, ok := <-tx.Responses():
			if !ok {
				tx.Terminate()
				return nil, nil, fmt.Errorf("transaction closed without final response")
			}

			switch {
			case resp.StatusCode == sip.StatusRinging || resp.StatusCode == sip.StatusSessionInProgress:
				d.fireRinging()
			case resp.StatusCode >= 200:
				return resp, tx, nil
			}
		}
	}
}

// watchReAnswers ACKs any further 200s on the INVITE transaction. A 200
// carrying a different media endpoint is a mid-call re-route: the RTP
// session updates and disables symmetric learning.
func (d *Dialog) watchReAnswers(req *sip.Request, tx sip.ClientTransaction) {
	defer tx.Terminate()

	for {
		select {
		case <-d.rtp.done:
			return
		case resp, ok := <-tx.Responses():
			if !ok {
				return
			}
			if resp.StatusCode != sip.StatusOK {
				continue
			}

			ack := sip.NewAckRequest(req, resp, nil)
			if err := d.server.client.WriteRequest(ack); err != nil {
				d.logger.Warn("Failed to re-ACK 200", "error", err)
			}

			info, err := ParseSDP(resp.Body())
			if err != nil || info.ConnectionIP == "" || info.AudioPort == 0 {
				continue
			}
			// SetRemote is a no-op for an unchanged endpoint, so plain 200
			// retransmissions do not arm the lockout.
			d.rtp.SetRemote(info.ConnectionIP, info.AudioPort, info.PreferredCodec)
		}
	}
}

func (d *Dialog) fireRinging() {
	d.mu.Lock()
	already := d.ringingFired
	d.ringingFired = true
	d.mu.Unlock()
	if !already && d.handlers.OnRinging != nil {
		d.handlers.OnRinging()
	}
}

// establish completes setup from a 200 OK: records the remote tag, wires
// media from the answer SDP, ACKs, and starts the RTP session.
func (d *Dialog) establish(req *sip.Request, resp *sip.Response) error {
	to := resp.To()
	if to == nil {
		return fmt.Errorf("200 OK missing To header")
	}

	info, err := ParseSDP(resp.Body())
	if err != nil {
		return fmt.Errorf("invalid answer SDP: %w", err)
	}
	if info.ConnectionIP == "" || info.AudioPort == 0 {
		return fmt.Errorf("answer SDP has no usable media endpoint")
	}

	if info.IsHold() {
		d.logger.Warn("Answer SDP indicates hold", "direction", string(info.Direction))
	}

	d.mu.Lock()
	d.toTag = to.Params["tag"]
	d.answered = true
	d.mu.Unlock()

	d.rtp.SetRemote(info.ConnectionIP, info.AudioPort, info.PreferredCodec)

	ack := sip.NewAckRequest(req, resp, nil)
	if err := d.server.client.WriteRequest(ack); err != nil {
		return fmt.Errorf("failed to send ACK: %w", err)
	}

	d.rtp.Start()
	d.logger.Info("Call established",
		"codec", info.PreferredCodec.Name,
		"remote_media", fmt.Sprintf("%s:%d", info.ConnectionIP, info.AudioPort))

	if d.handlers.OnAnswered != nil {
		d.handlers.OnAnswered()
	}
	return nil
}

// ====================================================================
// Call teardown
// ====================================================================

// Hangup ends the call from our side: BYE to the peer, then local teardown
// with the given reason. Safe to call more than once.
func (d *Dialog) Hangup(ctx context.Context, reason string) {
	d.mu.Lock()
	answered := d.answered
	alreadyEnded := d.ended
	d.mu.Unlock()

	if answered && !alreadyEnded {
		ctx, cancel := context.WithTimeout(ctx, byeTimeout)
		defer cancel()

		bye := d.buildBye()
		if _, err := d.server.awaitFinalResponse(ctx, bye); err != nil {
			d.logger.Warn("BYE got no response, tearing down anyway", "error", err)
		}
	}
	d.end(reason)
}

// remoteHangup handles a peer BYE already answered with 200 by the server.
func (d *Dialog) remoteHangup() {
	d.logger.Info("Remote party hung up")
	d.end(ReasonRemoteHangup)
}

// end releases all call resources and fires OnEnded. Runs once.
func (d *Dialog) end(reason string) {
	d.endOnce.Do(func() {
		d.mu.Lock()
		d.ended = true
		d.mu.Unlock()

		port := d.rtp.LocalPort()
		d.rtp.Close()
		d.server.removeDialog(d.callID)
		d.server.allocator.Release(port)
		d.logger.Info("Call ended", "reason", reason)
		if d.handlers.OnEnded != nil {
			d.handlers.OnEnded(reason)
		}
	})
}

// ====================================================================
// Request construction
// ====================================================================

func (d *Dialog) buildInvite(seq uint32, authorization string) *sip.Request {
	cfg := d.server.cfg
	publicIP := d.server.resolver.Resolve()

	toURI := sip.Uri{User: d.number, Host: cfg.Server, Port: cfg.Port}
	req := sip.NewRequest(sip.INVITE, toURI)
	req.SetDestination(cfg.Host())

	fromURI := sip.Uri{User: cfg.Username, Host: publicIP, Port: d.server.localPort}
	from := sip.FromHeader{Address: fromURI, Params: sip.NewParams()}
	from.Params.Add("tag", d.fromTag)
	req.AppendHeader(&from)
	req.AppendHeader(&sip.ToHeader{Address: toURI})
	req.AppendHeader(&sip.ContactHeader{Address: fromURI})

	callID := sip.CallIDHeader(d.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.INVITE})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	offer := GenerateSDP(publicIP, d.rtp.LocalPort())
	req.SetBody([]byte(offer))
	contentType := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&contentType)
	contentLength := sip.ContentLengthHeader(len(offer))
	req.AppendHeader(&contentLength)

	if authorization != "" {
		req.AppendHeader(sip.NewHeader("Authorization", authorization))
	}

	d.mu.Lock()
	d.cseq = seq
	d.mu.Unlock()
	return req
}

func (d *Dialog) buildBye() *sip.Request {
	cfg := d.server.cfg
	publicIP := d.server.resolver.Resolve()

	d.mu.Lock()
	d.cseq++
	seq := d.cseq
	toTag := d.toTag
	d.mu.Unlock()

	toURI := sip.Uri{User: d.number, Host: cfg.Server, Port: cfg.Port}
	req := sip.NewRequest(sip.BYE, toURI)
	req.SetDestination(cfg.Host())

	fromURI := sip.Uri{User: cfg.Username, Host: publicIP, Port: d.server.localPort}
	from := sip.FromHeader{Address: fromURI, Params: sip.NewParams()}
	from.Params.Add("tag", d.fromTag)
	req.AppendHeader(&from)

	to := sip.ToHeader{Address: toURI, Params: sip.NewParams()}
	if toTag != "" {
		to.Params.Add("tag", toTag)
	}
	req.AppendHeader(&to)

	callID := sip.CallIDHeader(d.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	return req
}
