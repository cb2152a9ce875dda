// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package internal_twilio_telephony originates hosted calls: the carrier
// dials the customer and connects the call's media to our /media-stream
// WebSocket endpoint.
package internal_twilio_telephony

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
	"github.com/codevamp-f2fintech/ai-server/pkg/utils"
)

// Originator places outbound calls through the Twilio REST API.
type Originator struct {
	logger  commons.Logger
	client  *twilio.RestClient
	from    string
	baseURL string
}

// NewOriginator builds the hosted-call originator. baseURL is the public
// HTTP(S) base under which /media-stream is reachable.
func NewOriginator(logger commons.Logger, accountSID, authToken, from, baseURL string) (*Originator, error) {
	if utils.IsEmpty(accountSID) || utils.IsEmpty(authToken) {
		return nil, fmt.Errorf("twilio credentials are not configured")
	}
	if utils.IsEmpty(from) {
		return nil, fmt.Errorf("twilio from number is not configured")
	}
	if utils.IsEmpty(baseURL) {
		return nil, fmt.Errorf("public base URL is not configured")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Originator{
		logger:  logger,
		client:  client,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// StartCall dials toNumber and points the answered call at the media-stream
// endpoint with the agent ID as a stream parameter. Returns the carrier's
// call SID, which becomes the engine call ID when the stream connects.
func (o *Originator) StartCall(agentID, toNumber string) (string, error) {
	streamURL, err := o.streamURL()
	if err != nil {
		return "", err
	}
	twiml := connectStreamTwiML(streamURL, agentID)

	params := &twilioApi.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(o.from)
	params.SetTwiml(twiml)

	resp, err := o.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to originate call to %s: %w", toNumber, err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("carrier accepted call to %s without a SID", toNumber)
	}

	o.logger.Infow("Originated hosted call", "call_sid", *resp.Sid, "to", toNumber, "agent_id", agentID)
	return *resp.Sid, nil
}

// streamURL derives the wss:// media-stream endpoint from the public base URL.
func (o *Originator) streamURL() (string, error) {
	u, err := url.Parse(o.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid public base URL %q: %w", o.baseURL, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid public base URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/media-stream"
	return u.String(), nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;",
)

// connectStreamTwiML renders the answer instructions: bridge the call's
// audio to our stream, carrying the agent ID as a custom parameter.
func connectStreamTwiML(streamURL, agentID string) string {
	return fmt.Sprintf(
		`<Response><Connect><Stream url="%s"><Parameter name="agentId" value="%s"/></Stream></Connect></Response>`,
		xmlEscaper.Replace(streamURL), xmlEscaper.Replace(agentID))
}
