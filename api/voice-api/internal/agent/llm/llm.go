// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package internal_agent_llm maintains one chat session per call and streams
// assistant replies. Providers are pluggable; model names arrive in OpenAI
// style and are translated per backend.
package internal_agent_llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	internal_entity "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/entity"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

const (
	// historyThreshold is the message count past which older turns are
	// folded into a summary note.
	historyThreshold = 20

	// retainedTurns is how many recent user/assistant turns survive a
	// summarization pass.
	retainedTurns = 5

	// historyTokenBudget is the estimated token footprint past which the
	// history is summarized even below the message threshold. Long-winded
	// callers blow the prompt budget in far fewer than 20 turns.
	historyTokenBudget = 3000

	summarizePrompt = "Summarize the conversation so far in 3-4 sentences. " +
		"Keep names, amounts, dates and any commitments made. Reply with the summary only."
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider streams one completion for the given conversation. onChunk may be
// nil. The full accumulated reply is returned.
type Provider interface {
	Stream(ctx context.Context, system string, history []Message, onChunk func(chunk string)) (string, error)
}

// ProviderKeys carries the per-backend API keys.
type ProviderKeys struct {
	OpenAI    string
	Anthropic string
}

// Chat is a per-call conversation session.
type Chat struct {
	logger   commons.Logger
	provider Provider
	cfg      internal_entity.ModelConfig

	mu      sync.Mutex
	history []Message

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewChat builds a session for the agent's model configuration.
func NewChat(logger commons.Logger, cfg internal_entity.ModelConfig, keys ProviderKeys) (*Chat, error) {
	var provider Provider
	var err error
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		provider, err = newOpenAIProvider(keys.OpenAI, cfg)
	case "anthropic":
		provider, err = newAnthropicProvider(keys.Anthropic, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return newChatWithProvider(logger, cfg, provider), nil
}

func newChatWithProvider(logger commons.Logger, cfg internal_entity.ModelConfig, provider Provider) *Chat {
	return &Chat{
		logger:   logger,
		provider: provider,
		cfg:      cfg,
	}
}

// GetResponse sends the user turn, streams chunks through onChunk and returns
// the complete assistant reply. Both sides are appended to history.
func (c *Chat) GetResponse(ctx context.Context, userText string, onChunk func(chunk string)) (string, error) {
	c.mu.Lock()
	c.history = append(c.history, Message{Role: "user", Content: userText})
	snapshot := append([]Message(nil), c.history...)
	c.mu.Unlock()

	reply, err := c.provider.Stream(ctx, c.cfg.SystemPrompt, snapshot, onChunk)
	if err != nil {
		// The failed user turn stays in history; the orchestrator decides
		// whether to apologize and retry.
		return "", fmt.Errorf("llm completion failed: %w", err)
	}

	c.mu.Lock()
	c.history = append(c.history, Message{Role: "assistant", Content: reply})
	messages := len(c.history)
	c.mu.Unlock()

	tokens := c.HistoryTokens()
	c.logger.Debugw("Chat turn complete", "messages", messages, "history_tokens", tokens)

	if messages > historyThreshold || tokens > historyTokenBudget {
		c.summarize(ctx)
	}
	return reply, nil
}

// AppendAssistant records an assistant turn produced outside the LLM, such
// as the configured first message.
func (c *Chat) AppendAssistant(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, Message{Role: "assistant", Content: text})
}

// History returns a copy of the current conversation.
func (c *Chat) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

// HistoryTokens estimates the token footprint of the current history.
func (c *Chat) HistoryTokens() int {
	c.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn("Failed to load token encoder, falling back to estimate", "error", err)
			return
		}
		c.enc = enc
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, m := range c.history {
		if c.enc != nil {
			total += len(c.enc.Encode(m.Content, nil, nil))
		} else {
			total += len(m.Content) / 4
		}
		total += 4
	}
	return total
}

// summarize folds everything but the most recent turns into a single
// assistant note. On provider failure the old turns are dropped instead:
// a degraded memory beats an ever-growing prompt.
func (c *Chat) summarize(ctx context.Context) {
	c.mu.Lock()
	keep := retainedTurns * 2
	if len(c.history) <= keep {
		// Nothing older than the retained window to fold.
		c.mu.Unlock()
		return
	}
	older := append([]Message(nil), c.history[:len(c.history)-keep]...)
	recent := append([]Message(nil), c.history[len(c.history)-keep:]...)
	c.mu.Unlock()

	summaryInput := append(older, Message{Role: "user", Content: summarizePrompt})
	summary, err := c.provider.Stream(ctx, c.cfg.SystemPrompt, summaryInput, nil)
	if err != nil {
		c.logger.Warn("History summarization failed, truncating instead", "error", err)
		c.mu.Lock()
		c.history = recent
		c.mu.Unlock()
		return
	}

	note := Message{Role: "assistant", Content: "Summary of the conversation so far: " + summary}
	c.mu.Lock()
	c.history = append([]Message{note}, recent...)
	c.mu.Unlock()
	c.logger.Debug("History summarized", "kept_messages", len(recent)+1)
}
