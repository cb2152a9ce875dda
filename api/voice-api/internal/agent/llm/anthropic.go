// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package internal_agent_llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	internal_entity "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/entity"
)

// anthropicModelAliases maps the OpenAI-style model names agents are
// configured with onto Anthropic identifiers. Names already starting with
// "claude" pass through unchanged.
var anthropicModelAliases = map[string]string{
	"gpt-4o":        "claude-sonnet-4-20250514",
	"gpt-4o-mini":   "claude-3-5-haiku-20241022",
	"gpt-4.1":       "claude-sonnet-4-20250514",
	"gpt-4.1-mini":  "claude-3-5-haiku-20241022",
	"gpt-4-turbo":   "claude-sonnet-4-20250514",
	"gpt-3.5-turbo": "claude-3-5-haiku-20241022",
}

const defaultAnthropicMaxTokens = 1024

func resolveAnthropicModel(name string) string {
	if strings.HasPrefix(strings.ToLower(name), "claude") {
		return name
	}
	if mapped, ok := anthropicModelAliases[strings.ToLower(name)]; ok {
		return mapped
	}
	return "claude-sonnet-4-20250514"
}

type anthropicProvider struct {
	client anthropic.Client
	cfg    internal_entity.ModelConfig
	model  string
}

func newAnthropicProvider(apiKey string, cfg internal_entity.ModelConfig) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is not configured")
	}
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		cfg:    cfg,
		model:  resolveAnthropicModel(cfg.ModelName),
	}, nil
}

func (p *anthropicProvider) Stream(ctx context.Context, system string, history []Message, onChunk func(string)) (string, error) {
	var messages []anthropic.MessageParam
	for _, m := range history {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := int64(p.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.cfg.Temperature != 0 {
		params.Temperature = anthropic.Float(p.cfg.Temperature)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var full string
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				full += delta.Text
				if onChunk != nil {
					onChunk(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("anthropic stream failed: %w", err)
	}
	return full, nil
}
