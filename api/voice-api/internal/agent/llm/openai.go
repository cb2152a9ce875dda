// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package internal_agent_llm

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	internal_entity "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/entity"
)

type openaiProvider struct {
	client oai.Client
	cfg    internal_entity.ModelConfig
}

func newOpenAIProvider(apiKey string, cfg internal_entity.ModelConfig) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is not configured")
	}
	return &openaiProvider{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		cfg:    cfg,
	}, nil
}

func (p *openaiProvider) Stream(ctx context.Context, system string, history []Message, onChunk func(string)) (string, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, oai.SystemMessage(system))
	}
	for _, m := range history {
		switch m.Role {
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.cfg.ModelName),
		Messages: messages,
	}
	if p.cfg.Temperature != 0 {
		params.Temperature = param.NewOpt(p.cfg.Temperature)
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.cfg.MaxTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var full string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full += delta
		if onChunk != nil {
			onChunk(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("openai stream failed: %w", err)
	}
	return full, nil
}
