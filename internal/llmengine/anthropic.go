package llmengine

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicEngine adapts the anthropic-sdk-go client to LMEngine.
type AnthropicEngine struct {
	client anthropic.Client
}

// NewAnthropicEngine builds an AnthropicEngine from the given API key.
func NewAnthropicEngine(apiKey string) *AnthropicEngine {
	return &AnthropicEngine{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (e *AnthropicEngine) buildParams(req CompletionRequest) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
}

// Complete streams message chunks from Claude-family models.
func (e *AnthropicEngine) Complete(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error {
	defer close(ch)
	params := e.buildParams(req)

	if !req.Stream {
		resp, err := e.client.Messages.New(ctx, params)
		if err != nil {
			return fmt.Errorf("anthropic completion: %w", err)
		}
		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		select {
		case ch <- Chunk{
			DeltaText:        text,
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			FinishReason:     string(resp.StopReason),
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	stream := e.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var promptTokens, completionTokens int
	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.MessageDeltaEvent:
			completionTokens = int(variant.Usage.OutputTokens)
			if string(variant.Delta.StopReason) != "" {
				select {
				case ch <- Chunk{FinishReason: string(variant.Delta.StopReason), PromptTokens: promptTokens, CompletionTokens: completionTokens}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case anthropic.ContentBlockDeltaEvent:
			if variant.Delta.Text != "" {
				select {
				case ch <- Chunk{DeltaText: variant.Delta.Text}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case anthropic.MessageStartEvent:
			promptTokens = int(variant.Message.Usage.InputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}
