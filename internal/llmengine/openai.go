package llmengine

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEngine adapts the openai-go client to LMEngine.
type OpenAIEngine struct {
	client openai.Client
}

// NewOpenAIEngine builds an OpenAIEngine from the given API key.
func NewOpenAIEngine(apiKey string) *OpenAIEngine {
	return &OpenAIEngine{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (e *OpenAIEngine) buildParams(req CompletionRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP != 0 {
		params.TopP = openai.Float(req.TopP)
	}
	return params
}

// Complete streams chat completion chunks, following the same
// Next/Current/Err/Close stream-reader shape the teacher's own
// ai/extensions/models/openai.ChatModel.stream uses around this SDK.
func (e *OpenAIEngine) Complete(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error {
	defer close(ch)
	params := e.buildParams(req)

	if !req.Stream {
		resp, err := e.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return fmt.Errorf("openai completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("openai completion: empty choices")
		}
		choice := resp.Choices[0]
		select {
		case ch <- Chunk{
			DeltaText:        choice.Message.Content,
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			FinishReason:     string(choice.FinishReason),
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	stream := e.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var promptTokens, completionTokens int
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 {
			promptTokens = int(chunk.Usage.PromptTokens)
		}
		if chunk.Usage.CompletionTokens > 0 {
			completionTokens = int(chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		out := Chunk{
			DeltaText:    choice.Delta.Content,
			FinishReason: string(choice.FinishReason),
		}
		if out.FinishReason != "" {
			out.PromptTokens = promptTokens
			out.CompletionTokens = completionTokens
		}
		select {
		case ch <- out:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	return nil
}

// OpenAIEmbedder adapts the openai-go client to Embedder.
type OpenAIEmbedder struct {
	client openai.Client
}

// NewOpenAIEmbedder builds an OpenAIEmbedder from the given API key.
func NewOpenAIEmbedder(apiKey string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, model, input string) ([]float32, int, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(input)},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("openai embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, 0, fmt.Errorf("openai embedding: empty data")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float32(f)
	}
	return vec, int(resp.Usage.PromptTokens), nil
}
