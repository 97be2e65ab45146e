package llmengine

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiEngine adapts the google.golang.org/genai client to LMEngine.
type GeminiEngine struct {
	client *genai.Client
}

// NewGeminiEngine builds a GeminiEngine from the given API key.
func NewGeminiEngine(ctx context.Context, apiKey string) (*GeminiEngine, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiEngine{client: client}, nil
}

func (e *GeminiEngine) buildConfig(req CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.TopP != 0 {
		p := float32(req.TopP)
		cfg.TopP = &p
	}
	return cfg
}

// Complete streams generated content chunks from Gemini-family models.
func (e *GeminiEngine) Complete(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error {
	defer close(ch)
	cfg := e.buildConfig(req)
	content := genai.Text(req.UserPrompt)

	if !req.Stream {
		resp, err := e.client.Models.GenerateContent(ctx, req.Model, content, cfg)
		if err != nil {
			return fmt.Errorf("gemini completion: %w", err)
		}
		select {
		case ch <- Chunk{
			DeltaText:        resp.Text(),
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			FinishReason:     "stop",
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	for resp, err := range e.client.Models.GenerateContentStream(ctx, req.Model, content, cfg) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		finish := ""
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
			finish = "stop"
		}
		out := Chunk{DeltaText: resp.Text(), FinishReason: finish}
		if finish != "" {
			out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
			out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		select {
		case ch <- out:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
