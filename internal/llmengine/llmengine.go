// Package llmengine defines the LMEngine contract the engine calls against
// language-model and embedding providers, plus a router that selects a
// concrete provider client by the generation config's model string. The
// engine never imports a vendor SDK outside this package (§1: "the engine
// calls an LMEngine interface, not any particular vendor API").
package llmengine

import "context"

// Chunk is one unit of streamed LLM output, matching the wire shape in
// §4.C step 4.
type Chunk struct {
	DeltaText        string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string // "", "stop", "length", "tool_calls", "error"
}

// CompletionRequest is a fully-resolved (template-substituted) prompt pair
// ready to send to a provider.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
	TopP         float64
	Tools        []string
	Stream       bool
}

// LMEngine is the contract every generator dispatcher (§4.C) calls
// against. A Model[Req, Res] analogue specialized to completion chunks:
// Complete streams a lazy sequence of Chunk over ch, ending with the
// terminal chunk (FinishReason != ""), or returns an error if the call
// could not be started at all (quota already checked by the caller; this
// is strictly the transport-level failure). In every case Complete closes
// ch before it returns.
//
// Implementations suspend on every network call (§5) and must respect
// ctx cancellation by aborting the underlying provider call and returning
// ctx.Err() without sending a terminal chunk — the caller distinguishes
// cancellation from a provider error by errors.Is(err, context.Canceled).
type LMEngine interface {
	Complete(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error
}

// Embedder embeds a single input string into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, model, input string) ([]float32, int, error) // vector, token_count, error
}

// Reranker scores candidate documents against a query and returns them in
// descending relevance order.
type Reranker interface {
	Rerank(ctx context.Context, model, query string, candidates []string) ([]RerankResult, error)
}

// RerankResult is one scored candidate.
type RerankResult struct {
	Index int
	Score float64
}

// Router picks a concrete LMEngine by the model string's vendor prefix,
// mirroring the teacher's ai/extensions/models/* provider-selection
// pattern (one concrete client per vendor family behind a shared
// interface) rather than a single client that branches internally on
// every call.
type Router struct {
	engines map[string]LMEngine
	match   func(model string) string // model -> registered key
}

// NewRouter builds a Router with the default OpenAI/Anthropic/Gemini
// prefix matcher. Callers needing a different vendor-selection policy can
// construct a Router literal directly with a custom match func.
func NewRouter(openai, anthropic, gemini LMEngine) *Router {
	return &Router{
		engines: map[string]LMEngine{
			"openai":    openai,
			"anthropic": anthropic,
			"gemini":    gemini,
		},
		match: defaultVendorMatch,
	}
}

// Resolve returns the LMEngine registered for model's vendor.
func (r *Router) Resolve(model string) (LMEngine, bool) {
	e, ok := r.engines[r.match(model)]
	return e, ok
}

func defaultVendorMatch(model string) string {
	switch {
	case hasAnyPrefix(model, "gpt-", "o1", "o3", "text-embedding-"):
		return "openai"
	case hasAnyPrefix(model, "claude-"):
		return "anthropic"
	case hasAnyPrefix(model, "gemini-"):
		return "gemini"
	default:
		return "openai"
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}
