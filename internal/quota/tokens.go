package quota

import "github.com/pkoukk/tiktoken-go"

// contextWindows is a conservative lower bound on each known model's
// context window, used only to reject an obviously oversized prompt
// before an expensive provider round trip (§9's context-overflow
// fast path). A model absent from this table is simply not checked —
// the provider itself is the final authority.
var contextWindows = map[string]int{
	"gpt-4o-mini":                128000,
	"gpt-4o":                     128000,
	"o1":                         200000,
	"o3":                         200000,
	"claude-3-5-sonnet-20241022": 200000,
	"claude-3-5-haiku-20241022":  200000,
	"gemini-1.5-pro":             1000000,
	"gemini-1.5-flash":           1000000,
}

// ContextWindow returns model's known context window and whether the
// model appears in the table at all.
func ContextWindow(model string) (int, bool) {
	w, ok := contextWindows[model]
	return w, ok
}

// EstimateTokens approximates text's token count for model using
// pkoukk/tiktoken-go, falling back to a crude byte-length heuristic for
// a model/encoding tiktoken doesn't recognize (non-OpenAI model strings
// routed to Anthropic/Gemini engines have no BPE table at all).
func EstimateTokens(model, text string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
