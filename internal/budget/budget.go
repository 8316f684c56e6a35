// Package budget estimates prompt sizes for answer generation and trims the
// conversation history to fit the model's context window.
//
// The chat backends tokenise differently, so estimates use a character
// heuristic tuned for Romanian: about 3 characters per token, counted in
// runes so that ă, î, ș and ț weigh the same as ASCII letters.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	charsPerToken = 3

	// messageOverhead is the per-message framing most chat APIs add.
	messageOverhead = 4

	// DefaultMaxContextTokens fits 8k-context models (Llama 3 8B, RoLlama)
	// with room left for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s. Any non-empty string counts as
// at least one token.
func Estimate(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return max(1, (n+charsPerToken-1)/charsPerToken)
}

// EstimateMessages sums the estimate of every message, framing included.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		if m == nil {
			continue
		}
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// Overflow returns how many tokens msgs exceed maxTokens by, or 0 when they
// fit.
func Overflow(msgs []*schema.Message, maxTokens int) int {
	return max(0, EstimateMessages(msgs)-maxTokens)
}

// TrimHistory drops the oldest history messages until fixed and history fit
// in maxTokens together. fixed (system prompt, grounding context, current
// question) is never trimmed. The returned history never opens with an
// assistant message, so the model does not see a reply without its
// question. When fixed alone is over budget the result is empty.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	remaining := maxTokens - EstimateMessages(fixed)
	total := EstimateMessages(history)

	start := 0
	for start < len(history) && total > remaining {
		total -= EstimateMessages(history[start : start+1])
		start++
	}
	for start < len(history) && history[start].Role == schema.Assistant {
		start++
	}
	return history[start:]
}
