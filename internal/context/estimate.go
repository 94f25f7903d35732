// Package context assembles and reduces the message list sent to the
// LLM (spec.md §4.4): leading system messages, fresh-context injection,
// file inlining, reduction, and the reverse-walk token limit. Grounded
// on the donor's token-estimation heuristic (internal/compaction).
package context

import "github.com/kilnai/kiln/internal/message"

// ModelInfo carries the capability flags the pipeline needs (spec.md
// §4.5): Context is the model's context window in tokens.
type ModelInfo struct {
	ID      string
	Context int
}

// Estimator estimates the token cost of a message list for a given
// model. Callers needing a model-specific tokenizer inject one;
// DefaultEstimator is the spec's required len(content)/3 fallback.
type Estimator func(messages []message.Message, model ModelInfo) int

// charsPerTokenFallback matches spec.md §4.4's required approximation
// ("len(content)/3") when no model-specific tokenizer is present.
const charsPerTokenFallback = 3

// DefaultEstimator is the pluggable-estimator fallback.
func DefaultEstimator(messages []message.Message, _ ModelInfo) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / charsPerTokenFallback
	}
	return total
}
