// Package tokens estimates token counts for requests whose provider does
// not report usage. Counts feed the cost ledger, so they must be
// deterministic: tiktoken when available, a character heuristic otherwise.
package tokens

import (
	"github.com/tiktoken-go/tokenizer"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
)

// charsPerToken is the fallback heuristic of roughly 4 characters per token.
const charsPerToken = 4

// perMessageOverhead approximates the framing tokens each chat message adds.
const perMessageOverhead = 4

type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator returns an estimator backed by the cl100k_base encoding.
// If the encoding cannot be loaded the estimator falls back to the
// character heuristic for every count.
func NewEstimator() *Estimator {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return &Estimator{}
	}
	return &Estimator{codec: codec}
}

// Count returns the token count for a single piece of text.
func (e *Estimator) Count(text string) int {
	if e.codec != nil {
		if n, err := e.codec.Count(text); err == nil {
			return n
		}
	}
	n := len(text) / charsPerToken
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// CountMessages returns the estimated prompt token count for a message list.
func (e *Estimator) CountMessages(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Count(m.Content) + perMessageOverhead
	}
	return total
}
