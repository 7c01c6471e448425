package gateway

import (
	"regexp"
	"strings"

	"github.com/lamim/prosepress/internal/config"
)

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Validator checks rewritten text for degenerate model output: responses
// that are too short, too repetitive, or stuck in a generation loop.
type Validator struct {
	cfg config.ValidationConfig
}

// NewValidator creates a validator from the configured thresholds.
func NewValidator(cfg config.ValidationConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Valid reports whether text passes all quality checks using the
// configured minimum length.
func (v *Validator) Valid(text string) bool {
	return v.ValidWithFloor(text, v.cfg.MinChars)
}

// ValidWithFloor runs the same checks with an explicit minimum character
// count, used when the expected output length is known to the caller.
func (v *Validator) ValidWithFloor(text string, minChars int) bool {
	text = strings.TrimSpace(text)
	if len(text) < minChars {
		return false
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return false
	}

	unique := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		unique[tok] = struct{}{}
	}
	ratio := float64(len(unique)) / float64(len(tokens))
	if ratio < v.cfg.MinUniqueRatio {
		return false
	}

	return !hasRepeatedNGram(tokens, v.cfg.NGramSize, v.cfg.MaxNGramRepeats)
}

func tokenize(text string) []string {
	raw := tokenRe.FindAllString(text, -1)
	tokens := make([]string, len(raw))
	for i, tok := range raw {
		tokens[i] = strings.ToLower(tok)
	}
	return tokens
}

// hasRepeatedNGram reports whether any n-gram of the given size occurs at
// least maxRepeats times, the signature of a model caught in a loop.
func hasRepeatedNGram(tokens []string, n, maxRepeats int) bool {
	if n <= 0 || len(tokens) < n {
		return false
	}
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		key := strings.Join(tokens[i:i+n], " ")
		counts[key]++
		if counts[key] >= maxRepeats {
			return true
		}
	}
	return false
}
