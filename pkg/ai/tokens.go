package ai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "o200k_base"

// TokenTruncator counts and caps text length in model tokens.
type TokenTruncator struct {
	enc *tiktoken.Tiktoken
}

// NewTokenTruncator loads the named tiktoken encoding, o200k_base when empty.
func NewTokenTruncator(encoding string) (*TokenTruncator, error) {
	if encoding == "" {
		encoding = defaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &TokenTruncator{enc: enc}, nil
}

func (t *TokenTruncator) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate returns text cut to at most maxTokens tokens. maxTokens <= 0 disables the cap.
func (t *TokenTruncator) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:maxTokens])
}
