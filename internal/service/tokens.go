package service

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts model tokens in a text.
type TokenCounter interface {
	CountTokens(text string) int
}

// tiktokenCounter counts cl100k_base tokens.
type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the cl100k_base encoding.
func NewTiktokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &tiktokenCounter{encoding: enc}, nil
}

func (t *tiktokenCounter) CountTokens(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// ApproxTokenCounter estimates four characters per token. Used when the
// tiktoken encoding cannot be loaded.
type ApproxTokenCounter struct{}

func (ApproxTokenCounter) CountTokens(text string) int {
	return (runeLen(text) + 3) / 4
}
